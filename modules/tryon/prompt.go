package tryon

import "fmt"

const tryOnPrompt = `Act as an expert in fashion and virtual image editing.
The first image is the PERSON.
The second image is the GARMENT.
Generate a high-quality photorealistic image of the PERSON wearing the GARMENT.

Critical guidelines:
1. Keep the PERSON's facial features, skin tone, body type and pose exactly as in the original image.
2. Fit the GARMENT naturally to the person's body, respecting shadows, folds and lighting.
3. If the garment is a top, keep the person's original bottom garment (or vice versa), unless the garment covers everything.
4. The background should stay consistent with the person's original image when possible, or be a neutral, elegant studio background.
5. The final image must look like a real photograph, not a collage.`

func buildEditPrompt(instruction string) string {
	return fmt.Sprintf("Edit this image with the following instruction: %s. Keep it photorealistic and high quality.", instruction)
}

package utils

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG 디코더 등록
	_ "image/png"  // PNG 디코더 등록

	_ "github.com/kolesa-team/go-webp/decoder" // WebP 디코더 등록
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog/log"
)

// WebPImage - 변환 결과와 원본 크기
type WebPImage struct {
	Data   []byte
	Width  int
	Height int
}

// ConvertToWebP - PNG/JPEG/WebP 바이너리를 lossy WebP로 변환
func ConvertToWebP(imageData []byte, quality float32) (*WebPImage, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var webpBuffer bytes.Buffer
	if err := webp.Encode(&webpBuffer, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}

	bounds := img.Bounds()
	out := &WebPImage{
		Data:   webpBuffer.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	log.Debug().
		Str("format", format).
		Int("before", len(imageData)).
		Int("after", len(out.Data)).
		Float32("quality", quality).
		Msg("🔄 Image converted to WebP")

	return out, nil
}

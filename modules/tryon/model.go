package tryon

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

var (
	ErrNoImageProduced = errors.New("no image was produced by the model")
	ErrEditFailed      = errors.New("could not edit the image")
	ErrInvalidPayload  = errors.New("image payload is not valid base64")
)

// ResultMIMEType is the type every returned data URL is labelled with.
const ResultMIMEType = "image/png"

// ImagePayload - 모델에 보내는 base64 이미지 (data: 접두사 없음)
type ImagePayload struct {
	Data     string
	MIMEType string
}

// Generator - 가상 피팅 생성/편집
type Generator interface {
	GenerateTryOn(ctx context.Context, person, garment ImagePayload) (string, error)
	EditGeneratedImage(ctx context.Context, currentResultURL, editPrompt string) (string, error)
}

// ContentGenerator - *genai.Models 중 사용하는 메서드만
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

package tryon

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"nanostyle-server/modules/common/dataurl"
	"nanostyle-server/modules/common/gemini"
)

// Service - Gemini 이미지 모델 기반 Generator
type Service struct {
	models ContentGenerator
	model  string
}

var _ Generator = (*Service)(nil)

// NewService - 클라이언트를 명시적으로 주입 (main에서는 client.Models)
func NewService(models ContentGenerator, model string) *Service {
	return &Service{models: models, model: model}
}

// GenerateTryOn - 사람 + 옷 이미지로 합성 이미지 생성
func (s *Service) GenerateTryOn(ctx context.Context, person, garment ImagePayload) (string, error) {
	personData, err := decodePayload("person", person)
	if err != nil {
		return "", err
	}
	garmentData, err := decodePayload("garment", garment)
	if err != nil {
		return "", err
	}

	// 순서 고정: 사람, 옷, 지시문
	parts := []*genai.Part{
		genai.NewPartFromBytes(personData, person.MIMEType),
		genai.NewPartFromBytes(garmentData, garment.MIMEType),
		genai.NewPartFromText(tryOnPrompt),
	}

	log.Info().
		Str("model", s.model).
		Int("person_bytes", len(personData)).
		Int("garment_bytes", len(garmentData)).
		Msg("📤 Sending try-on request to Gemini")

	return s.call(ctx, parts, ErrNoImageProduced)
}

// EditGeneratedImage - 현재 결과 이미지를 텍스트 지시로 편집
func (s *Service) EditGeneratedImage(ctx context.Context, currentResultURL, editPrompt string) (string, error) {
	current, err := dataurl.Parse(currentResultURL)
	if err != nil {
		return "", err
	}
	imageData, err := current.Bytes()
	if err != nil {
		return "", err
	}

	// 생성 결과는 항상 PNG로 선언
	parts := []*genai.Part{
		genai.NewPartFromBytes(imageData, ResultMIMEType),
		genai.NewPartFromText(buildEditPrompt(editPrompt)),
	}

	log.Info().
		Str("model", s.model).
		Str("prompt", editPrompt).
		Int("image_bytes", len(imageData)).
		Msg("📤 Sending edit request to Gemini")

	return s.call(ctx, parts, ErrEditFailed)
}

func (s *Service) call(ctx context.Context, parts []*genai.Part, noImage error) (string, error) {
	result, err := s.models.GenerateContent(ctx, s.model, []*genai.Content{{Parts: parts}}, nil)
	if err != nil {
		if gemini.IsRateLimited(err) {
			log.Warn().Err(err).Msg("⚠️  Gemini rate limit hit")
		} else {
			log.Error().Err(err).Msg("❌ Gemini request failed")
		}
		return "", err
	}

	url, err := extractImage(result, noImage)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  Gemini response had no image")
		return "", err
	}

	log.Info().Int("chars", len(url)).Msg("✅ Gemini image received")
	return url, nil
}

// extractImage - 첫 번째 candidate의 첫 inline 이미지만 사용
func extractImage(result *genai.GenerateContentResponse, noImage error) (string, error) {
	if result == nil || len(result.Candidates) == 0 {
		return "", noImage
	}

	candidate := result.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return dataurl.Encode(ResultMIMEType, part.InlineData.Data), nil
			}
		}
	}

	if abnormalFinish(candidate.FinishReason) {
		return "", fmt.Errorf("%w (finish reason: %s)", noImage, candidate.FinishReason)
	}
	return "", noImage
}

func abnormalFinish(reason genai.FinishReason) bool {
	return reason != "" &&
		reason != genai.FinishReasonStop &&
		reason != genai.FinishReasonUnspecified
}

func decodePayload(role string, p ImagePayload) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s image: %v", ErrInvalidPayload, role, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s image is empty", ErrInvalidPayload, role)
	}
	return data, nil
}

package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"nanostyle-server/modules/common/config"
)

// NewClient - 설정에 따라 Gemini API 또는 Vertex AI 백엔드 클라이언트 생성
// 재시도/키 로테이션 없음: 호출 실패는 그대로 호출자에게 전달
func NewClient(ctx context.Context, cfg *config.Config) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.UseVertexAI {
		creds, err := vertexCredentials(cfg)
		if err != nil {
			return nil, err
		}
		clientCfg = &genai.ClientConfig{
			Project:     cfg.GoogleProject,
			Location:    cfg.GoogleLocation,
			Backend:     genai.BackendVertexAI,
			Credentials: creds,
		}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	log.Info().
		Str("model", cfg.GeminiModel).
		Bool("vertex", cfg.UseVertexAI).
		Msg("✅ Gemini client initialized")
	return client, nil
}

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// vertexCredentials - 서비스 계정 JSON 로드
// 1. VERTEXAI_CREDENTIALS_JSON (배포용) 2. VERTEXAI_CREDENTIALS_PATH (로컬용) 3. nil → ADC
func vertexCredentials(cfg *config.Config) (*auth.Credentials, error) {
	credsJSON := []byte(cfg.VertexCredentialsJSON)
	switch {
	case len(credsJSON) > 0:
		log.Info().Msg("✅ [VertexAI] Using VERTEXAI_CREDENTIALS_JSON from environment")
	case cfg.VertexCredentialsPath != "":
		data, err := os.ReadFile(cfg.VertexCredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		log.Info().Str("path", cfg.VertexCredentialsPath).Msg("✅ [VertexAI] Using credentials from file")
		credsJSON = data
	default:
		log.Warn().Msg("⚠️  [VertexAI] No explicit credentials found, using Application Default Credentials")
		return nil, nil
	}

	if !json.Valid(credsJSON) {
		return nil, fmt.Errorf("invalid JSON credentials")
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:          []string{cloudPlatformScope},
		CredentialsJSON: credsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Vertex AI credentials: %w", err)
	}
	return creds, nil
}

// IsRateLimited - 429 Rate Limit / quota 에러인지 확인
// genai.APIError면 상태 코드로만 판단, 그 외 에러는 메시지 매칭
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code == http.StatusTooManyRequests
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "resource_exhausted") ||
		strings.Contains(errStr, "quota")
}

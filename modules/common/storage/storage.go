package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/supabase-community/supabase-go"

	"nanostyle-server/modules/common/config"
	"nanostyle-server/modules/common/dataurl"
	"nanostyle-server/modules/common/utils"
)

const resultsTable = "tryon_results"

// ResultRow - tryon_results 테이블 레코드
type ResultRow struct {
	SessionID string `json:"session_id"`
	FilePath  string `json:"file_path"`
	FileSize  int64  `json:"file_size"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	MimeType  string `json:"mime_type"`
	CreatedAt string `json:"created_at"`
}

// Archiver - 생성 결과를 WebP로 변환해 Supabase Storage에 올리고 메타데이터 기록
type Archiver struct {
	supabase   *supabase.Client
	httpClient *http.Client
	baseURL    string
	serviceKey string
	bucket     string
	quality    float32
}

// NewArchiver - Archiver 생성
func NewArchiver(cfg *config.Config) (*Archiver, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	log.Info().Str("bucket", cfg.SupabaseBucket).Msg("✅ Supabase archive initialized")
	return &Archiver{
		supabase:   client,
		httpClient: &http.Client{},
		baseURL:    cfg.SupabaseURL,
		serviceKey: cfg.SupabaseServiceKey,
		bucket:     cfg.SupabaseBucket,
		quality:    cfg.ArchiveWebPQuality,
	}, nil
}

// PublishResult - 결과 data URL을 아카이브
func (a *Archiver) PublishResult(ctx context.Context, sessionID, resultURL string) error {
	parsed, err := dataurl.Parse(resultURL)
	if err != nil {
		return err
	}
	raw, err := parsed.Bytes()
	if err != nil {
		return err
	}

	webpImage, err := utils.ConvertToWebP(raw, a.quality)
	if err != nil {
		return fmt.Errorf("failed to convert result to WebP: %w", err)
	}

	now := time.Now().UTC()
	filePath := fmt.Sprintf("sessions/%s/%d_%s.webp", sessionID, now.UnixMilli(), uuid.NewString()[:8])

	if err := a.upload(ctx, filePath, webpImage.Data); err != nil {
		return err
	}

	row := ResultRow{
		SessionID: sessionID,
		FilePath:  filePath,
		FileSize:  int64(len(webpImage.Data)),
		Width:     webpImage.Width,
		Height:    webpImage.Height,
		MimeType:  "image/webp",
		CreatedAt: now.Format(time.RFC3339),
	}
	if _, _, err := a.supabase.From(resultsTable).Insert(row, false, "", "", "").Execute(); err != nil {
		return fmt.Errorf("failed to insert %s row: %w", resultsTable, err)
	}

	log.Info().
		Str("session", sessionID).
		Str("path", filePath).
		Int64("bytes", row.FileSize).
		Msg("📦 Result archived")
	return nil
}

// upload - Supabase Storage REST API로 직접 업로드
func (a *Archiver) upload(ctx context.Context, filePath string, data []byte) error {
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", a.baseURL, a.bucket, filePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.serviceKey)
	req.Header.Set("Content-Type", "image/webp")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

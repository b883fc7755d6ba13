// Package intake turns an uploaded file into an ImageRecord: a private copy
// of the bytes, a preview handle and the base64 payload sent to the model.
package intake

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

var ErrTooLarge = errors.New("uploaded file is too large")

// genericContentType is what multipart clients send when they know nothing
// about the file; it is sniffed like a missing type.
const genericContentType = "application/octet-stream"

// ImageRecord is immutable once Capture returns it.
type ImageRecord struct {
	RawFile        []byte
	FileName       string
	PreviewHandle  string
	EncodedContent string
	ContentType    string
}

// Payload returns the base64 content and MIME type sent to the model.
func (r *ImageRecord) Payload() (string, string) {
	return r.EncodedContent, r.ContentType
}

type Intake struct {
	previews *PreviewRegistry
	maxBytes int64
}

func New(previews *PreviewRegistry, maxBytes int64) *Intake {
	return &Intake{previews: previews, maxBytes: maxBytes}
}

// Capture reads file and builds its record. A nil or empty file yields
// (nil, nil). The caller owns releasing the returned preview handle.
func (i *Intake) Capture(ctx context.Context, file io.Reader, name, contentType string) (*ImageRecord, error) {
	if file == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(file, i.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %q: %w", name, err)
	}
	if n > i.maxBytes {
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrTooLarge, name, i.maxBytes)
	}
	if n == 0 {
		return nil, nil
	}

	raw := buf.Bytes()
	if contentType == "" || contentType == genericContentType {
		contentType = http.DetectContentType(raw)
	}

	rec := &ImageRecord{
		RawFile:        raw,
		FileName:       name,
		ContentType:    contentType,
		EncodedContent: base64.StdEncoding.EncodeToString(raw),
	}
	rec.PreviewHandle = i.previews.Register(raw, contentType)

	log.Debug().
		Str("file", name).
		Str("content_type", contentType).
		Int("bytes", len(raw)).
		Msg("📥 Image captured")

	return rec, nil
}

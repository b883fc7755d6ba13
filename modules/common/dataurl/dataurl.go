// Package dataurl encodes and strictly parses base64 data URLs of the form
// data:<mime>;base64,<payload>.
package dataurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedDataURL is returned by Parse for anything that is not a
// well-formed base64 data URL.
var ErrMalformedDataURL = errors.New("malformed data URL")

const (
	scheme       = "data:"
	base64Marker = ";base64"
)

// DataURL is a parsed data URL. Payload is the standard base64 text.
type DataURL struct {
	MIMEType string
	Payload  string
}

// Encode builds a data URL from raw bytes.
func Encode(mime string, raw []byte) string {
	return FromBase64(mime, base64.StdEncoding.EncodeToString(raw))
}

// FromBase64 builds a data URL around an already encoded payload.
func FromBase64(mime, payload string) string {
	return scheme + mime + base64Marker + "," + payload
}

// Parse splits s into MIME type and payload. The payload must decode as
// standard base64; there is no fallback for bare payloads.
func Parse(s string) (DataURL, error) {
	if !strings.HasPrefix(s, scheme) {
		return DataURL{}, fmt.Errorf("%w: missing %q prefix", ErrMalformedDataURL, scheme)
	}

	header, payload, found := strings.Cut(s[len(scheme):], ",")
	if !found {
		return DataURL{}, fmt.Errorf("%w: missing comma", ErrMalformedDataURL)
	}

	mime, ok := strings.CutSuffix(header, base64Marker)
	if !ok {
		return DataURL{}, fmt.Errorf("%w: missing %q marker", ErrMalformedDataURL, base64Marker)
	}
	if mime == "" {
		return DataURL{}, fmt.Errorf("%w: empty MIME type", ErrMalformedDataURL)
	}
	if payload == "" {
		return DataURL{}, fmt.Errorf("%w: empty payload", ErrMalformedDataURL)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return DataURL{}, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
	}

	return DataURL{MIMEType: mime, Payload: payload}, nil
}

// Bytes decodes the payload. It cannot fail for a value returned by Parse.
func (d DataURL) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Payload)
}

func (d DataURL) String() string {
	return FromBase64(d.MIMEType, d.Payload)
}

package ingest

import (
	"encoding/base64"
	"strings"

	"github.com/MeKo-Tech/dmscan/internal/apperrors"
)

// DecodeBase64 decodes an inline image. A data URL prefix
// ("data:image/png;base64,") is stripped; standard, URL-safe and unpadded
// alphabets are all accepted, and embedded whitespace is ignored.
func DecodeBase64(s string, maxBytes int64) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, apperrors.NewValidationError("malformed data URL", nil)
		}
		s = s[comma+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, apperrors.NewValidationError("no image data provided", nil)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if int64(base64.StdEncoding.DecodedLen(len(s))) > maxBytes+2 {
		return nil, apperrors.NewPayloadTooLargeError("image exceeds size limit", nil)
	}

	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(s)
		if err == nil {
			if int64(len(data)) > maxBytes {
				return nil, apperrors.NewPayloadTooLargeError("image exceeds size limit", nil)
			}
			return data, nil
		}
		lastErr = err
	}
	return nil, apperrors.NewValidationError("invalid base64 image data", lastErr)
}

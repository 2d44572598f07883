// Package ingest turns the three input modes (multipart upload, inline
// base64, remote URL) into raw bytes and then into a decoded image. Every
// failure is returned as a classified apperrors.AppError.
package ingest

import (
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/MeKo-Tech/dmscan/internal/apperrors"
	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// DefaultMaxBytes bounds any single input image.
const DefaultMaxBytes int64 = 16 << 20

// ReadLimited reads at most maxBytes from r and reports a classified error
// when the input is larger.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, apperrors.NewValidationError("failed to read image data", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, apperrors.NewPayloadTooLargeError(fmt.Sprintf("image exceeds %d bytes", maxBytes), nil)
	}
	if len(data) == 0 {
		return nil, apperrors.NewValidationError("no image data provided", nil)
	}
	return data, nil
}

// DecodeImage decodes raw bytes; unreadable data is a decode error.
func DecodeImage(data []byte) (image.Image, utils.ImageMetadata, error) {
	img, meta, err := utils.DecodeImage(data)
	if err != nil {
		if errors.Is(err, utils.ErrEmptyImage) {
			return nil, meta, apperrors.NewValidationError("no image data provided", err)
		}
		return nil, meta, apperrors.NewDecodeError("could not decode image data", err)
	}
	return img, meta, nil
}

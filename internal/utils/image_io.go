package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SupportedImageExtensions lists supported file extensions for loading.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff", ".webp"}

// ErrEmptyImage is returned when decoding zero bytes.
var ErrEmptyImage = errors.New("empty image data")

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// ImageMetadata captures lightweight file and pixel information.
type ImageMetadata struct {
	Format    string
	SizeBytes int64
	Width     int
	Height    int
}

// DecodeImage decodes raw bytes in any registered format.
func DecodeImage(data []byte) (image.Image, ImageMetadata, error) {
	if len(data) == 0 {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: ErrEmptyImage}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: err}
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: errors.New("image has no pixels")}
	}
	return img, ImageMetadata{
		Format:    format,
		SizeBytes: int64(len(data)),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}, nil
}

// EncodeImage writes img as "jpeg" or "png". Quality applies to JPEG only.
func EncodeImage(w io.Writer, img image.Image, format string, quality int) error {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		if quality <= 0 || quality > 100 {
			quality = jpeg.DefaultQuality
		}
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return &ImageProcessingError{Operation: "encode", Err: err}
		}
	case "png":
		if err := png.Encode(w, img); err != nil {
			return &ImageProcessingError{Operation: "encode", Err: err}
		}
	default:
		return &ImageProcessingError{Operation: "encode", Err: fmt.Errorf("unsupported output format: %s", format)}
	}
	return nil
}

// ImageFormatInfo returns the file extension and MIME type for an output format.
func ImageFormatInfo(format string) (ext, contentType string) {
	switch strings.ToLower(format) {
	case "png":
		return ".png", "image/png"
	default:
		return ".jpg", "image/jpeg"
	}
}

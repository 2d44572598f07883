package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"testing"

	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/require"
)

// Placement positions one synthesized symbol on a canvas.
type Placement struct {
	Format  gozxing.BarcodeFormat
	Content string
	Size    int
	At      image.Point
}

// RenderCode encodes content as a black-on-white symbol of roughly size
// pixels square.
func RenderCode(format gozxing.BarcodeFormat, content string, size int) (*image.Gray, error) {
	var writer gozxing.Writer
	switch format {
	case gozxing.BarcodeFormat_QR_CODE:
		writer = qrcode.NewQRCodeWriter()
	case gozxing.BarcodeFormat_DATA_MATRIX:
		writer = datamatrix.NewDataMatrixWriter()
	default:
		return nil, fmt.Errorf("unsupported test symbology %v", format)
	}

	matrix, err := writer.Encode(content, format, size, size, nil)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", content, err)
	}

	w, h := matrix.GetWidth(), matrix.GetHeight()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			if matrix.Get(x, y) {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img, nil
}

// ComposeCodes draws each placement onto a white canvas.
func ComposeCodes(t *testing.T, width, height int, placements ...Placement) *image.RGBA {
	t.Helper()

	canvas := CreateTestImage(width, height, color.White)
	for _, p := range placements {
		code, err := RenderCode(p.Format, p.Content, p.Size)
		require.NoError(t, err)
		r := code.Bounds().Add(p.At)
		draw.Draw(canvas, r, code, image.Point{}, draw.Src)
	}
	return canvas
}

// DataMatrixImage returns a single Data Matrix symbol with a generous quiet
// zone.
func DataMatrixImage(t *testing.T, content string) *image.RGBA {
	t.Helper()
	return ComposeCodes(t, 240, 240, Placement{
		Format:  gozxing.BarcodeFormat_DATA_MATRIX,
		Content: content,
		Size:    120,
		At:      image.Pt(60, 60),
	})
}

// QRCodeImage returns a single QR symbol with a quiet zone.
func QRCodeImage(t *testing.T, content string) *image.RGBA {
	t.Helper()
	return ComposeCodes(t, 300, 300, Placement{
		Format:  gozxing.BarcodeFormat_QR_CODE,
		Content: content,
		Size:    200,
		At:      image.Pt(50, 50),
	})
}

package testutil

import (
	"image"
	"testing"

	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCode(t *testing.T) {
	img, err := RenderCode(gozxing.BarcodeFormat_QR_CODE, "hello", 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, img.Bounds().Dx(), 21)

	img, err = RenderCode(gozxing.BarcodeFormat_DATA_MATRIX, "ABC123", 120)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())

	_, err = RenderCode(gozxing.BarcodeFormat_AZTEC, "x", 50)
	require.Error(t, err)
}

func TestComposeCodes_KeepsCanvasSize(t *testing.T) {
	img := ComposeCodes(t, 400, 200,
		Placement{Format: gozxing.BarcodeFormat_QR_CODE, Content: "left", Size: 120, At: image.Pt(20, 20)},
		Placement{Format: gozxing.BarcodeFormat_QR_CODE, Content: "right", Size: 120, At: image.Pt(220, 20)},
	)
	assert.Equal(t, image.Rect(0, 0, 400, 200), img.Bounds())
}

func TestEncodeHelpers(t *testing.T) {
	img := CreateTestImageWithText("no codes here", 160, 60)
	assert.NotEmpty(t, EncodePNG(t, img))
	assert.NotEmpty(t, EncodeJPEG(t, img))

	path := WriteTempFile(t, "x.png", EncodePNG(t, img))
	assert.True(t, FileExists(path))
}

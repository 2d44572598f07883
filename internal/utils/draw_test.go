package utils

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whiteRGBA(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func TestCloneRGBA_IsIndependent(t *testing.T) {
	src := whiteRGBA(8, 8)
	cp := CloneRGBA(src)
	cp.Set(1, 1, color.Black)

	assert.Equal(t, color.RGBA{255, 255, 255, 255}, src.RGBAAt(1, 1))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, cp.RGBAAt(1, 1))
}

func TestDrawRect_Outline(t *testing.T) {
	img := whiteRGBA(20, 20)
	red := color.RGBA{255, 0, 0, 255}
	DrawRect(img, image.Rect(2, 2, 10, 10), red, 1)

	assert.Equal(t, red, img.RGBAAt(2, 2))
	assert.Equal(t, red, img.RGBAAt(9, 5))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(5, 5))
}

func TestDrawPolygon_ClosesShape(t *testing.T) {
	img := whiteRGBA(30, 30)
	green := color.RGBA{0, 255, 0, 255}
	pts := []image.Point{{5, 5}, {20, 5}, {20, 20}, {5, 20}}
	DrawPolygon(img, pts, green, 1)

	assert.Equal(t, green, img.RGBAAt(12, 5))
	assert.Equal(t, green, img.RGBAAt(20, 12))
	// closing edge from last to first vertex
	assert.Equal(t, green, img.RGBAAt(5, 12))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(12, 12))
}

func TestDrawPolygon_IgnoresOutOfBounds(t *testing.T) {
	img := whiteRGBA(10, 10)
	assert.NotPanics(t, func() {
		DrawPolygon(img, []image.Point{{-20, -20}, {40, 3}, {5, 60}}, color.Black, 3)
	})
}

func TestDrawLabel(t *testing.T) {
	img := whiteRGBA(120, 60)
	box := DrawLabel(img, image.Pt(5, 40), "DM1: ABC", color.Black, color.RGBA{0, 255, 0, 255})
	require.False(t, box.Empty())
	assert.Less(t, box.Max.Y, 40)

	// no room above: label drops below the anchor
	box = DrawLabel(img, image.Pt(5, 2), "X", color.Black, nil)
	assert.GreaterOrEqual(t, box.Min.Y, 2)

	assert.True(t, DrawLabel(img, image.Pt(0, 0), "", color.Black, nil).Empty())
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#00ff7f")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0, 255, 127, 255}, c)

	c, err = ParseHexColor("ff0000")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, c)

	_, err = ParseHexColor("#fff")
	require.Error(t, err)
	_, err = ParseHexColor("zzzzzz")
	require.Error(t, err)
}

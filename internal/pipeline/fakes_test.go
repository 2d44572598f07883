package pipeline

import (
	"context"
	"errors"
	"image"
	"sync/atomic"

	"github.com/MeKo-Tech/dmscan/internal/barcode"
	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// fakeBackend returns canned hits, an error, or panics.
type fakeBackend struct {
	name  string
	hits  []barcode.RawHit
	err   error
	panic bool
	// onlyEnhanced returns hits only for images that are not *image.RGBA,
	// which is how the enhanced copy arrives.
	onlyEnhanced bool
	calls        atomic.Int32
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Scan(ctx context.Context, img image.Image) ([]barcode.RawHit, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.panic {
		panic("decoder exploded")
	}
	if f.err != nil {
		return f.hits, f.err
	}
	if f.onlyEnhanced {
		if _, ok := img.(*image.RGBA); ok {
			return nil, nil
		}
	}
	return f.hits, nil
}

var errBackend = errors.New("backend unavailable")

func rectHit(payload string, x0, y0, x1, y1 int) barcode.RectHit {
	return barcode.RectHit{
		Payload:   []byte(payload),
		Symbology: barcode.SymbologyDataMatrix,
		Rect:      image.Rect(x0, y0, x1, y1),
	}
}

func polyHit(payload string, x0, y0, x1, y1 float64) barcode.PolygonHit {
	return barcode.PolygonHit{
		Payload:   []byte(payload),
		Symbology: "DATA_MATRIX",
		Points: []utils.Point{
			{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1},
		},
	}
}

func det(method, data string, x, y, w, h int) Detection {
	return Detection{
		Method:  method,
		Data:    data,
		Type:    "DATA_MATRIX",
		Payload: []byte(data),
		Position: Position{
			X: x, Y: y, Width: w, Height: h,
			Polygon: []Vertex{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}},
		},
	}
}

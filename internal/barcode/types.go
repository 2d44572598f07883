package barcode

import (
	"context"
	"image"

	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// Options controls backend decoding behavior.
type Options struct {
	// Formats constrains the set of symbologies to search. Empty means all
	// formats the backend supports.
	Formats []Format

	// TryHarder enables more exhaustive search (slower but more robust).
	TryHarder bool

	// Multi enables multi-symbol detection in a single image.
	Multi bool
}

// DefaultOptions searches every supported symbology for multiple symbols.
func DefaultOptions() Options {
	return Options{TryHarder: false, Multi: true}
}

// RawHit is a backend-native detection before normalization. The set of
// implementations is closed: PolygonHit and RectHit.
type RawHit interface {
	rawHit()
}

// PolygonHit is produced by backends that report symbol corner or key
// points. Points are in image coordinates.
type PolygonHit struct {
	Payload   []byte
	Symbology string
	Points    []utils.Point
}

// RectHit is produced by backends that only report an axis-aligned
// rectangle in image coordinates.
type RectHit struct {
	Payload   []byte
	Symbology string
	Rect      image.Rectangle
}

func (PolygonHit) rawHit() {}
func (RectHit) rawHit()    {}

// Backend is an independently invokable code-recognition capability.
type Backend interface {
	// Name identifies the backend in results and logs.
	Name() string
	// Scan returns every symbol found in img. A decoder that simply finds
	// nothing returns an empty slice and a nil error.
	Scan(ctx context.Context, img image.Image) ([]RawHit, error)
}

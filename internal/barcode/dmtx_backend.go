package barcode

import (
	"context"
	"fmt"
	"image"

	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"

	"github.com/MeKo-Tech/dmscan/internal/utils"
)

const (
	// NameDMTX is the method tag of the Data Matrix specialist backend.
	NameDMTX = "dmtx"

	// SymbologyDataMatrix is the label the specialist reports for every hit.
	SymbologyDataMatrix = "DATAMATRIX"
)

// DMTXBackend searches only for Data Matrix symbols on a grayscale copy of
// the input, always with exhaustive search. It reports axis-aligned
// rectangles, not polygons.
type DMTXBackend struct {
	opts Options
}

// NewDMTXBackend creates the Data Matrix specialist.
func NewDMTXBackend(opts Options) *DMTXBackend {
	opts.TryHarder = true
	return &DMTXBackend{opts: opts}
}

// Name implements Backend.
func (b *DMTXBackend) Name() string { return NameDMTX }

// Scan implements Backend.
func (b *DMTXBackend) Scan(ctx context.Context, img image.Image) ([]RawHit, error) {
	if img == nil {
		return nil, fmt.Errorf("%s: nil image", NameDMTX)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// imaging output is anchored at (0,0); translate back afterwards.
	origin := img.Bounds().Min
	gray := utils.Grayscale(img)

	bmp, err := gozxing.NewBinaryBitmapFromImage(gray)
	if err != nil {
		return nil, fmt.Errorf("%s: build bitmap: %w", NameDMTX, err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER:       true,
		gozxing.DecodeHintType_POSSIBLE_FORMATS: []gozxing.BarcodeFormat{gozxing.BarcodeFormat_DATA_MATRIX},
	}

	var results []*gozxing.Result
	if b.opts.Multi {
		results = decodeMultiple(datamatrix.NewDataMatrixReader(), bmp, hints)
	} else if r, err := datamatrix.NewDataMatrixReader().Decode(bmp, hints); err == nil && r != nil {
		results = []*gozxing.Result{r}
	}

	hits := make([]RawHit, 0, len(results))
	for _, r := range results {
		rect := utils.BoundingRect(roundedPoints(r))
		hits = append(hits, RectHit{
			Payload:   payloadBytes(r),
			Symbology: SymbologyDataMatrix,
			Rect:      rect.Add(origin),
		})
	}
	if len(hits) > 0 {
		return hits, nil
	}

	// A tightly cropped symbol has no quiet zone for the detector; decode
	// the whole frame as a pure barcode instead.
	pure := map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_PURE_BARCODE: true}
	if r, err := datamatrix.NewDataMatrixReader().Decode(bmp, pure); err == nil && r != nil {
		hits = append(hits, RectHit{
			Payload:   payloadBytes(r),
			Symbology: SymbologyDataMatrix,
			Rect:      img.Bounds(),
		})
	}
	return hits, nil
}

func roundedPoints(r *gozxing.Result) []image.Point {
	pts := r.GetResultPoints()
	out := make([]image.Point, 0, len(pts))
	for _, p := range pts {
		if p == nil {
			continue
		}
		out = append(out, utils.RoundPoint(utils.Point{X: p.GetX(), Y: p.GetY()}))
	}
	return out
}

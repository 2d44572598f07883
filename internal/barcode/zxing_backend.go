package barcode

import (
	"context"
	"fmt"
	"image"

	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// NameZXing is the method tag of the multi-symbology backend.
const NameZXing = "zxing"

// ZXingBackend scans for every configured symbology and reports the
// decoder's result points as a polygon. Symbology labels are gozxing's
// format names (e.g. "DATA_MATRIX", "QR_CODE").
type ZXingBackend struct {
	opts Options
}

// NewZXingBackend creates the multi-symbology backend.
func NewZXingBackend(opts Options) *ZXingBackend {
	if len(opts.Formats) == 0 {
		opts.Formats = AllFormats
	}
	return &ZXingBackend{opts: opts}
}

// Name implements Backend.
func (b *ZXingBackend) Name() string { return NameZXing }

// Scan implements Backend.
func (b *ZXingBackend) Scan(ctx context.Context, img image.Image) ([]RawHit, error) {
	if img == nil {
		return nil, fmt.Errorf("%s: nil image", NameZXing)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("%s: build bitmap: %w", NameZXing, err)
	}
	origin := img.Bounds().Min

	var hits []RawHit
	for _, f := range AllFormats {
		if !contains(b.opts.Formats, f) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return hits, err
		}
		reader := newZXingReader(f)
		if reader == nil {
			continue
		}
		hints := make(map[gozxing.DecodeHintType]interface{})
		if bf, ok := mapFormatToZXing(f); ok {
			hints[gozxing.DecodeHintType_POSSIBLE_FORMATS] = []gozxing.BarcodeFormat{bf}
		}
		if b.opts.TryHarder {
			hints[gozxing.DecodeHintType_TRY_HARDER] = true
		}

		for _, r := range decodeAll(f, reader, bmp, hints, b.opts.Multi) {
			hits = append(hits, PolygonHit{
				Payload:   payloadBytes(r),
				Symbology: r.GetBarcodeFormat().String(),
				Points:    resultPoints(r, origin),
			})
		}
	}
	return hits, nil
}

// decodeAll runs reader over bmp. Decoder errors (not found, checksum,
// format) mean the symbology is absent and yield no results.
func decodeAll(f Format, reader gozxing.Reader, bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}, multiple bool) []*gozxing.Result {
	if multiple {
		if f == FormatQR {
			return decodeQRMultiple(reader, bmp, hints)
		}
		return decodeMultiple(reader, bmp, hints)
	}
	r, err := reader.Decode(bmp, hints)
	if err != nil || r == nil {
		return nil
	}
	return []*gozxing.Result{r}
}

func newZXingReader(f Format) gozxing.Reader {
	switch f {
	case FormatQR:
		return qrcode.NewQRCodeReader()
	case FormatDataMatrix:
		return datamatrix.NewDataMatrixReader()
	case FormatAztec:
		return aztec.NewAztecReader()
	case FormatCode128:
		return oned.NewCode128Reader()
	case FormatCode39:
		return oned.NewCode39Reader()
	case FormatEAN8:
		return oned.NewEAN8Reader()
	case FormatEAN13:
		return oned.NewEAN13Reader()
	case FormatUPCA:
		return oned.NewUPCAReader()
	case FormatITF:
		return oned.NewITFReader()
	case FormatCodabar:
		return oned.NewCodaBarReader()
	default:
		return nil
	}
}

func resultPoints(r *gozxing.Result, origin image.Point) []utils.Point {
	pts := r.GetResultPoints()
	if len(pts) == 0 {
		return nil
	}
	out := make([]utils.Point, 0, len(pts))
	for _, p := range pts {
		if p == nil {
			continue
		}
		out = append(out, utils.Point{X: p.GetX() + float64(origin.X), Y: p.GetY() + float64(origin.Y)})
	}
	return out
}

package barcode

import (
	"math"

	gozxing "github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
)

const (
	// multiMaxDepth bounds how often the search splits the remaining area.
	multiMaxDepth = 4
	// multiMinDimension is the smallest crop edge worth searching again.
	multiMinDimension = 100
)

// decodeMultiple finds every symbol reader can decode in bmp. After each
// hit the area left of, above, right of and below the symbol is searched
// again, so symbols hidden behind the first detection are found too. The
// same payload of the same symbology is reported once.
func decodeMultiple(reader gozxing.Reader, bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) []*gozxing.Result {
	seen := make(map[string]bool)
	var out []*gozxing.Result
	searchRegion(reader, bmp, hints, 0, 0, 0, seen, &out)
	return out
}

func searchRegion(reader gozxing.Reader, bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{},
	xOffset, yOffset, depth int, seen map[string]bool, out *[]*gozxing.Result) {
	if depth > multiMaxDepth {
		return
	}

	r, err := reader.Decode(bmp, hints)
	reader.Reset()
	if err != nil || r == nil {
		return
	}

	key := r.GetBarcodeFormat().String() + "\x00" + r.GetText()
	if !seen[key] {
		seen[key] = true
		*out = append(*out, translateResult(r, xOffset, yOffset))
	}

	pts := r.GetResultPoints()
	if len(pts) == 0 || !bmp.IsCropSupported() {
		return
	}

	width, height := bmp.GetWidth(), bmp.GetHeight()
	minX, minY := float64(width), float64(height)
	maxX, maxY := 0.0, 0.0
	for _, p := range pts {
		if p == nil {
			continue
		}
		minX = math.Min(minX, p.GetX())
		minY = math.Min(minY, p.GetY())
		maxX = math.Max(maxX, p.GetX())
		maxY = math.Max(maxY, p.GetY())
	}

	recurse := func(left, top, w, h int) {
		sub, err := bmp.Crop(left, top, w, h)
		if err != nil {
			return
		}
		searchRegion(reader, sub, hints, xOffset+left, yOffset+top, depth+1, seen, out)
	}

	if minX > multiMinDimension {
		recurse(0, 0, int(minX), height)
	}
	if minY > multiMinDimension {
		recurse(0, 0, width, int(minY))
	}
	if maxX < float64(width-multiMinDimension) {
		recurse(int(maxX), 0, width-int(maxX), height)
	}
	if maxY < float64(height-multiMinDimension) {
		recurse(0, int(maxY), width, height-int(maxY))
	}
}

// translateResult shifts the result points of a decode on a cropped bitmap
// back into the coordinates of the full bitmap.
func translateResult(r *gozxing.Result, xOffset, yOffset int) *gozxing.Result {
	if xOffset == 0 && yOffset == 0 {
		return r
	}
	old := r.GetResultPoints()
	pts := make([]gozxing.ResultPoint, 0, len(old))
	for _, p := range old {
		if p == nil {
			continue
		}
		pts = append(pts, gozxing.NewResultPoint(p.GetX()+float64(xOffset), p.GetY()+float64(yOffset)))
	}
	moved := gozxing.NewResult(r.GetText(), r.GetRawBytes(), pts, r.GetBarcodeFormat())
	moved.PutAllMetadata(r.GetResultMetadata())
	return moved
}

// decodeQRMultiple uses the dedicated QR multi detector and falls back to
// the region search when it finds nothing.
func decodeQRMultiple(reader gozxing.Reader, bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) []*gozxing.Result {
	results, err := multiqr.NewQRCodeMultiReader().DecodeMultiple(bmp, hints)
	if err == nil && len(results) > 0 {
		return results
	}
	return decodeMultiple(reader, bmp, hints)
}

// payloadBytes recovers the symbol's bytes. gozxing decodes byte-mode
// segments to text itself; when the text is exactly the ISO-8859-1
// reading of those segments the raw bytes are returned, so the payload
// decoder downstream sees what was encoded.
func payloadBytes(r *gozxing.Result) []byte {
	text := r.GetText()
	segs, ok := r.GetResultMetadata()[gozxing.ResultMetadataType_BYTE_SEGMENTS].([][]byte)
	if !ok || len(segs) == 0 {
		return []byte(text)
	}
	var raw []byte
	for _, s := range segs {
		raw = append(raw, s...)
	}
	if string(raw) == text || latin1(raw) == text {
		return raw
	}
	return []byte(text)
}

func latin1(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

package pipeline

import (
	"image"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/MeKo-Tech/dmscan/internal/barcode"
	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// Normalize converts a backend-native hit into a Detection. It never fails:
// geometry is clamped to bounds and undecodable payloads fall back to a
// byte-preserving Latin-1 reading.
func Normalize(method string, hit barcode.RawHit, bounds image.Rectangle) Detection {
	d := Detection{Method: method}

	var pts []image.Point
	switch h := hit.(type) {
	case barcode.PolygonHit:
		d.Payload = h.Payload
		d.Type = h.Symbology
		pts = make([]image.Point, 0, len(h.Points))
		for _, p := range h.Points {
			pts = append(pts, utils.RoundPoint(p))
		}
	case barcode.RectHit:
		d.Payload = h.Payload
		d.Type = h.Symbology
		pts = utils.RectCorners(h.Rect.Canon())
	}

	d.Data = DecodePayload(d.Payload)
	d.Position = positionFromPoints(pts, bounds)
	return d
}

// DecodePayload returns payload as text: UTF-8 when valid, otherwise each
// byte is read as ISO-8859-1 so no content is lost.
func DecodePayload(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(payload)
	if err != nil {
		return strings.ToValidUTF8(string(payload), "\uFFFD")
	}
	return string(s)
}

// positionFromPoints clamps pts into bounds and derives the bounding box.
// Fewer than four points cannot describe a quadrilateral, so the polygon is
// replaced by the corners of their bounding rectangle.
func positionFromPoints(pts []image.Point, bounds image.Rectangle) Position {
	if len(pts) == 0 {
		return Position{Polygon: []Vertex{}}
	}
	clamped := make([]image.Point, len(pts))
	for i, p := range pts {
		clamped[i] = utils.ClampPoint(p, bounds)
	}
	rect := utils.BoundingRect(clamped)
	if len(clamped) < 4 {
		clamped = utils.RectCorners(rect)
	}

	poly := make([]Vertex, len(clamped))
	for i, p := range clamped {
		poly[i] = Vertex{p.X, p.Y}
	}
	return Position{
		X:       rect.Min.X,
		Y:       rect.Min.Y,
		Width:   rect.Dx(),
		Height:  rect.Dy(),
		Polygon: poly,
	}
}

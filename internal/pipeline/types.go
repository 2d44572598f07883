package pipeline

import (
	"image"
	"time"

	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// Vertex is one polygon corner, serialized as [x, y].
type Vertex [2]int

// X returns the horizontal coordinate.
func (v Vertex) X() int { return v[0] }

// Y returns the vertical coordinate.
func (v Vertex) Y() int { return v[1] }

// Point converts the vertex to an image.Point.
func (v Vertex) Point() image.Point { return image.Pt(v[0], v[1]) }

// Position is the bounding geometry of a detection in pixel units.
type Position struct {
	X       int      `json:"x"`
	Y       int      `json:"y"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Polygon []Vertex `json:"polygon"`
}

// Rect returns the bounding rectangle.
func (p Position) Rect() image.Rectangle {
	return image.Rect(p.X, p.Y, p.X+p.Width, p.Y+p.Height)
}

// Box returns the bounding rectangle as a float box for overlap tests.
func (p Position) Box() utils.Box {
	return utils.BoxFromRect(p.Rect())
}

// Points returns the polygon as image points.
func (p Position) Points() []image.Point {
	out := make([]image.Point, len(p.Polygon))
	for i, v := range p.Polygon {
		out[i] = v.Point()
	}
	return out
}

// Detection is the canonical record of one located code.
type Detection struct {
	Method   string   `json:"method"`
	Data     string   `json:"data"`
	Type     string   `json:"type"`
	Position Position `json:"position"`

	// Payload holds the undecoded bytes used for duplicate matching.
	Payload []byte `json:"-"`
}

// BackendReport summarizes one backend invocation.
type BackendReport struct {
	Backend  string
	Enhanced bool
	Hits     int
	Duration time.Duration
	Err      error
}

// DetectionSet is the deduplicated outcome of one detection run.
type DetectionSet struct {
	Detections []Detection
	Reports    []BackendReport
	// Enhanced is set when the results come from the enhanced retry pass.
	Enhanced bool
	// Dropped counts records removed as duplicates.
	Dropped int
	Duration time.Duration
}

// Failed returns the reports of backends that errored.
func (s *DetectionSet) Failed() []BackendReport {
	var out []BackendReport
	for _, r := range s.Reports {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

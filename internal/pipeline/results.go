package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Result is the response document for one detection request.
type Result struct {
	DetectedCodes []Detection `json:"detected_codes"`
	Count         int         `json:"count"`
	// ImageURL is the download path of the persisted annotated image.
	ImageURL string `json:"image_url,omitempty"`
	// Image is the annotated image inlined as a data URL.
	Image     string `json:"image,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
	// AnnotationError is set when detection succeeded but drawing or
	// persisting the annotated image did not.
	AnnotationError string `json:"annotation_error,omitempty"`
}

// Assemble builds a Result from deduplicated detections. DetectedCodes is
// never nil so it always serializes as a JSON array.
func Assemble(dets []Detection) *Result {
	codes := make([]Detection, len(dets))
	copy(codes, dets)
	return &Result{DetectedCodes: codes, Count: len(codes)}
}

// WithArtifact attaches an annotated image. downloadPrefix is joined with
// the filename when the artifact was persisted; an empty prefix leaves the
// image unlinked. inline adds the data URL.
func (r *Result) WithArtifact(art *Artifact, downloadPrefix string, inline bool) *Result {
	if art == nil {
		return r
	}
	if art.Persisted && downloadPrefix != "" {
		r.ImageURL = strings.TrimSuffix(downloadPrefix, "/") + "/" + art.Filename
	}
	if inline {
		r.Image = art.DataURL()
	}
	return r
}

// WithSourceURL records the URL an image was fetched from.
func (r *Result) WithSourceURL(u string) *Result {
	r.SourceURL = u
	return r
}

// WithAnnotationError records a best-effort annotation failure.
func (r *Result) WithAnnotationError(err error) *Result {
	if err != nil {
		r.AnnotationError = err.Error()
	}
	return r
}

// ToJSON serializes a result to pretty JSON.
func ToJSON(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainText lists one decoded payload per line in detection order.
func ToPlainText(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	lines := make([]string, 0, len(res.DetectedCodes))
	for _, d := range res.DetectedCodes {
		lines = append(lines, d.Data)
	}
	return strings.Join(lines, "\n"), nil
}

// CSVWriter writes the detections of one or more results as CSV rows
// under a single header. With a source column each row starts with the
// input the result belongs to.
type CSVWriter struct {
	w          *csv.Writer
	withSource bool
}

var csvColumns = []string{"method", "type", "x", "y", "width", "height", "data"}

// NewCSVWriter writes the header to w and returns the row writer.
func NewCSVWriter(w io.Writer, withSource bool) *CSVWriter {
	cw := &CSVWriter{w: csv.NewWriter(w), withSource: withSource}
	header := csvColumns
	if withSource {
		header = append([]string{"source"}, csvColumns...)
	}
	_ = cw.w.Write(header)
	return cw
}

// Write appends one row per detection of res. source is ignored without
// a source column.
func (c *CSVWriter) Write(source string, res *Result) error {
	if res == nil {
		return errors.New("nil result")
	}
	for _, d := range res.DetectedCodes {
		row := []string{
			d.Method,
			d.Type,
			strconv.Itoa(d.Position.X),
			strconv.Itoa(d.Position.Y),
			strconv.Itoa(d.Position.Width),
			strconv.Itoa(d.Position.Height),
			d.Data,
		}
		if c.withSource {
			row = append([]string{source}, row...)
		}
		if err := c.w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered rows and reports any write error.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

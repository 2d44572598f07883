package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MeKo-Tech/dmscan/internal/pipeline"
	"github.com/MeKo-Tech/dmscan/internal/store"
	"github.com/MeKo-Tech/dmscan/internal/testutil"
	"github.com/stretchr/testify/require"
)

// fakeDetector returns a canned detection set.
type fakeDetector struct {
	set   *pipeline.DetectionSet
	err   error
	calls atomic.Int32
}

func (f *fakeDetector) Detect(ctx context.Context, img image.Image) (*pipeline.DetectionSet, error) {
	f.calls.Add(1)
	if img == nil {
		return nil, errors.New("nil image")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.set == nil {
		return &pipeline.DetectionSet{}, nil
	}
	// callers may mutate the slice
	out := *f.set
	out.Detections = append([]pipeline.Detection(nil), f.set.Detections...)
	return &out, nil
}

// fakeFetcher serves one payload or error regardless of URL.
type fakeFetcher struct {
	data []byte
	err  error
	last string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.last = rawURL
	return f.data, f.err
}

// failingStore accepts nothing.
type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Save(context.Context, string, []byte, string) error {
	return errors.New("disk full")
}

func sampleDetection(method, data string, x, y, w, h int) pipeline.Detection {
	return pipeline.Detection{
		Method: method,
		Data:   data,
		Type:   "DATAMATRIX",
		Position: pipeline.Position{
			X: x, Y: y, Width: w, Height: h,
			Polygon: []pipeline.Vertex{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}},
		},
		Payload: []byte(data),
	}
}

func sampleSet(dets ...pipeline.Detection) *pipeline.DetectionSet {
	return &pipeline.DetectionSet{Detections: dets}
}

type testServerOption func(*Config)

func withStore(s store.Store) testServerOption {
	return func(c *Config) { c.Store = s }
}

func withAlwaysPersist() testServerOption {
	return func(c *Config) { c.AlwaysPersist = true }
}

func withRateLimit(rpm, burst int) testServerOption {
	return func(c *Config) {
		c.RateLimit = true
		c.RequestsPerMinute = rpm
		c.Burst = burst
	}
}

func withMaxUploadMB(mb int64) testServerOption {
	return func(c *Config) { c.MaxUploadMB = mb }
}

// newTestServer builds a server backed by a memory store whose detector is
// replaced by det.
func newTestServer(t *testing.T, det detector, opts ...testServerOption) (*Server, *store.MemoryStore) {
	t.Helper()

	mem := store.NewMemoryStore()
	cfg := Config{
		CORSOrigin:  "*",
		MaxUploadMB: 4,
		Pipeline:    pipeline.New(pipeline.DefaultConfig()),
		Store:       mem,
	}
	for _, o := range opts {
		o(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	if det != nil {
		s.detector = det
	}
	return s, mem
}

// createTestImage creates a simple gradient image.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{byte(x % 256), byte(y % 256), 0, 255})
		}
	}
	return img
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, createTestImage(120, 80))
}

// createMultipartFormRequest creates a multipart upload for path.
func createMultipartFormRequest(t *testing.T, path, field, filename string, data []byte, extra map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if field != "" {
		part, err := writer.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range extra {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func base64Body(data []byte, includeImage, annotate bool) Base64Request {
	return Base64Request{
		Image:        base64.StdEncoding.EncodeToString(data),
		IncludeImage: includeImage,
		Annotate:     annotate,
	}
}

// serve runs req through the full route table.
func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) pipeline.Result {
	t.Helper()
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return res
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var res ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return res
}

func newFailingStore() failingStore {
	return failingStore{store.NewMemoryStore()}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MeKo-Tech/dmscan/internal/apperrors"
	"github.com/MeKo-Tech/dmscan/internal/pipeline"
	"github.com/MeKo-Tech/dmscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_RequiresPipelineAndStore(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)

	_, err = NewServer(Config{Pipeline: pipeline.New(pipeline.DefaultConfig())})
	require.Error(t, err)

	s, _ := newTestServer(t, nil)
	assert.NotNil(t, s.annotator)
	assert.NotNil(t, s.fetcher)
	assert.Equal(t, int64(4<<20), s.maxUploadBytes)
	assert.Nil(t, s.rateLimiter)
}

func TestIndexHandler(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var idx IndexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &idx))
	assert.Equal(t, ServiceName, idx.Service)
	assert.Contains(t, idx.Endpoints, "POST /detect")
	assert.Contains(t, idx.Endpoints, "POST /detect_url")

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)

	rec = serve(s, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var h HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "healthy", h.Status)
	assert.NotEmpty(t, h.Timestamp)
}

func TestDetectHandler_Upload(t *testing.T) {
	det := &fakeDetector{set: sampleSet(
		sampleDetection("zxing", "ABC123", 10, 10, 40, 40),
		sampleDetection("dmtx", "XYZ", 60, 10, 30, 30),
	)}
	s, mem := newTestServer(t, det)

	req := createMultipartFormRequest(t, "/detect", "image", "codes.png", pngBytes(t), nil)
	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeResult(t, rec)
	assert.Equal(t, 2, res.Count)
	require.Len(t, res.DetectedCodes, 2)
	assert.Equal(t, "zxing", res.DetectedCodes[0].Method)
	assert.Equal(t, "ABC123", res.DetectedCodes[0].Data)
	assert.Equal(t, 40, res.DetectedCodes[0].Position.Width)
	assert.Len(t, res.DetectedCodes[0].Position.Polygon, 4)
	assert.Empty(t, res.ImageURL)
	assert.Empty(t, res.Image)
	assert.Zero(t, mem.Len(), "nothing is persisted without annotate")
}

func TestDetectHandler_EmptyResultIsArray(t *testing.T) {
	s, _ := newTestServer(t, &fakeDetector{})

	rec := serve(s, createMultipartFormRequest(t, "/detect", "image", "blank.png", pngBytes(t), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"detected_codes":[]`)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestDetectHandler_Annotate(t *testing.T) {
	det := &fakeDetector{set: sampleSet(sampleDetection("zxing", "ABC", 10, 10, 40, 40))}
	s, mem := newTestServer(t, det)

	req := createMultipartFormRequest(t, "/detect", "image", "a.png", pngBytes(t), map[string]string{"annotate": "true"})
	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeResult(t, rec)
	require.NotEmpty(t, res.ImageURL)
	assert.True(t, strings.HasPrefix(res.ImageURL, DownloadPrefix+"/"+pipeline.ArtifactPrefix))
	assert.Empty(t, res.Image)
	assert.Equal(t, 1, mem.Len())

	dl := serve(s, httptest.NewRequest(http.MethodGet, res.ImageURL, nil))
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "image/jpeg", dl.Header().Get("Content-Type"))
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "attachment")
	assert.NotEmpty(t, dl.Body.Bytes())
}

func TestDetectHandler_AnnotateViaQuery(t *testing.T) {
	det := &fakeDetector{set: sampleSet(sampleDetection("zxing", "ABC", 10, 10, 40, 40))}
	s, mem := newTestServer(t, det)

	req := createMultipartFormRequest(t, "/detect?annotate=1", "image", "a.png", pngBytes(t), nil)
	rec := serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	linked := decodeResult(t, rec).ImageURL
	assert.True(t, strings.HasPrefix(linked, DownloadPrefix+"/"+pipeline.ArtifactPrefix), linked)
	assert.Equal(t, 1, mem.Len())
}

func TestDetectHandler_Errors(t *testing.T) {
	s, _ := newTestServer(t, &fakeDetector{}, withMaxUploadMB(1))

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantType   string
	}{
		{
			name:       "method not allowed",
			req:        httptest.NewRequest(http.MethodGet, "/detect", nil),
			wantStatus: http.StatusMethodNotAllowed,
			wantType:   "validation_error",
		},
		{
			name:       "missing image field",
			req:        createMultipartFormRequest(t, "/detect", "", "", nil, map[string]string{"x": "y"}),
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
		{
			name:       "empty filename",
			req:        createMultipartFormRequest(t, "/detect", "image", "", pngBytes(t), nil),
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
		{
			name:       "not an image",
			req:        createMultipartFormRequest(t, "/detect", "image", "a.txt", []byte("hello world"), nil),
			wantStatus: http.StatusBadRequest,
			wantType:   "decode_error",
		},
		{
			name:       "too large",
			req:        createMultipartFormRequest(t, "/detect", "image", "big.png", bytes.Repeat([]byte{1}, 3<<20), nil),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   "payload_too_large",
		},
		{
			name: "not multipart",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("raw"))
				r.Header.Set("Content-Type", "text/plain")
				return r
			}(),
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, tt.req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			e := decodeError(t, rec)
			assert.Equal(t, tt.wantType, e.Type)
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestDetectHandler_DetectorFailures(t *testing.T) {
	t.Run("internal", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeDetector{err: errors.New("boom")})
		rec := serve(s, createMultipartFormRequest(t, "/detect", "image", "a.png", pngBytes(t), nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal_error", decodeError(t, rec).Type)
	})

	t.Run("deadline", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeDetector{err: context.DeadlineExceeded})
		rec := serve(s, createMultipartFormRequest(t, "/detect", "image", "a.png", pngBytes(t), nil))
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, "timeout_error", decodeError(t, rec).Type)
	})
}

func TestDetectBase64Handler(t *testing.T) {
	det := &fakeDetector{set: sampleSet(sampleDetection("dmtx", "B64", 5, 5, 20, 20))}
	s, mem := newTestServer(t, det)

	t.Run("plain", func(t *testing.T) {
		rec := serve(s, jsonRequest(t, "/detect_base64", base64Body(pngBytes(t), false, false)))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		res := decodeResult(t, rec)
		assert.Equal(t, 1, res.Count)
		assert.Equal(t, "B64", res.DetectedCodes[0].Data)
	})

	t.Run("data url prefix", func(t *testing.T) {
		body := base64Body(pngBytes(t), false, false)
		body.Image = "data:image/png;base64," + body.Image
		rec := serve(s, jsonRequest(t, "/detect_base64", body))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("include image", func(t *testing.T) {
		before := mem.Len()
		rec := serve(s, jsonRequest(t, "/detect_base64", base64Body(pngBytes(t), true, false)))
		require.Equal(t, http.StatusOK, rec.Code)
		res := decodeResult(t, rec)
		assert.True(t, strings.HasPrefix(res.Image, "data:image/jpeg;base64,"))
		assert.Empty(t, res.ImageURL)
		assert.Equal(t, before, mem.Len())
	})

	t.Run("include image and annotate", func(t *testing.T) {
		rec := serve(s, jsonRequest(t, "/detect_base64", base64Body(pngBytes(t), true, true)))
		require.Equal(t, http.StatusOK, rec.Code)
		res := decodeResult(t, rec)
		assert.NotEmpty(t, res.Image)
		assert.NotEmpty(t, res.ImageURL)
	})
}

func TestDetectBase64Handler_Errors(t *testing.T) {
	s, _ := newTestServer(t, &fakeDetector{})

	tests := []struct {
		name       string
		body       string
		ct         string
		wantStatus int
		wantType   string
	}{
		{"empty body", "", "application/json", http.StatusBadRequest, "validation_error"},
		{"invalid json", "{", "application/json", http.StatusBadRequest, "validation_error"},
		{"missing image", `{"image":""}`, "application/json", http.StatusBadRequest, "validation_error"},
		{"bad base64", `{"image":"!!!not base64!!!"}`, "application/json", http.StatusBadRequest, "validation_error"},
		{"not an image", `{"image":"aGVsbG8gd29ybGQ="}`, "application/json", http.StatusBadRequest, "decode_error"},
		{"wrong content type", `{"image":"aGVsbG8="}`, "text/plain", http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/detect_base64", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.ct)
			rec := serve(s, req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantType, decodeError(t, rec).Type)
		})
	}
}

func TestDetectURLHandler(t *testing.T) {
	det := &fakeDetector{set: sampleSet(sampleDetection("zxing", "URL", 1, 1, 10, 10))}
	s, _ := newTestServer(t, det)
	f := &fakeFetcher{data: pngBytes(t)}
	s.fetcher = f

	rec := serve(s, jsonRequest(t, "/detect_url", URLRequest{URL: "https://example.com/a.png"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeResult(t, rec)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "https://example.com/a.png", res.SourceURL)
	assert.Equal(t, "https://example.com/a.png", f.last)
}

func TestDetectURLHandler_Errors(t *testing.T) {
	s, _ := newTestServer(t, &fakeDetector{})

	t.Run("missing url", func(t *testing.T) {
		rec := serve(s, jsonRequest(t, "/detect_url", URLRequest{}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation_error", decodeError(t, rec).Type)
	})

	t.Run("network error", func(t *testing.T) {
		s.fetcher = &fakeFetcher{err: apperrors.NewNetworkError("failed to fetch image from URL", errors.New("refused"))}
		rec := serve(s, jsonRequest(t, "/detect_url", URLRequest{URL: "http://unreachable.invalid/x.png"}))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "network_error", decodeError(t, rec).Type)
	})

	t.Run("timeout", func(t *testing.T) {
		s.fetcher = &fakeFetcher{err: apperrors.NewTimeoutError("image fetch timed out after 30s", context.DeadlineExceeded)}
		rec := serve(s, jsonRequest(t, "/detect_url", URLRequest{URL: "http://slow.example/x.png"}))
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, "timeout_error", decodeError(t, rec).Type)
	})

	t.Run("real fetcher against test server", func(t *testing.T) {
		img := pngBytes(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/missing.png" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img)
		}))
		defer ts.Close()

		real, _ := newTestServer(t, &fakeDetector{})
		rec := serve(real, jsonRequest(t, "/detect_url", URLRequest{URL: ts.URL + "/ok.png"}))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = serve(real, jsonRequest(t, "/detect_url", URLRequest{URL: ts.URL + "/missing.png"}))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "network_error", decodeError(t, rec).Type)
	})
}

func TestAnnotationFailureKeepsResults(t *testing.T) {
	det := &fakeDetector{set: sampleSet(sampleDetection("zxing", "KEEP", 10, 10, 40, 40))}
	s, _ := newTestServer(t, det)
	fs := newFailingStore()
	s.annotator = pipeline.NewAnnotator(fs, pipeline.DefaultAnnotatorConfig())
	s.store = fs

	rec := serve(s, jsonRequest(t, "/detect_base64", base64Body(pngBytes(t), false, true)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeResult(t, rec)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "KEEP", res.DetectedCodes[0].Data)
	assert.Empty(t, res.ImageURL)
	assert.NotEmpty(t, res.AnnotationError)
}

func TestAlwaysPersist(t *testing.T) {
	det := &fakeDetector{set: sampleSet(sampleDetection("zxing", "P", 10, 10, 40, 40))}
	s, mem := newTestServer(t, det, withAlwaysPersist())

	rec := serve(s, jsonRequest(t, "/detect_base64", base64Body(pngBytes(t), false, false)))
	require.Equal(t, http.StatusOK, rec.Code)
	linked := decodeResult(t, rec).ImageURL
	assert.True(t, strings.HasPrefix(linked, DownloadPrefix+"/"+pipeline.ArtifactPrefix), linked)
	assert.Equal(t, 1, mem.Len())

	// inlined images are stored but not linked
	rec = serve(s, jsonRequest(t, "/detect_base64", base64Body(pngBytes(t), true, false)))
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Empty(t, res.ImageURL)
	assert.NotEmpty(t, res.Image)
	assert.Equal(t, 2, mem.Len())
}

func TestDownloadHandler(t *testing.T) {
	s, mem := newTestServer(t, nil)
	require.NoError(t, mem.Save(context.Background(), "result_abc.png", []byte("png-bytes"), "image/png"))

	t.Run("get", func(t *testing.T) {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/download/result_abc.png", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename=result_abc.png`, rec.Header().Get("Content-Disposition"))
		assert.Equal(t, "png-bytes", rec.Body.String())
	})

	t.Run("head", func(t *testing.T) {
		rec := serve(s, httptest.NewRequest(http.MethodHead, "/download/result_abc.png", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.Bytes())
	})

	t.Run("missing", func(t *testing.T) {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/download/result_missing.jpg", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeError(t, rec).Type)
	})

	t.Run("invalid name", func(t *testing.T) {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/download/.hidden", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("method", func(t *testing.T) {
		rec := serve(s, httptest.NewRequest(http.MethodPost, "/download/result_abc.png", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestDetect_RealPipeline(t *testing.T) {
	p, err := pipeline.NewBuilder().Build()
	require.NoError(t, err)

	s, mem := newTestServer(t, nil)
	s.detector = p
	img := testutil.EncodePNG(t, testutil.DataMatrixImage(t, "SERIAL-0042"))

	rec := serve(s, jsonRequest(t, "/detect_base64", base64Body(img, false, true)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeResult(t, rec)
	var found bool
	for _, d := range res.DetectedCodes {
		if d.Data == "SERIAL-0042" {
			found = true
			assert.NotEmpty(t, d.Type)
			assert.Positive(t, d.Position.Width)
		}
	}
	assert.True(t, found, "expected the Data Matrix payload in %+v", res.DetectedCodes)
	assert.Equal(t, 1, mem.Len())
}

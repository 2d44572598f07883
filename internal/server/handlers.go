package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/dmscan/internal/apperrors"
	"github.com/MeKo-Tech/dmscan/internal/ingest"
	"github.com/MeKo-Tech/dmscan/internal/pipeline"
	"github.com/MeKo-Tech/dmscan/internal/store"
	"github.com/MeKo-Tech/dmscan/internal/version"
)

// detectOptions are the per-request output switches.
type detectOptions struct {
	includeImage bool
	annotate     bool
	sourceURL    string
	// source labels metrics: upload, base64, url, websocket.
	source string
}

// indexHandler returns service information and the endpoint list.
func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, apperrors.NewNotFoundError("endpoint not found", nil))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, IndexResponse{
		Service:  ServiceName,
		Version:  version.Version,
		Backends: s.backendNames(),
		Endpoints: map[string]string{
			"GET /":                    "service information",
			"GET /health":              "health check",
			"POST /detect":             "detect codes in an uploaded image (multipart field 'image')",
			"POST /detect_base64":      "detect codes in a base64 encoded image",
			"POST /detect_url":         "detect codes in an image fetched from a URL",
			"GET /download/{filename}": "download an annotated image",
			"GET /ws/detect":           "streaming detection over WebSocket",
			"GET /metrics":             "Prometheus metrics",
		},
	})
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   ServiceName,
		Version:   version.Version,
	})
}

// detectHandler processes multipart image uploads.
func (s *Server) detectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	data, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	opts := detectOptions{
		includeImage: parseBool(formOrQuery(r, "include_image")),
		annotate:     parseBool(formOrQuery(r, "annotate")),
		source:       "upload",
	}
	s.respond(r.Context(), w, data, opts)
}

// readUpload extracts the "image" part of a multipart request.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	// multipart framing needs a little headroom over the image limit
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))

	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apperrors.NewPayloadTooLargeError("file too large", err)
		}
		return nil, apperrors.NewValidationError("failed to parse form data", err)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, apperrors.NewValidationError("no image file provided", err)
	}
	defer func() { _ = file.Close() }()

	if header.Filename == "" {
		return nil, apperrors.NewValidationError("no file selected", nil)
	}
	if header.Size > s.maxUploadBytes {
		return nil, apperrors.NewPayloadTooLargeError("file too large", nil)
	}
	uploadSizeBytes.Observe(float64(header.Size))
	return ingest.ReadLimited(file, s.maxUploadBytes)
}

// detectBase64Handler processes JSON requests carrying a base64 image.
func (s *Server) detectBase64Handler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req Base64Request
	// base64 inflates by 4/3
	if err := s.decodeJSONBody(w, r, &req, s.maxUploadBytes/3*4+(1<<16)); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		s.writeError(w, apperrors.NewValidationError("no image data provided", nil))
		return
	}

	data, err := ingest.DecodeBase64(req.Image, s.maxUploadBytes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))
	s.respond(r.Context(), w, data, detectOptions{
		includeImage: req.IncludeImage,
		annotate:     req.Annotate,
		source:       "base64",
	})
}

// detectURLHandler fetches a remote image and processes it.
func (s *Server) detectURLHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req URLRequest
	if err := s.decodeJSONBody(w, r, &req, 1<<16); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeError(w, apperrors.NewValidationError("no URL provided", nil))
		return
	}

	data, err := s.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		fetchTotal.WithLabelValues(string(apperrors.GetType(err))).Inc()
		slog.Warn("Image fetch failed", "url", req.URL, "error", err)
		s.writeError(w, err)
		return
	}
	fetchTotal.WithLabelValues("success").Inc()

	s.respond(r.Context(), w, data, detectOptions{
		includeImage: req.IncludeImage,
		annotate:     req.Annotate,
		sourceURL:    req.URL,
		source:       "url",
	})
}

// downloadHandler serves a persisted artifact as an attachment.
func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeMethodNotAllowed(w)
		return
	}

	name := r.PathValue("filename")
	if err := store.ValidateName(name); err != nil {
		s.writeError(w, apperrors.NewNotFoundError("file not found", err))
		return
	}
	obj, err := s.store.Load(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, apperrors.NewNotFoundError("file not found", err))
			return
		}
		s.writeError(w, apperrors.NewInternalError("failed to load file", err))
		return
	}

	ct := obj.ContentType
	if ct == "" {
		ct = store.ContentTypeFor(name)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(obj.Data)
	}
}

// respond runs detection on data and writes the result or a classified error.
func (s *Server) respond(ctx context.Context, w http.ResponseWriter, data []byte, opts detectOptions) {
	res, err := s.process(ctx, data, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// process decodes, detects and assembles the result. Annotation problems
// never fail the request.
func (s *Server) process(ctx context.Context, data []byte, opts detectOptions) (*pipeline.Result, error) {
	img, meta, err := ingest.DecodeImage(data)
	if err != nil {
		detectRequestsTotal.WithLabelValues(opts.source, "error").Inc()
		return nil, err
	}

	set, err := s.detector.Detect(ctx, img)
	if err != nil {
		detectRequestsTotal.WithLabelValues(opts.source, "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewTimeoutError("detection timed out", err)
		}
		return nil, apperrors.NewInternalError("detection failed", err)
	}
	recordDetectionMetrics(set)
	detectRequestsTotal.WithLabelValues(opts.source, "success").Inc()

	slog.Info("Detection request completed",
		"source", opts.source,
		"format", meta.Format,
		"width", meta.Width,
		"height", meta.Height,
		"count", len(set.Detections),
		"enhanced", set.Enhanced,
		"duration", set.Duration)

	res := pipeline.Assemble(set.Detections)
	if opts.sourceURL != "" {
		res.WithSourceURL(opts.sourceURL)
	}
	s.attachArtifact(ctx, res, img, set.Detections, opts)
	return res, nil
}

// attachArtifact renders the annotated image when requested. include_image
// inlines it, annotate persists it and links it. With always_persist every
// request is persisted and linked unless the image is inlined.
func (s *Server) attachArtifact(ctx context.Context, res *pipeline.Result, img image.Image, dets []pipeline.Detection, opts detectOptions) {
	persist := opts.annotate || s.alwaysPersist
	link := opts.annotate || (s.alwaysPersist && !opts.includeImage)
	if !persist && !opts.includeImage {
		return
	}

	art, err := s.annotator.Encode(img, dets)
	if err == nil && persist {
		err = s.annotator.Persist(ctx, art)
	}
	if err != nil {
		annotationFailuresTotal.Inc()
		slog.Error("Annotation failed", "error", err)
		res.WithAnnotationError(err)
		return
	}

	prefix := ""
	if link {
		prefix = DownloadPrefix
	}
	res.WithArtifact(art, prefix, opts.includeImage)
}

// decodeJSONBody reads a bounded JSON request body into v.
func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			return apperrors.NewValidationError("content type must be application/json", err)
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperrors.NewPayloadTooLargeError("request body too large", err)
		case errors.Is(err, io.EOF):
			return apperrors.NewValidationError("no JSON data provided", err)
		default:
			return apperrors.NewValidationError("invalid JSON body", err)
		}
	}
	return nil
}

func formOrQuery(r *http.Request, key string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return r.FormValue(key)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response classified by apperrors.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperrors.GetStatusCode(err)
	msg := err.Error()
	if appErr, ok := apperrors.As(err); ok {
		msg = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "status", status, "error", err)
	} else {
		slog.Debug("Request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Type: string(apperrors.GetType(err))})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error: "method not allowed",
		Type:  string(apperrors.ErrorTypeValidation),
	})
}

// recordDetectionMetrics feeds per-backend counters from a detection run.
func recordDetectionMetrics(set *pipeline.DetectionSet) {
	for _, rep := range set.Reports {
		if rep.Err != nil {
			backendFailuresTotal.WithLabelValues(rep.Backend).Inc()
		}
	}
	for _, d := range set.Detections {
		detectionsTotal.WithLabelValues(d.Method).Inc()
	}
	if set.Dropped > 0 {
		dedupeDroppedTotal.Add(float64(set.Dropped))
	}
	detectionDuration.Observe(set.Duration.Seconds())
}

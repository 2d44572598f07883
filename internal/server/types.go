package server

import (
	"context"
	"errors"
	"image"
	"net/http"
	"time"

	"github.com/MeKo-Tech/dmscan/internal/ingest"
	"github.com/MeKo-Tech/dmscan/internal/pipeline"
	"github.com/MeKo-Tech/dmscan/internal/store"
)

// ServiceName is reported by the index and health endpoints.
const ServiceName = "dmscan"

// DownloadPrefix is the route under which persisted artifacts are served.
const DownloadPrefix = "/download"

// detector defines the methods needed by the server from a pipeline.
type detector interface {
	Detect(ctx context.Context, img image.Image) (*pipeline.DetectionSet, error)
}

// fetcher downloads remote images.
type fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	detector       detector
	annotator      *pipeline.Annotator
	store          store.Store
	fetcher        fetcher
	corsOrigin     string
	maxUploadBytes int64
	alwaysPersist  bool
	rateLimiter    *RateLimiter
	started        time.Time
}

// Config holds server configuration and the shared handles built at startup.
type Config struct {
	CORSOrigin    string
	MaxUploadMB   int64
	AlwaysPersist bool

	// RequestsPerMinute and Burst enable per-client rate limiting when
	// RateLimit is set.
	RateLimit         bool
	RequestsPerMinute int
	Burst             int

	Pipeline  *pipeline.Pipeline
	Annotator *pipeline.Annotator
	Store     store.Store
	Fetcher   *ingest.Fetcher
}

// Response types for API endpoints.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Version   string `json:"version"`
}

type IndexResponse struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Backends  []string          `json:"backends,omitempty"`
	Endpoints map[string]string `json:"endpoints"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// Base64Request is the body of POST /detect_base64.
type Base64Request struct {
	Image        string `json:"image"`
	IncludeImage bool   `json:"include_image"`
	Annotate     bool   `json:"annotate"`
}

// URLRequest is the body of POST /detect_url.
type URLRequest struct {
	URL          string `json:"url"`
	IncludeImage bool   `json:"include_image"`
	Annotate     bool   `json:"annotate"`
}

// NewServer creates a new detection server instance.
func NewServer(config Config) (*Server, error) {
	if config.Pipeline == nil {
		return nil, errors.New("server: pipeline is required")
	}
	if config.Store == nil {
		return nil, errors.New("server: store is required")
	}
	annotator := config.Annotator
	if annotator == nil {
		annotator = pipeline.NewAnnotator(config.Store, pipeline.DefaultAnnotatorConfig())
	}
	f := config.Fetcher
	if f == nil {
		f = ingest.NewFetcher(ingest.DefaultFetchConfig())
	}
	maxUpload := config.MaxUploadMB << 20
	if maxUpload <= 0 {
		maxUpload = ingest.DefaultMaxBytes
	}

	s := &Server{
		detector:       config.Pipeline,
		annotator:      annotator,
		store:          config.Store,
		fetcher:        f,
		corsOrigin:     config.CORSOrigin,
		maxUploadBytes: maxUpload,
		alwaysPersist:  config.AlwaysPersist,
		started:        time.Now(),
	}
	if config.RateLimit {
		s.rateLimiter = NewRateLimiter(config.RequestsPerMinute, config.Burst)
	}
	return s, nil
}

// backendNames lists the configured backends when the detector exposes them.
func (s *Server) backendNames() []string {
	if p, ok := s.detector.(interface{ BackendNames() []string }); ok {
		return p.BackendNames()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.corsMiddleware(s.indexHandler))
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/detect", s.corsMiddleware(s.rateLimitMiddleware(s.detectHandler)))
	mux.HandleFunc("/detect_base64", s.corsMiddleware(s.rateLimitMiddleware(s.detectBase64Handler)))
	mux.HandleFunc("/detect_url", s.corsMiddleware(s.rateLimitMiddleware(s.detectURLHandler)))
	mux.HandleFunc(DownloadPrefix+"/{filename}", s.corsMiddleware(s.downloadHandler))
	mux.HandleFunc("/ws/detect", s.corsMiddleware(s.detectWebSocketHandler))
	mux.Handle("/metrics", metricsHandler())
}

// Handler returns a mux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

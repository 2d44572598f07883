package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MeKo-Tech/dmscan/internal/config"
	"github.com/MeKo-Tech/dmscan/internal/ingest"
	"github.com/MeKo-Tech/dmscan/internal/pipeline"
	"github.com/MeKo-Tech/dmscan/internal/server"
	"github.com/MeKo-Tech/dmscan/internal/store"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP detection API",
		Long: `Start an HTTP server exposing the detection API.

Endpoints:
  GET  /                      service information
  GET  /health                health check
  POST /detect                multipart upload (field "image")
  POST /detect_base64         JSON {"image": "<base64>"}
  POST /detect_url            JSON {"url": "https://..."}
  GET  /download/{filename}   annotated images
  GET  /ws/detect             streaming detection over WebSocket
  GET  /metrics               Prometheus metrics

Examples:
  dmscan serve
  dmscan serve --port 8080
  dmscan serve --store memory --always-persist`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a.cfg)
		},
	}

	f := serveCmd.Flags()
	f.StringP("host", "H", "0.0.0.0", "server host")
	f.IntP("port", "p", 5000, "server port")
	f.String("cors-origin", "*", "CORS allowed origin")
	f.Int("max-upload-size", 16, "maximum upload size in MB")
	f.Bool("rate-limit", false, "enable per-client rate limiting")
	f.Int("requests-per-minute", 120, "sustained requests per minute per client")
	f.StringSlice("backends", nil, "detection backends in priority order (zxing, dmtx)")
	f.Float64("iou-threshold", pipeline.DefaultIoUThreshold, "overlap above which two detections are duplicates (0 disables)")
	f.String("store", store.BackendLocal, "artifact store (local, memory, azure)")
	f.String("output-dir", store.DefaultDir, "directory for annotated images with the local store")
	f.Bool("always-persist", false, "persist an annotated image for every request")

	a.bind(serveCmd, "server.host", "host")
	a.bind(serveCmd, "server.port", "port")
	a.bind(serveCmd, "server.cors_origin", "cors-origin")
	a.bind(serveCmd, "server.max_upload_mb", "max-upload-size")
	a.bind(serveCmd, "server.rate_limit.enabled", "rate-limit")
	a.bind(serveCmd, "server.rate_limit.requests_per_minute", "requests-per-minute")
	a.bind(serveCmd, "detection.backends", "backends")
	a.bind(serveCmd, "detection.iou_threshold", "iou-threshold")
	a.bind(serveCmd, "output.store", "store")
	a.bind(serveCmd, "output.dir", "output-dir")
	a.bind(serveCmd, "output.always_persist", "always-persist")
	return serveCmd
}

// buildServer wires the detection pipeline, store, annotator and fetcher
// described by cfg into an API server.
func buildServer(cfg *config.Config) (*server.Server, error) {
	p, err := cfg.ToPipelineBuilder().Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build detection pipeline: %w", err)
	}
	st, err := store.New(cfg.ToStoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	annCfg, err := cfg.ToAnnotatorConfig()
	if err != nil {
		return nil, err
	}

	return server.NewServer(server.Config{
		CORSOrigin:        cfg.Server.CORSOrigin,
		MaxUploadMB:       int64(cfg.Server.MaxUploadMB),
		AlwaysPersist:     cfg.Output.AlwaysPersist,
		RateLimit:         cfg.Server.RateLimit.Enabled,
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		Burst:             cfg.Server.RateLimit.Burst,
		Pipeline:          p,
		Annotator:         pipeline.NewAnnotator(st, annCfg),
		Store:             st,
		Fetcher:           ingest.NewFetcher(cfg.ToFetchConfig()),
	})
}

// newHTTPServer applies the configured timeouts.
func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
}

// runServe serves until ctx is cancelled, then shuts down gracefully.
func runServe(ctx context.Context, cfg *config.Config) error {
	srv, err := buildServer(cfg)
	if err != nil {
		return err
	}
	httpServer := newHTTPServer(cfg, srv.Handler())

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting detection server",
			"addr", httpServer.Addr,
			"backends", cfg.Detection.Backends,
			"store", cfg.Output.Store,
			"rate_limit", cfg.Server.RateLimit.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	slog.Info("Graceful shutdown completed")
	return nil
}

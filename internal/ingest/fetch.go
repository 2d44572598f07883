package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MeKo-Tech/dmscan/internal/apperrors"
)

// FetchConfig controls remote image retrieval.
type FetchConfig struct {
	// Timeout bounds the whole fetch including retries.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	// Backoff is multiplied by the attempt number between retries.
	Backoff   time.Duration
	MaxBytes  int64
	UserAgent string
}

// DefaultFetchConfig returns the service defaults.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:   30 * time.Second,
		Retries:   2,
		Backoff:   time.Second,
		MaxBytes:  DefaultMaxBytes,
		UserAgent: "dmscan/1.0",
	}
}

// Fetcher downloads images over HTTP(S).
type Fetcher struct {
	cfg    FetchConfig
	client *http.Client
}

// NewFetcher creates a Fetcher with a pooled transport.
func NewFetcher(cfg FetchConfig) *Fetcher {
	def := DefaultFetchConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		MaxIdleConns:           10,
		MaxIdleConnsPerHost:    2,
		IdleConnTimeout:        30 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  cfg.Timeout,
		ExpectContinueTimeout:  time.Second,
		MaxResponseHeaderBytes: 16 << 10,
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return errors.New("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
}

// Config returns the effective configuration.
func (f *Fetcher) Config() FetchConfig { return f.cfg }

// Fetch downloads rawURL. Unreachable hosts and 5xx answers after all
// retries are network errors; exceeding the timeout is a timeout error; a
// non-image response is a validation error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * f.cfg.Backoff
			slog.Debug("Retrying image fetch", "url", rawURL, "attempt", attempt+1, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, classifyFetchError(ctx.Err(), f.cfg.Timeout)
			case <-time.After(wait):
			}
		}

		data, retry, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, classifyFetchError(lastErr, f.cfg.Timeout)
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, apperrors.NewValidationError("invalid URL", err)
	}
	req.Header.Set("Accept", "image/*, application/octet-stream;q=0.8, */*;q=0.5")
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, !isTimeout(err), err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return nil, true, apperrors.NewNetworkError(fmt.Sprintf("remote server error: status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, false, apperrors.NewNetworkError(fmt.Sprintf("failed to fetch image: status %d", resp.StatusCode), nil)
	}

	if !isImageContentType(resp.Header.Get("Content-Type")) {
		return nil, false, apperrors.NewValidationError(
			fmt.Sprintf("URL does not point to an image (content type %q)", resp.Header.Get("Content-Type")), nil)
	}
	if resp.ContentLength > f.cfg.MaxBytes {
		return nil, false, apperrors.NewPayloadTooLargeError(fmt.Sprintf("image exceeds %d bytes", f.cfg.MaxBytes), nil)
	}

	data, err := ReadLimited(resp.Body, f.cfg.MaxBytes)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.Cause != nil && isTimeout(appErr.Cause) {
			return nil, false, appErr.Cause
		}
		return nil, false, err
	}
	return data, false, nil
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return apperrors.NewValidationError("no URL provided", nil)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return apperrors.NewValidationError("invalid URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperrors.NewValidationError(fmt.Sprintf("unsupported URL scheme %q", u.Scheme), nil)
	}
	if u.Host == "" {
		return apperrors.NewValidationError("URL has no host", nil)
	}
	return nil
}

// isImageContentType accepts image/* and generic binary responses. Servers
// that send no content type at all are given the benefit of the doubt; the
// decoder rejects non-images later.
func isImageContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/") || mt == "application/octet-stream" || mt == "binary/octet-stream"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classifyFetchError(err error, timeout time.Duration) error {
	if err == nil {
		return apperrors.NewNetworkError("failed to fetch image", nil)
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if isTimeout(err) {
		return apperrors.NewTimeoutError(fmt.Sprintf("image fetch timed out after %s", timeout), err)
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.NewNetworkError("image fetch cancelled", err)
	}
	return apperrors.NewNetworkError("failed to fetch image from URL", err)
}

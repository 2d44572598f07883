package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/dmscan/internal/barcode"
	"github.com/MeKo-Tech/dmscan/internal/ingest"
	"github.com/MeKo-Tech/dmscan/internal/pipeline"
	"github.com/MeKo-Tech/dmscan/internal/store"
	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	fetch := ingest.DefaultFetchConfig()
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Verbose:   false,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			CORSOrigin:      "*",
			MaxUploadMB:     16,
			ReadTimeout:     60,
			WriteTimeout:    120,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 120,
				Burst:             20,
			},
		},
		Detection: DetectionConfig{
			Backends:       append([]string(nil), barcode.DefaultOrder...),
			IoUThreshold:   pipeline.DefaultIoUThreshold,
			EnhanceOnEmpty: true,
			TryHarder:      false,
			Parallel:       false,
			Formats:        []string{},
		},
		Fetch: FetchConfig{
			Timeout:   int(fetch.Timeout / time.Second),
			Retries:   fetch.Retries,
			MaxBytes:  fetch.MaxBytes,
			UserAgent: fetch.UserAgent,
		},
		Output: OutputConfig{
			Store:         store.BackendLocal,
			Dir:           store.DefaultDir,
			AlwaysPersist: false,
			Format:        "jpeg",
			JPEGQuality:   90,
			BoxColor:      "#FF0000",
			LabelColor:    "#FFFFFF",
			LineWidth:     2,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	validLogFormats := []string{"text", "json"}
	if c.LogFormat != "" && !slices.Contains(validLogFormats, c.LogFormat) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", c.LogFormat, strings.Join(validLogFormats, ", "))
	}

	if err := c.Server.validate(); err != nil {
		return err
	}
	if err := c.Detection.validate(); err != nil {
		return err
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("invalid fetch timeout: %d (must be positive)", c.Fetch.Timeout)
	}
	if c.Fetch.Retries < 0 {
		return fmt.Errorf("invalid fetch retries: %d (must not be negative)", c.Fetch.Retries)
	}
	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("invalid fetch max bytes: %d (must be positive)", c.Fetch.MaxBytes)
	}
	return c.Output.validate()
}

func (s *ServerConfig) validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", s.Port)
	}
	if s.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", s.MaxUploadMB)
	}
	if s.ReadTimeout <= 0 || s.WriteTimeout <= 0 {
		return fmt.Errorf("invalid server timeouts: read=%d write=%d (must be positive)", s.ReadTimeout, s.WriteTimeout)
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d", s.ShutdownTimeout)
	}
	if s.RateLimit.Enabled && (s.RateLimit.RequestsPerMinute <= 0 || s.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: %d/min burst %d (must be positive)",
			s.RateLimit.RequestsPerMinute, s.RateLimit.Burst)
	}
	return nil
}

func (d *DetectionConfig) validate() error {
	if err := validateThreshold(d.IoUThreshold, "detection.iou_threshold"); err != nil {
		return err
	}
	seen := make(map[string]bool, len(d.Backends))
	for _, name := range d.Backends {
		n := strings.ToLower(strings.TrimSpace(name))
		if !slices.Contains(barcode.Names(), n) {
			return fmt.Errorf("invalid detection backend: %s (must be one of: %s)", name, strings.Join(barcode.Names(), ", "))
		}
		if seen[n] {
			return fmt.Errorf("detection backend listed twice: %s", name)
		}
		seen[n] = true
	}
	if _, err := barcode.ParseFormats(d.Formats); err != nil {
		return fmt.Errorf("invalid detection formats: %w", err)
	}
	return nil
}

func (o *OutputConfig) validate() error {
	validStores := []string{store.BackendLocal, store.BackendMemory, store.BackendAzure}
	if !slices.Contains(validStores, strings.ToLower(o.Store)) {
		return fmt.Errorf("invalid output store: %s (must be one of: %s)", o.Store, strings.Join(validStores, ", "))
	}
	if strings.EqualFold(o.Store, store.BackendAzure) && (o.Azure.AccountName == "" || o.Azure.Container == "") {
		return fmt.Errorf("azure store requires output.azure.account_name and output.azure.container")
	}
	validFormats := []string{"jpeg", "jpg", "png"}
	if !slices.Contains(validFormats, strings.ToLower(o.Format)) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", o.Format, strings.Join(validFormats, ", "))
	}
	if o.JPEGQuality < 1 || o.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality: %d (must be between 1 and 100)", o.JPEGQuality)
	}
	if o.LineWidth < 1 {
		return fmt.Errorf("invalid line width: %d (must be positive)", o.LineWidth)
	}
	if _, err := utils.ParseHexColor(o.BoxColor); err != nil {
		return fmt.Errorf("invalid output.box_color: %w", err)
	}
	if _, err := utils.ParseHexColor(o.LabelColor); err != nil {
		return fmt.Errorf("invalid output.label_color: %w", err)
	}
	return nil
}

// ToPipelineBuilder converts the detection section to a pipeline builder.
func (c *Config) ToPipelineBuilder() *pipeline.Builder {
	return pipeline.NewBuilder().
		WithBackends(c.Detection.Backends).
		WithFormats(c.Detection.Formats).
		WithTryHarder(c.Detection.TryHarder).
		WithIoUThreshold(c.Detection.IoUThreshold).
		WithEnhanceOnEmpty(c.Detection.EnhanceOnEmpty).
		WithParallel(c.Detection.Parallel)
}

// ToFetchConfig converts the fetch section to a fetcher configuration.
func (c *Config) ToFetchConfig() ingest.FetchConfig {
	cfg := ingest.DefaultFetchConfig()
	cfg.Timeout = time.Duration(c.Fetch.Timeout) * time.Second
	cfg.Retries = c.Fetch.Retries
	cfg.MaxBytes = c.Fetch.MaxBytes
	if c.Fetch.UserAgent != "" {
		cfg.UserAgent = c.Fetch.UserAgent
	}
	return cfg
}

// ToStoreConfig converts the output section to a store configuration.
func (c *Config) ToStoreConfig() store.Config {
	return store.Config{
		Backend: strings.ToLower(c.Output.Store),
		Dir:     c.Output.Dir,
		Azure: store.AzureConfig{
			AccountName: c.Output.Azure.AccountName,
			AccountKey:  c.Output.Azure.AccountKey,
			Container:   c.Output.Azure.Container,
			Endpoint:    c.Output.Azure.Endpoint,
		},
	}
}

// ToAnnotatorConfig converts the output section to annotator settings.
// Per-backend colors keep their defaults; box_color applies to backends
// without one.
func (c *Config) ToAnnotatorConfig() (pipeline.AnnotatorConfig, error) {
	cfg := pipeline.DefaultAnnotatorConfig()
	cfg.Format = strings.ToLower(c.Output.Format)
	cfg.JPEGQuality = c.Output.JPEGQuality
	cfg.LineWidth = c.Output.LineWidth

	box, err := utils.ParseHexColor(c.Output.BoxColor)
	if err != nil {
		return cfg, fmt.Errorf("invalid output.box_color: %w", err)
	}
	label, err := utils.ParseHexColor(c.Output.LabelColor)
	if err != nil {
		return cfg, fmt.Errorf("invalid output.label_color: %w", err)
	}
	cfg.BoxColor = box
	cfg.LabelColor = label
	return cfg, nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// Redacted returns a copy safe for printing.
func (c Config) Redacted() Config {
	if c.Output.Azure.AccountKey != "" {
		c.Output.Azure.AccountKey = "***"
	}
	return c
}

func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.3f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

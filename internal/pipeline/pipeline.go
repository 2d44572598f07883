package pipeline

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/dmscan/internal/barcode"
	"github.com/MeKo-Tech/dmscan/internal/utils"
)

// EnhancedSuffix is appended to the method of hits found by the enhanced
// retry pass.
const EnhancedSuffix = "_enhanced"

// Config holds configuration for the detection pipeline.
type Config struct {
	// Backends lists backend names in priority order. Earlier backends win
	// duplicate ties.
	Backends []string
	// Formats restricts the multi-symbology backend; empty means all.
	Formats   []string
	TryHarder bool

	IoUThreshold float64

	// EnhanceOnEmpty reruns every backend on an enhanced copy when the
	// first pass finds nothing.
	EnhanceOnEmpty bool
	Enhance        utils.EnhanceOptions

	// Parallel runs backends concurrently. Results are still merged in
	// priority order.
	Parallel bool
}

// DefaultConfig returns a default pipeline config.
func DefaultConfig() Config {
	return Config{
		Backends:       append([]string(nil), barcode.DefaultOrder...),
		IoUThreshold:   DefaultIoUThreshold,
		EnhanceOnEmpty: true,
		Enhance:        utils.DefaultEnhanceOptions(),
	}
}

// Pipeline runs the backend set, normalizes and deduplicates. It holds no
// per-request state and is safe for concurrent use.
type Pipeline struct {
	cfg      Config
	backends []barcode.Backend
}

// New assembles a pipeline from already constructed backends.
func New(cfg Config, backends ...barcode.Backend) *Pipeline {
	return &Pipeline{cfg: cfg, backends: backends}
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// BackendNames returns the backend names in priority order.
func (p *Pipeline) BackendNames() []string {
	out := make([]string, len(p.backends))
	for i, be := range p.backends {
		out[i] = be.Name()
	}
	return out
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg    Config
	custom []barcode.Backend
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithBackends sets the backend priority order.
func (b *Builder) WithBackends(names []string) *Builder {
	if len(names) > 0 {
		b.cfg.Backends = append([]string(nil), names...)
	}
	return b
}

// WithCustomBackends replaces the named backends with explicit instances.
func (b *Builder) WithCustomBackends(backends ...barcode.Backend) *Builder {
	b.custom = backends
	return b
}

// WithFormats restricts the symbologies searched by the multi-format backend.
func (b *Builder) WithFormats(formats []string) *Builder {
	b.cfg.Formats = formats
	return b
}

// WithTryHarder toggles exhaustive search.
func (b *Builder) WithTryHarder(enabled bool) *Builder {
	b.cfg.TryHarder = enabled
	return b
}

// WithIoUThreshold sets the overlap duplicate threshold.
func (b *Builder) WithIoUThreshold(th float64) *Builder {
	b.cfg.IoUThreshold = th
	return b
}

// WithEnhanceOnEmpty toggles the enhanced retry pass.
func (b *Builder) WithEnhanceOnEmpty(enabled bool) *Builder {
	b.cfg.EnhanceOnEmpty = enabled
	return b
}

// WithEnhanceOptions sets the enhancement filter chain.
func (b *Builder) WithEnhanceOptions(opts utils.EnhanceOptions) *Builder {
	b.cfg.Enhance = opts
	return b
}

// WithParallel toggles concurrent backend execution.
func (b *Builder) WithParallel(enabled bool) *Builder {
	b.cfg.Parallel = enabled
	return b
}

// Config returns the current builder configuration.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the configuration without constructing backends.
func (b *Builder) Validate() error {
	if b.cfg.IoUThreshold < 0 || b.cfg.IoUThreshold > 1 {
		return fmt.Errorf("iou threshold must be in [0,1], got %v", b.cfg.IoUThreshold)
	}
	if _, err := barcode.ParseFormats(b.cfg.Formats); err != nil {
		return err
	}
	if len(b.custom) == 0 && len(b.cfg.Backends) == 0 {
		return errors.New("at least one backend is required")
	}
	return nil
}

// Build validates the configuration and constructs the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if len(b.custom) > 0 {
		return New(b.cfg, b.custom...), nil
	}

	formats, err := barcode.ParseFormats(b.cfg.Formats)
	if err != nil {
		return nil, err
	}
	opts := barcode.Options{Formats: formats, TryHarder: b.cfg.TryHarder, Multi: true}
	backends, err := barcode.NewBackends(b.cfg.Backends, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	return New(b.cfg, backends...), nil
}

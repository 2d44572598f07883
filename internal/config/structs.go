//nolint:lll
package config

// Config represents the complete configuration for the dmscan service and
// CLI. It supports loading from configuration files, environment variables,
// and command-line flags.
type Config struct {
	// Global settings
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Detection engine configuration
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection" json:"detection"`

	// Remote image fetching
	Fetch FetchConfig `mapstructure:"fetch" yaml:"fetch" json:"fetch"`

	// Annotated image output and storage
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`
}

// ServerConfig contains HTTP server settings. Timeouts are in seconds.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	ReadTimeout     int             `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int             `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limiting settings.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int  `mapstructure:"burst" yaml:"burst" json:"burst"`
}

// DetectionConfig contains backend selection and duplicate merging settings.
type DetectionConfig struct {
	Backends       []string `mapstructure:"backends" yaml:"backends" json:"backends"`
	IoUThreshold   float64  `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	EnhanceOnEmpty bool     `mapstructure:"enhance_on_empty" yaml:"enhance_on_empty" json:"enhance_on_empty"`
	TryHarder      bool     `mapstructure:"try_harder" yaml:"try_harder" json:"try_harder"`
	Parallel       bool     `mapstructure:"parallel" yaml:"parallel" json:"parallel"`
	Formats        []string `mapstructure:"formats" yaml:"formats" json:"formats"`
}

// FetchConfig contains remote image download settings. Timeout is in seconds.
type FetchConfig struct {
	Timeout   int    `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Retries   int    `mapstructure:"retries" yaml:"retries" json:"retries"`
	MaxBytes  int64  `mapstructure:"max_bytes" yaml:"max_bytes" json:"max_bytes"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`
}

// OutputConfig contains annotated image rendering and storage settings.
type OutputConfig struct {
	Store         string      `mapstructure:"store" yaml:"store" json:"store"`
	Dir           string      `mapstructure:"dir" yaml:"dir" json:"dir"`
	AlwaysPersist bool        `mapstructure:"always_persist" yaml:"always_persist" json:"always_persist"`
	Format        string      `mapstructure:"format" yaml:"format" json:"format"`
	JPEGQuality   int         `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
	BoxColor      string      `mapstructure:"box_color" yaml:"box_color" json:"box_color"`
	LabelColor    string      `mapstructure:"label_color" yaml:"label_color" json:"label_color"`
	LineWidth     int         `mapstructure:"line_width" yaml:"line_width" json:"line_width"`
	Azure         AzureConfig `mapstructure:"azure" yaml:"azure" json:"azure"`
}

// AzureConfig contains Azure Blob Storage settings for the azure store.
type AzureConfig struct {
	AccountName string `mapstructure:"account_name" yaml:"account_name" json:"account_name"`
	AccountKey  string `mapstructure:"account_key" yaml:"account_key" json:"-"`
	Container   string `mapstructure:"container" yaml:"container" json:"container"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
}

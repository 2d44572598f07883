package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "dmscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "DMSCAN"

	// DotEnvFile is loaded into the process environment when present.
	DotEnvFile = ".env"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoaderWithViper creates a loader on an isolated viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables, and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithFile loads configuration from a specific file path. An empty path
// searches the standard locations.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads configuration from a specific file
// path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if err := loadDotEnv(DotEnvFile); err != nil {
		return nil, err
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.Detection.Backends = splitList(config.Detection.Backends)
	config.Detection.Formats = splitList(config.Detection.Formats)
	return &config, nil
}

// loadDotEnv adds variables from path without overriding the environment.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	slog.Debug("Loaded environment file", "path", path)
	return nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// DMSCAN_SERVER_PORT -> server.port
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("log_format", defaults.LogFormat)
	l.v.SetDefault("verbose", defaults.Verbose)

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	l.v.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit.enabled", defaults.Server.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_minute", defaults.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.burst", defaults.Server.RateLimit.Burst)

	l.v.SetDefault("detection.backends", defaults.Detection.Backends)
	l.v.SetDefault("detection.iou_threshold", defaults.Detection.IoUThreshold)
	l.v.SetDefault("detection.enhance_on_empty", defaults.Detection.EnhanceOnEmpty)
	l.v.SetDefault("detection.try_harder", defaults.Detection.TryHarder)
	l.v.SetDefault("detection.parallel", defaults.Detection.Parallel)
	l.v.SetDefault("detection.formats", defaults.Detection.Formats)

	l.v.SetDefault("fetch.timeout", defaults.Fetch.Timeout)
	l.v.SetDefault("fetch.retries", defaults.Fetch.Retries)
	l.v.SetDefault("fetch.max_bytes", defaults.Fetch.MaxBytes)
	l.v.SetDefault("fetch.user_agent", defaults.Fetch.UserAgent)

	l.v.SetDefault("output.store", defaults.Output.Store)
	l.v.SetDefault("output.dir", defaults.Output.Dir)
	l.v.SetDefault("output.always_persist", defaults.Output.AlwaysPersist)
	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.jpeg_quality", defaults.Output.JPEGQuality)
	l.v.SetDefault("output.box_color", defaults.Output.BoxColor)
	l.v.SetDefault("output.label_color", defaults.Output.LabelColor)
	l.v.SetDefault("output.line_width", defaults.Output.LineWidth)
	l.v.SetDefault("output.azure.account_name", defaults.Output.Azure.AccountName)
	l.v.SetDefault("output.azure.account_key", defaults.Output.Azure.AccountKey)
	l.v.SetDefault("output.azure.container", defaults.Output.Azure.Container)
	l.v.SetDefault("output.azure.endpoint", defaults.Output.Azure.Endpoint)
}

// GetResolvedConfig returns every setting viper has merged, including keys
// the Config struct does not know, so misspelled file entries show up. The
// Azure account key is redacted.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	settings := l.v.AllSettings()
	if out, ok := settings["output"].(map[string]interface{}); ok {
		if az, ok := out["azure"].(map[string]interface{}); ok {
			if key, _ := az["account_key"].(string); key != "" {
				az["account_key"] = "***"
			}
		}
	}
	return settings
}

// MarshalYAML renders cfg as YAML using the same keys the loader reads.
func MarshalYAML(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// GenerateDefaultConfigFile writes the default configuration as YAML. It
// refuses to overwrite an existing file.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("config file already exists: %s", filename)
	}
	data, err := MarshalYAML(DefaultConfig())
	if err != nil {
		return fmt.Errorf("error encoding default config: %w", err)
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
	}
	return os.WriteFile(filename, data, 0o600)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{".", "./config"}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, "dmscan"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dmscan"))
	}

	paths = append(paths, "/etc/dmscan")
	return paths
}

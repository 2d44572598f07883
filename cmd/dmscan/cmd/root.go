package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MeKo-Tech/dmscan/internal/config"
	"github.com/MeKo-Tech/dmscan/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// skipConfigAnnotation marks commands that run without loading configuration.
const skipConfigAnnotation = "dmscan/skip-config"

// app carries the state shared by all subcommands of one command tree.
type app struct {
	v        *viper.Viper
	loader   *config.Loader
	cfgFile  string
	cfg      *config.Config
	bindings map[*cobra.Command][]flagBinding
}

// flagBinding maps a command flag onto a configuration key.
type flagBinding struct {
	key  string
	flag string
}

// NewRootCommand builds the command tree on an isolated viper instance.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New(), bindings: make(map[*cobra.Command][]flagBinding)}
	a.loader = config.NewLoaderWithViper(a.v)

	rootCmd := &cobra.Command{
		Use:   "dmscan",
		Short: "Data Matrix and barcode detection service",
		Long: `dmscan locates Data Matrix symbols and other barcodes in images.

Several decoding backends run in priority order; their results are merged,
deduplicated by payload and overlap, and returned with positions.

Examples:
  dmscan scan label.jpg
  dmscan scan --format csv photos/*.png
  dmscan scan https://example.com/label.png --annotate-dir out/
  dmscan serve --port 5000`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}
			if err := a.applyBindings(cmd); err != nil {
				return err
			}
			if err := a.load(); err != nil {
				return err
			}
			setupLogging(cmd.ErrOrStderr(), a.cfg)
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is search in ., ./config, $XDG_CONFIG_HOME/dmscan, /etc/dmscan)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	a.bind(rootCmd, "verbose", "verbose")
	a.bind(rootCmd, "log_level", "log-level")
	a.bind(rootCmd, "log_format", "log-format")

	rootCmd.AddCommand(
		newServeCommand(a),
		newScanCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bind records that flag of cmd overrides key. Subcommands share keys
// (serve and scan both set detection.backends), so bindings are applied
// only for the command that actually runs.
func (a *app) bind(cmd *cobra.Command, key, flag string) {
	a.bindings[cmd] = append(a.bindings[cmd], flagBinding{key: key, flag: flag})
}

// applyBindings binds the flags of cmd and its parents. Unset flags leave
// the key to the config file, environment and defaults.
func (a *app) applyBindings(cmd *cobra.Command) error {
	for c := cmd; c != nil; c = c.Parent() {
		for _, b := range a.bindings[c] {
			f := cmd.Flags().Lookup(b.flag)
			if f == nil {
				f = c.PersistentFlags().Lookup(b.flag)
			}
			if err := a.v.BindPFlag(b.key, f); err != nil {
				return fmt.Errorf("bind flag --%s: %w", b.flag, err)
			}
		}
	}
	return nil
}

// load resolves configuration once per invocation.
func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := a.loader.LoadWithFile(a.cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	a.cfg = cfg
	if used := a.loader.GetConfigFileUsed(); used != "" {
		slog.Debug("Using config file", "path", used)
	}
	return nil
}

// parseLogLevel maps a level name to slog; unknown names mean info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogging installs the default slog logger. Logs go to w so that
// command output on stdout stays machine readable.
func setupLogging(w io.Writer, cfg *config.Config) {
	level := parseLogLevel(cfg.LogLevel)
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/dmscan/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}

	var asJSON, resolved bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Long: `Print the configuration after merging defaults, the config file,
environment variables (DMSCAN_*) and flags. Secrets are redacted.

With --resolved the raw merged settings are printed instead, including
keys dmscan does not recognize.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc any = a.cfg.Redacted()
			if resolved {
				doc = a.loader.GetResolvedConfig()
			}
			out := cmd.OutOrStdout()
			if used := a.loader.GetConfigFileUsed(); used != "" {
				_, _ = fmt.Fprintf(out, "# config file: %s\n", used)
			}
			if asJSON {
				b, err := json.MarshalIndent(doc, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(b))
				return err
			}
			b, err := yaml.Marshal(doc)
			if err != nil {
				return err
			}
			_, err = out.Write(b)
			return err
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	showCmd.Flags().BoolVar(&resolved, "resolved", false, "print the raw merged settings")

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Long: `Write the default configuration as YAML. The path defaults to
./dmscan.yaml; existing files are never overwritten.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigFileName + ".yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.GenerateDefaultConfigFile(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}

	pathsCmd := &cobra.Command{
		Use:         "paths",
		Short:       "List the directories searched for dmscan.yaml",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.GetConfigSearchPaths() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}

	configCmd.AddCommand(showCmd, initCmd, pathsCmd)
	return configCmd
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coloringbook/authcore"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "authcored",
	Short: "Credential and session service",
	Long: `authcored serves signup, login, password reset, email verification and
federated login endpoints backed by a file, Postgres or Datastore user directory.

Configuration is read from the YAML file given by --config and overridden by
AUTHCORE_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, purgeTokensCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file when given, applies the environment and
// validates the result.
func loadConfig(path string) (*authcore.Config, error) {
	cfg := &authcore.Config{}
	if path != "" {
		loaded, err := authcore.LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv().EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

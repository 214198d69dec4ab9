package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coloringbook/authcore"
)

var purgeTokensCmd = &cobra.Command{
	Use:   "purge-tokens",
	Short: "Clear expired password reset and verification tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		logger := authcore.NewLogger(os.Stderr, cfg.LogLevel)

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		purged, err := a.tokens.PurgeExpired(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		logger.Info("purged expired tokens", slog.Int("count", purged))
		fmt.Fprintln(cmd.OutOrStdout(), purged)
		return nil
	},
}

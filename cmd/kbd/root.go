package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knoguchi/hybridkb/internal/config"
)

// app carries state shared by subcommands once the root pre-run has loaded
// configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "kbd",
		Short:         "Hybrid dense + sparse knowledge base",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg
			a.logger = newLogger(cfg.LogLevel)
			slog.SetDefault(a.logger)
			return nil
		},
	}

	rootCmd.AddCommand(
		newServeCmd(a),
		newCreateIndexCmd(a),
		newUpsertCmd(a),
		newQueryCmd(a),
		newDeleteCmd(a),
		newTokenCmd(a),
	)
	return rootCmd
}

// newLogger sets up structured JSON logging at level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

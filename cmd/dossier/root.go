package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"dossier/internal/platform/config"
	"dossier/internal/platform/logger"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "dossier",
		Short:        "Evidence aggregation and correlation engine",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")

	cmd.AddCommand(newWorkCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newRebuildSummaryCmd())
	cmd.AddCommand(newMostContactedCmd())
	cmd.AddCommand(newMostVisitedCmd())

	return cmd
}

// setup loads configuration and builds the logger. Logs go to stderr so
// report output on stdout stays machine readable.
func setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	file, _ := cmd.Flags().GetString("config")
	v, err := config.New(file)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.NewWithWriter(os.Stderr, cfg.Log)
	slog.SetDefault(log)
	return cfg, log, nil
}

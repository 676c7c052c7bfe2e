package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/rx-api/internal/config"
	"github.com/jwalitptl/rx-api/pkg/logger"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "rx-api",
		Short:         "Prescription management API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "directory containing config.yaml")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		logger.NewLogger(nil).Error(err, "command failed")
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level: logger.ParseLevel(cfg.Level),
		JSON:  cfg.JSON,
	})
}

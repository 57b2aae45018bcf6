package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "clinic-api",
		Short:         "Clinic appointment booking API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ./config.yaml or ./config/config.yaml)")

	load := func() (*config.Config, *logger.Logger, error) {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, nil, err
		}
		return cfg, newLogger(cfg.Log), nil
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(doctorCmd(load))
	rootCmd.AddCommand(tokenCmd(load))

	if err := rootCmd.Execute(); err != nil {
		logger.NewLogger(nil).Error(err, "command failed")
		os.Exit(1)
	}
}

type loader func() (*config.Config, *logger.Logger, error)

// newLogger also replaces the zerolog global so library code logging through
// log.Logger shares the configured level and format
func newLogger(cfg config.LogConfig) *logger.Logger {
	l := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Level),
		Console: cfg.Format == "console",
	})
	log.Logger = *l.Zerolog()
	return l
}

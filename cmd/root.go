// Package cmd contains the fred command line interface.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jfgonzales/fred/internal/config"
	"github.com/jfgonzales/fred/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "fred",
	Short: "Fred - a retrieval-augmented butler assistant",
	Long: `Fred is a retrieval-augmented conversation service. It answers
questions grounded in documents you ingest, keeps per-thread conversation
history in PostgreSQL, and serves a small REST API.

Run 'fred serve' to start the HTTP server, or 'fred ingest <file>' to
index documents.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load()
	return rootCmd.Execute()
}

// loadConfig loads and validates configuration, returning it with a
// logger built from its log settings.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

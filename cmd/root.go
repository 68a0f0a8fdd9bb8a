// Package cmd contains the lore command-line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkrale/lore/internal/app"
	"github.com/mkrale/lore/internal/config"
	"github.com/mkrale/lore/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "lore",
	Short: "Lore - retrieval service for a document corpus",
	Long: `Lore manages a corpus of text, markdown, and PDF documents, keeps a
vector index of their contents, and answers similarity searches with
optional reranking. The serve command exposes the whole pipeline over a
JSON HTTP API; the remaining commands operate on the corpus directly.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration and builds the application. Shared by every
// subcommand that touches the corpus or the index.
func setup() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: parseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	slog.SetDefault(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

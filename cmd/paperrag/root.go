package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/paperrag/internal/app"
	"github.com/dshills/paperrag/internal/config"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "paperrag",
	Short: "Ingest research papers and search them",
	Long: `paperrag downloads papers, splits them into sections and chunks, and
indexes every chunk with dense and sparse vectors for hybrid retrieval.

Settings come from paperrag.yaml, .env and PAPERRAG_* variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		// stdout belongs to MCP and to command output
		log.SetOutput(os.Stderr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./paperrag.yaml)")
}

// loadConfig reads settings and applies the log level
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Debug() {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	return cfg, nil
}

// openApp loads configuration and wires every component
func openApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return a, nil
}

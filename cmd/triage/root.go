package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dshills/triage-mcp/internal/config"
	"github.com/dshills/triage-mcp/internal/logger"
)

// globals are the persistent flags shared by every command
type globals struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "triage",
		Short:         "Support request triage for strata management",
		Long:          "Routes inbound support requests by knowledge similarity and learning maturity, generating responses through a resilient provider chain.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to the YAML config file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Environment file loaded before configuration")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(g),
		newWorkerCmd(g),
		newIngestCmd(g),
		newStatusCmd(g),
		newVersionCmd(),
	)
	return root
}

// load reads the env file and configuration and builds the logger
func (g *globals) load() (*config.Config, *logger.Logger, error) {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("failed to load env file %s: %w", g.envFile, err)
		}
	}

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

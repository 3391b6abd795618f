package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/databridge/internal/bootstrap"
	"github.com/user/databridge/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "databridge",
	Short:         "Conversational bridge to a data workflow MCP server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path (.json, .yaml or .yml)")
}

// loadConfig loads the config at --config, exiting on failure.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging installs the default logger for cfg and returns it.
func setupLogging(cfg *config.Config) *slog.Logger {
	logger := bootstrap.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	return logger
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

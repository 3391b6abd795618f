package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/databridge/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		runSetup(bufio.NewScanner(cmd.InOrStdin()), cmd.OutOrStdout(), cfg)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintln(os.Stdout)
		fmt.Fprintln(os.Stdout, "Configuration saved to", cfgPath)
		return nil
	},
}

// runSetup asks for the settings a new install needs and updates cfg.
func runSetup(scanner *bufio.Scanner, out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out, "databridge setup")
	fmt.Fprintln(out, "Press Enter to accept the default value shown in brackets.")
	fmt.Fprintln(out)

	cfg.MCP.URL = prompt(scanner, out, "MCP server URL", cfg.MCP.URL)

	auth := prompt(scanner, out, "MCP Authorization header (optional)", cfg.MCP.Headers["Authorization"])
	if auth != "" {
		if cfg.MCP.Headers == nil {
			cfg.MCP.Headers = map[string]string{}
		}
		cfg.MCP.Headers["Authorization"] = auth
	}

	cfg.HTTP.Listen = prompt(scanner, out, "HTTP listen address", cfg.HTTP.Listen)
	cfg.HTTP.StaticDir = prompt(scanner, out, "Chat page directory (optional)", cfg.HTTP.StaticDir)

	timeout := prompt(scanner, out, "Query timeout in seconds", strconv.Itoa(cfg.HTTP.QueryTimeoutSeconds))
	if n, err := strconv.Atoi(timeout); err == nil && n >= 0 {
		cfg.HTTP.QueryTimeoutSeconds = n
	}

	cfg.Telegram.Token = prompt(scanner, out, "Telegram bot token (optional)", cfg.Telegram.Token)
}

// prompt displays a labeled prompt with a default value and reads a line.
// An empty answer keeps the default.
func prompt(scanner *bufio.Scanner, out io.Writer, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}

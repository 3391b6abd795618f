// Package bootstrap wires the bridge's components from a loaded config.
package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/user/databridge/internal/config"
	"github.com/user/databridge/internal/executor"
	"github.com/user/databridge/internal/gateway"
	"github.com/user/databridge/internal/state"
	"github.com/user/databridge/internal/tokens"
)

// ParseLevel maps a config log level to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger returns a tint logger writing to w, colored only on a terminal.
func NewLogger(w io.Writer, level string) *slog.Logger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		NoColor:    !color,
		TimeFormat: time.DateTime,
		Level:      ParseLevel(level),
	}))
}

// Components are the long-lived parts of a running bridge.
type Components struct {
	Gateway     *gateway.Gateway
	Executor    *executor.MCPExecutor
	History     *state.HistoryStore
	Transcripts *state.TranscriptStore
	Artifacts   *state.ArtifactStore
}

// Build creates the executor, stores and gateway described by cfg. The
// gateway is not started.
func Build(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}

	exec := executor.NewMCPExecutor(cfg.MCP.URL,
		executor.WithTool(cfg.MCP.Tool),
		executor.WithHeaders(cfg.MCP.Headers),
		executor.WithLogger(logger),
	)
	history := state.NewHistoryStore(
		state.WithMaxTurns(cfg.History.MaxTurnsPerSession),
		state.WithMaxSessions(cfg.History.MaxSessions),
	)

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMaxConcurrent(int64(cfg.MaxConcurrent)),
		gateway.WithQueryTimeout(cfg.QueryTimeout()),
		gateway.WithRetryPolicy(RetryPolicy(cfg)),
	}

	c := &Components{Executor: exec, History: history}

	if cfg.Context.MaxTokens > 0 {
		budget, err := tokens.New(cfg.Context.Model, cfg.Context.MaxTokens)
		if err != nil {
			logger.Warn("context budget disabled", "model", cfg.Context.Model, "error", err)
		} else {
			opts = append(opts, gateway.WithTokenBudget(budget))
		}
	}

	if cfg.Transcript.Enabled {
		if err := os.MkdirAll(cfg.TranscriptDir(), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		c.Transcripts = state.NewTranscriptStore(cfg.TranscriptDir())
		c.Artifacts = state.NewArtifactStore(cfg.TranscriptDir())
		opts = append(opts, gateway.WithTranscripts(c.Transcripts, c.Artifacts, cfg.Transcript.ClearOnReset))
	}

	c.Gateway = gateway.New(exec, history, opts...)
	return c, nil
}

// RetryPolicy returns the executor retry policy configured in cfg.
func RetryPolicy(cfg *config.Config) *gateway.RetryPolicy {
	if cfg.Executor.Retries <= 0 {
		return gateway.NoRetry()
	}
	p := gateway.DefaultRetryPolicy()
	p.MaxAttempts = cfg.Executor.Retries + 1
	if d := cfg.RetryDelay(); d > 0 {
		p.InitialDelay = d
	}
	return p
}

// Close releases the executor's connection.
func (c *Components) Close() error {
	return c.Executor.Close()
}

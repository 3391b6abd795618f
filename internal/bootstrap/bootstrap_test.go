package bootstrap

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/databridge/internal/config"
	"github.com/user/databridge/internal/gateway"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "session_id", "s1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "session_id=s1")
	assert.NotContains(t, out, "\x1b[", "non-terminal output must not be colored")
}

func TestBuildWithTranscripts(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.MCP.URL = "http://127.0.0.1:1/mcp"
	cfg.Transcript.Enabled = true

	c, err := Build(cfg, slog.Default())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Gateway)
	assert.NotNil(t, c.Transcripts)
	assert.NotNil(t, c.Artifacts)

	c.Gateway.Start(context.Background())
	defer c.Gateway.Stop()

	// The backend is unreachable: the query still answers, as a failure.
	resp, err := c.Gateway.HandleQuery(context.Background(), gateway.Query{UserRequest: "GDP", SessionID: "boot"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "TransportError", resp.OriginalResult.ErrorType)

	entries, err := c.Transcripts.Tail(context.Background(), "boot", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "GDP", entries[0].Query)
	assert.NotEmpty(t, entries[0].ArtifactID)
}

func TestBuildWithoutTranscripts(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Transcript.Enabled = false

	c, err := Build(cfg, nil)
	require.NoError(t, err)
	defer c.Close()
	assert.Nil(t, c.Transcripts)
	assert.Nil(t, c.Artifacts)
}

func TestRetryPolicy(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, 1, RetryPolicy(cfg).MaxAttempts)

	cfg.Executor.Retries = 2
	cfg.Executor.RetryDelayMS = 50
	p := RetryPolicy(cfg)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, p.InitialDelay)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/databridge/internal/bootstrap"
	"github.com/user/databridge/internal/telegram"
	"github.com/user/databridge/internal/transport/httpapi"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP bridge (and the Telegram bot when a token is set)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath := cfg.PIDFile()
	if err := writePIDFile(pidPath); err != nil {
		return err
	}
	defer os.Remove(pidPath)

	c, err := bootstrap.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Gateway.Start(ctx)
	defer c.Gateway.Stop()

	opts := []httpapi.Option{httpapi.WithLogger(logger)}
	if cfg.HTTP.StaticDir != "" {
		opts = append(opts, httpapi.WithStaticDir(cfg.HTTP.StaticDir))
	}
	if c.Transcripts != nil {
		opts = append(opts, httpapi.WithTranscripts(c.Transcripts))
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           httpapi.NewServer(c.Gateway, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var adapter *telegram.Adapter
	if cfg.Telegram.Token != "" {
		adapter, err = telegram.New(cfg.Telegram.Token, c.Gateway, logger)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
	} else {
		logger.Warn("telegram adapter disabled (no token)")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server started", "listen", cfg.HTTP.Listen, "mcp_url", cfg.MCP.URL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer done()
		return httpServer.Shutdown(shutdownCtx)
	})

	if adapter != nil {
		g.Go(func() error {
			adapter.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		return waitForSignal(gctx, cancel, pidPath, logger)
	})

	logger.Info("databridge started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"transcripts", c.Transcripts != nil,
		"pid_file", pidPath,
	)
	return g.Wait()
}

// waitForSignal stops the server on SIGINT or SIGTERM and re-executes the
// binary on SIGHUP.
func waitForSignal(ctx context.Context, cancel context.CancelFunc, pidPath string, logger *slog.Logger) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					logger.Error("failed to get executable path", "error", err)
					continue
				}
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					logger.Error("failed to re-exec", "error", err)
					if err := writePIDFile(pidPath); err != nil {
						logger.Error("failed to re-write PID file", "error", err)
					}
				}
				continue
			}
			logger.Info("shutting down", "signal", sig)
			cancel()
			return nil
		}
	}
}

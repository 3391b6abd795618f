package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/user/databridge/internal/bootstrap"
	"github.com/user/databridge/internal/config"
	"github.com/user/databridge/internal/transport/lambdaapi"
)

func main() {
	// Only /tmp is writable inside the function.
	path := config.DefaultPath()
	if os.Getenv("DATABRIDGE_CONFIG") == "" {
		path = "/tmp/databridge/config.json"
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.DataDir = "/tmp/databridge"
	cfg.Transcript.Enabled = false

	logger := bootstrap.NewLogger(os.Stderr, cfg.LogLevel)
	c, err := bootstrap.Build(cfg, logger)
	if err != nil {
		logger.Error("build components", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	c.Gateway.Start(context.Background())
	defer c.Gateway.Stop()

	h := lambdaapi.NewHandler(c.Gateway, logger)
	lambda.Start(h.Handle)
}

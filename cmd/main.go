package main

import (
	"context"
	"errors"
	"os"

	"github.com/desertthunder/shelf/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	runner := NewRunner(RunnerOpts{
		ConfigPath: "config.toml",
		Logger:     logger,
	})

	app := &cli.Command{
		Name:     "shelf",
		Usage:    "Browse, sync and download a Subsonic media library",
		Version:  "0.1.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrServiceUnavailable) {
			logger.Error("service unavailable", "error", err)
			os.Exit(2)
		}
		logger.Fatalf("application error: %v", err)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/shelf/internal/server"
	"github.com/desertthunder/shelf/internal/shared"
	"github.com/urfave/cli/v3"
)

// Serve exposes the tree, playback and download metrics over HTTP until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lib, err := r.openLibrary(ctx, cmd)
	if err != nil {
		return err
	}
	defer lib.Close()

	if err := lib.tree.Populate(ctx); err != nil {
		r.logger.Warn("some sections could not be read", "error", err)
	}

	addr := lib.config.Addr()
	if a := cmd.String("addr"); a != "" {
		addr = a
	}

	host := server.NewHostHandler(lib.tree, lib.dispatcher, r.logger)
	router := server.NewRouter(host, r.registry, r.logger)

	if cmd.Bool("open") {
		url := fmt.Sprintf("http://%s/api/children", addr)
		if err := shared.OpenBrowser(url); err != nil {
			r.logger.Warn("could not open browser", "url", url, "error", err)
		}
	}

	return server.Serve(ctx, addr, router, r.logger)
}

package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/shelf/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Sync pulls the newest songs plus all playlists and podcasts into the library.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	lib, err := r.openLibrary(ctx, cmd)
	if err != nil {
		return err
	}
	defer lib.Close()

	if err := lib.requireBackend(); err != nil {
		return err
	}

	progress := make(chan tasks.ProgressUpdate, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.logger.Info(update.Message, "phase", update.Phase, "step", update.Step, "total", update.Total)
		}
	}()

	result, err := lib.syncer.SyncLatest(ctx, progress)
	close(progress)
	<-done
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, true)
	}

	r.writePlainHeader("Library synced")
	r.writePlain("Songs:     %d\n", result.Songs)
	r.writePlain("Playlists: %d\n", result.Playlists)
	r.writePlain("Podcasts:  %d\n", result.Podcasts)
	return nil
}

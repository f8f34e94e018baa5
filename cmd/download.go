package main

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/shared"
	"github.com/desertthunder/shelf/internal/tree"
	"github.com/urfave/cli/v3"
)

// DownloadEnqueue queues the item at a tree path. Playlists and podcasts queue their tracks and episodes.
func (r *Runner) DownloadEnqueue(ctx context.Context, cmd *cli.Command) error {
	raw := cmd.StringArg("path")
	if raw == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	p, err := tree.ParsePath(raw)
	if err != nil {
		return err
	}

	lib, err := r.openLibrary(ctx, cmd)
	if err != nil {
		return err
	}
	defer lib.Close()

	if err := lib.requireBackend(); err != nil {
		return err
	}

	if err := lib.tree.Populate(ctx); err != nil {
		r.logger.Warn("some sections could not be read", "error", err)
	}

	element, err := lib.tree.ElementAt(p)
	if err != nil {
		return err
	}

	items, err := r.expand(ctx, lib, element)
	if err != nil {
		return err
	}

	accepted, err := lib.scheduler.Enqueue(ctx, items...)
	if err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}

	r.logger.Info("queued downloads", "path", p.String(), "id", element.ID(), "count", accepted)
	return r.writePlain("✓ Queued %d item(s) from %s\n", accepted, element.Name())
}

// expand returns the playables to download for element, hydrating containers that were never fetched.
func (r *Runner) expand(ctx context.Context, lib *library, element models.Containable) ([]models.Containable, error) {
	var read func(id string) ([]*models.Entity, error)
	var hydrate func(ctx context.Context, id string) (*models.Entity, error)

	switch element.Kind() {
	case models.KindPlaylist:
		read, hydrate = lib.entities.PlaylistItems, lib.syncer.HydratePlaylist
	case models.KindPodcast:
		read, hydrate = lib.entities.Episodes, lib.syncer.HydratePodcast
	default:
		return []models.Containable{element}, nil
	}

	entities, err := read(element.ID())
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		if _, err := hydrate(ctx, element.ID()); err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", element.Name(), err)
		}
		if entities, err = read(element.ID()); err != nil {
			return nil, err
		}
	}

	items := make([]models.Containable, len(entities))
	for i, e := range entities {
		items[i] = e
	}
	return items, nil
}

// DownloadRun drains the download queue.
func (r *Runner) DownloadRun(ctx context.Context, cmd *cli.Command) error {
	lib, err := r.openLibrary(ctx, cmd)
	if err != nil {
		return err
	}
	defer lib.Close()

	if err := lib.requireBackend(); err != nil {
		return err
	}

	summary, err := lib.scheduler.Run(ctx)
	if err != nil {
		return fmt.Errorf("download run failed: %w", err)
	}

	if cmd.Bool("json") {
		failures := make(map[string]string, len(summary.Errors))
		for id, err := range summary.Errors {
			failures[id] = lib.backend.Cleanse(err.Error())
		}
		return r.writeJSON(map[string]any{
			"total":      summary.Total,
			"downloaded": summary.Downloaded,
			"cached":     summary.Cached,
			"failed":     summary.Failed,
			"errors":     failures,
		}, true)
	}

	r.writePlainHeader("Downloads")
	r.writePlain("Total:      %d\n", summary.Total)
	r.writePlain("Downloaded: %d\n", summary.Downloaded)
	r.writePlain("Cached:     %d\n", summary.Cached)
	r.writePlain("Failed:     %d\n", summary.Failed)
	for _, id := range slices.Sorted(maps.Keys(summary.Errors)) {
		r.writePlain("  %s: %v\n", id, summary.Errors[id])
	}
	return nil
}

// DownloadStatus prints queue counts per status.
func (r *Runner) DownloadStatus(ctx context.Context, cmd *cli.Command) error {
	lib, err := r.openLibrary(ctx, cmd)
	if err != nil {
		return err
	}
	defer lib.Close()

	counts, err := lib.downloads.Counts()
	if err != nil {
		return err
	}

	statuses := []models.DownloadStatus{models.DownloadPending, models.DownloadRunning, models.DownloadDone, models.DownloadFailed}

	if cmd.Bool("json") {
		out := make(map[string]int, len(statuses))
		for _, s := range statuses {
			out[string(s)] = counts[s]
		}
		return r.writeJSON(out, true)
	}

	r.writePlainHeader("Download queue")
	for _, s := range statuses {
		r.writePlain("%-8s %d\n", s, counts[s])
	}

	if cmd.Bool("failed") {
		failed, err := lib.downloads.List(models.DownloadFailed)
		if err != nil {
			return err
		}
		for _, rec := range failed {
			r.writePlain("  %s (attempts %d): %s\n", rec.EntityID, rec.Attempts, rec.LastError)
		}
	}
	return nil
}

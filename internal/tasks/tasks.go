// package tasks implements library synchronization against the backend.
//
// The core abstraction is [Syncer], which pulls fresh entities from a [services.Backend]
// and stores them through the library [repositories.WriteQueue].
// Operations emit progress updates via channels for non-blocking status reporting to CLI/UI layers.
package tasks

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/repositories"
	"github.com/desertthunder/shelf/internal/services"
	"github.com/desertthunder/shelf/internal/shared"
)

// SyncResult counts what [Syncer.SyncLatest] stored.
type SyncResult struct {
	Songs     int
	Playlists int
	Podcasts  int
}

// Syncer keeps the local library in step with the backend.
type Syncer struct {
	backend services.Backend
	library *repositories.LibraryRepository
	writes  *repositories.WriteQueue
	opts    services.SyncOptions
	logger  *log.Logger
}

// NewSyncer creates a Syncer. library is used for reads; writes go through the queue.
func NewSyncer(backend services.Backend, library *repositories.LibraryRepository, writes *repositories.WriteQueue, opts services.SyncOptions, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Syncer{
		backend: backend,
		library: library,
		writes:  writes,
		opts:    opts,
		logger:  shared.WithLogger(logger, "component", "sync"),
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (s *Syncer) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// SyncLatest fetches the newest songs plus playlists and podcasts and upserts them in one transaction.
func (s *Syncer) SyncLatest(ctx context.Context, progress chan<- ProgressUpdate) (*SyncResult, error) {
	if s.backend == nil {
		return nil, fmt.Errorf("%w: backend not configured", shared.ErrServiceUnavailable)
	}

	s.sendProgress(progress, fetchLatestUpdate(s.backend.Name()))

	snapshot, err := s.backend.SyncLatest(ctx, s.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest: %w", err)
	}

	result := &SyncResult{}
	err = s.writes.Perform(ctx, func(tx *sql.Tx) error {
		repo := s.library.WithTx(tx)

		for _, group := range []struct {
			items []services.RemoteItem
			count *int
		}{
			{snapshot.Songs, &result.Songs},
			{snapshot.Playlists, &result.Playlists},
			{snapshot.Podcasts, &result.Podcasts},
		} {
			for _, item := range group.items {
				if _, err := repo.UpsertRemote(item.Entity("")); err != nil {
					return fmt.Errorf("failed to store %s %s: %w", item.Kind, item.ID, err)
				}
				*group.count++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sendProgress(progress, storeUpdate(StoreSongs, result.Songs, "songs"))
	s.sendProgress(progress, storeUpdate(StorePlaylists, result.Playlists, "playlists"))
	s.sendProgress(progress, storeUpdate(StorePodcasts, result.Podcasts, "podcasts"))
	s.sendProgress(progress, syncCompletedUpdate(result))

	s.logger.Info("sync completed", "songs", result.Songs, "playlists", result.Playlists, "podcasts", result.Podcasts)
	return result, nil
}

// HydratePlaylist fetches a playlist's tracks, stores them and rewrites its membership.
// Returns the refreshed playlist.
func (s *Syncer) HydratePlaylist(ctx context.Context, playlistID string) (*models.Entity, error) {
	playlist, err := s.container(playlistID, models.KindPlaylist, shared.ErrPlaylistNotFound)
	if err != nil {
		return nil, err
	}

	tracks, err := s.backend.PlaylistTracks(ctx, playlist.RemoteID())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist %s: %w", playlist.Name(), err)
	}

	err = s.writes.Perform(ctx, func(tx *sql.Tx) error {
		repo := s.library.WithTx(tx)

		ids := make([]string, 0, len(tracks))
		for _, track := range tracks {
			stored, err := repo.UpsertRemote(track.Entity(""))
			if err != nil {
				return fmt.Errorf("failed to store track %s: %w", track.ID, err)
			}
			ids = append(ids, stored.ID())
		}
		return repo.ReplacePlaylistItems(playlist.ID(), ids)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("playlist hydrated", "playlist", playlist.Name(), "tracks", len(tracks))
	return s.library.Get(playlist.ID())
}

// HydratePodcast fetches a podcast's episodes and stores them under it.
// Returns the refreshed podcast.
func (s *Syncer) HydratePodcast(ctx context.Context, podcastID string) (*models.Entity, error) {
	podcast, err := s.container(podcastID, models.KindPodcast, shared.ErrPodcastNotFound)
	if err != nil {
		return nil, err
	}

	episodes, err := s.backend.PodcastEpisodes(ctx, podcast.RemoteID())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch podcast %s: %w", podcast.Name(), err)
	}

	err = s.writes.Perform(ctx, func(tx *sql.Tx) error {
		repo := s.library.WithTx(tx)
		for _, ep := range episodes {
			if _, err := repo.UpsertRemote(ep.Entity(podcast.ID())); err != nil {
				return fmt.Errorf("failed to store episode %s: %w", ep.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("podcast hydrated", "podcast", podcast.Name(), "episodes", len(episodes))
	return s.library.Get(podcast.ID())
}

func (s *Syncer) container(id string, kind models.Kind, notFound error) (*models.Entity, error) {
	if s.backend == nil {
		return nil, fmt.Errorf("%w: backend not configured", shared.ErrServiceUnavailable)
	}

	entity, err := s.library.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", notFound, id)
	}
	if entity.Kind() != kind {
		return nil, fmt.Errorf("%w: %s is a %s", shared.ErrInvalidArgument, id, entity.Kind())
	}
	return entity, nil
}

package tree

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/services"
	"github.com/desertthunder/shelf/internal/shared"
	"github.com/desertthunder/shelf/internal/tasks"
)

// Section titles, in tree order.
const (
	TitlePlaylists   = "Playlists"
	TitleRecentSongs = "Recent Songs"
	TitlePodcasts    = "Podcasts"
)

// Library is the read side of the local library the tree is built from.
type Library interface {
	RecentPlayables(limit int) ([]*models.Entity, error)
	Playlists(limit int) ([]*models.Entity, error)
	Podcasts(limit int) ([]*models.Entity, error)
	Get(id string) (*models.Entity, error)
}

// Syncer refreshes the library from the backend.
type Syncer interface {
	SyncLatest(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*tasks.SyncResult, error)
	HydratePlaylist(ctx context.Context, playlistID string) (*models.Entity, error)
	HydratePodcast(ctx context.Context, podcastID string) (*models.Entity, error)
}

// SourceOpts configures a [LibrarySource].
type SourceOpts struct {
	Library       Library
	Syncer        Syncer // nil disables every fetch action
	Reachability  services.Reachability
	OnlineMode    bool
	RecentLimit   int
	PlaylistLimit int
	PodcastLimit  int
	Logger        *log.Logger
}

// LibrarySource builds the Playlists, Recent Songs and Podcasts sections.
type LibrarySource struct {
	opts   SourceOpts
	logger *log.Logger
}

// NewLibrarySource creates a source. A nil Reachability counts as connected.
func NewLibrarySource(opts SourceOpts) *LibrarySource {
	if opts.Reachability == nil {
		opts.Reachability = services.StaticReachability(true)
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	return &LibrarySource{
		opts:   opts,
		logger: shared.WithLogger(opts.Logger, "component", "library-source"),
	}
}

// Sections reads local data only. A failed read leaves that section empty.
func (s *LibrarySource) Sections(ctx context.Context) ([]*Section, error) {
	var errs []error

	playlists, err := s.opts.Library.Playlists(s.opts.PlaylistLimit)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to read playlists: %w", err))
	}
	recent, err := s.opts.Library.RecentPlayables(s.opts.RecentLimit)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to read recent songs: %w", err))
	}
	podcasts, err := s.opts.Library.Podcasts(s.opts.PodcastLimit)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to read podcasts: %w", err))
	}

	sections := []*Section{
		{Title: TitlePlaylists, Icon: "list", Playables: s.items(playlists, s.hydrate(s.hydratePlaylist))},
		{Title: TitleRecentSongs, Icon: "note", Playables: s.items(recent, nil), Fetch: s.recentFetch()},
		{Title: TitlePodcasts, Icon: "mic", Playables: s.items(podcasts, s.hydrate(s.hydratePodcast))},
	}
	return sections, errors.Join(errs...)
}

func (s *LibrarySource) items(entities []*models.Entity, fetch func(*models.Entity) PlayableFetch) []PlayableItem {
	items := make([]PlayableItem, 0, len(entities))
	for _, e := range entities {
		var f PlayableFetch
		if fetch != nil {
			f = fetch(e)
		}
		items = append(items, NewPlayableItem(e, f))
	}
	return items
}

func (s *LibrarySource) hydrate(fn func(ctx context.Context, id string) (*models.Entity, error)) func(*models.Entity) PlayableFetch {
	if s.opts.Syncer == nil {
		return nil
	}
	return func(e *models.Entity) PlayableFetch {
		id := e.ID()
		return func(ctx context.Context) (models.Containable, error) {
			refreshed, err := fn(ctx, id)
			if err != nil {
				return nil, err
			}
			if refreshed == nil {
				return nil, nil
			}
			return refreshed, nil
		}
	}
}

func (s *LibrarySource) hydratePlaylist(ctx context.Context, id string) (*models.Entity, error) {
	return s.opts.Syncer.HydratePlaylist(ctx, id)
}

func (s *LibrarySource) hydratePodcast(ctx context.Context, id string) (*models.Entity, error) {
	return s.opts.Syncer.HydratePodcast(ctx, id)
}

// recentFetch syncs the newest items when online, then re-reads the local list.
// Offline it returns the local list unchanged.
func (s *LibrarySource) recentFetch() SectionFetch {
	if s.opts.Syncer == nil {
		return nil
	}
	return func(ctx context.Context) ([]PlayableItem, error) {
		if s.opts.OnlineMode && s.opts.Reachability.IsConnected() {
			if _, err := s.opts.Syncer.SyncLatest(ctx, nil); err != nil {
				return nil, err
			}
		} else {
			s.logger.Debug("skipping sync", "online_mode", s.opts.OnlineMode)
		}

		recent, err := s.opts.Library.RecentPlayables(s.opts.RecentLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to read recent songs: %w", err)
		}
		return s.items(recent, nil), nil
	}
}

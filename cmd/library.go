package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/download"
	"github.com/desertthunder/shelf/internal/player"
	"github.com/desertthunder/shelf/internal/repositories"
	"github.com/desertthunder/shelf/internal/services"
	"github.com/desertthunder/shelf/internal/shared"
	"github.com/desertthunder/shelf/internal/tasks"
	"github.com/desertthunder/shelf/internal/tree"
	"github.com/urfave/cli/v3"
)

// library is everything a command needs to work with the local library.
type library struct {
	config     *shared.Config
	db         *sql.DB
	writes     *repositories.WriteQueue
	entities   *repositories.LibraryRepository
	downloads  *repositories.DownloadRepository
	backend    services.Backend // nil when no backend is configured
	reach      services.Reachability
	syncer     *tasks.Syncer // nil without a backend
	tree       *tree.Tree
	queue      *tree.MainQueue
	player     *player.Player
	dispatcher *tree.Dispatcher
	scheduler  *download.Scheduler // nil without a backend
	logger     *log.Logger
}

// openLibrary opens the database and builds the components on top of it.
// Callers must Close the result.
func (r *Runner) openLibrary(ctx context.Context, cmd *cli.Command) (*library, error) {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	db, err := shared.OpenLibrary(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}

	l := &library{
		config:    config,
		db:        db,
		writes:    repositories.NewWriteQueue(db, r.logger),
		entities:  repositories.NewLibraryRepository(db),
		downloads: repositories.NewDownloadRepository(db),
		logger:    r.logger,
	}

	l.backend = r.backend
	if l.backend == nil {
		client := &http.Client{Timeout: config.BackendTimeout()}
		if svc, err := services.NewSubsonicService(config.Backend, client, r.logger); err != nil {
			r.logger.Warn("backend unavailable, running offline", "error", err)
		} else {
			l.backend = svc
		}
	}

	l.reach = r.reach
	if l.reach == nil {
		if probe, err := services.NewHostReachability(config.Backend.URL, config.ProbeTimeout(), config.ProbeTTL()); err != nil {
			l.reach = services.StaticReachability(false)
		} else {
			l.reach = probe
		}
	}

	opts := tree.SourceOpts{
		Library:       l.entities,
		Reachability:  l.reach,
		OnlineMode:    config.Library.OnlineMode,
		RecentLimit:   config.Library.RecentLimit,
		PlaylistLimit: config.Library.PlaylistLimit,
		PodcastLimit:  config.Library.PodcastLimit,
		Logger:        r.logger,
	}

	if l.backend != nil {
		l.syncer = tasks.NewSyncer(l.backend, l.entities, l.writes, services.SyncOptions{
			SongLimit:     config.Library.RecentLimit,
			PlaylistLimit: config.Library.PlaylistLimit,
			PodcastLimit:  config.Library.PodcastLimit,
		}, r.logger)
		opts.Syncer = l.syncer

		files := download.NewFileManager(config.CacheRoot())
		delegate := download.NewDelegate(download.DelegateOpts{
			Backend:      l.backend,
			Reachability: l.reach,
			Files:        files,
			Library:      l.entities,
			Writes:       l.writes,
			Parallel:     config.Download.Parallel,
			Logger:       r.logger,
		})
		transfer := download.NewHTTPTransfer(r.transferClient(l.backend), files, config.Download.UserAgent, r.metrics, r.logger)
		l.scheduler = download.NewScheduler(delegate, transfer, l.entities, l.downloads, r.metrics, r.logger)
	}

	l.tree = tree.New(ctx, tree.NewLibrarySource(opts), r.logger)
	l.queue = tree.NewMainQueue()
	l.player = player.New(repositories.NewPlayerRepository(db), l.writes, r.logger)
	l.dispatcher = tree.NewDispatcher(l.tree, l.player, l.queue, r.logger)

	return l, nil
}

// transferClient prefers the backend's own client so bearer auth carries over to downloads.
func (r *Runner) transferClient(backend services.Backend) *http.Client {
	if r.httpClient != nil {
		return r.httpClient
	}
	if c, ok := backend.(interface{ HTTPClient() *http.Client }); ok {
		client := *c.HTTPClient()
		client.Timeout = 0
		return &client
	}
	return &http.Client{}
}

// requireBackend reports commands that cannot run offline.
func (l *library) requireBackend() error {
	if l.backend == nil {
		return fmt.Errorf("%w: backend is not configured", shared.ErrServiceUnavailable)
	}
	return nil
}

// Close stops the queues and closes the database.
func (l *library) Close() {
	l.queue.Close()
	l.player.Wait()
	l.writes.Close()
	if err := l.db.Close(); err != nil {
		l.logger.Warn("failed to close database", "error", err)
	}
}

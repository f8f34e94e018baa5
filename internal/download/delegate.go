package download

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/repositories"
	"github.com/desertthunder/shelf/internal/services"
	"github.com/desertthunder/shelf/internal/shared"
)

// DefaultParallel is the number of concurrent transfers when none is configured.
const DefaultParallel = 4

// peekSize is how much of a payload the backend classifier sees.
const peekSize = 4 << 10

// Delegate decides what is downloaded and how results are stored.
type Delegate struct {
	backend  services.Backend
	reach    services.Reachability
	files    *FileManager
	library  *repositories.LibraryRepository
	writes   *repositories.WriteQueue
	parallel int
	logger   *log.Logger
}

// DelegateOpts contains the collaborators of a [Delegate].
type DelegateOpts struct {
	Backend      services.Backend
	Reachability services.Reachability
	Files        *FileManager
	Library      *repositories.LibraryRepository
	Writes       *repositories.WriteQueue
	Parallel     int
	Logger       *log.Logger
}

// NewDelegate creates a delegate. A nil Reachability counts as always connected.
func NewDelegate(opts DelegateOpts) *Delegate {
	if opts.Reachability == nil {
		opts.Reachability = services.StaticReachability(true)
	}
	if opts.Parallel <= 0 {
		opts.Parallel = DefaultParallel
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	return &Delegate{
		backend:  opts.Backend,
		reach:    opts.Reachability,
		files:    opts.Files,
		library:  opts.Library,
		writes:   opts.Writes,
		parallel: opts.Parallel,
		logger:   shared.WithLogger(opts.Logger, "component", "download"),
	}
}

// ParallelDownloads is the maximum number of concurrent transfers.
func (d *Delegate) ParallelDownloads() int { return d.parallel }

// OnlyPlayables selects songs and episodes.
func (d *Delegate) OnlyPlayables(e models.Containable) bool {
	return e != nil && e.Kind().IsPlayable()
}

// Prepare checks that dl should be downloaded and returns its source URL.
//
// The element is re-read from the library so a download committed since the
// caller loaded it is seen as cached.
func (d *Delegate) Prepare(ctx context.Context, dl *Download) (string, error) {
	if dl == nil || dl.Element == nil || !d.OnlyPlayables(dl.Element) {
		return "", fmt.Errorf("%w: not a playable", ErrFetchFailed)
	}

	current, err := d.library.Get(dl.Element.ID())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	dl.Element = current

	if current.IsCached() {
		return "", ErrAlreadyCached
	}

	if !d.reach.IsConnected() {
		return "", ErrNoConnectivity
	}

	source, err := d.backend.ResolveSourceURL(ctx, current.Kind(), current.RemoteID())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return source, nil
}

// Validate rejects a missing payload or one the backend classifies as an error document.
func (d *Delegate) Validate(dl *Download) error {
	where := dl.ResponseURL
	if where == "" {
		where = dl.SourceURL
	}
	cleansed := d.backend.Cleanse(where)

	if dl.FilePath == "" || dl.Size == 0 {
		return &ResponseError{Message: "invalid download", CleansedURL: cleansed}
	}

	f, err := os.Open(dl.FilePath)
	if err != nil {
		return &ResponseError{Message: "invalid download", CleansedURL: cleansed, Err: err}
	}
	defer f.Close()

	peek := make([]byte, peekSize)
	n, err := io.ReadFull(f, peek)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return &ResponseError{Message: "unreadable download", CleansedURL: cleansed, Err: err}
	}
	if n == 0 {
		return &ResponseError{Message: "invalid download", CleansedURL: cleansed}
	}

	if err := d.backend.ClassifyResponse(peek[:n]); err != nil {
		return &ResponseError{Message: err.Error(), CleansedURL: cleansed, Err: err}
	}
	return nil
}

// Commit hands the payload to the library write queue and returns immediately.
//
// The job moves the payload to its deterministic path under a CACHEDIR.TAG-marked root,
// extracts embedded artwork from the moved file and records path, content type and
// artwork in one transaction. If the move fails the path is recorded as empty and the
// channel reports [ErrPersistenceFailed]. The channel receives exactly one value.
func (d *Delegate) Commit(ctx context.Context, dl *Download) <-chan error {
	out := make(chan error, 1)

	var persistErr error
	result := d.writes.Async(ctx, func(tx *sql.Tx) error {
		persistErr = nil
		entity := dl.Element
		rel := d.files.RelativePath(entity)

		contentType := d.backend.NegotiateTranscoding(dl.SourceURL).MIME
		if contentType == "" {
			contentType = dl.ContentType
		}

		if err := d.files.EnsureRoot(); err != nil {
			persistErr = fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
			rel = ""
		} else if err := d.files.Move(dl.FilePath, rel); err != nil {
			persistErr = fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
			rel = ""
		}

		var artwork []byte
		if rel != "" {
			art, err := ExtractArtwork(d.files.AbsPath(rel))
			if err != nil {
				d.logger.Debug("no artwork", "id", entity.ID(), "error", err)
			}
			artwork = art
		}

		if err := d.library.WithTx(tx).SetCacheInfo(entity.ID(), rel, contentType, artwork); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		}

		entity.SetRelFilePath(rel)
		entity.SetContentType(contentType)
		if artwork != nil {
			entity.SetArtwork(artwork)
		}
		return nil
	})

	go func() {
		defer close(out)
		err := <-result
		if err == nil {
			err = persistErr
		}
		if err == nil {
			d.logger.Info("download committed", "id", dl.Element.ID(), "name", dl.Element.Name(), "path", dl.Element.RelFilePath())
		}
		out <- err
	}()

	return out
}

// OnFailure logs a failed download. Nothing is removed; the item stays not cached.
func (d *Delegate) OnFailure(dl *Download, err error) {
	if dl == nil || dl.Element == nil {
		d.logger.Warn("download failed", "error", err)
		return
	}
	d.logger.Warn("download failed",
		"id", dl.Element.ID(),
		"name", dl.Element.Name(),
		"url", d.backend.Cleanse(dl.SourceURL),
		"error", err,
	)
}

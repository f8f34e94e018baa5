package download

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/repositories"
	"github.com/desertthunder/shelf/internal/shared"
)

// RunSummary reports what [Scheduler.Run] did.
type RunSummary struct {
	Total      int
	Downloaded int
	Cached     int
	Failed     int
	Errors     map[string]error // entity id -> failure
}

// Scheduler drives downloads through the [Delegate] stages with bounded concurrency.
type Scheduler struct {
	delegate *Delegate
	transfer Transfer
	library  *repositories.LibraryRepository
	queue    *repositories.DownloadRepository
	metrics  *Metrics
	logger   *log.Logger

	mu       sync.Mutex
	inFlight map[string]*flight
}

// flight is one running Process call. err is set before done is closed.
type flight struct {
	done chan struct{}
	err  error
}

// NewScheduler creates a scheduler. metrics may be nil.
func NewScheduler(delegate *Delegate, transfer Transfer, library *repositories.LibraryRepository, queue *repositories.DownloadRepository, metrics *Metrics, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Scheduler{
		delegate: delegate,
		transfer: transfer,
		library:  library,
		queue:    queue,
		metrics:  metrics,
		logger:   shared.WithLogger(logger, "component", "scheduler"),
		inFlight: make(map[string]*flight),
	}
}

// Enqueue persists the playables among entities to the download queue.
// Failed rows are reset to pending. Returns how many entities were accepted.
func (s *Scheduler) Enqueue(ctx context.Context, entities ...models.Containable) (int, error) {
	accepted := 0
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return accepted, err
		}
		if !s.delegate.OnlyPlayables(e) {
			s.logger.Debug("skipping non-playable", "id", e.ID(), "kind", e.Kind())
			continue
		}
		if _, err := s.queue.Enqueue(e.ID()); err != nil {
			return accepted, err
		}
		accepted++
	}
	return accepted, nil
}

// Process runs one entity through every stage and returns the classified outcome.
//
// Concurrent calls for the same entity share one transfer.
func (s *Scheduler) Process(ctx context.Context, entity *models.Entity) error {
	id := entity.ID()

	s.mu.Lock()
	if f, ok := s.inFlight[id]; ok {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return f.err
		}
	}
	f := &flight{done: make(chan struct{})}
	s.inFlight[id] = f
	s.mu.Unlock()

	err := s.process(ctx, entity)

	s.mu.Lock()
	f.err = err
	delete(s.inFlight, id)
	close(f.done)
	s.mu.Unlock()

	s.metrics.observe(err)
	return err
}

func (s *Scheduler) process(ctx context.Context, entity *models.Entity) error {
	dl := NewDownload(entity)

	source, err := s.delegate.Prepare(ctx, dl)
	if err != nil {
		if !errors.Is(err, ErrAlreadyCached) {
			s.delegate.OnFailure(dl, err)
		}
		return err
	}
	dl.SourceURL = source

	s.metrics.started()
	err = s.transfer.Fetch(ctx, dl)
	s.metrics.finished()
	if err != nil {
		s.delegate.OnFailure(dl, err)
		return err
	}

	if err := s.delegate.Validate(dl); err != nil {
		// an error document must not be resumed into on the next attempt
		if rmErr := s.delegate.files.Remove(dl.FilePath); rmErr != nil {
			s.logger.Warn("failed to discard invalid payload", "path", dl.FilePath, "error", rmErr)
		}
		s.delegate.OnFailure(dl, err)
		return err
	}

	if err := <-s.delegate.Commit(ctx, dl); err != nil {
		s.delegate.OnFailure(dl, err)
		return err
	}
	return nil
}

// Run drains pending queue rows with a pool of [Delegate.ParallelDownloads] workers.
//
// Rows left running by an interrupted run are retried. Already-cached items are marked done.
func (s *Scheduler) Run(ctx context.Context) (*RunSummary, error) {
	if _, err := s.queue.ResetRunning(); err != nil {
		return nil, err
	}

	pending, err := s.queue.Pending(0)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{Total: len(pending), Errors: make(map[string]error)}
	if len(pending) == 0 {
		return summary, nil
	}

	type outcome struct {
		entityID string
		err      error
	}

	jobs := make(chan *models.DownloadRecord, len(pending))
	results := make(chan outcome, len(pending))

	workers := min(s.delegate.ParallelDownloads(), len(pending))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				results <- outcome{entityID: record.EntityID, err: s.runRecord(ctx, record)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, record := range pending {
			select {
			case <-ctx.Done():
				return
			case jobs <- record:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		switch {
		case res.err == nil:
			summary.Downloaded++
		case errors.Is(res.err, ErrAlreadyCached):
			summary.Cached++
		default:
			summary.Failed++
			summary.Errors[res.entityID] = res.err
		}
	}

	s.logger.Info("download run finished",
		"total", summary.Total,
		"downloaded", summary.Downloaded,
		"cached", summary.Cached,
		"failed", summary.Failed,
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Scheduler) runRecord(ctx context.Context, record *models.DownloadRecord) error {
	if err := s.queue.MarkRunning(record.ID); err != nil {
		return err
	}

	entity, err := s.library.Get(record.EntityID)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrFetchFailed, err)
		s.markFailed(record, err)
		return err
	}

	err = s.Process(ctx, entity)
	if err == nil || errors.Is(err, ErrAlreadyCached) {
		if markErr := s.queue.MarkDone(record.ID); markErr != nil {
			s.logger.Warn("failed to mark download done", "id", record.ID, "error", markErr)
		}
		return err
	}

	s.markFailed(record, err)
	return err
}

func (s *Scheduler) markFailed(record *models.DownloadRecord, err error) {
	if markErr := s.queue.MarkFailed(record.ID, err.Error()); markErr != nil {
		s.logger.Warn("failed to mark download failed", "id", record.ID, "error", markErr)
	}
}

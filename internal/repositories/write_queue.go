package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/shared"
)

// TxFunc is a unit of work run inside one transaction.
//
// Jobs must only touch the database through tx. On a single-connection pool any other
// query would wait for the connection the job itself holds.
type TxFunc func(tx *sql.Tx) error

type writeJob struct {
	ctx    context.Context
	fn     TxFunc
	result chan error
}

// WriteQueue serializes library writes on one goroutine, one transaction per job.
type WriteQueue struct {
	db     *sql.DB
	logger *log.Logger
	jobs   chan writeJob
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewWriteQueue starts the writer goroutine. Call [WriteQueue.Close] to stop it.
func NewWriteQueue(db *sql.DB, logger *log.Logger) *WriteQueue {
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	q := &WriteQueue{
		db:     db,
		logger: shared.WithLogger(logger, "component", "write-queue"),
		jobs:   make(chan writeJob, 64),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Async submits fn and returns immediately. The returned channel receives the job's
// result exactly once and is then closed.
func (q *WriteQueue) Async(ctx context.Context, fn TxFunc) <-chan error {
	result := make(chan error, 1)

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		result <- shared.ErrWriterClosed
		close(result)
		return result
	}

	select {
	case q.jobs <- writeJob{ctx: ctx, fn: fn, result: result}:
	case <-ctx.Done():
		result <- ctx.Err()
		close(result)
	}
	return result
}

// Perform submits fn and waits for it to finish.
func (q *WriteQueue) Perform(ctx context.Context, fn TxFunc) error {
	select {
	case err := <-q.Async(ctx, fn):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued jobs and stops the writer. Later submissions fail with [shared.ErrWriterClosed].
func (q *WriteQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	<-q.done
}

func (q *WriteQueue) run() {
	defer close(q.done)

	for job := range q.jobs {
		err := q.execute(job)
		if err != nil {
			q.logger.Warn("write job failed", "error", err)
		}
		job.result <- err
		close(job.result)
	}
}

func (q *WriteQueue) execute(job writeJob) (err error) {
	if err := job.ctx.Err(); err != nil {
		return err
	}

	tx, err := q.db.BeginTx(job.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			err = fmt.Errorf("write job panicked: %v", p)
		}
	}()

	if err := job.fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

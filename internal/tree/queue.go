package tree

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned by [MainQueue.Submit] after [MainQueue.Close].
var ErrQueueClosed = errors.New("main queue closed")

// MainQueue runs submitted functions one at a time, in submission order, on a
// single goroutine. Hosts that must observe tree and player updates from one
// execution context route them through it.
type MainQueue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	closed  bool
	done    chan struct{}
}

// NewMainQueue starts the queue's goroutine.
func NewMainQueue() *MainQueue {
	q := &MainQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Submit enqueues fn. It never blocks.
func (q *MainQueue) Submit(fn func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, fn)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return nil
}

// Close runs what is already queued, then stops the goroutine.
func (q *MainQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.wake)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *MainQueue) loop() {
	defer close(q.done)

	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, fn := range batch {
			runTask(fn)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

// runTask keeps the queue alive when a task panics.
func runTask(fn func()) {
	defer func() { recover() }()
	fn()
}

package tree

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/shelf/internal/models"
)

type recordingPlayer struct {
	mu     sync.Mutex
	played []models.PlayContext
}

func (p *recordingPlayer) Play(pc models.PlayContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, pc)
}

func (p *recordingPlayer) all() []models.PlayContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.played)
}

type panickingPlayer struct{}

func (panickingPlayer) Play(pc models.PlayContext) { panic("player exploded") }

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback")
	}
	return nil
}

func newDispatcher(t *testing.T) (*Dispatcher, *recordingPlayer) {
	t.Helper()
	queue := NewMainQueue()
	t.Cleanup(queue.Close)

	player := &recordingPlayer{}
	return NewDispatcher(newTree(t, fixture), player, queue, nil), player
}

func TestInitiatePlayback(t *testing.T) {
	t.Run("Track inside a container", func(t *testing.T) {
		d, player := newDispatcher(t)

		if err := waitErr(t, d.InitiatePlayback(Path{0, 0, 2})); err != nil {
			t.Fatalf("InitiatePlayback() error = %v", err)
		}

		played := player.all()
		if len(played) != 1 {
			t.Fatalf("expected exactly one submission, got %d", len(played))
		}
		if played[0].Element.ID() != "pl-2" {
			t.Errorf("expected track pl-2, got %s", played[0].Element.ID())
		}
		if played[0].Name != "Song 2" {
			t.Errorf("unexpected context name %q", played[0].Name)
		}
	})

	t.Run("Track in a section of three", func(t *testing.T) {
		queue := NewMainQueue()
		t.Cleanup(queue.Close)
		player := &recordingPlayer{}
		tr := newTree(t, func() []*Section {
			return []*Section{{Title: "Playlists", Playables: songs("track", 3)}, {Title: "Recent Songs"}, {Title: "Podcasts"}}
		})
		d := NewDispatcher(tr, player, queue, nil)

		if err := waitErr(t, d.InitiatePlayback(Path{0, 2})); err != nil {
			t.Fatalf("InitiatePlayback() error = %v", err)
		}
		if played := player.all(); len(played) != 1 || played[0].Element.ID() != "track-2" {
			t.Errorf("expected track-2 exactly once, got %+v", played)
		}
	})

	t.Run("Section item", func(t *testing.T) {
		d, player := newDispatcher(t)

		if err := waitErr(t, d.InitiatePlayback(Path{1, 1})); err != nil {
			t.Fatalf("InitiatePlayback() error = %v", err)
		}
		if played := player.all(); len(played) != 1 || played[0].Element.ID() != "recent-1" {
			t.Errorf("unexpected submissions %+v", played)
		}
	})

	t.Run("Container item plays the container", func(t *testing.T) {
		d, player := newDispatcher(t)

		waitErr(t, d.InitiatePlayback(Path{0, 0}))
		if played := player.all(); len(played) != 1 || played[0].Element.Kind() != models.KindPlaylist {
			t.Errorf("unexpected submissions %+v", played)
		}
	})

	t.Run("Other lengths are a no-op", func(t *testing.T) {
		d, player := newDispatcher(t)

		for _, p := range []Path{{}, {0}, {0, 0, 0, 0}} {
			if err := waitErr(t, d.InitiatePlayback(p)); err != nil {
				t.Errorf("InitiatePlayback(%v) error = %v", p, err)
			}
		}
		if played := player.all(); len(played) != 0 {
			t.Errorf("expected no submissions, got %d", len(played))
		}
	})

	t.Run("Out of range", func(t *testing.T) {
		d, player := newDispatcher(t)

		for _, p := range []Path{{9, 0}, {1, 5}, {0, 0, 3}, {1, 0, 0}} {
			if err := waitErr(t, d.InitiatePlayback(p)); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("InitiatePlayback(%v) error = %v, want ErrInvalidPath", p, err)
			}
		}
		if played := player.all(); len(played) != 0 {
			t.Errorf("expected no submissions, got %d", len(played))
		}
	})

	t.Run("Callback form", func(t *testing.T) {
		d, player := newDispatcher(t)

		done := make(chan error, 1)
		d.InitiatePlaybackFunc(Path{0, 0, 1}, func(err error) { done <- err })
		if err := waitErr(t, done); err != nil {
			t.Errorf("unexpected error %v", err)
		}
		if played := player.all(); len(played) != 1 {
			t.Errorf("expected one submission, got %d", len(played))
		}
	})

	t.Run("Item without element", func(t *testing.T) {
		queue := NewMainQueue()
		t.Cleanup(queue.Close)
		player := &recordingPlayer{}
		tr := newTree(t, func() []*Section {
			return []*Section{{Title: "Playlists"}, {Title: "Recent Songs", Playables: []PlayableItem{{}}}, {Title: "Podcasts"}}
		})
		d := NewDispatcher(tr, player, queue, nil)

		if err := waitErr(t, d.InitiatePlayback(Path{1, 0})); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("expected ErrInvalidPath, got %v", err)
		}
		if played := player.all(); len(played) != 0 {
			t.Errorf("expected no submissions, got %d", len(played))
		}
	})

	t.Run("Panicking player completes once", func(t *testing.T) {
		queue := NewMainQueue()
		t.Cleanup(queue.Close)
		d := NewDispatcher(newTree(t, fixture), panickingPlayer{}, queue, nil)

		done := make(chan error, 2)
		d.InitiatePlaybackFunc(Path{1, 0}, func(err error) { done <- err })
		if err := waitErr(t, done); err == nil {
			t.Error("expected the panic to surface as an error")
		}

		// the queue keeps serving later requests
		if err := waitErr(t, d.InitiatePlayback(Path{9, 9})); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("expected ErrInvalidPath after the panic, got %v", err)
		}
		if len(done) != 0 {
			t.Error("callback fired more than once")
		}
	})

	t.Run("Closed queue", func(t *testing.T) {
		queue := NewMainQueue()
		queue.Close()
		d := NewDispatcher(newTree(t, fixture), &recordingPlayer{}, queue, nil)

		if err := waitErr(t, d.InitiatePlayback(Path{1, 0})); !errors.Is(err, ErrQueueClosed) {
			t.Errorf("expected ErrQueueClosed, got %v", err)
		}
	})
}

func TestMainQueue(t *testing.T) {
	t.Run("FIFO on one goroutine", func(t *testing.T) {
		q := NewMainQueue()

		var order []int
		for i := range 50 {
			if err := q.Submit(func() { order = append(order, i) }); err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
		}
		q.Close()

		if len(order) != 50 {
			t.Fatalf("expected 50 tasks to run, got %d", len(order))
		}
		for i, v := range order {
			if v != i {
				t.Fatalf("task %d ran at position %d", v, i)
			}
		}
	})

	t.Run("Survives a panicking task", func(t *testing.T) {
		q := NewMainQueue()
		defer q.Close()

		q.Submit(func() { panic("boom") })
		ran := make(chan struct{})
		q.Submit(func() { close(ran) })

		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("queue stopped after a panic")
		}
	})

	t.Run("Submit after Close", func(t *testing.T) {
		q := NewMainQueue()
		q.Close()
		q.Close()

		if err := q.Submit(func() {}); !errors.Is(err, ErrQueueClosed) {
			t.Errorf("expected ErrQueueClosed, got %v", err)
		}
	})
}

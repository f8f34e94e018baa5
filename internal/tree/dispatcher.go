package tree

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/shared"
)

// Player receives playback requests. Failures are the player's to report.
type Player interface {
	Play(pc models.PlayContext)
}

// Dispatcher resolves playback paths and submits them to the player on the main queue.
type Dispatcher struct {
	tree   *Tree
	player Player
	queue  *MainQueue
	logger *log.Logger
}

// NewDispatcher creates a dispatcher for t.
func NewDispatcher(t *Tree, player Player, queue *MainQueue, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Dispatcher{
		tree:   t,
		player: player,
		queue:  queue,
		logger: shared.WithLogger(logger, "component", "dispatcher"),
	}
}

// InitiatePlayback plays the item at p. Paths of length 2 and 3 address items;
// any other length does nothing.
//
// The returned channel receives one value once the request was handed to the
// player, or [ErrInvalidPath] when p does not resolve. It is then closed.
func (d *Dispatcher) InitiatePlayback(p Path) <-chan error {
	out := make(chan error, 1)
	p = slices.Clone(p)

	err := d.queue.Submit(func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("playback dispatch panicked", "path", p.String(), "panic", r)
				err = fmt.Errorf("playback of %s panicked: %v", p, r)
			}
			out <- err
			close(out)
		}()
		err = d.dispatch(p)
	})
	if err != nil {
		out <- err
		close(out)
	}
	return out
}

// InitiatePlaybackFunc is [Dispatcher.InitiatePlayback] for callback-style hosts.
func (d *Dispatcher) InitiatePlaybackFunc(p Path, onDone func(error)) {
	results := d.InitiatePlayback(p)
	go func() {
		err := <-results
		if onDone != nil {
			onDone(err)
		}
	}()
}

func (d *Dispatcher) dispatch(p Path) error {
	if len(p) != 2 && len(p) != 3 {
		return nil
	}

	element, err := d.tree.ElementAt(p)
	if err == nil && element == nil {
		err = fmt.Errorf("%w: %s has no element", ErrInvalidPath, p)
	}
	if err != nil {
		d.logger.Warn("cannot play", "path", p.String(), "error", err)
		return err
	}

	d.logger.Debug("submitting playback", "path", p.String(), "id", element.ID())
	d.player.Play(models.NewPlayContext(element))
	return nil
}

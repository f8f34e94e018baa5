// Package player is the playback facade the tree dispatches to.
//
// It tracks the now-playing context and persists it through the library write queue.
// Audio output is left to the host.
package player

import (
	"context"
	"database/sql"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/repositories"
	"github.com/desertthunder/shelf/internal/shared"
)

// Player records what is playing.
type Player struct {
	state  *repositories.PlayerRepository
	writes *repositories.WriteQueue
	logger *log.Logger

	mu      sync.Mutex
	current models.PlayContext
	playing bool
	saved   chan struct{}
}

// New creates a player. writes may be nil, in which case nothing is persisted.
func New(state *repositories.PlayerRepository, writes *repositories.WriteQueue, logger *log.Logger) *Player {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	saved := make(chan struct{})
	close(saved)
	return &Player{
		state:  state,
		writes: writes,
		logger: shared.WithLogger(logger, "component", "player"),
		saved:  saved,
	}
}

// Play makes pc the current context. It does not wait for the state to be stored.
func (p *Player) Play(pc models.PlayContext) {
	if pc.Element == nil {
		p.logger.Warn("ignoring play request without an element")
		return
	}

	p.logger.Info("now playing",
		"id", pc.Element.ID(),
		"kind", pc.Element.Kind(),
		"name", pc.Name,
		"index", pc.Index,
		"streaming", !pc.Element.IsCached(),
	)

	saved := make(chan struct{})
	p.mu.Lock()
	p.current = pc
	p.playing = true
	p.saved = saved
	p.mu.Unlock()

	if p.writes == nil {
		close(saved)
		return
	}

	result := p.writes.Async(context.Background(), func(tx *sql.Tx) error {
		return repositories.NewPlayerRepository(tx).Save(pc)
	})
	go func() {
		defer close(saved)
		if err := <-result; err != nil {
			p.logger.Warn("failed to store player state", "error", err)
		}
	}()
}

// Current returns the context passed to the last [Player.Play] call.
func (p *Player) Current() (models.PlayContext, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.playing
}

// Wait blocks until the state of the last [Player.Play] call is stored.
func (p *Player) Wait() {
	p.mu.Lock()
	saved := p.saved
	p.mu.Unlock()
	<-saved
}

// LastState returns the persisted state, which survives restarts.
func (p *Player) LastState() (models.PlayerState, error) {
	return p.state.Load()
}

package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/shelf/internal/models"
)

// PlayerRepository stores the single-row player state.
type PlayerRepository struct {
	db DBTX
}

// NewPlayerRepository creates a new PlayerRepository with the given database connection
func NewPlayerRepository(db DBTX) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// Save records pc as the current context
func (r *PlayerRepository) Save(pc models.PlayContext) error {
	var id, kind string
	if pc.Element != nil {
		id = pc.Element.ID()
		kind = pc.Element.Kind().String()
	}

	_, err := r.db.Exec(`
		UPDATE player_state
		SET context_id = ?, context_kind = ?, context_name = ?, item_index = ?, updated_at = ?
		WHERE id = 1
	`, id, kind, pc.Name, pc.Index, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save player state: %w", err)
	}
	return nil
}

// Load returns the stored player state. UpdatedAt is zero when nothing was ever played.
func (r *PlayerRepository) Load() (models.PlayerState, error) {
	var (
		state     models.PlayerState
		updatedAt sql.NullTime
	)

	err := r.db.QueryRow(`
		SELECT context_id, context_kind, context_name, item_index, updated_at
		FROM player_state WHERE id = 1
	`).Scan(&state.ContextID, &state.ContextKind, &state.ContextName, &state.Index, &updatedAt)
	if err != nil {
		return state, fmt.Errorf("failed to load player state: %w", err)
	}

	if updatedAt.Valid {
		state.UpdatedAt = updatedAt.Time
	}
	return state, nil
}

package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/shared"
)

// entitySelect lists the entity columns in scan order. cached_children is derived:
// playlists count cached members, podcasts count cached episodes.
const entitySelect = `
	SELECT e.id, e.sequence, e.kind, e.remote_id, e.name, e.subtitle, e.artwork,
		e.rel_file_path, e.content_type, e.parent_id, e.added_at, e.created_at, e.updated_at,
		CASE e.kind
			WHEN 'playlist' THEN (
				SELECT COUNT(*) FROM playlist_items pi
				JOIN entities c ON c.id = pi.entity_id
				WHERE pi.playlist_id = e.id AND c.rel_file_path IS NOT NULL
			)
			WHEN 'podcast' THEN (
				SELECT COUNT(*) FROM entities c
				WHERE c.parent_id = e.id AND c.rel_file_path IS NOT NULL
			)
			ELSE 0
		END AS cached_children
	FROM entities e
`

// LibraryRepository implements models.Repository[*models.Entity] for the local library.
//
// Every read returns freshly scanned entities, so callers own what they receive.
type LibraryRepository struct {
	db DBTX
}

var _ models.Repository[*models.Entity] = (*LibraryRepository)(nil)

// NewLibraryRepository creates a new LibraryRepository with the given database connection
func NewLibraryRepository(db DBTX) *LibraryRepository {
	return &LibraryRepository{db: db}
}

// WithTx returns a repository bound to tx. Used inside [WriteQueue] jobs.
func (r *LibraryRepository) WithTx(tx *sql.Tx) *LibraryRepository {
	return &LibraryRepository{db: tx}
}

// Create inserts a new [models.Entity] into the database with generated ID and sequence
func (r *LibraryRepository) Create(entity *models.Entity) error {
	sequence, err := NextSequence(r.db, "entities")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	entity.SetID(id)
	entity.SetSequence(sequence)

	if err := entity.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO entities (
			id, sequence, kind, remote_id, name, subtitle, artwork,
			rel_file_path, content_type, parent_id, added_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		id,
		sequence,
		entity.Kind().String(),
		entity.RemoteID(),
		entity.Name(),
		entity.Subtitle(),
		entity.Artwork(),
		nullString(entity.RelFilePath()),
		entity.ContentType(),
		nullString(entity.ParentID()),
		entity.AddedAt(),
		entity.CreatedAt(),
		entity.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}

	return nil
}

// Get retrieves an entity by ID
func (r *LibraryRepository) Get(id string) (*models.Entity, error) {
	return r.scanOne(r.db.QueryRow(entitySelect+" WHERE e.id = ?", id))
}

// GetByRemoteID retrieves an entity by kind and backend-side id
func (r *LibraryRepository) GetByRemoteID(kind models.Kind, remoteID string) (*models.Entity, error) {
	return r.scanOne(r.db.QueryRow(entitySelect+" WHERE e.kind = ? AND e.remote_id = ?", kind.String(), remoteID))
}

// Update modifies the display and cache fields of an existing entity
func (r *LibraryRepository) Update(entity *models.Entity) error {
	if err := entity.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	entity.SetUpdatedAt(now)

	query := `
		UPDATE entities
		SET name = ?, subtitle = ?, artwork = ?, rel_file_path = ?, content_type = ?, parent_id = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		entity.Name(),
		entity.Subtitle(),
		entity.Artwork(),
		nullString(entity.RelFilePath()),
		entity.ContentType(),
		nullString(entity.ParentID()),
		now,
		entity.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}

	return checkAffected(result, "entity", entity.ID())
}

// Delete removes an entity. Episodes and playlist memberships cascade.
func (r *LibraryRepository) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM entities WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return checkAffected(result, "entity", id)
}

// List retrieves all entities matching the given criteria.
//
// Supported keys: "kind" ([models.Kind]), "parent_id" (string), "cached" (bool, playables only).
func (r *LibraryRepository) List(criteria map[string]any) ([]*models.Entity, error) {
	query := entitySelect + " WHERE 1 = 1"
	args := []any{}

	if kind, ok := criteria["kind"].(models.Kind); ok {
		query += " AND e.kind = ?"
		args = append(args, kind.String())
	}

	if parentID, ok := criteria["parent_id"].(string); ok && parentID != "" {
		query += " AND e.parent_id = ?"
		args = append(args, parentID)
	}

	if cached, ok := criteria["cached"].(bool); ok {
		if cached {
			query += " AND e.rel_file_path IS NOT NULL"
		} else {
			query += " AND e.rel_file_path IS NULL"
		}
	}

	query += " ORDER BY e.sequence ASC"

	return r.query(query, args...)
}

// UpsertRemote stores a backend entity keyed by kind and remote id.
//
// Display fields and parent are refreshed on an existing row; the cache path, content type
// and artwork are kept unless the incoming entity carries artwork. Returns the stored row.
func (r *LibraryRepository) UpsertRemote(entity *models.Entity) (*models.Entity, error) {
	existing, err := r.GetByRemoteID(entity.Kind(), entity.RemoteID())
	if errors.Is(err, shared.ErrEntityNotFound) {
		if err := r.Create(entity); err != nil {
			return nil, err
		}
		return r.Get(entity.ID())
	}
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE entities
		SET name = ?, subtitle = ?, parent_id = COALESCE(?, parent_id), artwork = COALESCE(?, artwork), updated_at = ?
		WHERE id = ?
	`

	var artwork any
	if len(entity.Artwork()) > 0 {
		artwork = entity.Artwork()
	}

	if _, err := r.db.Exec(query,
		entity.Name(),
		entity.Subtitle(),
		nullString(entity.ParentID()),
		artwork,
		time.Now(),
		existing.ID(),
	); err != nil {
		return nil, fmt.Errorf("failed to refresh entity: %w", err)
	}

	return r.Get(existing.ID())
}

// RecentPlayables returns the newest songs, most recently added first
func (r *LibraryRepository) RecentPlayables(limit int) ([]*models.Entity, error) {
	query := entitySelect + " WHERE e.kind = ? ORDER BY e.added_at DESC, e.sequence DESC LIMIT ?"
	return r.query(query, models.KindSong.String(), limitOrAll(limit))
}

// Playlists returns playlists ordered by name
func (r *LibraryRepository) Playlists(limit int) ([]*models.Entity, error) {
	query := entitySelect + " WHERE e.kind = ? ORDER BY e.name COLLATE NOCASE ASC, e.sequence ASC LIMIT ?"
	return r.query(query, models.KindPlaylist.String(), limitOrAll(limit))
}

// Podcasts returns podcasts ordered by name
func (r *LibraryRepository) Podcasts(limit int) ([]*models.Entity, error) {
	query := entitySelect + " WHERE e.kind = ? ORDER BY e.name COLLATE NOCASE ASC, e.sequence ASC LIMIT ?"
	return r.query(query, models.KindPodcast.String(), limitOrAll(limit))
}

// PlaylistItems returns the members of a playlist in playlist order
func (r *LibraryRepository) PlaylistItems(playlistID string) ([]*models.Entity, error) {
	query := entitySelect + `
		JOIN playlist_items m ON m.entity_id = e.id
		WHERE m.playlist_id = ?
		ORDER BY m.position ASC
	`
	return r.query(query, playlistID)
}

// Episodes returns a podcast's episodes, newest first
func (r *LibraryRepository) Episodes(podcastID string) ([]*models.Entity, error) {
	query := entitySelect + " WHERE e.parent_id = ? AND e.kind = ? ORDER BY e.added_at DESC, e.sequence DESC"
	return r.query(query, podcastID, models.KindEpisode.String())
}

// ReplacePlaylistItems rewrites a playlist's ordered membership.
//
// Not atomic on its own; call it on a repository bound to a transaction.
func (r *LibraryRepository) ReplacePlaylistItems(playlistID string, entityIDs []string) error {
	if _, err := r.db.Exec("DELETE FROM playlist_items WHERE playlist_id = ?", playlistID); err != nil {
		return fmt.Errorf("failed to clear playlist items: %w", err)
	}

	for pos, id := range entityIDs {
		if _, err := r.db.Exec(
			"INSERT INTO playlist_items (playlist_id, position, entity_id) VALUES (?, ?, ?)",
			playlistID, pos, id,
		); err != nil {
			return fmt.Errorf("failed to insert playlist item %d: %w", pos, err)
		}
	}

	return nil
}

// SetCacheInfo records where a playable's bytes live, their content type and the extracted artwork.
//
// An empty relPath clears the cache location. A nil artwork keeps the stored one.
func (r *LibraryRepository) SetCacheInfo(id, relPath, contentType string, artwork []byte) error {
	var art any
	if len(artwork) > 0 {
		art = artwork
	}

	result, err := r.db.Exec(`
		UPDATE entities
		SET rel_file_path = ?, content_type = ?, artwork = COALESCE(?, artwork), updated_at = ?
		WHERE id = ?
	`, nullString(relPath), contentType, art, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set cache info: %w", err)
	}

	return checkAffected(result, "entity", id)
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func (r *LibraryRepository) query(query string, args ...any) ([]*models.Entity, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return entities, nil
}

// scanOne scans a single [sql.Row] into a [models.Entity]
func (r *LibraryRepository) scanOne(row *sql.Row) (*models.Entity, error) {
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrEntityNotFound
	}
	return entity, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(s scanner) (*models.Entity, error) {
	var (
		id             string
		sequence       int
		kindName       string
		remoteID       string
		name           string
		subtitle       string
		artwork        []byte
		relFilePath    sql.NullString
		contentType    string
		parentID       sql.NullString
		addedAt        time.Time
		createdAt      time.Time
		updatedAt      time.Time
		cachedChildren int
	)

	err := s.Scan(&id, &sequence, &kindName, &remoteID, &name, &subtitle, &artwork,
		&relFilePath, &contentType, &parentID, &addedAt, &createdAt, &updatedAt, &cachedChildren)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	kind, err := models.ParseKind(kindName)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity %s: %w", id, err)
	}

	entity := models.NewEntity(sequence, kind, remoteID, name, subtitle)
	entity.SetID(id)
	entity.SetArtwork(artwork)
	entity.SetRelFilePath(relFilePath.String)
	entity.SetContentType(contentType)
	entity.SetParentID(parentID.String)
	entity.SetCachedChildren(cachedChildren)
	entity.SetAddedAt(addedAt)
	entity.SetCreatedAt(createdAt)
	entity.SetUpdatedAt(updatedAt)

	return entity, nil
}

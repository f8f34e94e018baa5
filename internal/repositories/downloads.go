package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/shared"
)

const downloadSelect = `
	SELECT id, entity_id, status, attempts, last_error, created_at, updated_at
	FROM downloads
`

// DownloadRepository persists the download queue.
//
// Each playable has at most one row. Re-enqueueing a failed row resets it to pending;
// pending, running and done rows are left alone.
type DownloadRepository struct {
	db DBTX
}

// NewDownloadRepository creates a new DownloadRepository with the given database connection
func NewDownloadRepository(db DBTX) *DownloadRepository {
	return &DownloadRepository{db: db}
}

// Enqueue adds entityID to the queue and returns its row.
func (r *DownloadRepository) Enqueue(entityID string) (*models.DownloadRecord, error) {
	now := time.Now()

	query := `
		INSERT INTO downloads (id, entity_id, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, 0, '', ?, ?)
		ON CONFLICT (entity_id) DO UPDATE
		SET status = excluded.status, last_error = '', updated_at = excluded.updated_at
		WHERE downloads.status = ?
	`

	_, err := r.db.Exec(query,
		shared.GenerateID(),
		entityID,
		models.DownloadPending,
		now,
		now,
		models.DownloadFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue download: %w", err)
	}

	return r.GetByEntity(entityID)
}

// GetByEntity returns the queue row of a playable
func (r *DownloadRepository) GetByEntity(entityID string) (*models.DownloadRecord, error) {
	record, err := scanDownload(r.db.QueryRow(downloadSelect+" WHERE entity_id = ?", entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("download for %s: %w", entityID, shared.ErrEntityNotFound)
	}
	return record, err
}

// Pending returns pending rows, oldest first
func (r *DownloadRepository) Pending(limit int) ([]*models.DownloadRecord, error) {
	return r.query(downloadSelect+" WHERE status = ? ORDER BY created_at ASC LIMIT ?", models.DownloadPending, limitOrAll(limit))
}

// List returns rows, optionally filtered by status
func (r *DownloadRepository) List(status models.DownloadStatus) ([]*models.DownloadRecord, error) {
	if status == "" {
		return r.query(downloadSelect + " ORDER BY created_at ASC")
	}
	return r.query(downloadSelect+" WHERE status = ? ORDER BY created_at ASC", status)
}

// Counts returns the number of rows per status
func (r *DownloadRepository) Counts() (map[models.DownloadStatus]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM downloads GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count downloads: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DownloadStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan download count: %w", err)
		}
		counts[models.DownloadStatus(status)] = n
	}
	return counts, rows.Err()
}

// MarkRunning moves a row to running and counts the attempt
func (r *DownloadRepository) MarkRunning(id string) error {
	return r.setStatus(id, models.DownloadRunning, "", true)
}

// MarkDone moves a row to done
func (r *DownloadRepository) MarkDone(id string) error {
	return r.setStatus(id, models.DownloadDone, "", false)
}

// MarkFailed moves a row to failed and records the reason
func (r *DownloadRepository) MarkFailed(id string, reason string) error {
	return r.setStatus(id, models.DownloadFailed, reason, false)
}

// ResetRunning returns rows left running by an interrupted run to pending
func (r *DownloadRepository) ResetRunning() (int64, error) {
	result, err := r.db.Exec("UPDATE downloads SET status = ?, updated_at = ? WHERE status = ?",
		models.DownloadPending, time.Now(), models.DownloadRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to reset running downloads: %w", err)
	}
	return result.RowsAffected()
}

func (r *DownloadRepository) setStatus(id string, status models.DownloadStatus, reason string, attempt bool) error {
	query := "UPDATE downloads SET status = ?, last_error = ?, updated_at = ?"
	if attempt {
		query += ", attempts = attempts + 1"
	}
	query += " WHERE id = ?"

	result, err := r.db.Exec(query, status, reason, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark download %s: %w", status, err)
	}
	return checkAffected(result, "download", id)
}

func (r *DownloadRepository) query(query string, args ...any) ([]*models.DownloadRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var records []*models.DownloadRecord
	for rows.Next() {
		record, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

func scanDownload(s scanner) (*models.DownloadRecord, error) {
	var (
		record models.DownloadRecord
		status string
	)

	err := s.Scan(&record.ID, &record.EntityID, &status, &record.Attempts, &record.LastError, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan download: %w", err)
	}

	record.Status = models.DownloadStatus(status)
	return &record, nil
}

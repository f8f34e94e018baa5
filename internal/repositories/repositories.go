// package repositories provides persistence layer implementations for the library model.
//
// Repositories accept a [DBTX] so the same code runs against the shared *sql.DB for reads
// and against the *sql.Tx of a [WriteQueue] job for writes.
package repositories

import (
	"database/sql"
	"fmt"
)

// DBTX is the subset of *sql.DB and *sql.Tx the repositories need.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// NextSequence atomically increments and returns the next sequence number for the given table.
//
// A single UPDATE ... RETURNING keeps the increment atomic without opening a nested transaction,
// so it is safe to call from inside a [WriteQueue] job on a single-connection pool.
func NextSequence(db DBTX, table string) (int, error) {
	sequenceTable := table + "_sequence"

	var sequence int
	err := db.QueryRow(fmt.Sprintf("UPDATE %s SET value = value + 1 WHERE id = 1 RETURNING value", sequenceTable)).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	return sequence, nil
}

// nullString maps "" to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func checkAffected(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s not found: %s", what, id)
	}
	return nil
}

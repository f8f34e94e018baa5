// Package repositories implements SQLite persistence for the library.
//
// Key Implementations:
//   - [LibraryRepository] : songs, episodes, playlists and podcasts in one entities table, plus playlist membership
//   - [DownloadRepository] : the persisted download queue
//   - [PlayerRepository] : the single-row player state
//   - [WriteQueue] : a single-writer goroutine that runs each job in its own transaction
//
// Sequence numbers provide stable, human-readable ordering independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
//
// Reads go straight to the *sql.DB. Writes that must be isolated from concurrent readers
// (sync results, download commits) are submitted to the [WriteQueue] and use the repository
// returned by [LibraryRepository.WithTx].
package repositories

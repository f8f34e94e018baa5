package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	FetchLatest Phase = iota
	StoreSongs
	StorePlaylists
	StorePodcasts
	SyncCompleted
)

func (p Phase) String() string {
	switch p {
	case FetchLatest:
		return "fetch_latest"
	case StoreSongs:
		return "store_songs"
	case StorePlaylists:
		return "store_playlists"
	case StorePodcasts:
		return "store_podcasts"
	case SyncCompleted:
		return "sync_completed"
	default:
		return ""
	}
}

func fetchLatestUpdate(backend string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchLatest,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetching latest library from %s...", backend),
	}
}

func storeUpdate(phase Phase, count int, label string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phase,
		Step:    count,
		Total:   count,
		Message: fmt.Sprintf("Stored %d %s", count, label),
	}
}

func syncCompletedUpdate(result *SyncResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SyncCompleted,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("✓ Synced %d songs, %d playlists, %d podcasts", result.Songs, result.Playlists, result.Podcasts),
		Data:    result,
	}
}

package models

import "time"

// DownloadStatus is the lifecycle state of a queued download.
type DownloadStatus string

const (
	DownloadPending DownloadStatus = "pending"
	DownloadRunning DownloadStatus = "running"
	DownloadDone    DownloadStatus = "done"
	DownloadFailed  DownloadStatus = "failed"
)

// DownloadRecord is one row of the persisted download queue.
type DownloadRecord struct {
	ID        string
	EntityID  string
	Status    DownloadStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlayerState is the last context handed to the player.
type PlayerState struct {
	ContextID   string
	ContextKind string
	ContextName string
	Index       int
	UpdatedAt   time.Time
}

// package services defines the [Backend] interface for the remote library server
//
// Subsonic-compatible servers (Navidrome, Airsonic, Gonic)
package services

import (
	"context"
	"time"

	"github.com/desertthunder/shelf/internal/models"
)

// Backend is the remote library the core syncs from and downloads through.
type Backend interface {
	// SyncLatest fetches the newest songs plus all playlists and podcasts.
	SyncLatest(ctx context.Context, opts SyncOptions) (*LatestSnapshot, error)

	// PlaylistTracks fetches a playlist's songs in playlist order.
	PlaylistTracks(ctx context.Context, playlistID string) ([]RemoteItem, error)

	// PodcastEpisodes fetches a podcast's episodes.
	PodcastEpisodes(ctx context.Context, podcastID string) ([]RemoteItem, error)

	// ResolveSourceURL builds the URL a playable's bytes are downloaded from.
	// The URL may carry transcoding parameters and credentials.
	ResolveSourceURL(ctx context.Context, kind models.Kind, remoteID string) (string, error)

	// ClassifyResponse inspects the start of a downloaded payload and returns an error
	// when it is a server error document rather than media.
	ClassifyResponse(peek []byte) error

	// NegotiateTranscoding reports the format a source URL will be delivered in.
	// A zero FormatInfo means the original file is delivered.
	NegotiateTranscoding(sourceURL string) models.FormatInfo

	// Cleanse strips credentials from a URL so it can be logged.
	Cleanse(rawURL string) string

	// Ping checks that the server answers and accepts the credentials.
	Ping(ctx context.Context) error

	// Name returns the name of the backend (e.g., "Subsonic")
	Name() string
}

// SyncOptions bounds how much [Backend.SyncLatest] fetches.
type SyncOptions struct {
	SongLimit     int
	PlaylistLimit int
	PodcastLimit  int
}

// RemoteItem is a library element as the backend describes it.
type RemoteItem struct {
	ID       string
	Kind     models.Kind
	Name     string
	Subtitle string
	ParentID string // backend id of the owning podcast, episodes only
	AddedAt  time.Time
}

// LatestSnapshot is the result of [Backend.SyncLatest].
type LatestSnapshot struct {
	Songs     []RemoteItem
	Playlists []RemoteItem
	Podcasts  []RemoteItem
}

// Entity converts a remote item into an unsaved [models.Entity].
//
// parentID is the local id of the owning podcast and is only used for episodes.
func (r RemoteItem) Entity(parentID string) *models.Entity {
	entity := models.NewEntity(0, r.Kind, r.ID, r.Name, r.Subtitle)
	if !r.AddedAt.IsZero() {
		entity.SetAddedAt(r.AddedAt)
	}
	if r.Kind == models.KindEpisode {
		entity.SetParentID(parentID)
	}
	return entity
}

// Package tasks keeps the local library in step with the backend, with real-time progress reporting.
//
// # Core Operations
//
// [Syncer] has three operations:
//
//  1. [Syncer.SyncLatest] : newest songs plus all playlists and podcasts
//     - Fetches a [services.LatestSnapshot] from the backend
//     - Upserts every item by kind and remote id in a single write-queue transaction
//
//  2. [Syncer.HydratePlaylist] : a playlist's tracks
//     - Upserts the songs and rewrites the ordered membership
//
//  3. [Syncer.HydratePodcast] : a podcast's episodes
//     - Upserts episodes with the podcast as parent
//
// The content tree calls these as fetch actions when a host opens a section or an item.
//
// # Progress Reporting
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
package tasks

// Package models defines the library entities shared by the content tree, the download pipeline and the SQLite store.
//
// The package contains two categories of types:
//
// 1. Capabilities: small interfaces every browsable element satisfies
//   - [Containable] : identity, display fields, cached-state and artwork
//   - [Model] : persistence lifecycle (ID, timestamps, validation)
//
// 2. Values: tagged data rather than a class hierarchy
//   - [Entity] : a song, episode, playlist or podcast, distinguished by [Kind]
//   - [FormatInfo] : the transcoding format negotiated for a download
//   - [PlayContext] : what the player facade is asked to play
//   - [DownloadRecord], [PlayerState] : rows of the download queue and the player state table
//
// The [Repository] interface defines standard CRUD operations for database access.
package models

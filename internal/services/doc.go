// Package services defines the [Backend] interface for the remote library and implements it for Subsonic-compatible servers.
//
// # Backend Interface
//
// The download pipeline and the sync tasks only see [Backend]. It covers listing (newest songs,
// playlists, podcasts), resolving download URLs and judging downloaded payloads.
//
// # Subsonic Implementation
//
// [SubsonicService] speaks the Subsonic REST API in JSON mode. Calls are paced by a
// [rate.Limiter]. Authentication uses salted tokens (u, t, s) unless an access token is
// configured, in which case an [oauth2] client sends it as a bearer token.
//
// Servers report errors with HTTP 200 and a "failed" status document, including on
// stream.view. [SubsonicService.ClassifyResponse] catches such documents before they are
// stored as media.
//
// # Reachability
//
// [HostReachability] answers "is the backend reachable right now" with a TCP dial that is
// cached for a short TTL. [StaticReachability] is a fixed answer for offline mode and tests.
//
// # Error Handling
//
// Services use typed errors from shared package:
//   - [shared.ErrAPIRequest] : HTTP request failed or the server returned a failed status
//   - [shared.ErrPlaylistNotFound] : Playlist ID not found
//   - [shared.ErrPodcastNotFound] : Podcast ID not found
//   - [shared.ErrMissingCredentials] : neither password nor access token configured
package services

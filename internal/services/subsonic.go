// Subsonic API implementation of [Backend]
//
// Response types based on http://www.subsonic.org/pages/api.jsp
package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Subsonic error codes that map to "not found".
const subsonicNotFound = 70

// credentialParams are stripped by [SubsonicService.Cleanse].
var credentialParams = []string{"u", "t", "s", "p", "access_token", "apiKey"}

// SubsonicError is the error element of a failed response.
type SubsonicError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SubsonicSong is a song (child) entry.
type SubsonicSong struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	Created     string `json:"created"`
	Suffix      string `json:"suffix"`
	ContentType string `json:"contentType"`
	Duration    int    `json:"duration"`
}

// SubsonicAlbum is an album with optional songs.
type SubsonicAlbum struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Artist  string         `json:"artist"`
	Created string         `json:"created"`
	Songs   []SubsonicSong `json:"song"`
}

// SubsonicPlaylist is a playlist with optional entries.
type SubsonicPlaylist struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Owner     string         `json:"owner"`
	SongCount int            `json:"songCount"`
	Created   string         `json:"created"`
	Entries   []SubsonicSong `json:"entry"`
}

// SubsonicEpisode is a podcast episode.
type SubsonicEpisode struct {
	ID          string `json:"id"`
	StreamID    string `json:"streamId"`
	ChannelID   string `json:"channelId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PublishDate string `json:"publishDate"`
	Status      string `json:"status"`
}

// SubsonicChannel is a podcast channel with optional episodes.
type SubsonicChannel struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Status      string            `json:"status"`
	Episodes    []SubsonicEpisode `json:"episode"`
}

// subsonicBody is the inner object of every response.
type subsonicBody struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Error     *SubsonicError `json:"error,omitempty"`
	AlbumList struct {
		Albums []SubsonicAlbum `json:"album"`
	} `json:"albumList2"`
	Album     SubsonicAlbum `json:"album"`
	Playlists struct {
		Playlists []SubsonicPlaylist `json:"playlist"`
	} `json:"playlists"`
	Playlist SubsonicPlaylist `json:"playlist"`
	Podcasts struct {
		Channels []SubsonicChannel `json:"channel"`
	} `json:"podcasts"`
}

type subsonicEnvelope struct {
	Response subsonicBody `json:"subsonic-response"`
}

// SubsonicService implements [Backend] for Subsonic-compatible servers.
type SubsonicService struct {
	config     shared.BackendConfig
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
	bearer     bool
}

var _ Backend = (*SubsonicService)(nil)

// NewSubsonicService creates a service for the configured server.
//
// When cfg.AccessToken is set, requests go through an [oauth2] client that adds the bearer
// token and no salted credentials are sent. client may be nil.
func NewSubsonicService(cfg shared.BackendConfig, client *http.Client, logger *log.Logger) (*SubsonicService, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: backend url must be http(s), got %q", shared.ErrInvalidConfig, cfg.URL)
	}

	if cfg.AccessToken == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, fmt.Errorf("%w: username and password or access_token required", shared.ErrMissingCredentials)
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	s := &SubsonicService{
		config:     cfg,
		baseURL:    base,
		httpClient: client,
		logger:     shared.WithLogger(logger, "component", "subsonic"),
	}

	if cfg.AccessToken != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
		s.httpClient = oauth2.NewClient(ctx, ts)
		s.httpClient.Timeout = client.Timeout
		s.bearer = true
	}

	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	} else {
		s.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	return s, nil
}

// HTTPClient returns the client requests are sent with, including bearer auth when configured.
func (s *SubsonicService) HTTPClient() *http.Client {
	return s.httpClient
}

// Name returns the service name.
func (s *SubsonicService) Name() string {
	return "Subsonic"
}

// endpoint builds a REST URL with the protocol and auth parameters.
func (s *SubsonicService) endpoint(method string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}

	client := s.config.Client
	if client == "" {
		client = "shelf"
	}
	version := s.config.APIVersion
	if version == "" {
		version = "1.16.1"
	}

	q.Set("v", version)
	q.Set("c", client)
	q.Set("f", "json")

	if !s.bearer {
		salt := shared.GenerateID()[:8]
		sum := md5.Sum([]byte(s.config.Password + salt))
		q.Set("u", s.config.Username)
		q.Set("t", hex.EncodeToString(sum[:]))
		q.Set("s", salt)
	}

	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/rest/" + method
	u.RawQuery = q.Encode()
	return u.String()
}

// doRequest performs a rate-limited API call and decodes the response envelope.
func (s *SubsonicService) doRequest(ctx context.Context, method string, params url.Values) (*subsonicBody, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	apiURL := s.endpoint(method, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", shared.ErrAPIRequest, s.Cleanse(apiURL), unwrapURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: status %d", shared.ErrAPIRequest, method, resp.StatusCode)
	}

	var envelope subsonicEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	body := &envelope.Response
	if body.Status != "ok" {
		if body.Error != nil {
			return body, fmt.Errorf("%w: %s: %d %s", shared.ErrAPIRequest, method, body.Error.Code, body.Error.Message)
		}
		return body, fmt.Errorf("%w: %s: status %q", shared.ErrAPIRequest, method, body.Status)
	}

	s.logger.Debug("api call", "method", method)
	return body, nil
}

// Ping checks connectivity and credentials.
func (s *SubsonicService) Ping(ctx context.Context) error {
	_, err := s.doRequest(ctx, "ping.view", nil)
	return err
}

// SyncLatest fetches the newest albums' songs, then playlists and podcasts.
func (s *SubsonicService) SyncLatest(ctx context.Context, opts SyncOptions) (*LatestSnapshot, error) {
	songs, err := s.NewestSongs(ctx, opts.SongLimit)
	if err != nil {
		return nil, err
	}

	playlists, err := s.Playlists(ctx)
	if err != nil {
		return nil, err
	}
	if opts.PlaylistLimit > 0 && len(playlists) > opts.PlaylistLimit {
		playlists = playlists[:opts.PlaylistLimit]
	}

	podcasts, err := s.Podcasts(ctx)
	if err != nil {
		return nil, err
	}
	if opts.PodcastLimit > 0 && len(podcasts) > opts.PodcastLimit {
		podcasts = podcasts[:opts.PodcastLimit]
	}

	return &LatestSnapshot{Songs: songs, Playlists: playlists, Podcasts: podcasts}, nil
}

// NewestSongs walks the newest albums until limit songs are collected.
func (s *SubsonicService) NewestSongs(ctx context.Context, limit int) ([]RemoteItem, error) {
	if limit <= 0 {
		limit = 50
	}

	params := url.Values{}
	params.Set("type", "newest")
	params.Set("size", strconv.Itoa(min(limit, 500)))

	body, err := s.doRequest(ctx, "getAlbumList2.view", params)
	if err != nil {
		return nil, err
	}

	var songs []RemoteItem
	for _, album := range body.AlbumList.Albums {
		if len(songs) >= limit {
			break
		}

		detail, err := s.doRequest(ctx, "getAlbum.view", url.Values{"id": {album.ID}})
		if err != nil {
			s.logger.Warn("skipping album", "album", album.ID, "error", err)
			continue
		}

		for _, song := range detail.Album.Songs {
			item := songItem(song)
			if item.AddedAt.IsZero() {
				item.AddedAt = parseTime(album.Created)
			}
			songs = append(songs, item)
			if len(songs) >= limit {
				break
			}
		}
	}

	return songs, nil
}

// Playlists lists the user's playlists.
func (s *SubsonicService) Playlists(ctx context.Context) ([]RemoteItem, error) {
	body, err := s.doRequest(ctx, "getPlaylists.view", nil)
	if err != nil {
		return nil, err
	}

	items := make([]RemoteItem, 0, len(body.Playlists.Playlists))
	for _, p := range body.Playlists.Playlists {
		items = append(items, RemoteItem{
			ID:       p.ID,
			Kind:     models.KindPlaylist,
			Name:     p.Name,
			Subtitle: fmt.Sprintf("%d songs", p.SongCount),
			AddedAt:  parseTime(p.Created),
		})
	}
	return items, nil
}

// Podcasts lists podcast channels without episodes.
func (s *SubsonicService) Podcasts(ctx context.Context) ([]RemoteItem, error) {
	body, err := s.doRequest(ctx, "getPodcasts.view", url.Values{"includeEpisodes": {"false"}})
	if err != nil {
		return nil, err
	}

	items := make([]RemoteItem, 0, len(body.Podcasts.Channels))
	for _, c := range body.Podcasts.Channels {
		items = append(items, RemoteItem{
			ID:       c.ID,
			Kind:     models.KindPodcast,
			Name:     c.Title,
			Subtitle: c.Description,
		})
	}
	return items, nil
}

// PlaylistTracks fetches a playlist's entries in order.
func (s *SubsonicService) PlaylistTracks(ctx context.Context, playlistID string) ([]RemoteItem, error) {
	body, err := s.doRequest(ctx, "getPlaylist.view", url.Values{"id": {playlistID}})
	if err != nil {
		if body != nil && body.Error != nil && body.Error.Code == subsonicNotFound {
			return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistID)
		}
		return nil, err
	}

	items := make([]RemoteItem, 0, len(body.Playlist.Entries))
	for _, song := range body.Playlist.Entries {
		items = append(items, songItem(song))
	}
	return items, nil
}

// PodcastEpisodes fetches a channel's episodes.
//
// The episode's stream id is used as its remote id because stream.view is keyed by it.
func (s *SubsonicService) PodcastEpisodes(ctx context.Context, podcastID string) ([]RemoteItem, error) {
	body, err := s.doRequest(ctx, "getPodcasts.view", url.Values{"id": {podcastID}, "includeEpisodes": {"true"}})
	if err != nil {
		if body != nil && body.Error != nil && body.Error.Code == subsonicNotFound {
			return nil, fmt.Errorf("%w: %s", shared.ErrPodcastNotFound, podcastID)
		}
		return nil, err
	}

	if len(body.Podcasts.Channels) == 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrPodcastNotFound, podcastID)
	}

	channel := body.Podcasts.Channels[0]
	items := make([]RemoteItem, 0, len(channel.Episodes))
	for _, ep := range channel.Episodes {
		id := ep.StreamID
		if id == "" {
			id = ep.ID
		}
		items = append(items, RemoteItem{
			ID:       id,
			Kind:     models.KindEpisode,
			Name:     ep.Title,
			Subtitle: channel.Title,
			ParentID: podcastID,
			AddedAt:  parseTime(ep.PublishDate),
		})
	}
	return items, nil
}

// ResolveSourceURL returns the stream.view URL for a playable, with transcoding parameters when configured.
func (s *SubsonicService) ResolveSourceURL(ctx context.Context, kind models.Kind, remoteID string) (string, error) {
	if !kind.IsPlayable() {
		return "", fmt.Errorf("%w: %s is not playable", shared.ErrInvalidArgument, kind)
	}
	if strings.TrimSpace(remoteID) == "" {
		return "", fmt.Errorf("%w: empty remote id", shared.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := url.Values{"id": {remoteID}}
	if s.config.TranscodingFormat != "" {
		params.Set("format", s.config.TranscodingFormat)
	}
	if s.config.MaxBitRate > 0 {
		params.Set("maxBitRate", strconv.Itoa(s.config.MaxBitRate))
	}

	return s.endpoint("stream.view", params), nil
}

// ClassifyResponse detects a Subsonic error document in place of media.
//
// peek may be truncated, so a document that fails to parse is still rejected
// when it carries a failed status marker.
func (s *SubsonicService) ClassifyResponse(peek []byte) error {
	trimmed := bytes.TrimSpace(peek)
	if len(trimmed) == 0 {
		return nil
	}

	switch trimmed[0] {
	case '{':
		if !bytes.Contains(trimmed, []byte("subsonic-response")) {
			return nil
		}
		var envelope subsonicEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err == nil {
			if envelope.Response.Status == "ok" {
				return nil
			}
			if e := envelope.Response.Error; e != nil {
				return fmt.Errorf("%w: server error %d: %s", shared.ErrAPIRequest, e.Code, e.Message)
			}
			return fmt.Errorf("%w: server status %q", shared.ErrAPIRequest, envelope.Response.Status)
		}
		if bytes.Contains(trimmed, []byte(`"failed"`)) {
			return fmt.Errorf("%w: server error document", shared.ErrAPIRequest)
		}
	case '<':
		if bytes.Contains(trimmed, []byte("<subsonic-response")) && bytes.Contains(trimmed, []byte(`status="failed"`)) {
			return fmt.Errorf("%w: server error document", shared.ErrAPIRequest)
		}
		if bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<!doctype html")) || bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<html")) {
			return fmt.Errorf("%w: html page instead of media", shared.ErrAPIRequest)
		}
	}

	return nil
}

// NegotiateTranscoding reads the "format" parameter of a stream URL.
func (s *SubsonicService) NegotiateTranscoding(sourceURL string) models.FormatInfo {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return models.FormatInfo{}
	}

	format := strings.ToLower(u.Query().Get("format"))
	if format == "" || format == "raw" {
		return models.FormatInfo{}
	}
	return models.FormatInfo{Format: format, MIME: MIMEForFormat(format)}
}

// Cleanse removes credential parameters from rawURL.
func (s *SubsonicService) Cleanse(rawURL string) string {
	return CleanseURL(rawURL)
}

// CleanseURL removes Subsonic credential parameters and userinfo from rawURL.
func CleanseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	u.User = nil

	q := u.Query()
	for _, p := range credentialParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// MIMEForFormat maps a transcoding format to the content type stored on the playable.
func MIMEForFormat(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "audio/mpeg"
	case "opus", "ogg", "oga":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "m4a", "mp4", "alac":
		return "audio/mp4"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

func songItem(song SubsonicSong) RemoteItem {
	subtitle := song.Artist
	if song.Album != "" {
		subtitle = strings.TrimSpace(song.Artist + " - " + song.Album)
	}
	return RemoteItem{
		ID:       song.ID,
		Kind:     models.KindSong,
		Name:     song.Title,
		Subtitle: subtitle,
		AddedAt:  parseTime(song.Created),
	}
}

// parseTime accepts the RFC 3339 variants servers emit and returns zero for anything else.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// unwrapURLError drops the request URL from transport errors so credentials never reach logs.
func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/shared"
)

const okEnvelope = `{"subsonic-response":{"status":"ok","version":"1.16.1"%s}}`

func fakeSubsonic(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, okEnvelope, body)
	}

	mux.HandleFunc("/rest/ping.view", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("u") == "bad" {
			fmt.Fprint(w, `{"subsonic-response":{"status":"failed","error":{"code":40,"message":"Wrong username or password"}}}`)
			return
		}
		reply(w, "")
	})
	mux.HandleFunc("/rest/getAlbumList2.view", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `,"albumList2":{"album":[{"id":"al-1","name":"First","created":"2024-05-01T10:00:00Z"},{"id":"al-2","name":"Second"}]}`)
	})
	mux.HandleFunc("/rest/getAlbum.view", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "al-1":
			reply(w, `,"album":{"id":"al-1","song":[{"id":"s-1","title":"One","artist":"A","album":"First"},{"id":"s-2","title":"Two","artist":"A","album":"First","created":"2024-06-01T00:00:00.000Z"}]}`)
		default:
			reply(w, `,"album":{"id":"al-2","song":[{"id":"s-3","title":"Three","artist":"B"}]}`)
		}
	})
	mux.HandleFunc("/rest/getPlaylists.view", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `,"playlists":{"playlist":[{"id":"pl-1","name":"Mix","songCount":2},{"id":"pl-2","name":"Other","songCount":0}]}`)
	})
	mux.HandleFunc("/rest/getPlaylist.view", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "pl-1" {
			fmt.Fprint(w, `{"subsonic-response":{"status":"failed","error":{"code":70,"message":"Playlist not found"}}}`)
			return
		}
		reply(w, `,"playlist":{"id":"pl-1","name":"Mix","entry":[{"id":"s-2","title":"Two","artist":"A"},{"id":"s-1","title":"One","artist":"A"}]}`)
	})
	mux.HandleFunc("/rest/getPodcasts.view", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("includeEpisodes") == "true" {
			reply(w, `,"podcasts":{"channel":[{"id":"pod-1","title":"Talk","episode":[{"id":"ep-1","streamId":"st-1","title":"Pilot","publishDate":"2024-01-01T00:00:00Z"},{"id":"ep-2","title":"Second"}]}]}`)
			return
		}
		reply(w, `,"podcasts":{"channel":[{"id":"pod-1","title":"Talk","description":"A show"}]}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, cfg shared.BackendConfig) *SubsonicService {
	t.Helper()

	s, err := NewSubsonicService(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewSubsonicService() error = %v", err)
	}
	return s
}

func TestSubsonicService(t *testing.T) {
	srv := fakeSubsonic(t)
	cfg := shared.BackendConfig{URL: srv.URL, Username: "alice", Password: "secret", Client: "test"}

	t.Run("NewSubsonicService", func(t *testing.T) {
		t.Run("Missing Credentials", func(t *testing.T) {
			_, err := NewSubsonicService(shared.BackendConfig{URL: srv.URL}, nil, nil)
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
		})

		t.Run("Invalid URL", func(t *testing.T) {
			_, err := NewSubsonicService(shared.BackendConfig{URL: "file:///etc", Username: "a", Password: "b"}, nil, nil)
			if !errors.Is(err, shared.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})

		t.Run("Name", func(t *testing.T) {
			if name := newTestService(t, cfg).Name(); name != "Subsonic" {
				t.Errorf("expected Subsonic, got %s", name)
			}
		})
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newTestService(t, cfg).Ping(context.Background()); err != nil {
			t.Fatalf("Ping() error = %v", err)
		}

		bad := cfg
		bad.Username = "bad"
		err := newTestService(t, bad).Ping(context.Background())
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Fatalf("expected ErrAPIRequest, got %v", err)
		}
		if !strings.Contains(err.Error(), "Wrong username") {
			t.Errorf("expected server message in error, got %v", err)
		}
	})

	t.Run("SyncLatest", func(t *testing.T) {
		snapshot, err := newTestService(t, cfg).SyncLatest(context.Background(), SyncOptions{SongLimit: 2, PlaylistLimit: 1})
		if err != nil {
			t.Fatalf("SyncLatest() error = %v", err)
		}

		if len(snapshot.Songs) != 2 {
			t.Fatalf("expected song limit to apply, got %d songs", len(snapshot.Songs))
		}
		if snapshot.Songs[0].AddedAt.IsZero() {
			t.Error("song without created should fall back to the album date")
		}
		if snapshot.Songs[0].Subtitle != "A - First" {
			t.Errorf("unexpected subtitle %q", snapshot.Songs[0].Subtitle)
		}
		if len(snapshot.Playlists) != 1 || snapshot.Playlists[0].Kind != models.KindPlaylist {
			t.Errorf("expected 1 playlist, got %+v", snapshot.Playlists)
		}
		if len(snapshot.Podcasts) != 1 || snapshot.Podcasts[0].Name != "Talk" {
			t.Errorf("expected podcast Talk, got %+v", snapshot.Podcasts)
		}
	})

	t.Run("PlaylistTracks", func(t *testing.T) {
		s := newTestService(t, cfg)

		items, err := s.PlaylistTracks(context.Background(), "pl-1")
		if err != nil {
			t.Fatalf("PlaylistTracks() error = %v", err)
		}
		if len(items) != 2 || items[0].ID != "s-2" {
			t.Errorf("expected playlist order preserved, got %+v", items)
		}

		if _, err := s.PlaylistTracks(context.Background(), "missing"); !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})

	t.Run("PodcastEpisodes", func(t *testing.T) {
		items, err := newTestService(t, cfg).PodcastEpisodes(context.Background(), "pod-1")
		if err != nil {
			t.Fatalf("PodcastEpisodes() error = %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("expected 2 episodes, got %d", len(items))
		}
		if items[0].ID != "st-1" {
			t.Errorf("expected stream id as remote id, got %s", items[0].ID)
		}
		if items[1].ID != "ep-2" {
			t.Errorf("expected episode id fallback, got %s", items[1].ID)
		}
		if items[0].ParentID != "pod-1" || items[0].Kind != models.KindEpisode {
			t.Errorf("unexpected episode %+v", items[0])
		}
	})

	t.Run("ResolveSourceURL", func(t *testing.T) {
		transcoding := cfg
		transcoding.TranscodingFormat = "mp3"
		transcoding.MaxBitRate = 192
		s := newTestService(t, transcoding)

		raw, err := s.ResolveSourceURL(context.Background(), models.KindSong, "s-1")
		if err != nil {
			t.Fatalf("ResolveSourceURL() error = %v", err)
		}
		for _, want := range []string{"/rest/stream.view", "id=s-1", "format=mp3", "maxBitRate=192", "u=alice"} {
			if !strings.Contains(raw, want) {
				t.Errorf("expected %q in %s", want, raw)
			}
		}

		if got := s.NegotiateTranscoding(raw); got.Format != "mp3" || got.MIME != "audio/mpeg" {
			t.Errorf("unexpected format info %+v", got)
		}

		if _, err := s.ResolveSourceURL(context.Background(), models.KindPlaylist, "pl-1"); err == nil {
			t.Error("expected error resolving a container")
		}
	})

	t.Run("Bearer token", func(t *testing.T) {
		var gotAuth, gotUser string
		tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotUser = r.URL.Query().Get("u")
			fmt.Fprintf(w, okEnvelope, "")
		}))
		defer tokenSrv.Close()

		s := newTestService(t, shared.BackendConfig{URL: tokenSrv.URL, AccessToken: "tok"})
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("Ping() error = %v", err)
		}

		if gotAuth != "Bearer tok" {
			t.Errorf("expected bearer header, got %q", gotAuth)
		}
		if gotUser != "" {
			t.Errorf("expected no salted credentials, got u=%q", gotUser)
		}
	})
}

func TestClassifyResponse(t *testing.T) {
	s := &SubsonicService{}

	tc := []struct {
		name    string
		peek    string
		wantErr bool
	}{
		{name: "media bytes", peek: "ID3\x04\x00\x00binary", wantErr: false},
		{name: "empty", peek: "", wantErr: false},
		{name: "failed json", peek: `{"subsonic-response":{"status":"failed","error":{"code":70,"message":"not found"}}}`, wantErr: true},
		{name: "truncated failed json", peek: `{"subsonic-response":{"status":"failed","error":{"code":70,"mess`, wantErr: true},
		{name: "ok json", peek: `{"subsonic-response":{"status":"ok"}}`, wantErr: false},
		{name: "unrelated json", peek: `{"hello":"world"}`, wantErr: false},
		{name: "failed xml", peek: `<?xml version="1.0"?><subsonic-response status="failed"><error code="0"/></subsonic-response>`, wantErr: true},
		{name: "html", peek: "<!DOCTYPE html><html><body>proxy error</body></html>", wantErr: true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ClassifyResponse([]byte(tt.peek))
			if (err != nil) != tt.wantErr {
				t.Errorf("ClassifyResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, shared.ErrAPIRequest) {
				t.Errorf("expected ErrAPIRequest, got %v", err)
			}
		})
	}
}

func TestCleanseURL(t *testing.T) {
	raw := "https://user:pw@music.example.com/rest/stream.view?id=1&u=alice&t=abc&s=salt&format=mp3"
	got := CleanseURL(raw)

	for _, leaked := range []string{"alice", "abc", "salt", "user:pw"} {
		if strings.Contains(got, leaked) {
			t.Errorf("cleansed url %s still contains %q", got, leaked)
		}
	}
	for _, kept := range []string{"id=1", "format=mp3", "music.example.com"} {
		if !strings.Contains(got, kept) {
			t.Errorf("cleansed url %s lost %q", got, kept)
		}
	}
}

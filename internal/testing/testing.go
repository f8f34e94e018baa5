// package testing contains shared testing utilities
package testing

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/services"
	"github.com/desertthunder/shelf/internal/shared"
)

// MockBackend is a test double for [services.Backend]
//
// Source URLs are BaseURL + "/media/" + remote id with a fake credential parameter,
// so tests can check that logged URLs are cleansed.
type MockBackend struct {
	Snapshot  services.LatestSnapshot
	Tracks    map[string][]services.RemoteItem // playlist remote id -> tracks
	Episodes  map[string][]services.RemoteItem // podcast remote id -> episodes
	BaseURL   string
	Format    models.FormatInfo
	ErrorMark []byte // payloads containing this are classified as server errors

	SyncErr     error
	PlaylistErr error
	PodcastErr  error
	ResolveErr  error
	PingErr     error

	mu    sync.Mutex
	calls map[string]int
}

var _ services.Backend = (*MockBackend)(nil)

func (m *MockBackend) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// Calls returns how often the named method was invoked.
func (m *MockBackend) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) SyncLatest(ctx context.Context, opts services.SyncOptions) (*services.LatestSnapshot, error) {
	m.record("SyncLatest")
	if m.SyncErr != nil {
		return nil, m.SyncErr
	}
	snapshot := m.Snapshot
	return &snapshot, nil
}

func (m *MockBackend) PlaylistTracks(ctx context.Context, playlistID string) ([]services.RemoteItem, error) {
	m.record("PlaylistTracks")
	if m.PlaylistErr != nil {
		return nil, m.PlaylistErr
	}
	return m.Tracks[playlistID], nil
}

func (m *MockBackend) PodcastEpisodes(ctx context.Context, podcastID string) ([]services.RemoteItem, error) {
	m.record("PodcastEpisodes")
	if m.PodcastErr != nil {
		return nil, m.PodcastErr
	}
	return m.Episodes[podcastID], nil
}

func (m *MockBackend) ResolveSourceURL(ctx context.Context, kind models.Kind, remoteID string) (string, error) {
	m.record("ResolveSourceURL")
	if m.ResolveErr != nil {
		return "", m.ResolveErr
	}
	u := fmt.Sprintf("%s/media/%s?u=secret-user&t=secret-token", m.BaseURL, remoteID)
	if m.Format.Format != "" {
		u += "&format=" + m.Format.Format
	}
	return u, nil
}

func (m *MockBackend) ClassifyResponse(peek []byte) error {
	m.record("ClassifyResponse")
	if len(m.ErrorMark) > 0 && bytes.Contains(peek, m.ErrorMark) {
		return fmt.Errorf("%w: mock server error", shared.ErrAPIRequest)
	}
	return nil
}

func (m *MockBackend) NegotiateTranscoding(sourceURL string) models.FormatInfo {
	m.record("NegotiateTranscoding")
	return m.Format
}

func (m *MockBackend) Cleanse(rawURL string) string {
	return services.CleanseURL(rawURL)
}

func (m *MockBackend) Ping(ctx context.Context) error {
	m.record("Ping")
	return m.PingErr
}

// SetupLibraryDB creates an in-memory SQLite database with migrations applied
// and registers its cleanup.
func SetupLibraryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	shared.ConfigureDatabase(db, 1, 1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertNoFile(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("File should not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

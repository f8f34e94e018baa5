package download

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/shelf/internal/models"
	"github.com/desertthunder/shelf/internal/repositories"
	"github.com/desertthunder/shelf/internal/services"
	tu "github.com/desertthunder/shelf/internal/testing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type pipeline struct {
	backend   *tu.MockBackend
	library   *repositories.LibraryRepository
	queue     *repositories.DownloadRepository
	writes    *repositories.WriteQueue
	files     *FileManager
	delegate  *Delegate
	transfer  *countingTransfer
	scheduler *Scheduler
	metrics   *Metrics
}

type countingTransfer struct {
	calls atomic.Int32
	inner Transfer
}

func (c *countingTransfer) Fetch(ctx context.Context, dl *Download) error {
	c.calls.Add(1)
	return c.inner.Fetch(ctx, dl)
}

// mediaServer serves payloads by remote id under /media/.
func mediaServer(t *testing.T, payloads map[string][]byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/media/")
		payload, ok := payloads[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		http.ServeContent(w, r, id, time.Time{}, bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newPipeline(t *testing.T, baseURL string, reach services.Reachability) *pipeline {
	t.Helper()

	db := tu.SetupLibraryDB(t)
	writes := repositories.NewWriteQueue(db, nil)
	t.Cleanup(writes.Close)

	p := &pipeline{
		backend: &tu.MockBackend{BaseURL: baseURL, ErrorMark: []byte("subsonic-response")},
		library: repositories.NewLibraryRepository(db),
		queue:   repositories.NewDownloadRepository(db),
		writes:  writes,
		files:   NewFileManager(filepath.Join(t.TempDir(), "cache")),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}

	p.delegate = NewDelegate(DelegateOpts{
		Backend:      p.backend,
		Reachability: reach,
		Files:        p.files,
		Library:      p.library,
		Writes:       writes,
		Parallel:     2,
	})
	p.transfer = &countingTransfer{inner: NewHTTPTransfer(nil, p.files, "test-agent", p.metrics, nil)}
	p.scheduler = NewScheduler(p.delegate, p.transfer, p.library, p.queue, p.metrics, nil)
	return p
}

func (p *pipeline) song(t *testing.T, remoteID string) *models.Entity {
	t.Helper()

	song := models.NewEntity(0, models.KindSong, remoteID, "Song "+remoteID, "")
	if err := p.library.Create(song); err != nil {
		t.Fatalf("failed to create song: %v", err)
	}
	return song
}

// id3WithPicture builds an ID3v2.3 tag holding one APIC frame, followed by audio bytes.
func id3WithPicture(picture []byte, audio []byte) []byte {
	var frame bytes.Buffer
	frame.WriteByte(0) // ISO-8859-1
	frame.WriteString("image/png")
	frame.WriteByte(0)
	frame.WriteByte(3) // front cover
	frame.WriteByte(0) // empty description
	frame.Write(picture)

	var frames bytes.Buffer
	frames.WriteString("APIC")
	binary.Write(&frames, binary.BigEndian, uint32(frame.Len()))
	frames.Write([]byte{0, 0})
	frames.Write(frame.Bytes())

	size := frames.Len()
	var out bytes.Buffer
	out.WriteString("ID3")
	out.Write([]byte{3, 0, 0})
	out.Write([]byte{byte(size >> 21 & 0x7f), byte(size >> 14 & 0x7f), byte(size >> 7 & 0x7f), byte(size & 0x7f)})
	out.Write(frames.Bytes())
	out.Write(audio)
	return out.Bytes()
}

func TestPrepare(t *testing.T) {
	t.Run("AlreadyCached never transfers", func(t *testing.T) {
		srv := mediaServer(t, map[string][]byte{"x": []byte("audio")})
		p := newPipeline(t, srv.URL, nil)
		song := p.song(t, "x")

		if err := p.library.SetCacheInfo(song.ID(), "song/x", "audio/mpeg", nil); err != nil {
			t.Fatalf("failed to mark cached: %v", err)
		}

		_, err := p.delegate.Prepare(context.Background(), NewDownload(song))
		if !errors.Is(err, ErrAlreadyCached) {
			t.Fatalf("expected ErrAlreadyCached, got %v", err)
		}

		if err := p.scheduler.Process(context.Background(), song); !errors.Is(err, ErrAlreadyCached) {
			t.Fatalf("expected ErrAlreadyCached from Process, got %v", err)
		}
		if calls := p.transfer.calls.Load(); calls != 0 {
			t.Errorf("expected no transfer, got %d", calls)
		}
	})

	t.Run("Not playable", func(t *testing.T) {
		p := newPipeline(t, "http://unused", nil)
		playlist := models.NewEntity(0, models.KindPlaylist, "pl", "Mix", "")
		if err := p.library.Create(playlist); err != nil {
			t.Fatalf("failed to create playlist: %v", err)
		}

		if _, err := p.delegate.Prepare(context.Background(), NewDownload(playlist)); !errors.Is(err, ErrFetchFailed) {
			t.Errorf("expected ErrFetchFailed, got %v", err)
		}
	})

	t.Run("No connectivity", func(t *testing.T) {
		p := newPipeline(t, "http://unused", services.StaticReachability(false))
		song := p.song(t, "x")

		if _, err := p.delegate.Prepare(context.Background(), NewDownload(song)); !errors.Is(err, ErrNoConnectivity) {
			t.Errorf("expected ErrNoConnectivity, got %v", err)
		}
	})

	t.Run("Unresolvable source", func(t *testing.T) {
		p := newPipeline(t, "http://unused", nil)
		p.backend.ResolveErr = errors.New("no stream")
		song := p.song(t, "x")

		if _, err := p.delegate.Prepare(context.Background(), NewDownload(song)); !errors.Is(err, ErrFetchFailed) {
			t.Errorf("expected ErrFetchFailed, got %v", err)
		}
	})

	t.Run("Resolves URL", func(t *testing.T) {
		p := newPipeline(t, "http://media.test", nil)
		song := p.song(t, "x")

		source, err := p.delegate.Prepare(context.Background(), NewDownload(song))
		if err != nil {
			t.Fatalf("Prepare() error = %v", err)
		}
		if !strings.HasPrefix(source, "http://media.test/media/x") {
			t.Errorf("unexpected source %s", source)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("Missing payload", func(t *testing.T) {
		p := newPipeline(t, "http://media.test", nil)
		dl := &Download{Element: p.song(t, "x"), SourceURL: "http://media.test/media/x?u=secret-user&t=secret-token"}

		err := p.delegate.Validate(dl)

		var respErr *ResponseError
		if !errors.As(err, &respErr) {
			t.Fatalf("expected *ResponseError, got %v", err)
		}
		if respErr.Message != "invalid download" {
			t.Errorf("unexpected message %q", respErr.Message)
		}
		if strings.Contains(respErr.CleansedURL, "secret") {
			t.Errorf("url not cleansed: %s", respErr.CleansedURL)
		}
		if !errors.Is(err, ErrInvalidResponse) {
			t.Error("expected ErrInvalidResponse")
		}
	})

	t.Run("Media payload", func(t *testing.T) {
		p := newPipeline(t, "http://media.test", nil)
		path := filepath.Join(t.TempDir(), "payload")
		if err := os.WriteFile(path, []byte("ID3 audio"), 0644); err != nil {
			t.Fatal(err)
		}

		dl := &Download{Element: p.song(t, "x"), FilePath: path, Size: 9}
		if err := p.delegate.Validate(dl); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})
}

func TestProcess(t *testing.T) {
	t.Run("Disguised error payload is never committed", func(t *testing.T) {
		doc := []byte(`{"subsonic-response":{"status":"failed","error":{"code":70,"message":"not found"}}}`)
		srv := mediaServer(t, map[string][]byte{"x": doc})
		p := newPipeline(t, srv.URL, nil)
		song := p.song(t, "x")

		err := p.scheduler.Process(context.Background(), song)
		if !errors.Is(err, ErrInvalidResponse) {
			t.Fatalf("expected ErrInvalidResponse, got %v", err)
		}

		stored, _ := p.library.Get(song.ID())
		if stored.IsCached() {
			t.Error("song should not be cached after an error payload")
		}
		tu.AssertNoFile(t, p.files.AbsPath(p.files.RelativePath(song)))
		tu.AssertNoFile(t, p.files.PartialPath(song))
	})

	t.Run("HTTP error", func(t *testing.T) {
		srv := mediaServer(t, map[string][]byte{})
		p := newPipeline(t, srv.URL, nil)
		song := p.song(t, "missing")

		err := p.scheduler.Process(context.Background(), song)
		if !errors.Is(err, ErrFetchFailed) {
			t.Fatalf("expected ErrFetchFailed, got %v", err)
		}
		if strings.Contains(err.Error(), "secret") {
			t.Errorf("error leaks credentials: %v", err)
		}
	})

	t.Run("Extracts artwork and content type", func(t *testing.T) {
		cover := []byte("\x89PNG fake cover")
		srv := mediaServer(t, map[string][]byte{"x": id3WithPicture(cover, []byte("frames"))})
		p := newPipeline(t, srv.URL, nil)
		p.backend.Format = models.FormatInfo{Format: "mp3", MIME: "audio/mpeg"}
		song := p.song(t, "x")

		if err := p.scheduler.Process(context.Background(), song); err != nil {
			t.Fatalf("Process() error = %v", err)
		}

		stored, _ := p.library.Get(song.ID())
		if !bytes.Equal(stored.Artwork(), cover) {
			t.Errorf("expected embedded cover, got %q", stored.Artwork())
		}
		if stored.ContentType() != "audio/mpeg" {
			t.Errorf("expected audio/mpeg, got %s", stored.ContentType())
		}
	})
}

// gatedTransfer fails every fetch once release is closed.
type gatedTransfer struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTransfer) Fetch(ctx context.Context, dl *Download) error {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	return fmt.Errorf("%w: upstream gone", ErrFetchFailed)
}

func TestProcessSharesInFlightFailure(t *testing.T) {
	p := newPipeline(t, "http://media.test", nil)
	song := p.song(t, "x")

	transfer := &gatedTransfer{entered: make(chan struct{}), release: make(chan struct{})}
	scheduler := NewScheduler(p.delegate, transfer, p.library, p.queue, nil, nil)

	errs := make(chan error, 2)
	go func() { errs <- scheduler.Process(context.Background(), song) }()
	<-transfer.entered
	go func() { errs <- scheduler.Process(context.Background(), song) }()
	time.Sleep(50 * time.Millisecond)
	close(transfer.release)

	for range 2 {
		if err := <-errs; !errors.Is(err, ErrFetchFailed) {
			t.Errorf("expected ErrFetchFailed, got %v", err)
		}
	}
	if n := transfer.calls.Load(); n != 1 {
		t.Errorf("expected one shared transfer, got %d", n)
	}

	scheduler.mu.Lock()
	left := len(scheduler.inFlight)
	scheduler.mu.Unlock()
	if left != 0 {
		t.Errorf("expected no in-flight entries after failure, got %d", left)
	}

	if err := scheduler.Process(context.Background(), song); !errors.Is(err, ErrFetchFailed) {
		t.Errorf("expected a fresh attempt to fail again, got %v", err)
	}
	if n := transfer.calls.Load(); n != 2 {
		t.Errorf("expected a second transfer for the retry, got %d", n)
	}
}

func TestEndToEnd(t *testing.T) {
	payload := bytes.Repeat([]byte("audio-frame "), 1000)
	srv := mediaServer(t, map[string][]byte{"x": payload})
	p := newPipeline(t, srv.URL, nil)
	song := p.song(t, "x")

	accepted, err := p.scheduler.Enqueue(context.Background(), song)
	if err != nil || accepted != 1 {
		t.Fatalf("Enqueue() = %d, %v", accepted, err)
	}

	summary, err := p.scheduler.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Downloaded != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	stored, err := p.library.Get(song.ID())
	if err != nil {
		t.Fatalf("failed to reload song: %v", err)
	}
	if !stored.IsCached() {
		t.Fatal("song should be cached")
	}
	if stored.RelFilePath() != p.files.RelativePath(song) {
		t.Errorf("expected deterministic path %s, got %s", p.files.RelativePath(song), stored.RelFilePath())
	}

	got := tu.MustReadFile(t, p.files.AbsPath(stored.RelFilePath()))
	if got != string(payload) {
		t.Error("cached file differs from payload")
	}
	tu.AssertFileExists(t, filepath.Join(p.files.Root(), "CACHEDIR.TAG"))

	if _, err := p.delegate.Prepare(context.Background(), NewDownload(song)); !errors.Is(err, ErrAlreadyCached) {
		t.Errorf("expected ErrAlreadyCached on re-prepare, got %v", err)
	}

	record, _ := p.queue.GetByEntity(song.ID())
	if record.Status != models.DownloadDone {
		t.Errorf("expected queue row done, got %s", record.Status)
	}

	if v := testutil.ToFloat64(p.metrics.Downloads.WithLabelValues("downloaded")); v != 1 {
		t.Errorf("expected 1 downloaded in metrics, got %v", v)
	}
	if v := testutil.ToFloat64(p.metrics.Bytes); v != float64(len(payload)) {
		t.Errorf("expected %d bytes in metrics, got %v", len(payload), v)
	}

	summary, err = p.scheduler.Run(context.Background())
	if err != nil || summary.Total != 0 {
		t.Errorf("second run should find nothing pending, got %+v, %v", summary, err)
	}
}

func TestRun(t *testing.T) {
	t.Run("Mixed outcomes", func(t *testing.T) {
		srv := mediaServer(t, map[string][]byte{"a": []byte("aaaa"), "b": []byte("bbbb")})
		p := newPipeline(t, srv.URL, nil)

		a, b, missing, cached := p.song(t, "a"), p.song(t, "b"), p.song(t, "missing"), p.song(t, "cached")
		if err := p.library.SetCacheInfo(cached.ID(), "song/cached", "", nil); err != nil {
			t.Fatal(err)
		}

		playlist := models.NewEntity(0, models.KindPlaylist, "pl", "Mix", "")
		if err := p.library.Create(playlist); err != nil {
			t.Fatal(err)
		}

		accepted, err := p.scheduler.Enqueue(context.Background(), a, b, missing, cached, playlist)
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if accepted != 4 {
			t.Errorf("expected the playlist to be filtered out, accepted %d", accepted)
		}

		summary, err := p.scheduler.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if summary.Downloaded != 2 || summary.Cached != 1 || summary.Failed != 1 {
			t.Errorf("unexpected summary %+v", summary)
		}
		if _, ok := summary.Errors[missing.ID()]; !ok {
			t.Error("expected the missing song's error in the summary")
		}

		failed, _ := p.queue.GetByEntity(missing.ID())
		if failed.Status != models.DownloadFailed || failed.LastError == "" {
			t.Errorf("expected failed row with reason, got %+v", failed)
		}
		done, _ := p.queue.GetByEntity(cached.ID())
		if done.Status != models.DownloadDone {
			t.Errorf("cached item should be marked done, got %s", done.Status)
		}

		requeued, err := p.scheduler.Enqueue(context.Background(), missing)
		if err != nil || requeued != 1 {
			t.Fatalf("re-enqueue = %d, %v", requeued, err)
		}
		row, _ := p.queue.GetByEntity(missing.ID())
		if row.Status != models.DownloadPending {
			t.Errorf("failed row should be pending again, got %s", row.Status)
		}
	})
}

// peakTransfer records the highest number of overlapping Fetch calls.
type peakTransfer struct {
	inner  Transfer
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
}

func (p *peakTransfer) Fetch(ctx context.Context, dl *Download) error {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(p.delay)
	return p.inner.Fetch(ctx, dl)
}

func TestRunBoundsConcurrency(t *testing.T) {
	tests := []struct {
		name     string
		parallel int
		want     int
	}{
		{name: "default", parallel: 0, want: 4},
		{name: "configured", parallel: 3, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payloads := make(map[string][]byte)
			for i := range 12 {
				payloads[fmt.Sprintf("s%d", i)] = []byte(fmt.Sprintf("audio %d", i))
			}
			srv := mediaServer(t, payloads)
			p := newPipeline(t, srv.URL, nil)

			delegate := NewDelegate(DelegateOpts{
				Backend:  p.backend,
				Files:    p.files,
				Library:  p.library,
				Writes:   p.writes,
				Parallel: tt.parallel,
			})
			if got := delegate.ParallelDownloads(); got != tt.want {
				t.Fatalf("ParallelDownloads() = %d, want %d", got, tt.want)
			}

			transfer := &peakTransfer{inner: NewHTTPTransfer(nil, p.files, "", nil, nil), delay: 50 * time.Millisecond}
			scheduler := NewScheduler(delegate, transfer, p.library, p.queue, nil, nil)

			var songs []models.Containable
			for id := range payloads {
				songs = append(songs, p.song(t, id))
			}
			if _, err := scheduler.Enqueue(context.Background(), songs...); err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}

			summary, err := scheduler.Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if summary.Downloaded != 12 {
				t.Errorf("expected 12 downloads, got %+v", summary)
			}
			if peak := int(transfer.peak.Load()); peak > tt.want || peak < 2 {
				t.Errorf("peak concurrency %d, want between 2 and %d", peak, tt.want)
			}
		})
	}
}

func TestCommitPersistenceFailure(t *testing.T) {
	p := newPipeline(t, "http://media.test", nil)
	song := p.song(t, "x")

	dl := &Download{
		Element:   song,
		SourceURL: "http://media.test/media/x",
		FilePath:  filepath.Join(t.TempDir(), "vanished.partial"),
		Size:      10,
	}

	err := <-p.delegate.Commit(context.Background(), dl)
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("expected ErrPersistenceFailed, got %v", err)
	}

	stored, _ := p.library.Get(song.ID())
	if stored.IsCached() || stored.RelFilePath() != "" {
		t.Errorf("relative path should be cleared, got %q", stored.RelFilePath())
	}
}

func TestExtractArtwork(t *testing.T) {
	dir := t.TempDir()

	tagged := filepath.Join(dir, "tagged.mp3")
	if err := os.WriteFile(tagged, id3WithPicture([]byte("cover"), []byte("audio")), 0644); err != nil {
		t.Fatal(err)
	}
	art, err := ExtractArtwork(tagged)
	if err != nil {
		t.Fatalf("ExtractArtwork() error = %v", err)
	}
	if string(art) != "cover" {
		t.Errorf("expected cover, got %q", art)
	}

	untagged := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "shorter than a header", payload: []byte("abc")},
		{name: "shorter than a trailer", payload: []byte("no tags here at all")},
		{name: "long", payload: bytes.Repeat([]byte("audio frame "), 64)},
	}
	for _, tc := range untagged {
		t.Run(tc.name, func(t *testing.T) {
			plain := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_")+".bin")
			if err := os.WriteFile(plain, tc.payload, 0644); err != nil {
				t.Fatal(err)
			}
			if art, err := ExtractArtwork(plain); err != nil || art != nil {
				t.Errorf("expected (nil, nil) for untagged file, got %q, %v", art, err)
			}
		})
	}

	if _, err := ExtractArtwork(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

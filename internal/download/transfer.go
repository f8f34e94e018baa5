package download

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/services"
	"github.com/desertthunder/shelf/internal/shared"
)

// Transfer moves a prepared download's bytes onto local storage.
//
// On success the download's FilePath, Size, ResponseURL and ContentType are set.
type Transfer interface {
	Fetch(ctx context.Context, dl *Download) error
}

// HTTPTransfer streams a source URL into the cache's partial area.
//
// An existing partial file is resumed with a Range request. A 206 reply appends,
// a 200 reply restarts from zero and a 416 reply discards the partial file and retries once.
type HTTPTransfer struct {
	client    *http.Client
	files     *FileManager
	userAgent string
	cleanse   func(string) string
	metrics   *Metrics
	logger    *log.Logger
}

// NewHTTPTransfer creates a transfer writing under files. client may be nil.
func NewHTTPTransfer(client *http.Client, files *FileManager, userAgent string, metrics *Metrics, logger *log.Logger) *HTTPTransfer {
	if client == nil {
		client = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = "shelf/0.1"
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &HTTPTransfer{
		client:    client,
		files:     files,
		userAgent: userAgent,
		cleanse:   services.CleanseURL,
		metrics:   metrics,
		logger:    shared.WithLogger(logger, "component", "transfer"),
	}
}

// Fetch downloads dl.SourceURL.
func (t *HTTPTransfer) Fetch(ctx context.Context, dl *Download) error {
	if dl.SourceURL == "" {
		return fmt.Errorf("%w: no source url", ErrFetchFailed)
	}

	partial := t.files.PartialPath(dl.Element)
	if err := os.MkdirAll(filepath.Dir(partial), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	err := t.fetch(ctx, dl, partial, true)
	if err != nil {
		return err
	}

	dl.FilePath = partial
	return nil
}

func (t *HTTPTransfer) fetch(ctx context.Context, dl *Download, partial string, mayRetry bool) error {
	var offset int64
	if info, err := os.Stat(partial); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dl.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFetchFailed, t.cleanse(dl.SourceURL), unwrapURLError(err))
	}
	defer resp.Body.Close()

	resumes := resp.StatusCode == http.StatusPartialContent && offset > 0
	if resumes {
		if start, ok := rangeStart(resp.Header.Get("Content-Range")); !ok || start != offset {
			t.logger.Warn("server resumed from the wrong offset", "id", dl.Element.ID(), "offset", offset, "content_range", resp.Header.Get("Content-Range"))
			if !mayRetry {
				return fmt.Errorf("%w: %s: mismatched Content-Range %q", ErrFetchFailed, t.cleanse(dl.SourceURL), resp.Header.Get("Content-Range"))
			}
			return t.restart(ctx, dl, partial, resp)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resumes:
		flags |= os.O_APPEND
		t.logger.Debug("resuming transfer", "id", dl.Element.ID(), "offset", offset)
	case resp.StatusCode == http.StatusOK:
		flags |= os.O_TRUNC
		offset = 0
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && mayRetry:
		return t.restart(ctx, dl, partial, resp)
	default:
		return fmt.Errorf("%w: %s: %s", ErrFetchFailed, t.cleanse(dl.SourceURL), resp.Status)
	}

	f, err := os.OpenFile(partial, flags, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	t.metrics.addBytes(n)

	if copyErr != nil {
		return fmt.Errorf("%w: interrupted after %d bytes: %v", ErrFetchFailed, offset+n, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, closeErr)
	}

	dl.Size = offset + n
	dl.ResponseURL = resp.Request.URL.String()
	dl.ContentType = mediaType(resp.Header.Get("Content-Type"))
	return nil
}

// restart drops the partial file and fetches from the first byte without a Range header.
func (t *HTTPTransfer) restart(ctx context.Context, dl *Download, partial string, resp *http.Response) error {
	resp.Body.Close()
	if err := t.files.Remove(partial); err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return t.fetch(ctx, dl, partial, false)
}

// rangeStart returns the first byte position of a "bytes first-last/total" Content-Range.
func rangeStart(header string) (int64, bool) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, false
	}
	first, _, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, false
	}
	return start, true
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mt
}

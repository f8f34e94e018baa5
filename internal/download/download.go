// Package download materializes playable library items on local storage.
//
// A download goes through four stages, driven by the [Scheduler]:
//
//  1. [Delegate.Prepare] : guards (not playable, already cached, offline) then resolves the source URL
//  2. [Transfer.Fetch] : resumable HTTP transfer into the cache's partial area ([HTTPTransfer])
//  3. [Delegate.Validate] : rejects missing payloads and server error documents
//  4. [Delegate.Commit] : moves the payload to its deterministic path and records it, on the library write queue
//
// Any failure leaves the item not cached. [Delegate.OnFailure] only logs.
//
// Errors are classified with [ErrAlreadyCached], [ErrNoConnectivity], [ErrFetchFailed],
// [ErrInvalidResponse] (as a [*ResponseError]) and [ErrPersistenceFailed].
package download

import (
	"net/url"

	"github.com/desertthunder/shelf/internal/models"
)

// Download is one playable moving through the pipeline.
type Download struct {
	QueueID string // downloads table row, empty for ad-hoc runs
	Element *models.Entity

	SourceURL   string // set by Prepare, may carry credentials
	FilePath    string // payload on disk, set by Fetch
	Size        int64
	ResponseURL string // final URL after redirects
	ContentType string // media type of the response
}

// NewDownload wraps an entity.
func NewDownload(e *models.Entity) *Download {
	return &Download{Element: e}
}

// unwrapURLError drops the request URL from transport errors so credentials never reach logs.
func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}

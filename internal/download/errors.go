package download

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyCached means the playable's bytes are already on disk. Not a failure.
	ErrAlreadyCached = errors.New("already cached")
	// ErrNoConnectivity means the backend is unreachable at prepare time.
	ErrNoConnectivity = errors.New("no connectivity")
	// ErrFetchFailed covers non-playable elements, unresolvable sources and transport failures.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrInvalidResponse means the payload is missing or is a server error document.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrPersistenceFailed means the payload could not be moved into the cache.
	ErrPersistenceFailed = errors.New("persistence failed")
)

// ResponseError describes a rejected payload. The URL never carries credentials.
type ResponseError struct {
	Message     string
	CleansedURL string
	Err         error
}

func (e *ResponseError) Error() string {
	if e.CleansedURL == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidResponse, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrInvalidResponse, e.Message, e.CleansedURL)
}

// Unwrap matches [ErrInvalidResponse] and the classifier's error, if any.
func (e *ResponseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidResponse}
	}
	return []error{ErrInvalidResponse, e.Err}
}

// Result labels an outcome for logs and metrics.
func Result(err error) string {
	switch {
	case err == nil:
		return "downloaded"
	case errors.Is(err, ErrAlreadyCached):
		return "cached"
	case errors.Is(err, ErrNoConnectivity):
		return "offline"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid"
	case errors.Is(err, ErrPersistenceFailed):
		return "persistence"
	default:
		return "failed"
	}
}

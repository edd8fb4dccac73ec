package scraper

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors surfaced by the task store.
var (
	// ErrTaskNotFound indicates a lookup for an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidURL indicates a URL that is not an absolute HTTP(S) URL.
	ErrInvalidURL = errors.New("invalid URL format")
)

// FetchError wraps a transport or HTTP failure from the Fetcher.
// StatusCode is zero when the request never produced a response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying. Only rate
// limiting and temporary unavailability qualify.
func (e *FetchError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

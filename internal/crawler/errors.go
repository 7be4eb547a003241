package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the crawler.
var (
	ErrAlreadyRunning  = errors.New("crawl already running for target")
	ErrRunNotFound     = errors.New("crawl run not found")
	ErrInvalidScope    = errors.New("invalid crawl scope")
	ErrImplausibleDate = errors.New("implausible publish date")
)

// FetchError reports a URL that could not be retrieved after retries.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class is transient.
func (e *FetchError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 408, e.StatusCode == 429:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// ExtractError reports a page that could not be parsed into a post.
type ExtractError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ExtractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// StoreWriteError reports a failed persistence call for one post.
type StoreWriteError struct {
	ExternalID string
	Err        error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store post %s: %v", e.ExternalID, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

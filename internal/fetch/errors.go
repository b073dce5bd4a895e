// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete matches a fetch aborted after a page's transient
	// failures exhausted the retry budget.
	ErrIncomplete = errors.New("fetch incomplete")

	// ErrFailed matches a fetch aborted by a non-retryable response.
	ErrFailed = errors.New("fetch failed")
)

// FetchIncompleteError reports that retries were exhausted on a page.
type FetchIncompleteError struct {
	// Page is the page that could not be retrieved.
	Page int

	// Records is the number of records retrieved from earlier pages.
	Records int

	// Attempts is the number of requests made for Page.
	Attempts int

	Err error
}

// Error implements the error interface
func (e *FetchIncompleteError) Error() string {
	return fmt.Sprintf("fetch incomplete: page %d failed after %d attempts (%d records retrieved): %v",
		e.Page, e.Attempts, e.Records, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *FetchIncompleteError) Unwrap() error { return e.Err }

// Is implements errors.Is support
func (e *FetchIncompleteError) Is(target error) bool { return target == ErrIncomplete }

// FetchFailedError reports a non-retryable response: a status other than
// 200 or 503, or a body that does not decode as a page.
type FetchFailedError struct {
	Page       int
	StatusCode int

	// Body holds the start of the response body for diagnosis.
	Body string

	Err error
}

// Error implements the error interface
func (e *FetchFailedError) Error() string {
	msg := fmt.Sprintf("fetch failed: page %d (status %d): %v", e.Page, e.StatusCode, e.Err)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap implements errors.Unwrap
func (e *FetchFailedError) Unwrap() error { return e.Err }

// Is implements errors.Is support
func (e *FetchFailedError) Is(target error) bool { return target == ErrFailed }

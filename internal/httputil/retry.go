// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared across stages.
package httputil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RetryBaseDelay is the backoff unit used when a RetryPolicy leaves
// BaseDelay unset. Tests override this to avoid real sleeps.
var RetryBaseDelay = 5 * time.Second

const defaultMaxRetries = 5

// RetryPolicy controls DoWithRetry.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retries; a negative value selects the default (5).
	MaxRetries int

	// BaseDelay is the backoff unit; retry n waits BaseDelay*n.
	// Zero selects RetryBaseDelay.
	BaseDelay time.Duration

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry, when set, is called before each backoff wait with the
	// retry number (1-based), the delay, and the cause (an error or a
	// non-nil response status).
	OnRetry func(retry int, delay time.Duration, status int, err error)

	// BufferBody reads the body of a non-retryable response before
	// returning it, so a connection lost mid-body is retried like a
	// transport error. The returned response's Body is the buffered copy.
	BufferBody bool
}

// Delay returns the wait before retry n (1-based): BaseDelay*n.
func (p RetryPolicy) Delay(retry int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = RetryBaseDelay
	}
	return base * time.Duration(retry)
}

func (p RetryPolicy) maxRetries() int {
	if p.MaxRetries < 0 {
		return defaultMaxRetries
	}
	return p.MaxRetries
}

// Retryable reports whether a request outcome is transient: a transport
// error or HTTP 503 Service Unavailable.
func Retryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp != nil && resp.StatusCode == http.StatusServiceUnavailable
}

// DoWithRetry executes an HTTP request and retries transient failures
// (transport errors and HTTP 503) with linear backoff: BaseDelay, then
// 2*BaseDelay, 3*BaseDelay, and so on.
//
// It returns the response, the number of attempts made, and an error.
// Any non-503 response is returned as-is for the caller to inspect. After
// exhausting retries the last 503 response or the last transport error is
// returned. If the context is cancelled during a backoff wait the function
// returns ctx.Err(). With BufferBody set, a body read failure counts as a
// transport error; once retries run out it is returned with a nil response.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, p RetryPolicy) (*http.Response, int, error) {
	maxRetries := p.maxRetries()
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if p.BufferBody && !Retryable(resp, err) {
			resp, err = bufferBody(resp)
		}
		if !Retryable(resp, err) {
			return resp, attempt, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}

		if attempt > maxRetries {
			return resp, attempt, err
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, status, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return nil, attempt, serr
		}
	}
}

func bufferBody(resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch retrieves every page of the organisations collection.
// Pages are requested as GET {base}?page=N until the response carries no
// next_page_url. Transient failures (transport errors and HTTP 503) are
// retried with linear backoff; any other failure aborts the fetch and the
// result is marked incomplete so callers never persist a partial list.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/registry-reconciler/internal/httputil"
	"github.com/pdiddy/registry-reconciler/internal/metrics"
	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// bodyContextLimit caps the body excerpt carried by FetchFailedError.
const bodyContextLimit = 512

// Result is the outcome of a fetch.
type Result struct {
	// Records holds every retrieved record in page order, then
	// within-page order. On failure it holds the pages before the
	// failing one.
	Records []types.RawRecord

	// Pages is the number of pages retrieved.
	Pages int

	// Complete is true only when the last page was retrieved.
	Complete bool
}

// Fetcher retrieves the paginated collection at Config.BaseURL.
type Fetcher struct {
	Client  *http.Client
	Config  types.FetchConfig
	Logger  zerolog.Logger
	Metrics *metrics.Recorder

	// Sleep replaces the backoff wait. Nil waits on a timer that honours
	// context cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher returns a Fetcher with an HTTP client using cfg.Timeout.
func NewFetcher(cfg types.FetchConfig, logger zerolog.Logger, rec *metrics.Recorder) *Fetcher {
	return &Fetcher{
		Client:  &http.Client{Timeout: cfg.Timeout},
		Config:  cfg,
		Logger:  logger,
		Metrics: rec,
	}
}

// pageResponse is the page envelope returned by the API.
type pageResponse struct {
	Results     *[]types.RawRecord `json:"results"`
	NextPageURL string             `json:"next_page_url"`
	Pages       int                `json:"pages"`
	CurrentPage int                `json:"current_page"`
	Total       int                `json:"total"`
}

// page is one decoded page.
type page struct {
	records []types.RawRecord
	hasNext bool
	pages   int
}

// FetchAll retrieves pages sequentially from page 1 until the API reports
// no next page. There is no upper bound on the page count.
func (f *Fetcher) FetchAll(ctx context.Context) (Result, error) {
	return f.fetchFrom(ctx, Result{}, 1)
}

// fetchFrom continues a fetch at page start, appending to acc.
func (f *Fetcher) fetchFrom(ctx context.Context, acc Result, start int) (Result, error) {
	for n := start; ; n++ {
		p, err := f.fetchPage(ctx, n)
		if err != nil {
			return f.abort(acc, err)
		}
		acc.Records = append(acc.Records, p.records...)
		acc.Pages = n
		if !p.hasNext {
			break
		}
	}
	acc.Complete = true
	f.Logger.Info().Int("pages", acc.Pages).Int("records", len(acc.Records)).Msg("fetch complete")
	return acc, nil
}

// abort marks acc incomplete and fills the record count into err.
func (f *Fetcher) abort(acc Result, err error) (Result, error) {
	acc.Complete = false
	kind := "failed"
	var inc *FetchIncompleteError
	if errors.As(err, &inc) {
		inc.Records = len(acc.Records)
		kind = "incomplete"
	}
	f.Metrics.FetchFailure(kind)
	f.Logger.Error().Err(err).Int("records", len(acc.Records)).Msg("fetch aborted")
	return acc, err
}

// pageURL returns the base URL with page=n set, keeping other parameters.
func (f *Fetcher) pageURL(n int) (string, error) {
	u, err := url.Parse(f.Config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL %q: %w", f.Config.BaseURL, err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// fetchPage retrieves and decodes page n, retrying transient failures.
func (f *Fetcher) fetchPage(ctx context.Context, n int) (page, error) {
	reqURL, err := f.pageURL(n)
	if err != nil {
		return page{}, &FetchFailedError{Page: n, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return page{}, &FetchFailedError{Page: n, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if f.Config.UserAgent != "" {
		req.Header.Set("User-Agent", f.Config.UserAgent)
	}
	for k, v := range f.Config.Headers {
		req.Header.Set(k, v)
	}

	policy := httputil.RetryPolicy{
		MaxRetries: f.Config.Retries(),
		BaseDelay:  f.Config.BaseDelay,
		Sleep:      f.Sleep,
		BufferBody: true,
		OnRetry: func(retry int, delay time.Duration, status int, cause error) {
			label := "503"
			ev := f.Logger.Warn().Int("page", n).Int("retry", retry).Dur("delay", delay)
			if cause != nil {
				label = "network"
				ev = ev.Err(cause)
			} else {
				ev = ev.Int("status", status)
			}
			f.Metrics.Retry(label)
			ev.Msg("page request failed, retrying")
		},
	}

	start := time.Now()
	resp, attempts, err := httputil.DoWithRetry(ctx, f.client(), req, policy)
	if err != nil {
		return page{}, &FetchIncompleteError{Page: n, Attempts: attempts, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		io.Copy(io.Discard, resp.Body)
		return page{}, &FetchIncompleteError{Page: n, Attempts: attempts, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return page{}, &FetchIncompleteError{Page: n, Attempts: attempts, Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return page{}, &FetchFailedError{
			Page: n, StatusCode: resp.StatusCode, Body: excerpt(body),
			Err: fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	var pr pageResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return page{}, &FetchFailedError{
			Page: n, StatusCode: resp.StatusCode, Body: excerpt(body),
			Err: fmt.Errorf("malformed page body: %w", err),
		}
	}
	if pr.Results == nil {
		return page{}, &FetchFailedError{
			Page: n, StatusCode: resp.StatusCode, Body: excerpt(body),
			Err: errors.New("malformed page body: missing results"),
		}
	}

	p := page{records: *pr.Results, hasNext: pr.NextPageURL != "", pages: pr.Pages}
	f.Metrics.Page(len(p.records), time.Since(start))
	f.Logger.Debug().Int("page", n).Int("records", len(p.records)).Int("attempts", attempts).Msg("fetched page")
	return p, nil
}

func excerpt(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) > bodyContextLimit {
		body = body[:bodyContextLimit]
	}
	return string(body)
}

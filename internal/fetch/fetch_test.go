// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/registry-reconciler/internal/metrics"
	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// fakeAPI serves a paginated organisations collection. pages[i] holds the
// titles on page i+1.
type fakeAPI struct {
	pages     [][]string
	omitTotal bool

	// reportPages, when set, replaces the page total in every response.
	reportPages int

	// fail returns a status to send instead of the page, or 0.
	fail func(page, attempt int) int

	mu       sync.Mutex
	attempts map[int]int
	accept   []string
}

func (a *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("page"))

	a.mu.Lock()
	if a.attempts == nil {
		a.attempts = make(map[int]int)
	}
	a.attempts[n]++
	attempt := a.attempts[n]
	a.accept = append(a.accept, r.Header.Get("Accept"))
	a.mu.Unlock()

	if a.fail != nil {
		if code := a.fail(n, attempt); code != 0 {
			w.WriteHeader(code)
			fmt.Fprint(w, `{"error":"unavailable"}`)
			return
		}
	}
	if n < 1 || n > len(a.pages) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	results := make([]map[string]any, 0, len(a.pages[n-1]))
	for i, title := range a.pages[n-1] {
		results = append(results, map[string]any{
			"id":    fmt.Sprintf("https://www.gov.uk/api/organisations/org-%d-%d", n, i),
			"title": title,
		})
	}
	body := map[string]any{"results": results, "current_page": n, "next_page_url": nil}
	if n < len(a.pages) {
		body["next_page_url"] = fmt.Sprintf("https://www.gov.uk/api/organisations?page=%d", n+1)
	}
	if !a.omitTotal {
		body["pages"] = len(a.pages)
	}
	if a.reportPages != 0 {
		body["pages"] = a.reportPages
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (a *fakeAPI) attemptsFor(page int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts[page]
}

func newTestFetcher(ts *httptest.Server, maxRetries int) (*Fetcher, *[]time.Duration) {
	var mu sync.Mutex
	var delays []time.Duration
	f := &Fetcher{
		Client: ts.Client(),
		Config: types.FetchConfig{
			BaseURL:    ts.URL + "/api/organisations",
			MaxRetries: types.IntPtr(maxRetries),
			BaseDelay:  5 * time.Second,
		},
		Logger: zerolog.Nop(),
		Sleep: func(_ context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return nil
		},
	}
	return f, &delays
}

func titles(records []types.RawRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Title
	}
	return out
}

func threePages() [][]string {
	return [][]string{{"A", "B"}, {"C", "D"}, {"E"}}
}

func TestFetchAll_FollowsNextPage(t *testing.T) {
	api := &fakeAPI{pages: threePages()}
	ts := httptest.NewServer(api)
	defer ts.Close()

	f, _ := newTestFetcher(ts, 5)
	res, err := f.FetchAll(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, titles(res.Records))
	for _, accept := range api.accept {
		assert.Equal(t, "application/json", accept)
	}
}

func TestFetchAll_KeepsBaseQuery(t *testing.T) {
	var seen []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.RawQuery)
		fmt.Fprint(w, `{"results":[{"id":"x","title":"X"}]}`)
	}))
	defer ts.Close()

	f, _ := newTestFetcher(ts, 1)
	f.Config.BaseURL = ts.URL + "/api/organisations?per_page=50"
	res, err := f.FetchAll(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, []string{"page=1&per_page=50"}, seen)
}

func TestFetchAll_RetriesTransientThenSucceeds(t *testing.T) {
	api := &fakeAPI{
		pages: threePages(),
		fail: func(page, attempt int) int {
			if page == 2 && attempt <= 2 {
				return http.StatusServiceUnavailable
			}
			return 0
		},
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	rec := metrics.NewRecorder()
	f, delays := newTestFetcher(ts, 5)
	f.Metrics = rec
	res, err := f.FetchAll(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, titles(res.Records))
	assert.Equal(t, 3, api.attemptsFor(2))
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *delays)
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.FetchRetries.WithLabelValues("503")))
	assert.Equal(t, 3.0, testutil.ToFloat64(rec.PagesFetched))
}

func TestFetchAll_ExhaustedRetriesReturnsFirstPage(t *testing.T) {
	api := &fakeAPI{
		pages: threePages(),
		fail: func(page, _ int) int {
			if page == 2 {
				return http.StatusServiceUnavailable
			}
			return 0
		},
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	f, delays := newTestFetcher(ts, 3)
	res, err := f.FetchAll(context.Background())
	require.Error(t, err)

	assert.False(t, res.Complete)
	assert.Equal(t, []string{"A", "B"}, titles(res.Records))
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.NotErrorIs(t, err, ErrFailed)

	var inc *FetchIncompleteError
	require.True(t, errors.As(err, &inc))
	assert.Equal(t, 2, inc.Page)
	assert.Equal(t, 2, inc.Records)
	assert.Equal(t, 4, inc.Attempts)
	assert.Equal(t, 4, api.attemptsFor(2))
	assert.Equal(t, 0, api.attemptsFor(3))
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}, *delays)
}

func TestFetchAll_RetriesTruncatedBody(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Length", "500")
			fmt.Fprint(w, `{"results":`)
			return
		}
		fmt.Fprint(w, `{"results":[{"id":"x","title":"X"}],"next_page_url":null}`)
	}))
	defer ts.Close()

	rec := metrics.NewRecorder()
	f, delays := newTestFetcher(ts, 3)
	f.Metrics = rec
	res, err := f.FetchAll(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, []string{"X"}, titles(res.Records))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{5 * time.Second}, *delays)
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.FetchRetries.WithLabelValues("network")))
}

func TestFetchAll_ZeroRetries(t *testing.T) {
	api := &fakeAPI{
		pages: threePages(),
		fail: func(page, attempt int) int {
			if page == 2 && attempt == 1 {
				return http.StatusServiceUnavailable
			}
			return 0
		},
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	f, delays := newTestFetcher(ts, 0)
	res, err := f.FetchAll(context.Background())
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.False(t, res.Complete)
	assert.Equal(t, []string{"A", "B"}, titles(res.Records))
	assert.Equal(t, 1, api.attemptsFor(2))
	assert.Empty(t, *delays)
}

func TestFetchAll_NonRetryableAbortsImmediately(t *testing.T) {
	api := &fakeAPI{
		pages: threePages(),
		fail: func(page, _ int) int {
			if page == 2 {
				return http.StatusInternalServerError
			}
			return 0
		},
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	f, delays := newTestFetcher(ts, 5)
	res, err := f.FetchAll(context.Background())

	assert.False(t, res.Complete)
	assert.Equal(t, []string{"A", "B"}, titles(res.Records))
	assert.ErrorIs(t, err, ErrFailed)

	var failed *FetchFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 2, failed.Page)
	assert.Equal(t, http.StatusInternalServerError, failed.StatusCode)
	assert.Contains(t, failed.Body, "unavailable")
	assert.Equal(t, 1, api.attemptsFor(2))
	assert.Empty(t, *delays)
}

func TestFetchAll_MalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>maintenance</html>`},
		{"missing results", `{"next_page_url": null}`},
		{"wrong results type", `{"results": "none"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer ts.Close()

			f, _ := newTestFetcher(ts, 5)
			res, err := f.FetchAll(context.Background())
			assert.False(t, res.Complete)
			assert.Empty(t, res.Records)
			assert.ErrorIs(t, err, ErrFailed)

			var failed *FetchFailedError
			require.True(t, errors.As(err, &failed))
			assert.Equal(t, 1, failed.Page)
			assert.Equal(t, tt.body, failed.Body)
		})
	}
}

func TestFetchAll_CancelledDuringBackoff(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	f, _ := newTestFetcher(ts, 5)
	f.Sleep = nil
	f.Config.BaseDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := f.FetchAll(ctx)
	assert.False(t, res.Complete)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchAllParallel_MatchesSequential(t *testing.T) {
	pages := [][]string{{"A", "B"}, {"C"}, {"D", "E"}, {"F"}, {"G", "H", "I"}}
	api := &fakeAPI{pages: pages}
	ts := httptest.NewServer(api)
	defer ts.Close()

	f, _ := newTestFetcher(ts, 5)
	seq, err := f.FetchAll(context.Background())
	require.NoError(t, err)

	par, err := f.FetchAllParallel(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, seq, par)
	assert.Equal(t, 5, par.Pages)
}

func TestFetchAllParallel_ReportsEarliestFailure(t *testing.T) {
	pages := [][]string{{"A"}, {"B"}, {"C"}, {"D"}, {"E"}}
	api := &fakeAPI{
		pages: pages,
		fail: func(page, _ int) int {
			if page == 4 {
				return http.StatusNotFound
			}
			return 0
		},
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	f, _ := newTestFetcher(ts, 5)
	res, err := f.FetchAllParallel(context.Background(), 4)

	assert.False(t, res.Complete)
	assert.Equal(t, []string{"A", "B", "C"}, titles(res.Records))
	assert.Equal(t, 3, res.Pages)

	var failed *FetchFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 4, failed.Page)
}

func TestFetchAllParallel_WithoutTotalFallsBack(t *testing.T) {
	api := &fakeAPI{pages: threePages(), omitTotal: true}
	ts := httptest.NewServer(api)
	defer ts.Close()

	f, _ := newTestFetcher(ts, 5)
	res, err := f.FetchAllParallel(context.Background(), 4)
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, titles(res.Records))
}

func TestFetchAllParallel_BoundsReportedTotal(t *testing.T) {
	limit := ParallelPageLimit
	ParallelPageLimit = 3
	t.Cleanup(func() { ParallelPageLimit = limit })

	pages := [][]string{{"A"}, {"B"}, {"C"}, {"D"}, {"E"}}
	api := &fakeAPI{pages: pages, reportPages: 1_000_000_000}
	ts := httptest.NewServer(api)
	defer ts.Close()

	f, _ := newTestFetcher(ts, 5)
	res, err := f.FetchAllParallel(context.Background(), 4)
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, 5, res.Pages)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, titles(res.Records))
	assert.Equal(t, 0, api.attemptsFor(6))
}

func TestWriteReadRecords(t *testing.T) {
	var records []types.RawRecord
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id":"https://www.gov.uk/api/organisations/a","title":"A","details":{"slug":"a","govuk_status":"live","brand":"a-brand"},"organisation_chart_url":"https://example.org/chart"},
		{"id":"https://www.gov.uk/api/organisations/b","title":"B","details":{}}
	]`), &records))

	path := filepath.Join(t.TempDir(), "raw", RecordsFile)
	require.NoError(t, WriteRecords(path, records))

	got, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Details.Slug)
	assert.Equal(t, []string{"organisation_chart_url"}, got[0].ExtraKeys())
	assert.JSONEq(t, `"https://example.org/chart"`, string(got[0].Extra["organisation_chart_url"]))
	assert.Equal(t, []string{"brand"}, got[0].Details.ExtraKeys())
	assert.JSONEq(t, `"a-brand"`, string(got[0].Details.Extra["brand"]))
	assert.Empty(t, got[1].Extra)
	assert.Empty(t, got[1].Details.Extra)

	_, err = ReadRecords(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

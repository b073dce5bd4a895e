// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package series assembles a historical Series from dated raw record
// dumps. A dump is a JSON array of organisation records as written by
// fetch.WriteRecords; its capture date comes from its file name
// (YYYYMMDD.json) or from a manifest mapping dates to URLs.
package series

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.yaml.in/yaml/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/registry-reconciler/internal/fetch"
	"github.com/pdiddy/registry-reconciler/internal/httputil"
	"github.com/pdiddy/registry-reconciler/internal/normalize"
	"github.com/pdiddy/registry-reconciler/pkg/types"
)

var dumpName = regexp.MustCompile(`^(\d{8})\.json$`)

// LoadDir reads every YYYYMMDD.json dump in dir, normalizes it, and
// returns the snapshots in date order. Other files are ignored.
func LoadDir(dir string) (types.Series, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading series directory %s: %w", dir, err)
	}

	var series types.Series
	for _, entry := range entries {
		m := dumpName.FindStringSubmatch(entry.Name())
		if entry.IsDir() || m == nil {
			continue
		}
		records, err := fetch.ReadRecords(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		snap, err := Snapshot(m[1], records)
		if err != nil {
			return nil, err
		}
		series = append(series, snap)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("series directory %s: no YYYYMMDD.json files", dir)
	}

	sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

// Snapshot normalizes one dump into a dated snapshot. Any rejected record
// fails the snapshot.
func Snapshot(date string, records []types.RawRecord) (types.Snapshot, error) {
	if _, err := time.Parse(types.DateLayout, date); err != nil {
		return types.Snapshot{}, fmt.Errorf("invalid capture date %q: %w", date, err)
	}
	res, err := normalize.Normalize(records)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("snapshot %s: %w", date, err)
	}
	return types.Snapshot{Date: date, Entities: res.Entities}, nil
}

// Manifest maps capture dates (YYYYMMDD) to dump URLs.
type Manifest map[string]string

// ReadManifest parses a YAML manifest file.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("manifest %s lists no snapshots", path)
	}
	return m, nil
}

// Dates returns the manifest's dates in order.
func (m Manifest) Dates() []string {
	dates := make([]string, 0, len(m))
	for d := range m {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Loader downloads manifest dumps.
type Loader struct {
	Client *http.Client
	Config types.FetchConfig
	Logger zerolog.Logger

	// Sleep replaces the retry backoff wait; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewLoader returns a Loader using cfg's timeout, retry, and worker
// settings.
func NewLoader(cfg types.FetchConfig, logger zerolog.Logger) *Loader {
	return &Loader{Client: &http.Client{Timeout: cfg.Timeout}, Config: cfg, Logger: logger}
}

// Load fetches every dump in m with at most Config.Workers downloads in
// flight and returns the snapshots in date order. The first failure
// cancels the remaining downloads.
func (l *Loader) Load(ctx context.Context, m Manifest) (types.Series, error) {
	dates := m.Dates()
	series := make(types.Series, len(dates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, l.Config.Workers))
	for i, date := range dates {
		g.Go(func() error {
			records, err := l.download(gctx, m[date])
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", date, err)
			}
			snap, err := Snapshot(date, records)
			if err != nil {
				return err
			}
			series[i] = snap
			l.Logger.Info().Str("date", date).Int("entities", len(snap.Entities)).Msg("loaded snapshot")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

func (l *Loader) download(ctx context.Context, url string) ([]types.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if l.Config.UserAgent != "" {
		req.Header.Set("User-Agent", l.Config.UserAgent)
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, _, err := httputil.DoWithRetry(ctx, client, req, httputil.RetryPolicy{
		MaxRetries: l.Config.Retries(),
		BaseDelay:  l.Config.BaseDelay,
		Sleep:      l.Sleep,
		BufferBody: true,
		OnRetry: func(retry int, delay time.Duration, status int, cause error) {
			l.Logger.Warn().Str("url", url).Int("retry", retry).Int("status", status).Err(cause).Msg("download failed, retrying")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("downloading %s: HTTP %d", url, resp.StatusCode)
	}

	var records []types.RawRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}
	return records, nil
}

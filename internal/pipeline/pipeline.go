// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline wires the reconciliation stages together: fetch,
// normalize, classify, reconcile against the persisted snapshot, and
// match against the authoritative list. Nothing is written to a sink or
// the store unless the fetch retrieved every page.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/registry-reconciler/internal/classify"
	"github.com/pdiddy/registry-reconciler/internal/diff"
	"github.com/pdiddy/registry-reconciler/internal/fetch"
	"github.com/pdiddy/registry-reconciler/internal/match"
	"github.com/pdiddy/registry-reconciler/internal/metrics"
	"github.com/pdiddy/registry-reconciler/internal/normalize"
	"github.com/pdiddy/registry-reconciler/internal/sink"
	"github.com/pdiddy/registry-reconciler/internal/store"
	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// Table names handed to the sink.
const (
	TableOrganisations  = "organisations"
	TableRelationships  = "relationships"
	TableChanges        = "changes"
	TableMatches        = "matches"
	TableUnmatched      = "unmatched"
	TableFullList       = "full_list"
	TableExcluded       = "excluded"
	TablePossibleNew    = "possible_new"
	TablePossibleClosed = "possible_closed"
	TableCurrent        = "current"
)

// ErrIncomplete is returned by Run when the fetch did not reach the last
// page. It wraps the fetcher's typed error.
var ErrIncomplete = errors.New("fetch incomplete: nothing persisted")

// Pipeline runs the stages with one configuration.
type Pipeline struct {
	Config  types.PipelineConfig
	Logger  zerolog.Logger
	Metrics *metrics.Recorder
	Sink    sink.Sink
	Fetcher *fetch.Fetcher

	// Out receives progress and summary lines.
	Out io.Writer

	// OpenStore opens the relational store. Nil uses store.Open.
	OpenStore func(ctx context.Context, cfg types.StoreConfig) (store.Store, error)

	// Now supplies the run date. Nil uses time.Now.
	Now func() time.Time
}

// New returns a Pipeline for cfg with a directory sink, also copying
// tables into the store when Output.Store is set, and a fresh metrics
// recorder. Zero-valued settings take their defaults.
func New(cfg types.PipelineConfig, logger zerolog.Logger, out io.Writer) (*Pipeline, error) {
	cfg = cfg.WithDefaults()
	dir, err := sink.NewDirSink(cfg.Output)
	if err != nil {
		return nil, err
	}
	if _, err := types.ParseSchemaVersion(cfg.Store.SchemaVersion); err != nil {
		return nil, err
	}
	rec := metrics.NewRecorder()
	p := &Pipeline{
		Config:  cfg,
		Logger:  logger,
		Metrics: rec,
		Sink:    dir,
		Fetcher: fetch.NewFetcher(cfg.Fetch, logger, rec),
		Out:     out,
	}
	if cfg.Output.Store {
		p.Sink = sink.Multi{dir, sink.LazyStoreSink{Open: p.openStore}}
	}
	return p, nil
}

func (p *Pipeline) out() io.Writer {
	if p.Out == nil {
		return io.Discard
	}
	return p.Out
}

func (p *Pipeline) runDate() string {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().Format("2006-01-02")
}

func (p *Pipeline) openStore(ctx context.Context) (store.Store, error) {
	if p.OpenStore != nil {
		return p.OpenStore(ctx, p.Config.Store)
	}
	return store.Open(ctx, p.Config.Store, p.Logger)
}

// RecordsPath is where a complete fetch saves its raw records.
func (p *Pipeline) RecordsPath() string {
	return filepath.Join(p.Config.Output.Dir, fetch.RecordsFile)
}

// Fetch retrieves every page and saves the raw records to RecordsPath.
// An incomplete fetch returns its partial result and an error wrapping
// ErrIncomplete; nothing is saved.
func (p *Pipeline) Fetch(ctx context.Context) (fetch.Result, error) {
	var (
		res fetch.Result
		err error
	)
	if w := p.Config.Fetch.Workers; w > 1 {
		res, err = p.Fetcher.FetchAllParallel(ctx, w)
	} else {
		res, err = p.Fetcher.FetchAll(ctx)
	}
	if err == nil && !res.Complete {
		err = errors.New("fetch ended before the last page")
	}
	if err != nil {
		fmt.Fprintf(p.out(), "fetch aborted after %d page(s), %d record(s): %v\n", res.Pages, len(res.Records), err)
		return res, fmt.Errorf("%w: %w", ErrIncomplete, err)
	}

	if err := fetch.WriteRecords(p.RecordsPath(), res.Records); err != nil {
		return res, err
	}
	fmt.Fprintf(p.out(), "fetched %d records from %d page(s)\n", len(res.Records), res.Pages)
	return res, nil
}

// Prepared is a normalized and classified snapshot.
type Prepared struct {
	Entities []types.Entity
	Edges    []types.RelationshipEdge
	Report   normalize.Report
	Excluded map[types.ExcludeReason]int
}

// Prepare normalizes and classifies raw records. Any rejected record or
// classification invariant failure is fatal.
func (p *Pipeline) Prepare(raws []types.RawRecord) (Prepared, error) {
	nres, err := normalize.Normalize(raws)
	p.Metrics.Rejected(len(nres.Report.Rejected))
	for kind, n := range nres.Report.DroppedEdges {
		p.Metrics.DroppedEdges(string(kind), n)
	}
	if err != nil {
		return Prepared{}, fmt.Errorf("normalizing: %d of %d record(s) rejected: %w",
			len(nres.Report.Rejected), len(raws), err)
	}
	if n := nres.Report.Dropped(); n > 0 {
		p.Logger.Warn().Int("dropped", n).Msg("unresolved relationship references dropped")
	}
	if n := nres.Report.DefaultedStatus; n > 0 {
		p.Logger.Warn().Int("records", n).Msg("missing govuk_status defaulted to live")
	}
	if names := nres.Report.UnknownFieldNames(); len(names) > 0 {
		p.Logger.Debug().Strs("fields", names).Msg("unmodelled record fields")
	}

	c, err := classify.New(p.Config.Classify)
	if err != nil {
		return Prepared{}, err
	}
	entities, err := c.ClassifyAll(nres.Entities)
	if err != nil {
		return Prepared{}, fmt.Errorf("classifying: %w", err)
	}
	excluded := classify.ExclusionCounts(entities)
	for reason, n := range excluded {
		p.Metrics.Excluded(string(reason), n)
	}

	fmt.Fprintf(p.out(), "normalized %d entities, %d edges (%d unresolved references dropped)\n",
		len(entities), len(nres.Edges), nres.Report.Dropped())
	return Prepared{Entities: entities, Edges: nres.Edges, Report: nres.Report, Excluded: excluded}, nil
}

// LoadRecords reads a raw record dump and prepares it.
func (p *Pipeline) LoadRecords(path string) (Prepared, error) {
	raws, err := fetch.ReadRecords(path)
	if err != nil {
		return Prepared{}, err
	}
	return p.Prepare(raws)
}

// WritePrepared writes the entity and relationship tables.
func (p *Pipeline) WritePrepared(ctx context.Context, prep Prepared) error {
	if err := p.Sink.Write(ctx, types.EntityTable(TableOrganisations, prep.Entities)); err != nil {
		return fmt.Errorf("writing %s: %w", TableOrganisations, err)
	}
	if err := p.Sink.Write(ctx, types.EdgeTable(TableRelationships, prep.Edges)); err != nil {
		return fmt.Errorf("writing %s: %w", TableRelationships, err)
	}
	return nil
}

// Reconcile diffs entities against the persisted snapshot table and
// writes the change table. With apply set the store is updated: the
// table is created when missing, rows are end-dated or appended, and the
// changes are appended to the store's change log.
func (p *Pipeline) Reconcile(ctx context.Context, entities []types.Entity, apply bool) (store.ApplyResult, error) {
	st, err := p.openStore(ctx)
	if err != nil {
		return store.ApplyResult{}, err
	}
	defer st.Close()

	repo, err := store.NewSnapshotRepository(st, p.Config.Store)
	if err != nil {
		return store.ApplyResult{}, err
	}
	rows := normalize.Project(entities, repo.Version(), nil)
	date := p.runDate()

	var res store.ApplyResult
	if apply {
		res, err = repo.Sync(ctx, rows, date)
	} else {
		res, err = repo.Plan(ctx, rows, date)
	}
	if err != nil {
		return store.ApplyResult{}, err
	}

	counts := diff.Counts(res.Changes)
	for kind, n := range counts {
		p.Metrics.Change(string(kind), n)
	}
	if err := p.Sink.Write(ctx, types.ChangeTable(TableChanges, res.Changes)); err != nil {
		return res, fmt.Errorf("writing %s: %w", TableChanges, err)
	}

	verb := "planned"
	if apply {
		verb = "applied"
	}
	if res.Seeded {
		fmt.Fprintf(p.out(), "%s snapshot %s: new table seeded with %d row(s)\n", verb, date, len(res.Rows))
	} else {
		fmt.Fprintf(p.out(), "%s snapshot %s: inserted: %d, updated: %d, ended: %d, reappeared: %d (%d change records)\n",
			verb, date, res.Inserted, res.Updated, res.Ended, res.Reappeared, len(res.Changes))
	}
	return res, nil
}

// MatchAuthority matches the non-excluded entities against the
// authoritative list at path and writes the match and unmatched tables.
func (p *Pipeline) MatchAuthority(ctx context.Context, entities []types.Entity, path string) (match.Result, error) {
	a, err := match.LoadAuthorityFile(path, p.Config.Match.NameColumn)
	if err != nil {
		return match.Result{}, err
	}
	primary := Included(entities)
	res := match.Match(primary, a.Entries, p.Config.Match.ScoreCutoff)

	reasons := make(map[types.UnmatchedReason]int)
	for _, u := range res.SecondaryUnmatched {
		reasons[u.Reason]++
	}
	p.Metrics.MatchOutcome("matched", len(res.Matches))
	p.Metrics.MatchOutcome("contested", len(res.Contested))
	p.Metrics.MatchOutcome("primary_unmatched", len(res.PrimaryUnmatched))
	for reason, n := range reasons {
		p.Metrics.MatchOutcome(string(reason), n)
	}

	if err := p.Sink.Write(ctx, match.MatchTable(TableMatches, a, res)); err != nil {
		return res, fmt.Errorf("writing %s: %w", TableMatches, err)
	}
	if err := p.Sink.Write(ctx, match.UnmatchedTable(TableUnmatched, a, res)); err != nil {
		return res, fmt.Errorf("writing %s: %w", TableUnmatched, err)
	}

	fmt.Fprintf(p.out(), "matched %d of %d entities to %d authority entries (cutoff %.0f); unmatched entries: %d no_match, %d ambiguous; contested: %d\n",
		len(res.Matches), len(primary), len(a.Entries), p.Config.Match.ScoreCutoff,
		reasons[types.UnmatchedNoMatch], reasons[types.UnmatchedAmbiguous], len(res.Contested))
	return res, nil
}

// Included returns the entities not flagged for exclusion.
func Included(entities []types.Entity) []types.Entity {
	var out []types.Entity
	for _, e := range entities {
		if !e.Exclude {
			out = append(out, e)
		}
	}
	return out
}

// Analyze classifies a historical series and writes the lifecycle
// reports: the full classified list, excluded groups, possible new and
// possible closed organisations, and the current list.
func (p *Pipeline) Analyze(ctx context.Context, series types.Series) (classify.SeriesResult, error) {
	c, err := classify.New(p.Config.Classify)
	if err != nil {
		return classify.SeriesResult{}, err
	}
	res, err := c.ClassifySeries(series)
	if err != nil {
		return classify.SeriesResult{}, fmt.Errorf("classifying series: %w", err)
	}

	excluded := res.Excluded()
	possibleNew := res.PossibleNew()
	possibleClosed := res.PossibleClosed()
	current := res.Current()
	tables := []types.Table{
		classify.SeriesTable(TableFullList, res.Snapshots),
		classify.ReportTable(TableExcluded, excluded),
		classify.ReportTable(TablePossibleNew, possibleNew),
		classify.ReportTable(TablePossibleClosed, possibleClosed),
		classify.ReportTable(TableCurrent, current),
	}
	for _, t := range tables {
		if err := p.Sink.Write(ctx, t); err != nil {
			return res, fmt.Errorf("writing %s: %w", t.Name, err)
		}
	}

	fmt.Fprintf(p.out(), "classified %d snapshot(s) %s to %s: %d groups\n",
		len(res.Snapshots), res.Earliest, res.Latest, len(res.Groups))
	fmt.Fprintf(p.out(), "excluded: %d, possible new: %d, possible closed: %d, current: %d\n",
		len(excluded), len(possibleNew), len(possibleClosed), len(current))
	return res, nil
}

// RunOptions selects the optional stages of Run.
type RunOptions struct {
	// Apply writes the reconciled snapshot to the store. Without it the
	// store is only read.
	Apply bool

	// AuthorityFile overrides Config.Match.AuthorityFile. Matching is
	// skipped when both are empty.
	AuthorityFile string
}

// Summary reports what one Run did.
type Summary struct {
	Pages    int
	Records  int
	Entities int
	Edges    int

	DroppedEdges map[types.EdgeKind]int
	Excluded     map[types.ExcludeReason]int

	Snapshot store.ApplyResult

	// Match is nil when matching was skipped.
	Match *match.Result
}

// Run executes fetch, prepare, write, reconcile, and optionally match.
// A failed fetch returns before any write.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	started := time.Now()
	var sum Summary

	fres, err := p.Fetch(ctx)
	sum.Pages, sum.Records = fres.Pages, len(fres.Records)
	if err != nil {
		p.WriteMetrics()
		return sum, err
	}

	prep, err := p.Prepare(fres.Records)
	if err != nil {
		p.WriteMetrics()
		return sum, err
	}
	sum.Entities, sum.Edges = len(prep.Entities), len(prep.Edges)
	sum.DroppedEdges, sum.Excluded = prep.Report.DroppedEdges, prep.Excluded

	if err := p.WritePrepared(ctx, prep); err != nil {
		return sum, err
	}

	if sum.Snapshot, err = p.Reconcile(ctx, prep.Entities, opts.Apply); err != nil {
		return sum, err
	}

	authority := opts.AuthorityFile
	if authority == "" {
		authority = p.Config.Match.AuthorityFile
	}
	if authority != "" {
		mres, err := p.MatchAuthority(ctx, prep.Entities, authority)
		if err != nil {
			return sum, err
		}
		sum.Match = &mres
	}

	p.printExclusions(prep.Excluded)
	if err := p.WriteMetrics(); err != nil {
		return sum, err
	}
	fmt.Fprintf(p.out(), "done in %s\n", time.Since(started).Round(time.Millisecond))
	return sum, nil
}

func (p *Pipeline) printExclusions(excluded map[types.ExcludeReason]int) {
	reasons := make([]string, 0, len(excluded))
	for r := range excluded {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(p.out(), "excluded (%s): %d\n", r, excluded[types.ExcludeReason(r)])
	}
}

// WriteMetrics writes the metrics textfile when one is configured.
func (p *Pipeline) WriteMetrics() error {
	path := p.Config.MetricsFile
	if path == "" {
		return nil
	}
	if err := p.Metrics.WriteTextfile(path); err != nil {
		p.Logger.Error().Err(err).Str("path", path).Msg("writing metrics textfile")
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

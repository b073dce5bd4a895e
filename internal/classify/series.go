// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// Group is one organisation identity across a series: entities sharing a
// title, identifier, and exclusion outcome. A change of format into or
// out of an excluded category starts a new group.
type Group struct {
	Title               string              `json:"title" yaml:"title"`
	AnalyticsIdentifier string              `json:"analytics_identifier" yaml:"analytics_identifier"`
	Exclude             bool                `json:"exclude" yaml:"exclude"`
	ExcludeReason       types.ExcludeReason `json:"exclude_reason" yaml:"exclude_reason"`

	// First and Last are the first and last capture dates the group
	// appears in.
	First string `json:"first" yaml:"first"`
	Last  string `json:"last" yaml:"last"`

	// StartedInSeries is false when the group is present in the earliest
	// snapshot: its start predates the series.
	StartedInSeries bool `json:"started_in_series" yaml:"started_in_series"`

	// EndedInSeries is false when the group is present in the latest
	// snapshot: it is still present.
	EndedInSeries bool `json:"ended_in_series" yaml:"ended_in_series"`

	// Appearances counts the snapshots the group appears in.
	Appearances int `json:"appearances" yaml:"appearances"`

	// AtFirst and AtLast are the entity as captured at First and Last.
	AtFirst types.Entity `json:"-" yaml:"-"`
	AtLast  types.Entity `json:"-" yaml:"-"`
}

type groupKey struct {
	title   string
	ident   string
	exclude bool
	reason  types.ExcludeReason
}

// SeriesResult is a classified series with its appearance bounds.
type SeriesResult struct {
	// Snapshots holds every entity classified, status-excluded ones
	// included.
	Snapshots types.Series

	Earliest string
	Latest   string

	// Groups is sorted by title, identifier, exclude flag, and reason.
	Groups []Group

	since string
}

// ClassifySeries classifies every snapshot of series and groups the
// results by (title, identifier, exclude, reason). Status-excluded
// entities are left out of the groups unless the Classifier keeps them.
func (c *Classifier) ClassifySeries(series types.Series) (SeriesResult, error) {
	if err := series.Validate(); err != nil {
		return SeriesResult{}, err
	}

	res := SeriesResult{
		Snapshots: make(types.Series, len(series)),
		Earliest:  series.Earliest(),
		Latest:    series.Latest(),
		since:     c.since,
	}

	index := make(map[groupKey]int)
	for i, snap := range series {
		entities, err := c.ClassifyAll(snap.Entities)
		if err != nil {
			return SeriesResult{}, fmt.Errorf("snapshot %s: %w", snap.Date, err)
		}
		res.Snapshots[i] = types.Snapshot{Date: snap.Date, Entities: entities}

		seen := make(map[groupKey]bool)
		for _, e := range entities {
			if e.ExcludeReason == types.ExcludeStatus && !c.keepStatusExcluded {
				continue
			}
			k := groupKey{title: e.Title, ident: e.AnalyticsIdentifier, exclude: e.Exclude, reason: e.ExcludeReason}
			if seen[k] {
				continue
			}
			seen[k] = true

			gi, ok := index[k]
			if !ok {
				index[k] = len(res.Groups)
				res.Groups = append(res.Groups, Group{
					Title:               e.Title,
					AnalyticsIdentifier: e.AnalyticsIdentifier,
					Exclude:             e.Exclude,
					ExcludeReason:       e.ExcludeReason,
					First:               snap.Date,
					AtFirst:             e,
				})
				gi = len(res.Groups) - 1
			}
			g := &res.Groups[gi]
			g.Last = snap.Date
			g.AtLast = e
			g.Appearances++
		}
	}

	for i := range res.Groups {
		g := &res.Groups[i]
		g.StartedInSeries = g.First != res.Earliest
		g.EndedInSeries = g.Last != res.Latest
	}
	sort.SliceStable(res.Groups, func(i, j int) bool {
		a, b := res.Groups[i], res.Groups[j]
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		if a.AnalyticsIdentifier != b.AnalyticsIdentifier {
			return a.AnalyticsIdentifier < b.AnalyticsIdentifier
		}
		if a.Exclude != b.Exclude {
			return !a.Exclude
		}
		return a.ExcludeReason < b.ExcludeReason
	})
	return res, nil
}

// ReportRow is one organisation in a lifecycle report.
type ReportRow struct {
	Title               string   `json:"title" yaml:"title"`
	AnalyticsIdentifier string   `json:"analytics_identifier" yaml:"analytics_identifier"`
	Format              string   `json:"format" yaml:"format"`
	GovukStatus         string   `json:"govuk_status" yaml:"govuk_status"`
	GovukClosedStatus   string   `json:"govuk_closed_status" yaml:"govuk_closed_status"`
	FirstAppearance     string   `json:"first_appearance" yaml:"first_appearance"`
	LastAppearance      string   `json:"last_appearance" yaml:"last_appearance"`
	DataAsAt            string   `json:"data_as_at" yaml:"data_as_at"`
	Superseded          []string `json:"superseded_organisations,omitempty" yaml:"superseded_organisations,omitempty"`
	Superseding         []string `json:"superseding_organisations,omitempty" yaml:"superseding_organisations,omitempty"`
}

func reportRow(g Group, at types.Entity, asAt string) ReportRow {
	return ReportRow{
		Title:               g.Title,
		AnalyticsIdentifier: g.AnalyticsIdentifier,
		Format:              at.Format,
		GovukStatus:         string(at.GovukStatus),
		GovukClosedStatus:   at.GovukClosedStatus,
		FirstAppearance:     g.First,
		LastAppearance:      g.Last,
		DataAsAt:            asAt,
		Superseded:          at.SupersededOrganisations,
		Superseding:         at.SupersedingOrganisations,
	}
}

// Excluded lists excluded groups as captured at their last appearance.
// Appearance dates equal to the series bounds are blanked, since they say
// nothing about when the organisation started or stopped.
func (r SeriesResult) Excluded() []ReportRow {
	var rows []ReportRow
	for _, g := range r.Groups {
		if !g.Exclude {
			continue
		}
		row := reportRow(g, g.AtLast, g.Last)
		if !g.StartedInSeries {
			row.FirstAppearance = ""
		}
		if !g.EndedInSeries {
			row.LastAppearance = ""
		}
		rows = append(rows, row)
	}
	return rows
}

// PossibleNew lists included groups that first appeared after the
// earliest snapshot and on or after the since date, sorted by first
// appearance. Rows describe the entity as first captured.
func (r SeriesResult) PossibleNew() []ReportRow {
	var rows []ReportRow
	for _, g := range r.Groups {
		if g.Exclude || !g.StartedInSeries || g.First < r.since {
			continue
		}
		rows = append(rows, reportRow(g, g.AtFirst, g.First))
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].FirstAppearance < rows[j].FirstAppearance })
	return rows
}

// PossibleClosed lists included groups that last appeared before the
// latest snapshot and on or after the since date, sorted by last
// appearance. Rows describe the entity as last captured.
func (r SeriesResult) PossibleClosed() []ReportRow {
	var rows []ReportRow
	for _, g := range r.Groups {
		if g.Exclude || !g.EndedInSeries || g.Last < r.since {
			continue
		}
		rows = append(rows, reportRow(g, g.AtLast, g.Last))
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].LastAppearance < rows[j].LastAppearance })
	return rows
}

// Current lists included groups present in the latest snapshot, sorted
// by title. It is the list matched against the authoritative source.
func (r SeriesResult) Current() []ReportRow {
	var rows []ReportRow
	for _, g := range r.Groups {
		if g.Exclude || g.EndedInSeries {
			continue
		}
		rows = append(rows, reportRow(g, g.AtLast, g.Last))
	}
	return rows
}

// CurrentEntities returns the entities behind Current, in the same order.
func (r SeriesResult) CurrentEntities() []types.Entity {
	var out []types.Entity
	for _, g := range r.Groups {
		if g.Exclude || g.EndedInSeries {
			continue
		}
		out = append(out, g.AtLast)
	}
	return out
}

// ReportColumns is the column order of lifecycle report tables.
var ReportColumns = []string{
	"title", "analytics_identifier", "format", "govuk_status", "govuk_closed_status",
	"first_appearance", "last_appearance", "data_as_at",
	"superseded_organisations", "superseding_organisations",
}

// ReportTable renders report rows as a Table. Relationship lists are
// joined with "; ".
func ReportTable(name string, rows []ReportRow) types.Table {
	t := types.Table{Name: name, Columns: ReportColumns, Rows: make([]types.Row, len(rows))}
	for i, r := range rows {
		t.Rows[i] = types.Row{
			"title":                     r.Title,
			"analytics_identifier":      r.AnalyticsIdentifier,
			"format":                    r.Format,
			"govuk_status":              r.GovukStatus,
			"govuk_closed_status":       r.GovukClosedStatus,
			"first_appearance":          r.FirstAppearance,
			"last_appearance":           r.LastAppearance,
			"data_as_at":                r.DataAsAt,
			"superseded_organisations":  strings.Join(r.Superseded, "; "),
			"superseding_organisations": strings.Join(r.Superseding, "; "),
		}
	}
	return t
}

// SeriesTable renders every classified entity of the series with its
// capture date as a Table.
func SeriesTable(name string, series types.Series) types.Table {
	t := types.Table{Name: name, Columns: append([]string{"date"}, types.EntityColumns...)}
	for _, snap := range series {
		for _, e := range snap.Entities {
			row := e.Row()
			row["date"] = snap.Date
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}

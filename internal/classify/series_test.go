// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

func snap(date string, entities ...types.Entity) types.Snapshot {
	return types.Snapshot{Date: date, Entities: entities}
}

func titlesOf(rows []ReportRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Title
	}
	return out
}

func TestClassifySeries_BoundaryEntityNeverNewOrClosed(t *testing.T) {
	c := defaultClassifier(t)
	steady := entity("Steady Agency", "EA1", "Executive agency", types.StatusLive, "")
	series := types.Series{
		snap("20240101", steady),
		snap("20240201", steady),
		snap("20240301", steady),
	}

	res, err := c.ClassifySeries(series)
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)

	g := res.Groups[0]
	assert.Equal(t, "20240101", g.First)
	assert.Equal(t, "20240301", g.Last)
	assert.Equal(t, 3, g.Appearances)
	assert.False(t, g.StartedInSeries)
	assert.False(t, g.EndedInSeries)
	assert.Empty(t, res.PossibleNew())
	assert.Empty(t, res.PossibleClosed())
	assert.Equal(t, []string{"Steady Agency"}, titlesOf(res.Current()))
}

func TestClassifySeries_NewAndClosed(t *testing.T) {
	c := defaultClassifier(t)
	steady := entity("Steady Agency", "EA1", "Executive agency", types.StatusLive, "")
	leaving := entity("Leaving Board", "OT1", "Advisory non-departmental public body", types.StatusLive, "")
	arriving := entity("Arriving Office", "OT2", "Other", types.StatusLive, "")

	res, err := c.ClassifySeries(types.Series{
		snap("20240101", steady, leaving),
		snap("20240201", steady, leaving, arriving),
		snap("20240301", steady, arriving),
	})
	require.NoError(t, err)

	newRows := res.PossibleNew()
	require.Len(t, newRows, 1)
	assert.Equal(t, "Arriving Office", newRows[0].Title)
	assert.Equal(t, "20240201", newRows[0].FirstAppearance)
	assert.Equal(t, "20240201", newRows[0].DataAsAt)

	closedRows := res.PossibleClosed()
	require.Len(t, closedRows, 1)
	assert.Equal(t, "Leaving Board", closedRows[0].Title)
	assert.Equal(t, "20240201", closedRows[0].LastAppearance)

	assert.Equal(t, []string{"Arriving Office", "Steady Agency"}, titlesOf(res.Current()))
	assert.Len(t, res.CurrentEntities(), 2)
}

func TestClassifySeries_SinceFilters(t *testing.T) {
	cfg := types.DefaultPipelineConfig().Classify
	cfg.Since = "20240301"
	c, err := New(cfg)
	require.NoError(t, err)

	early := entity("Early Arrival", "OT1", "Other", types.StatusLive, "")
	late := entity("Late Arrival", "OT2", "Other", types.StatusLive, "")
	base := entity("Base", "OT3", "Other", types.StatusLive, "")

	res, err := c.ClassifySeries(types.Series{
		snap("20240101", base),
		snap("20240201", base, early),
		snap("20240301", base, early, late),
		snap("20240401", base, early, late),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Late Arrival"}, titlesOf(res.PossibleNew()))
}

func TestClassifySeries_StatusExcludedDropped(t *testing.T) {
	c := defaultClassifier(t)
	live := entity("Body", "OT1", "Other", types.StatusLive, "")
	closed := entity("Body", "OT1", "Other", types.StatusTransitioning, "merged")

	res, err := c.ClassifySeries(types.Series{
		snap("20240101", live),
		snap("20240201", live),
		snap("20240301", closed),
	})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "20240201", res.Groups[0].Last)
	assert.True(t, res.Groups[0].EndedInSeries)
	assert.Equal(t, []string{"Body"}, titlesOf(res.PossibleClosed()))

	// Classified snapshots keep the status-excluded entity.
	require.Len(t, res.Snapshots[2].Entities, 1)
	assert.Equal(t, types.StatusClosed, res.Snapshots[2].Entities[0].GovukStatus)

	cfg := types.DefaultPipelineConfig().Classify
	cfg.KeepStatusExcluded = true
	keep, err := New(cfg)
	require.NoError(t, err)
	res, err = keep.ClassifySeries(types.Series{
		snap("20240101", live),
		snap("20240201", live),
		snap("20240301", closed),
	})
	require.NoError(t, err)
	require.Len(t, res.Groups, 2)
	excluded := res.Excluded()
	require.Len(t, excluded, 1)
	assert.Equal(t, "closed", excluded[0].GovukStatus)
	assert.Equal(t, "20240301", excluded[0].FirstAppearance)
	assert.Empty(t, excluded[0].LastAppearance)
	assert.Equal(t, "20240301", excluded[0].DataAsAt)
}

func TestClassifySeries_FormatChangeStartsNewGroup(t *testing.T) {
	c := defaultClassifier(t)
	before := entity("Shifting Body", "OT1", "Other", types.StatusLive, "")
	after := entity("Shifting Body", "OT1", "Sub organisation", types.StatusLive, "")

	res, err := c.ClassifySeries(types.Series{
		snap("20240101", before),
		snap("20240201", before),
		snap("20240301", after),
	})
	require.NoError(t, err)
	require.Len(t, res.Groups, 2)
	assert.False(t, res.Groups[0].Exclude)
	assert.True(t, res.Groups[1].Exclude)

	excluded := res.Excluded()
	require.Len(t, excluded, 1)
	assert.Equal(t, "Sub organisation", excluded[0].Format)
	assert.Equal(t, "20240301", excluded[0].FirstAppearance)
	assert.Empty(t, excluded[0].LastAppearance)
}

func TestClassifySeries_Errors(t *testing.T) {
	c := defaultClassifier(t)

	_, err := c.ClassifySeries(types.Series{snap("20240201"), snap("20240101")})
	assert.Error(t, err)

	_, err = c.ClassifySeries(types.Series{
		snap("20240101", entity("Bad", "X1", "Other", types.StatusTransitioning, "")),
	})
	assert.ErrorIs(t, err, ErrInvariant)
	assert.Contains(t, err.Error(), "snapshot 20240101")
}

func TestReportTable(t *testing.T) {
	rows := []ReportRow{{
		Title: "Body", AnalyticsIdentifier: "OT1", Format: "Other", GovukStatus: "live",
		FirstAppearance: "20240201", DataAsAt: "20240201",
		Superseded: []string{"a", "b"},
	}}
	tbl := ReportTable("possible_new", rows)
	assert.Equal(t, ReportColumns, tbl.Columns)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "a; b", tbl.Rows[0]["superseded_organisations"])
	assert.Equal(t, "", tbl.Rows[0]["superseding_organisations"])

	series := types.Series{snap("20240101", entity("Body", "OT1", "Other", types.StatusLive, ""))}
	st := SeriesTable("full_list", series)
	assert.Equal(t, "date", st.Columns[0])
	require.Len(t, st.Rows, 1)
	assert.Equal(t, "20240101", st.Rows[0]["date"])
	assert.Equal(t, "false", st.Rows[0]["exclude"])
}

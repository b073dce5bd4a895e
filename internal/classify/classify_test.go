// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

func defaultClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(types.DefaultPipelineConfig().Classify)
	require.NoError(t, err)
	return c
}

func entity(title, ident, format string, status types.LifecycleStatus, closed string) types.Entity {
	return types.Entity{
		ID:                  "https://www.gov.uk/api/organisations/" + ident,
		Title:               title,
		AnalyticsIdentifier: ident,
		Format:              format,
		GovukStatus:         status,
		GovukClosedStatus:   closed,
	}
}

func TestClassify_CategoryOverride(t *testing.T) {
	c := defaultClassifier(t)

	got, err := c.Classify(entity("Office for National Statistics", "EA1", "Non-ministerial department", types.StatusLive, ""))
	require.NoError(t, err)
	assert.Equal(t, "Executive office", got.Format)
	assert.True(t, got.Exclude)
	assert.Equal(t, types.ExcludeFormat, got.ExcludeReason)

	got, err = c.Classify(entity("Department for International Trade", "D2", "Other", types.StatusLive, ""))
	require.NoError(t, err)
	assert.Equal(t, "Ministerial department", got.Format)
	assert.Equal(t, types.ExcludeFormat, got.ExcludeReason)

	got, err = c.Classify(entity("Ordnance Survey", "D38", "Other", types.StatusLive, ""))
	require.NoError(t, err)
	assert.Equal(t, "Other", got.Format)
	assert.False(t, got.Exclude)
	assert.Equal(t, types.ExcludeNone, got.ExcludeReason)
}

func TestClassify_StatusResolution(t *testing.T) {
	c := defaultClassifier(t)
	tests := []struct {
		name       string
		status     types.LifecycleStatus
		closed     string
		wantStatus types.LifecycleStatus
		wantClosed string
	}{
		{"transitioning merged", types.StatusTransitioning, "merged", types.StatusClosed, "merged"},
		{"exempt replaced", types.StatusExempt, "replaced", types.StatusClosed, "replaced"},
		{"transitioning devolved", types.StatusTransitioning, "devolved", types.StatusDevolved, "devolved"},
		{"exempt", types.StatusExempt, "", types.StatusLive, ""},
		{"live keeps status, clears closed", types.StatusLive, "left_gov", types.StatusLive, ""},
		{"closed untouched", types.StatusClosed, "devolved", types.StatusClosed, "devolved"},
		{"joining untouched", types.StatusJoining, "", types.StatusJoining, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(entity("Example Body", "OT1", "Executive agency", tt.status, tt.closed))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.GovukStatus)
			assert.Equal(t, tt.wantClosed, got.GovukClosedStatus)
		})
	}
}

func TestClassify_ResolvedSetIsClosed(t *testing.T) {
	c := defaultClassifier(t)
	statuses := []types.LifecycleStatus{
		types.StatusLive, types.StatusClosed, types.StatusDevolved, types.StatusJoining,
		types.StatusExempt, types.StatusTransitioning,
	}
	closed := []string{"", "changed_name", "left_gov", "merged", "no_longer_exists", "replaced", "split", "devolved"}

	for _, s := range statuses {
		for _, cs := range closed {
			got, err := c.Classify(entity("Example Body", "OT1", "Executive agency", s, cs))
			if err != nil {
				assert.ErrorIs(t, err, ErrInvariant)
				continue
			}
			assert.True(t, got.GovukStatus.IsResolved(), "%s/%s -> %s", s, cs, got.GovukStatus)
			assert.NotEqual(t, types.StatusExempt, got.GovukStatus)
			if got.GovukStatus == types.StatusLive {
				assert.Empty(t, got.GovukClosedStatus, "%s/%s", s, cs)
			}
		}
	}
}

func TestClassify_InvariantError(t *testing.T) {
	c := defaultClassifier(t)
	_, err := c.Classify(entity("Shadow Body", "OT9", "Other", types.StatusTransitioning, ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvariant)

	var inv *InvariantError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, "Shadow Body", inv.Title)
	assert.Equal(t, types.StatusTransitioning, inv.Status)
	assert.Contains(t, err.Error(), "OT9")

	_, err = c.Classify(entity("Odd Body", "OT8", "Other", "paused", ""))
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestClassify_StatusExclusionOverridesFormat(t *testing.T) {
	c := defaultClassifier(t)

	got, err := c.Classify(entity("Old Tribunal", "OT2", "Tribunal", types.StatusTransitioning, "merged"))
	require.NoError(t, err)
	assert.True(t, got.Exclude)
	assert.Equal(t, types.ExcludeStatus, got.ExcludeReason)

	for _, s := range []types.LifecycleStatus{types.StatusClosed, types.StatusDevolved, types.StatusJoining} {
		got, err := c.Classify(entity("Some Court", "OT3", "Court", s, ""))
		require.NoError(t, err)
		assert.Equal(t, types.ExcludeStatus, got.ExcludeReason, s)
	}
}

func TestClassify_DoesNotMutateInput(t *testing.T) {
	c := defaultClassifier(t)
	in := []types.Entity{
		entity("Example Body", "OT1", "Tribunal", types.StatusExempt, "merged"),
	}
	out, err := c.ClassifyAll(in)
	require.NoError(t, err)

	assert.Equal(t, types.StatusExempt, in[0].GovukStatus)
	assert.False(t, in[0].Exclude)
	assert.Equal(t, types.StatusClosed, out[0].GovukStatus)
}

func TestClassify_Reclassify(t *testing.T) {
	c := defaultClassifier(t)
	first, err := c.Classify(entity("Old Tribunal", "OT2", "Tribunal", types.StatusTransitioning, "merged"))
	require.NoError(t, err)
	second, err := c.Classify(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNew_InvalidSince(t *testing.T) {
	_, err := New(types.ClassifyConfig{Since: "2023-01-01"})
	assert.Error(t, err)
}

func TestNew_OverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Example Agency: Executive office\n"), 0o644))

	cfg := types.DefaultPipelineConfig().Classify
	cfg.OverridesFile = path
	c, err := New(cfg)
	require.NoError(t, err)

	out, err := c.Classify(entity("Example Agency", "EA1", "Executive agency", types.StatusLive, ""))
	require.NoError(t, err)
	assert.Equal(t, "Executive office", out.Format)
	assert.Equal(t, types.ExcludeFormat, out.ExcludeReason)

	cfg.OverridesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestExclusionCounts(t *testing.T) {
	c := defaultClassifier(t)
	out, err := c.ClassifyAll([]types.Entity{
		entity("A", "A1", "Tribunal", types.StatusLive, ""),
		entity("B", "B1", "Executive agency", types.StatusClosed, "merged"),
		entity("C", "C1", "Executive agency", types.StatusLive, ""),
	})
	require.NoError(t, err)
	assert.Equal(t, map[types.ExcludeReason]int{
		types.ExcludeFormat: 1,
		types.ExcludeStatus: 1,
	}, ExclusionCounts(out))
}

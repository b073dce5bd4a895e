// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

func row(id, title, status string) types.Row {
	return types.Row{"id": id, "title": title, "govuk_status": status}
}

func TestDiff_SingleFieldUpdate(t *testing.T) {
	current := []types.Row{row("id1", "Example Agency", "live")}
	persisted := []types.Row{row("id1", "Example Agency", "closed")}

	changes, err := Diff(current, persisted, nil, DefaultCompareColumns)
	require.NoError(t, err)
	assert.Equal(t, []types.ChangeRecord{{
		Key:      "id1",
		Field:    "govuk_status",
		OldValue: "closed",
		NewValue: "live",
		Kind:     types.ChangeUpdated,
	}}, changes)
}

func TestDiff_IdenticalSnapshotsProduceNothing(t *testing.T) {
	rows := []types.Row{row("id1", "A", "live"), row("id2", "B", "closed")}
	changes, err := Diff(rows, rows, nil, DefaultCompareColumns)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDiff_InsertedAndRemoved(t *testing.T) {
	current := []types.Row{row("id1", "A", "live"), row("id3", "C", "live")}
	persisted := []types.Row{row("id1", "A", "live"), row("id2", "B", "closed")}

	changes, err := Diff(current, persisted, nil, []string{"title", "govuk_status", "format"})
	require.NoError(t, err)
	assert.Equal(t, []types.ChangeRecord{
		{Key: "id2", Field: "govuk_status", OldValue: "closed", Kind: types.ChangeRemoved},
		{Key: "id2", Field: "title", OldValue: "B", Kind: types.ChangeRemoved},
		{Key: "id3", Field: "govuk_status", NewValue: "live", Kind: types.ChangeInserted},
		{Key: "id3", Field: "title", NewValue: "C", Kind: types.ChangeInserted},
	}, changes)

	counts := Counts(changes)
	assert.Equal(t, 2, counts[types.ChangeInserted])
	assert.Equal(t, 2, counts[types.ChangeRemoved])
	assert.Zero(t, counts[types.ChangeUpdated])
}

func TestDiff_InsertedWithNoValuesStillRecorded(t *testing.T) {
	changes, err := Diff([]types.Row{{"id": "id9"}}, nil, nil, DefaultCompareColumns)
	require.NoError(t, err)
	assert.Equal(t, []types.ChangeRecord{
		{Key: "id9", Field: "id", NewValue: "id9", Kind: types.ChangeInserted},
	}, changes)
}

func TestDiff_NullAndMissingAreEqual(t *testing.T) {
	current := []types.Row{{"id": "id1", "title": "A", "closed_at": ""}}
	persisted := []types.Row{{"id": "id1", "title": "A"}}
	changes, err := Diff(current, persisted, nil, DefaultCompareColumns)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDiff_OrderIndependent(t *testing.T) {
	a := []types.Row{row("id1", "A", "live"), row("id2", "B", "live"), row("id3", "C", "closed")}
	b := []types.Row{row("id3", "C", "live"), row("id2", "B2", "live"), row("id4", "D", "live")}

	first, err := Diff(a, b, nil, DefaultCompareColumns)
	require.NoError(t, err)

	reversed := []types.Row{a[2], a[1], a[0]}
	shuffled := []types.Row{b[1], b[2], b[0]}
	second, err := Diff(reversed, shuffled, nil, DefaultCompareColumns)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for i := 0; i < 5; i++ {
		again, err := Diff(a, b, nil, DefaultCompareColumns)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDiff_CompositeKey(t *testing.T) {
	keys := []string{"id", "format"}
	current := []types.Row{{"id": "id1", "format": "Other", "title": "New"}}
	persisted := []types.Row{{"id": "id1", "format": "Other", "title": "Old"}}

	changes, err := Diff(current, persisted, keys, []string{"title"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "id1|Other", changes[0].Key)
}

func TestDiff_CompositeKeyWithSeparatorInValues(t *testing.T) {
	keys := []string{"a", "b"}
	current := []types.Row{
		{"a": "x|y", "b": "z", "title": "First"},
		{"a": "x", "b": "y|z", "title": "Second"},
		{"a": `x\`, "b": "|z", "title": "Third"},
	}

	changes, err := Diff(current, nil, keys, []string{"title"})
	require.NoError(t, err)
	require.Len(t, changes, 3)

	got := make([]string, len(changes))
	for i, c := range changes {
		assert.Equal(t, types.ChangeInserted, c.Kind)
		got[i] = c.Key
	}
	assert.ElementsMatch(t, []string{`x\|y|z`, `x|y\|z`, `x\\|\|z`}, got)

	persisted := []types.Row{{"a": "x", "b": "y|z", "title": "Old"}}
	changes, err = Diff(current[1:2], persisted, keys, []string{"title"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, types.ChangeUpdated, changes[0].Kind)
	assert.Equal(t, `x|y\|z`, changes[0].Key)
}

func TestKey(t *testing.T) {
	key, ok := Key(types.Row{"id": "a|b"}, []string{"id"})
	assert.True(t, ok)
	assert.Equal(t, "a|b", key)

	key, ok = Key(types.Row{"id": "", "format": ""}, []string{"id", "format"})
	assert.False(t, ok)
	assert.Equal(t, "|", key)

	key, ok = Key(types.Row{"format": "Other"}, []string{"id", "format"})
	assert.True(t, ok)
	assert.Equal(t, "|Other", key)
}

func TestDiff_Errors(t *testing.T) {
	dup := []types.Row{row("id1", "A", "live"), row("id1", "B", "live")}
	_, err := Diff(dup, nil, nil, DefaultCompareColumns)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	var dk *DuplicateKeyError
	_, err = Diff(nil, dup, nil, DefaultCompareColumns)
	require.ErrorAs(t, err, &dk)
	assert.Equal(t, "persisted", dk.Snapshot)
	assert.Equal(t, "id1", dk.Key)

	_, err = Diff([]types.Row{{"title": "no id"}}, nil, nil, DefaultCompareColumns)
	assert.ErrorContains(t, err, "empty key")
}

func TestAdapters(t *testing.T) {
	e := types.Entity{ID: "id1", Title: "A", GovukStatus: types.StatusLive}
	p := types.PersistedRow{ID: "id1", Title: "A", GovukStatus: "closed", StartDate: "2024-01-01"}

	changes, err := Diff(EntityRows([]types.Entity{e}), PersistedRows([]types.PersistedRow{p}), nil, DefaultCompareColumns)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "govuk_status", changes[0].Field)
	assert.Equal(t, "live", changes[0].NewValue)
}

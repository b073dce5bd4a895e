// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package diff compares a current snapshot with a persisted one and
// produces field-level change records.
//
// Rows are aligned by their key columns. A row only in current is
// inserted, a row only in persisted is removed, and a row in both yields
// one updated record per compare column whose values differ. Empty and
// missing values are the same null value. Output is sorted by key, field,
// and kind, so input order never affects it.
package diff

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// ErrDuplicateKey matches a snapshot holding two rows with the same key.
var ErrDuplicateKey = errors.New("duplicate key")

// DuplicateKeyError reports a key that occurs more than once in one
// snapshot. Diffing needs a unique key per row.
type DuplicateKeyError struct {
	// Snapshot is "current" or "persisted".
	Snapshot string
	Key      string
}

// Error implements the error interface
func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s snapshot: duplicate key %q", e.Snapshot, e.Key)
}

// Is implements errors.Is support
func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

// DefaultKeyColumns aligns rows by entity id.
var DefaultKeyColumns = []string{"id"}

// DefaultCompareColumns are the persisted columns that describe an entity.
var DefaultCompareColumns = []string{
	"title", "format", "web_url", "analytics_identifier", "closed_at",
	"govuk_status", "govuk_closed_status",
}

// keySeparator joins the values of multi-column keys. Separators and
// backslashes inside a value are escaped so distinct keys never join to
// the same string.
const keySeparator = "|"

var keyEscaper = strings.NewReplacer(`\`, `\\`, keySeparator, `\`+keySeparator)

// Diff returns the changes that turn persisted into current. Key columns
// default to DefaultKeyColumns. A row with an empty key is an error, as
// is a key repeated within one snapshot.
func Diff(current, persisted []types.Row, keyColumns, compareColumns []string) ([]types.ChangeRecord, error) {
	if len(keyColumns) == 0 {
		keyColumns = DefaultKeyColumns
	}
	cur, err := index("current", current, keyColumns)
	if err != nil {
		return nil, err
	}
	old, err := index("persisted", persisted, keyColumns)
	if err != nil {
		return nil, err
	}

	var changes []types.ChangeRecord
	for key, row := range cur {
		prev, ok := old[key]
		if !ok {
			changes = append(changes, sided(key, row, keyColumns, compareColumns, types.ChangeInserted)...)
			continue
		}
		for _, col := range compareColumns {
			if row[col] != prev[col] {
				changes = append(changes, types.ChangeRecord{
					Key:      key,
					Field:    col,
					OldValue: prev[col],
					NewValue: row[col],
					Kind:     types.ChangeUpdated,
				})
			}
		}
	}
	for key, row := range old {
		if _, ok := cur[key]; !ok {
			changes = append(changes, sided(key, row, keyColumns, compareColumns, types.ChangeRemoved)...)
		}
	}

	Sort(changes)
	return changes, nil
}

// sided emits one record per non-empty compare column of a row present on
// one side only. A row with every compare column empty still yields one
// record, on the first key column, so its presence is never lost.
func sided(key string, row types.Row, keyColumns, compareColumns []string, kind types.ChangeKind) []types.ChangeRecord {
	var out []types.ChangeRecord
	emit := func(col string) {
		c := types.ChangeRecord{Key: key, Field: col, Kind: kind}
		if kind == types.ChangeInserted {
			c.NewValue = row[col]
		} else {
			c.OldValue = row[col]
		}
		out = append(out, c)
	}
	for _, col := range compareColumns {
		if row[col] != "" {
			emit(col)
		}
	}
	if len(out) == 0 {
		emit(keyColumns[0])
	}
	return out
}

// index keys rows by their key columns.
func index(snapshot string, rows []types.Row, keyColumns []string) (map[string]types.Row, error) {
	out := make(map[string]types.Row, len(rows))
	for i, r := range rows {
		key, ok := Key(r, keyColumns)
		if !ok {
			return nil, fmt.Errorf("%s snapshot: row %d has an empty key (%s)", snapshot, i, strings.Join(keyColumns, ", "))
		}
		if _, dup := out[key]; dup {
			return nil, &DuplicateKeyError{Snapshot: snapshot, Key: key}
		}
		out[key] = r
	}
	return out, nil
}

// Key returns the row's key. A single key column is used as-is; multiple
// columns are escaped and joined with "|", so ("x|y", "z") becomes
// `x\|y|z`. It reports false when every key column is empty.
func Key(r types.Row, keyColumns []string) (string, bool) {
	if len(keyColumns) == 1 {
		v := r[keyColumns[0]]
		return v, v != ""
	}
	vals := make([]string, len(keyColumns))
	empty := true
	for i, c := range keyColumns {
		if r[c] != "" {
			empty = false
		}
		vals[i] = keyEscaper.Replace(r[c])
	}
	return strings.Join(vals, keySeparator), !empty
}

var kindOrder = map[types.ChangeKind]int{
	types.ChangeInserted: 0,
	types.ChangeUpdated:  1,
	types.ChangeRemoved:  2,
}

// Sort orders change records by key, field, and kind.
func Sort(changes []types.ChangeRecord) {
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return kindOrder[a.Kind] < kindOrder[b.Kind]
	})
}

// Counts tallies change records by kind.
func Counts(changes []types.ChangeRecord) map[types.ChangeKind]int {
	counts := make(map[types.ChangeKind]int)
	for _, c := range changes {
		counts[c.Kind]++
	}
	return counts
}

// EntityRows converts entities into rows keyed by entity columns.
func EntityRows(entities []types.Entity) []types.Row {
	rows := make([]types.Row, len(entities))
	for i, e := range entities {
		rows[i] = e.Row()
	}
	return rows
}

// PersistedRows converts persisted rows into generic rows.
func PersistedRows(rows []types.PersistedRow) []types.Row {
	out := make([]types.Row, len(rows))
	for i, p := range rows {
		out[i] = p.Row()
	}
	return out
}

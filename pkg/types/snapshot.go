// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// DateLayout is the capture-date format used for snapshots (e.g. "20241101").
const DateLayout = "20060102"

// Snapshot is the full entity collection as captured on one date.
type Snapshot struct {
	// Date is the capture date in YYYYMMDD form.
	Date string `json:"date" yaml:"date"`

	Entities []Entity `json:"entities" yaml:"entities"`
}

// Series is an ordered sequence of snapshots for one source. Insertion
// order is chronological order.
type Series []Snapshot

// Validate checks that every date parses and that dates strictly increase.
func (s Series) Validate() error {
	prev := ""
	for i, snap := range s {
		if _, err := time.Parse(DateLayout, snap.Date); err != nil {
			return fmt.Errorf("snapshot %d: invalid capture date %q: %w", i, snap.Date, err)
		}
		if prev != "" && snap.Date <= prev {
			return fmt.Errorf("snapshot %d: capture date %s does not follow %s", i, snap.Date, prev)
		}
		prev = snap.Date
	}
	return nil
}

// Earliest returns the first capture date, or "" for an empty series.
func (s Series) Earliest() string {
	if len(s) == 0 {
		return ""
	}
	return s[0].Date
}

// Latest returns the last capture date, or "" for an empty series.
func (s Series) Latest() string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1].Date
}

// AuthorityEntry is one row of the independently maintained list that
// entities are matched against.
type AuthorityEntry struct {
	// Name is the organisation name used for matching.
	Name string `json:"name" yaml:"name"`

	// Fields holds the remaining columns of the source row.
	Fields map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// MatchResult pairs a primary entity with its accepted secondary entry.
type MatchResult struct {
	PrimaryIndex   int            `json:"primary_index" yaml:"primary_index"`
	Primary        Entity         `json:"primary" yaml:"primary"`
	SecondaryIndex int            `json:"secondary_index" yaml:"secondary_index"`
	Secondary      AuthorityEntry `json:"secondary" yaml:"secondary"`

	// Score is the name similarity on a 0-100 scale.
	Score float64 `json:"score" yaml:"score"`
}

// UnmatchedReason explains why a secondary entry has no match.
type UnmatchedReason string

const (
	// UnmatchedNoMatch means no primary scored at or above the cutoff.
	UnmatchedNoMatch UnmatchedReason = "no_match"

	// UnmatchedAmbiguous means some primary cleared the cutoff against this
	// entry but preferred a different one.
	UnmatchedAmbiguous UnmatchedReason = "ambiguous"
)

// UnmatchedEntry reports a secondary entry left without a match.
type UnmatchedEntry struct {
	Index     int             `json:"index" yaml:"index"`
	Entry     AuthorityEntry  `json:"entry" yaml:"entry"`
	Reason    UnmatchedReason `json:"reason" yaml:"reason"`
	BestScore float64         `json:"best_score" yaml:"best_score"`
}

// Row is one record of a generic table. Missing keys and empty values both
// mean null.
type Row map[string]string

// Table is a named, column-ordered set of rows handed to a tabular sink or
// read back from a relational store.
type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []string `json:"columns" yaml:"columns"`
	Rows    []Row    `json:"rows" yaml:"rows"`
}

// Values returns the row's values in column order.
func (t Table) Values(r Row) []string {
	vals := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		vals[i] = r[c]
	}
	return vals
}

// ChangeKind classifies a ChangeRecord.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeUpdated  ChangeKind = "updated"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeRecord is one field-level difference between a current and a
// persisted snapshot.
type ChangeRecord struct {
	Key      string     `json:"identifier" yaml:"identifier"`
	Field    string     `json:"field" yaml:"field"`
	OldValue string     `json:"old_value" yaml:"old_value"`
	NewValue string     `json:"new_value" yaml:"new_value"`
	Kind     ChangeKind `json:"kind" yaml:"kind"`
}

// ChangeColumns is the column order of the change-log table.
var ChangeColumns = []string{"identifier", "field", "old_value", "new_value", "kind"}

// ChangeTable renders change records as a Table.
func ChangeTable(name string, changes []ChangeRecord) Table {
	t := Table{Name: name, Columns: ChangeColumns, Rows: make([]Row, len(changes))}
	for i, c := range changes {
		t.Rows[i] = Row{
			"identifier": c.Key,
			"field":      c.Field,
			"old_value":  c.OldValue,
			"new_value":  c.NewValue,
			"kind":       string(c.Kind),
		}
	}
	return t
}

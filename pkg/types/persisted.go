// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "fmt"

// SchemaVersion names the layout of the persisted snapshot table.
// v1 is the original layout; v2 adds a uuid surrogate key.
type SchemaVersion string

const (
	SchemaV1 SchemaVersion = "v1"
	SchemaV2 SchemaVersion = "v2"
)

// ParseSchemaVersion validates a configured schema version. Empty selects v2.
func ParseSchemaVersion(s string) (SchemaVersion, error) {
	switch SchemaVersion(s) {
	case "":
		return SchemaV2, nil
	case SchemaV1, SchemaV2:
		return SchemaVersion(s), nil
	}
	return "", fmt.Errorf("unknown schema version %q: use v1 or v2", s)
}

// Columns returns the persisted table's columns in order.
func (v SchemaVersion) Columns() []string {
	cols := []string{
		"id", "title", "format", "web_url", "analytics_identifier", "closed_at",
		"govuk_status", "govuk_closed_status", "start_date", "end_date",
	}
	if v == SchemaV1 {
		return cols
	}
	return append([]string{"uuid"}, cols...)
}

// PersistedRow is one row of the persisted snapshot table. Dates are
// YYYY-MM-DD strings; empty means null.
type PersistedRow struct {
	UUID                string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	ID                  string `json:"id" yaml:"id"`
	Title               string `json:"title" yaml:"title"`
	Format              string `json:"format" yaml:"format"`
	WebURL              string `json:"web_url" yaml:"web_url"`
	AnalyticsIdentifier string `json:"analytics_identifier" yaml:"analytics_identifier"`
	ClosedAt            string `json:"closed_at" yaml:"closed_at"`
	GovukStatus         string `json:"govuk_status" yaml:"govuk_status"`
	GovukClosedStatus   string `json:"govuk_closed_status" yaml:"govuk_closed_status"`
	StartDate           string `json:"start_date" yaml:"start_date"`
	EndDate             string `json:"end_date" yaml:"end_date"`
}

// Active reports whether the row has not been end-dated.
func (p PersistedRow) Active() bool {
	return p.EndDate == ""
}

// Row converts p to a generic row keyed by column name.
func (p PersistedRow) Row() Row {
	r := Row{
		"id":                   p.ID,
		"title":                p.Title,
		"format":               p.Format,
		"web_url":              p.WebURL,
		"analytics_identifier": p.AnalyticsIdentifier,
		"closed_at":            p.ClosedAt,
		"govuk_status":         p.GovukStatus,
		"govuk_closed_status":  p.GovukClosedStatus,
		"start_date":           p.StartDate,
		"end_date":             p.EndDate,
	}
	if p.UUID != "" {
		r["uuid"] = p.UUID
	}
	return r
}

// PersistedRowFrom converts a generic row back to a PersistedRow.
// Columns absent from r stay empty.
func PersistedRowFrom(r Row) PersistedRow {
	return PersistedRow{
		UUID:                r["uuid"],
		ID:                  r["id"],
		Title:               r["title"],
		Format:              r["format"],
		WebURL:              r["web_url"],
		AnalyticsIdentifier: r["analytics_identifier"],
		ClosedAt:            r["closed_at"],
		GovukStatus:         r["govuk_status"],
		GovukClosedStatus:   r["govuk_closed_status"],
		StartDate:           r["start_date"],
		EndDate:             r["end_date"],
	}
}

// PersistedTable renders rows as a Table with the version's columns.
func PersistedTable(name string, v SchemaVersion, rows []PersistedRow) Table {
	t := Table{Name: name, Columns: v.Columns(), Rows: make([]Row, len(rows))}
	for i, p := range rows {
		t.Rows[i] = p.Row()
	}
	return t
}

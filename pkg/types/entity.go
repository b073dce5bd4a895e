// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the registry-reconciler pipeline.
// Types by stage:
//
//	fetch (RawRecord, OrgRef);
//	normalization (Entity, RelationshipEdge);
//	classification (LifecycleStatus, ExcludeReason, Snapshot, Series);
//	matching (AuthorityEntry, MatchResult);
//	diffing (Row, Table, ChangeRecord, PersistedRow).
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OrgRef is a nested reference to another organisation inside a RawRecord's
// relationship lists. The API returns a partial record; only the identifying
// URLs are guaranteed.
type OrgRef struct {
	// ID is the API URL of the referenced organisation.
	ID string `json:"id" yaml:"id"`

	// WebURL is the public page of the referenced organisation.
	WebURL string `json:"web_url,omitempty" yaml:"web_url,omitempty"`
}

// RawDetails is the nested "details" block of a RawRecord.
type RawDetails struct {
	Slug                             string `json:"slug,omitempty" yaml:"slug,omitempty"`
	Abbreviation                     string `json:"abbreviation,omitempty" yaml:"abbreviation,omitempty"`
	LogoFormattedName                string `json:"logo_formatted_name,omitempty" yaml:"logo_formatted_name,omitempty"`
	OrganisationBrandColourClassName string `json:"organisation_brand_colour_class_name,omitempty" yaml:"organisation_brand_colour_class_name,omitempty"`
	OrganisationLogoTypeClassName    string `json:"organisation_logo_type_class_name,omitempty" yaml:"organisation_logo_type_class_name,omitempty"`
	ClosedAt                         string `json:"closed_at,omitempty" yaml:"closed_at,omitempty"`
	GovukStatus                      string `json:"govuk_status,omitempty" yaml:"govuk_status,omitempty"`
	GovukClosedStatus                string `json:"govuk_closed_status,omitempty" yaml:"govuk_closed_status,omitempty"`
	ContentID                        string `json:"content_id,omitempty" yaml:"content_id,omitempty"`

	// Extra holds details fields not listed above, keyed by JSON name.
	Extra map[string]json.RawMessage `json:"-" yaml:"-"`
}

var rawDetailsFields = map[string]bool{
	"slug": true, "abbreviation": true, "logo_formatted_name": true,
	"organisation_brand_colour_class_name": true, "organisation_logo_type_class_name": true,
	"closed_at": true, "govuk_status": true, "govuk_closed_status": true, "content_id": true,
}

type rawDetailsAlias RawDetails

// UnmarshalJSON decodes the modelled fields and collects the rest into Extra.
func (d *RawDetails) UnmarshalJSON(data []byte) error {
	var alias rawDetailsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	extra, err := unmodelled(data, rawDetailsFields)
	if err != nil {
		return err
	}
	alias.Extra = extra
	*d = RawDetails(alias)
	return nil
}

// MarshalJSON writes the modelled fields followed by Extra.
func (d RawDetails) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(rawDetailsAlias(d))
	if err != nil {
		return nil, err
	}
	return withExtra(base, d.Extra)
}

// ExtraKeys returns the sorted names of unmodelled details fields.
func (d RawDetails) ExtraKeys() []string {
	return sortedKeys(d.Extra)
}

// RawRecord is one page item as returned by the organisations API.
// Fields the pipeline does not model, at the top level or inside details,
// are kept in Extra so that a fetched record can be written back out
// without loss.
type RawRecord struct {
	ID                       string     `json:"id"`
	Title                    string     `json:"title"`
	Format                   string     `json:"format,omitempty"`
	UpdatedAt                string     `json:"updated_at,omitempty"`
	WebURL                   string     `json:"web_url,omitempty"`
	AnalyticsIdentifier      string     `json:"analytics_identifier,omitempty"`
	Details                  RawDetails `json:"details"`
	ParentOrganisations      []OrgRef   `json:"parent_organisations,omitempty"`
	ChildOrganisations       []OrgRef   `json:"child_organisations,omitempty"`
	SupersededOrganisations  []OrgRef   `json:"superseded_organisations,omitempty"`
	SupersedingOrganisations []OrgRef   `json:"superseding_organisations,omitempty"`

	// Extra holds top-level fields not listed above, keyed by JSON name.
	Extra map[string]json.RawMessage `json:"-"`
}

// rawRecordFields lists the JSON names RawRecord decodes explicitly.
var rawRecordFields = map[string]bool{
	"id": true, "title": true, "format": true, "updated_at": true, "web_url": true,
	"analytics_identifier": true, "details": true, "parent_organisations": true,
	"child_organisations": true, "superseded_organisations": true,
	"superseding_organisations": true,
}

type rawRecordAlias RawRecord

// UnmarshalJSON decodes the modelled fields and collects the rest into Extra.
// A JSON null analytics_identifier decodes as the empty string.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	var alias rawRecordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	extra, err := unmodelled(data, rawRecordFields)
	if err != nil {
		return err
	}
	alias.Extra = extra
	*r = RawRecord(alias)
	return nil
}

// MarshalJSON writes the modelled fields followed by Extra.
func (r RawRecord) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(rawRecordAlias(r))
	if err != nil {
		return nil, err
	}
	return withExtra(base, r.Extra)
}

// ExtraKeys returns the sorted names of unmodelled top-level fields.
func (r RawRecord) ExtraKeys() []string {
	return sortedKeys(r.Extra)
}

// unmodelled returns the members of the JSON object in data whose names
// are not in known, or nil when there are none.
func unmodelled(data []byte, known map[string]bool) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	var extra map[string]json.RawMessage
	for k, v := range all {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra, nil
}

// withExtra adds extra members to the JSON object base. Modelled fields
// win over an Extra entry of the same name.
func withExtra(base []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LifecycleStatus is the govuk_status of an organisation.
type LifecycleStatus string

const (
	StatusLive          LifecycleStatus = "live"
	StatusClosed        LifecycleStatus = "closed"
	StatusDevolved      LifecycleStatus = "devolved"
	StatusJoining       LifecycleStatus = "joining"
	StatusExempt        LifecycleStatus = "exempt"
	StatusTransitioning LifecycleStatus = "transitioning"
)

// IsResolved reports whether s is one of the statuses allowed after
// classification: live, closed, devolved, or joining.
func (s LifecycleStatus) IsResolved() bool {
	switch s {
	case StatusLive, StatusClosed, StatusDevolved, StatusJoining:
		return true
	}
	return false
}

// ExcludeReason records which rule flagged an entity for exclusion.
type ExcludeReason string

const (
	ExcludeNone   ExcludeReason = ""
	ExcludeFormat ExcludeReason = "format"
	ExcludeStatus ExcludeReason = "govuk_status"
)

// Entity is one organisation at a point in time, flattened and normalized.
type Entity struct {
	// ID is the API URL of the organisation; unique within a snapshot.
	ID string `json:"id" yaml:"id"`

	// AnalyticsIdentifier is the short GOV.UK code (e.g. "D12"). It may be
	// empty and is not guaranteed unique across snapshots.
	AnalyticsIdentifier string `json:"analytics_identifier" yaml:"analytics_identifier"`

	// Title is the display name with incidental whitespace trimmed.
	Title string `json:"title" yaml:"title"`

	// Format is the organisation category (e.g. "Executive agency").
	Format string `json:"format" yaml:"format"`

	WebURL       string `json:"web_url" yaml:"web_url"`
	Slug         string `json:"slug" yaml:"slug"`
	Abbreviation string `json:"abbreviation" yaml:"abbreviation"`
	ContentID    string `json:"content_id" yaml:"content_id"`

	GovukStatus       LifecycleStatus `json:"govuk_status" yaml:"govuk_status"`
	GovukClosedStatus string          `json:"govuk_closed_status" yaml:"govuk_closed_status"`
	ClosedAt          string          `json:"closed_at" yaml:"closed_at"`
	UpdatedAt         string          `json:"updated_at" yaml:"updated_at"`

	// Relationship lists hold the raw reference URLs as published.
	ParentOrganisations      []string `json:"parent_organisations,omitempty" yaml:"parent_organisations,omitempty"`
	ChildOrganisations       []string `json:"child_organisations,omitempty" yaml:"child_organisations,omitempty"`
	SupersededOrganisations  []string `json:"superseded_organisations,omitempty" yaml:"superseded_organisations,omitempty"`
	SupersedingOrganisations []string `json:"superseding_organisations,omitempty" yaml:"superseding_organisations,omitempty"`

	Exclude       bool          `json:"exclude" yaml:"exclude"`
	ExcludeReason ExcludeReason `json:"exclude_reason" yaml:"exclude_reason"`
}

// String identifies the entity in log lines and error messages.
func (e Entity) String() string {
	if e.AnalyticsIdentifier != "" {
		return fmt.Sprintf("%q (%s)", e.Title, e.AnalyticsIdentifier)
	}
	return fmt.Sprintf("%q <%s>", e.Title, e.ID)
}

// EntityColumns is the column order of entity tables.
var EntityColumns = []string{
	"id", "analytics_identifier", "title", "format", "web_url", "slug", "abbreviation",
	"content_id", "govuk_status", "govuk_closed_status", "closed_at", "updated_at",
	"parent_organisations", "child_organisations", "superseded_organisations",
	"superseding_organisations", "exclude", "exclude_reason",
}

// Row converts e to a generic row keyed by EntityColumns. Relationship
// lists are joined with "; ".
func (e Entity) Row() Row {
	return Row{
		"id":                        e.ID,
		"analytics_identifier":      e.AnalyticsIdentifier,
		"title":                     e.Title,
		"format":                    e.Format,
		"web_url":                   e.WebURL,
		"slug":                      e.Slug,
		"abbreviation":              e.Abbreviation,
		"content_id":                e.ContentID,
		"govuk_status":              string(e.GovukStatus),
		"govuk_closed_status":       e.GovukClosedStatus,
		"closed_at":                 e.ClosedAt,
		"updated_at":                e.UpdatedAt,
		"parent_organisations":      strings.Join(e.ParentOrganisations, "; "),
		"child_organisations":       strings.Join(e.ChildOrganisations, "; "),
		"superseded_organisations":  strings.Join(e.SupersededOrganisations, "; "),
		"superseding_organisations": strings.Join(e.SupersedingOrganisations, "; "),
		"exclude":                   strconv.FormatBool(e.Exclude),
		"exclude_reason":            string(e.ExcludeReason),
	}
}

// EntityTable renders entities as a Table.
func EntityTable(name string, entities []Entity) Table {
	t := Table{Name: name, Columns: EntityColumns, Rows: make([]Row, len(entities))}
	for i, e := range entities {
		t.Rows[i] = e.Row()
	}
	return t
}

// EdgeColumns is the column order of edge tables.
var EdgeColumns = []string{"kind", "source", "target"}

// EdgeTable renders relationship edges as a Table.
func EdgeTable(name string, edges []RelationshipEdge) Table {
	t := Table{Name: name, Columns: EdgeColumns, Rows: make([]Row, len(edges))}
	for i, e := range edges {
		t.Rows[i] = Row{"kind": string(e.Kind), "source": e.Source, "target": e.Target}
	}
	return t
}

// EdgeKind types a RelationshipEdge.
type EdgeKind string

const (
	EdgeParentChild          EdgeKind = "parent_child"
	EdgePredecessorSuccessor EdgeKind = "predecessor_successor"
)

// RelationshipEdge is a directed link between two entities of one snapshot.
// For parent_child edges Source is the parent; for predecessor_successor
// edges Source is the predecessor.
type RelationshipEdge struct {
	Kind   EdgeKind `json:"kind" yaml:"kind"`
	Source string   `json:"source" yaml:"source"`
	Target string   `json:"target" yaml:"target"`
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package normalize flattens raw organisation records into entities and
// resolves their nested relationship lists into typed edges.
//
// Normalize is a pure function of its input. Records missing an id or
// title are rejected with a MissingFieldError; every other gap is either
// defaulted by an explicit rule or counted in the Report.
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// MissingFieldError reports a raw record without a required field.
type MissingFieldError struct {
	// Index is the record's position in the input.
	Index int

	Field string

	// ID is the record's id, when present, to help locate it.
	ID string
}

// Error implements the error interface
func (e *MissingFieldError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("record %d (%s): missing required field %q", e.Index, e.ID, e.Field)
	}
	return fmt.Sprintf("record %d: missing required field %q", e.Index, e.Field)
}

// Report counts what normalization defaulted, dropped, or did not model.
type Report struct {
	// Records is the number of raw records received.
	Records int

	// Rejected lists records missing a required field, in input order.
	Rejected []*MissingFieldError

	// DefaultedStatus counts records whose govuk_status was absent and
	// defaulted to live.
	DefaultedStatus int

	// DroppedEdges counts unresolved relationship references per edge kind.
	DroppedEdges map[types.EdgeKind]int

	// UnknownFields counts unmodelled fields by name; details fields are
	// prefixed "details.". They are kept on the raw record but not carried
	// onto the entity.
	UnknownFields map[string]int
}

// Dropped returns the total number of unresolved references.
func (r Report) Dropped() int {
	n := 0
	for _, c := range r.DroppedEdges {
		n += c
	}
	return n
}

// UnknownFieldNames returns the unmodelled field names in sorted order.
func (r Report) UnknownFieldNames() []string {
	names := make([]string, 0, len(r.UnknownFields))
	for k := range r.UnknownFields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Result is the output of Normalize.
type Result struct {
	Entities []types.Entity
	Edges    []types.RelationshipEdge
	Report   Report
}

// Err joins the rejection errors, or returns nil when none were rejected.
func (r Result) Err() error {
	if len(r.Report.Rejected) == 0 {
		return nil
	}
	errs := make([]error, len(r.Report.Rejected))
	for i, e := range r.Report.Rejected {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Normalize flattens raws into entities in input order and resolves their
// relationship lists into edges. Rejected records are skipped and reported;
// the returned error is Result.Err(), so the entities of the accepted
// records are available alongside it.
func Normalize(raws []types.RawRecord) (Result, error) {
	res := Result{
		Report: Report{
			Records:       len(raws),
			DroppedEdges:  make(map[types.EdgeKind]int),
			UnknownFields: make(map[string]int),
		},
	}

	for i, raw := range raws {
		e, defaulted, err := flatten(i, raw)
		if err != nil {
			res.Report.Rejected = append(res.Report.Rejected, err)
			continue
		}
		if defaulted {
			res.Report.DefaultedStatus++
		}
		for k := range raw.Extra {
			res.Report.UnknownFields[k]++
		}
		for k := range raw.Details.Extra {
			res.Report.UnknownFields["details."+k]++
		}
		res.Entities = append(res.Entities, e)
	}

	idx := newIndex(res.Entities)
	seen := make(map[types.RelationshipEdge]bool)
	for _, e := range res.Entities {
		for _, ref := range relations(e) {
			other, ok := idx.resolve(ref.url)
			if !ok {
				res.Report.DroppedEdges[ref.kind]++
				continue
			}
			edge := types.RelationshipEdge{Kind: ref.kind, Source: other, Target: e.ID}
			if ref.outgoing {
				edge.Source, edge.Target = e.ID, other
			}
			if seen[edge] {
				continue
			}
			seen[edge] = true
			res.Edges = append(res.Edges, edge)
		}
	}

	return res, res.Err()
}

// flatten converts one raw record into an entity. It reports whether the
// status was defaulted.
func flatten(i int, raw types.RawRecord) (types.Entity, bool, *MissingFieldError) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return types.Entity{}, false, &MissingFieldError{Index: i, Field: "id"}
	}
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return types.Entity{}, false, &MissingFieldError{Index: i, Field: "title", ID: id}
	}

	d := raw.Details
	e := types.Entity{
		ID:                       id,
		AnalyticsIdentifier:      strings.TrimSpace(raw.AnalyticsIdentifier),
		Title:                    title,
		Format:                   raw.Format,
		WebURL:                   raw.WebURL,
		Slug:                     d.Slug,
		Abbreviation:             d.Abbreviation,
		ContentID:                d.ContentID,
		GovukStatus:              types.LifecycleStatus(d.GovukStatus),
		GovukClosedStatus:        d.GovukClosedStatus,
		ClosedAt:                 d.ClosedAt,
		UpdatedAt:                raw.UpdatedAt,
		ParentOrganisations:      refURLs(raw.ParentOrganisations),
		ChildOrganisations:       refURLs(raw.ChildOrganisations),
		SupersededOrganisations:  refURLs(raw.SupersededOrganisations),
		SupersedingOrganisations: refURLs(raw.SupersedingOrganisations),
	}

	defaulted := false
	if e.GovukStatus == "" {
		e.GovukStatus = types.StatusLive
		defaulted = true
	}
	return e, defaulted, nil
}

// refURLs returns each reference's id URL, or its web_url when the id is
// absent. Empty references are skipped.
func refURLs(refs []types.OrgRef) []string {
	var out []string
	for _, r := range refs {
		u := r.ID
		if u == "" {
			u = r.WebURL
		}
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// relation is one reference from an entity's relationship lists.
type relation struct {
	kind types.EdgeKind
	url  string

	// outgoing is true when the entity is the edge source.
	outgoing bool
}

// relations lists e's references in a fixed order: parents, children,
// predecessors, successors.
func relations(e types.Entity) []relation {
	var out []relation
	add := func(urls []string, kind types.EdgeKind, outgoing bool) {
		for _, u := range urls {
			out = append(out, relation{kind: kind, url: u, outgoing: outgoing})
		}
	}
	add(e.ParentOrganisations, types.EdgeParentChild, false)
	add(e.ChildOrganisations, types.EdgeParentChild, true)
	add(e.SupersededOrganisations, types.EdgePredecessorSuccessor, false)
	add(e.SupersedingOrganisations, types.EdgePredecessorSuccessor, true)
	return out
}

// index resolves reference URLs to entity IDs within one record set.
type index struct {
	byID     map[string]string
	byWebURL map[string]string
	bySlug   map[string]string
}

func newIndex(entities []types.Entity) index {
	idx := index{
		byID:     make(map[string]string, len(entities)),
		byWebURL: make(map[string]string, len(entities)),
		bySlug:   make(map[string]string, len(entities)),
	}
	// First occurrence wins so duplicates resolve deterministically.
	put := func(m map[string]string, k, id string) {
		if k == "" {
			return
		}
		if _, ok := m[k]; !ok {
			m[k] = id
		}
	}
	for _, e := range entities {
		put(idx.byID, e.ID, e.ID)
		put(idx.byWebURL, e.WebURL, e.ID)
		slug := e.Slug
		if slug == "" {
			slug = slugOf(e.ID)
		}
		put(idx.bySlug, slug, e.ID)
	}
	return idx
}

// resolve maps a reference to an entity ID: by id URL first, then by
// web_url, then by the trailing slug.
func (idx index) resolve(ref string) (string, bool) {
	if id, ok := idx.byID[ref]; ok {
		return id, true
	}
	if id, ok := idx.byWebURL[ref]; ok {
		return id, true
	}
	if slug := slugOf(ref); slug != "" {
		if id, ok := idx.bySlug[slug]; ok {
			return id, true
		}
	}
	return "", false
}

// slugOf returns the last path segment of a URL or path.
func slugOf(ref string) string {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

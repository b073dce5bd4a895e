// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package classify applies the lifecycle rules to entities and derives
// first and last appearance bounds across a snapshot series.
//
// Rules run in a fixed order for each entity:
//  1. category override by title
//  2. exclusion by category (reason "format")
//  3. status resolution from the closure sub-status
//  4. closure sub-status cleared for live entities
//  5. exclusion by status (reason "govuk_status"), replacing any format reason
//
// After rule 3 the status must be live, closed, devolved, or joining;
// anything else is an InvariantError.
package classify

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// ErrInvariant matches an entity whose status could not be resolved.
var ErrInvariant = errors.New("classification invariant violated")

// InvariantError names an entity left with an unresolved status. It
// means the feed carries a status value the rules do not model.
type InvariantError struct {
	EntityID string
	Title    string
	Status   types.LifecycleStatus

	// ClosedStatus is the entity's govuk_closed_status.
	ClosedStatus string
}

// Error implements the error interface
func (e *InvariantError) Error() string {
	return fmt.Sprintf("entity %q <%s>: unresolved govuk_status %q (govuk_closed_status %q)",
		e.Title, e.EntityID, e.Status, e.ClosedStatus)
}

// Is implements errors.Is support
func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

// devolvedClosedStatus is the closure sub-status that resolves to devolved.
const devolvedClosedStatus = "devolved"

// Classifier applies the lifecycle rules configured at construction.
type Classifier struct {
	overrides          map[string]string
	excludedCategories map[string]bool
	excludedStatuses   map[types.LifecycleStatus]bool
	closedStatuses     map[string]bool
	since              string
	keepStatusExcluded bool
}

// New returns a Classifier for cfg. Lists left nil in cfg are not
// defaulted here; use PipelineConfig.WithDefaults for that.
func New(cfg types.ClassifyConfig) (*Classifier, error) {
	if cfg.Since != "" {
		if _, err := time.Parse(types.DateLayout, cfg.Since); err != nil {
			return nil, fmt.Errorf("invalid since date %q: want YYYYMMDD", cfg.Since)
		}
	}
	c := &Classifier{
		overrides:          make(map[string]string, len(cfg.CategoryOverrides)),
		excludedCategories: make(map[string]bool, len(cfg.ExcludedCategories)),
		excludedStatuses:   make(map[types.LifecycleStatus]bool, len(cfg.ExcludedStatuses)),
		closedStatuses:     make(map[string]bool, len(cfg.ClosedStatuses)),
		since:              cfg.Since,
		keepStatusExcluded: cfg.KeepStatusExcluded,
	}
	for title, format := range cfg.CategoryOverrides {
		c.overrides[title] = format
	}
	if cfg.OverridesFile != "" {
		fromFile, err := LoadOverrides(cfg.OverridesFile)
		if err != nil {
			return nil, err
		}
		for title, format := range fromFile {
			c.overrides[title] = format
		}
	}
	for _, f := range cfg.ExcludedCategories {
		c.excludedCategories[f] = true
	}
	for _, s := range cfg.ExcludedStatuses {
		c.excludedStatuses[types.LifecycleStatus(s)] = true
	}
	for _, s := range cfg.ClosedStatuses {
		c.closedStatuses[s] = true
	}
	return c, nil
}

// LoadOverrides reads a YAML map of organisation title to format.
func LoadOverrides(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading overrides file: %w", err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing overrides file %s: %w", path, err)
	}
	return overrides, nil
}

// Classify returns a copy of e with the rules applied. Relationship
// lists are shared with e and are not modified.
func (c *Classifier) Classify(e types.Entity) (types.Entity, error) {
	e.Exclude = false
	e.ExcludeReason = types.ExcludeNone

	if format, ok := c.overrides[e.Title]; ok {
		e.Format = format
	}

	if c.excludedCategories[e.Format] {
		e.Exclude = true
		e.ExcludeReason = types.ExcludeFormat
	}

	if e.GovukStatus != types.StatusLive && e.GovukStatus != types.StatusClosed {
		switch {
		case c.closedStatuses[e.GovukClosedStatus]:
			e.GovukStatus = types.StatusClosed
		case e.GovukClosedStatus == devolvedClosedStatus:
			e.GovukStatus = types.StatusDevolved
		}
	}
	if e.GovukStatus == types.StatusExempt {
		e.GovukStatus = types.StatusLive
	}
	if !e.GovukStatus.IsResolved() {
		return types.Entity{}, &InvariantError{
			EntityID:     e.ID,
			Title:        e.Title,
			Status:       e.GovukStatus,
			ClosedStatus: e.GovukClosedStatus,
		}
	}

	if e.GovukStatus == types.StatusLive {
		e.GovukClosedStatus = ""
	}

	if c.excludedStatuses[e.GovukStatus] {
		e.Exclude = true
		e.ExcludeReason = types.ExcludeStatus
	}
	return e, nil
}

// ClassifyAll classifies every entity of one snapshot into a new slice.
// It stops at the first InvariantError.
func (c *Classifier) ClassifyAll(entities []types.Entity) ([]types.Entity, error) {
	out := make([]types.Entity, len(entities))
	for i, e := range entities {
		ce, err := c.Classify(e)
		if err != nil {
			return nil, err
		}
		out[i] = ce
	}
	return out, nil
}

// ExclusionCounts tallies excluded entities by reason.
func ExclusionCounts(entities []types.Entity) map[types.ExcludeReason]int {
	counts := make(map[types.ExcludeReason]int)
	for _, e := range entities {
		if e.Exclude {
			counts[e.ExcludeReason]++
		}
	}
	return counts
}

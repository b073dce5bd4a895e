// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package normalize

import (
	"github.com/google/uuid"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// ToRaw converts entities back into raw records. Relationship lists are
// carried as id-only references and exclusion flags are dropped, so
// normalizing the output again yields the same entities.
func ToRaw(entities []types.Entity) []types.RawRecord {
	out := make([]types.RawRecord, len(entities))
	for i, e := range entities {
		out[i] = types.RawRecord{
			ID:                  e.ID,
			Title:               e.Title,
			Format:              e.Format,
			UpdatedAt:           e.UpdatedAt,
			WebURL:              e.WebURL,
			AnalyticsIdentifier: e.AnalyticsIdentifier,
			Details: types.RawDetails{
				Slug:              e.Slug,
				Abbreviation:      e.Abbreviation,
				ClosedAt:          e.ClosedAt,
				GovukStatus:       string(e.GovukStatus),
				GovukClosedStatus: e.GovukClosedStatus,
				ContentID:         e.ContentID,
			},
			ParentOrganisations:      toRefs(e.ParentOrganisations),
			ChildOrganisations:       toRefs(e.ChildOrganisations),
			SupersededOrganisations:  toRefs(e.SupersededOrganisations),
			SupersedingOrganisations: toRefs(e.SupersedingOrganisations),
		}
	}
	return out
}

func toRefs(urls []string) []types.OrgRef {
	if len(urls) == 0 {
		return nil
	}
	refs := make([]types.OrgRef, len(urls))
	for i, u := range urls {
		refs[i] = types.OrgRef{ID: u}
	}
	return refs
}

// Project converts entities into rows of the persisted table for schema
// version v. Version v2 rows get a fresh uuid from newID, or from
// uuid.NewString when newID is nil. Start and end dates are left null
// for the caller to set.
func Project(entities []types.Entity, v types.SchemaVersion, newID func() string) []types.PersistedRow {
	if newID == nil {
		newID = uuid.NewString
	}
	rows := make([]types.PersistedRow, len(entities))
	for i, e := range entities {
		rows[i] = types.PersistedRow{
			ID:                  e.ID,
			Title:               e.Title,
			Format:              e.Format,
			WebURL:              e.WebURL,
			AnalyticsIdentifier: e.AnalyticsIdentifier,
			ClosedAt:            e.ClosedAt,
			GovukStatus:         string(e.GovukStatus),
			GovukClosedStatus:   e.GovukClosedStatus,
		}
		if v != types.SchemaV1 {
			rows[i].UUID = newID()
		}
	}
	return rows
}

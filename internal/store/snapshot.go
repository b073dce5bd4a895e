// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"fmt"

	"github.com/pdiddy/registry-reconciler/internal/diff"
	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// PersistedSchema returns the persisted snapshot table's schema for v.
func PersistedSchema(v types.SchemaVersion) Schema {
	schema := make(Schema, 0, len(v.Columns()))
	for _, c := range v.Columns() {
		t := TypeText
		switch c {
		case "uuid":
			t = TypeUUID
		case "start_date", "end_date":
			t = TypeDate
		}
		schema = append(schema, Column{Name: c, Type: t})
	}
	return schema
}

// ChangeSchema is the change-log table's schema.
func ChangeSchema() Schema {
	schema := make(Schema, len(types.ChangeColumns))
	for i, c := range types.ChangeColumns {
		schema[i] = Column{Name: c, Type: TypeText}
	}
	return schema
}

// SnapshotRepository reads and writes the persisted snapshot table and
// its change log.
type SnapshotRepository struct {
	store       Store
	table       string
	changeTable string
	version     types.SchemaVersion
}

// NewSnapshotRepository binds a repository to the tables named in cfg.
func NewSnapshotRepository(s Store, cfg types.StoreConfig) (*SnapshotRepository, error) {
	v, err := types.ParseSchemaVersion(cfg.SchemaVersion)
	if err != nil {
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = types.DefaultTable
	}
	changeTable := cfg.ChangeTable
	if changeTable == "" {
		changeTable = types.DefaultChangeTable
	}
	return &SnapshotRepository{store: s, table: table, changeTable: changeTable, version: v}, nil
}

// Version returns the schema version rows are written with.
func (r *SnapshotRepository) Version() types.SchemaVersion { return r.version }

// EnsureTable creates the snapshot table when it does not exist and
// reports whether it did.
func (r *SnapshotRepository) EnsureTable(ctx context.Context) (bool, error) {
	return ensure(ctx, r.store, r.table, PersistedSchema(r.version))
}

func ensure(ctx context.Context, s Store, name string, schema Schema) (bool, error) {
	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.CreateTable(ctx, name, schema); err != nil {
		return false, err
	}
	return true, nil
}

// Load reads every persisted row, ended rows included.
func (r *SnapshotRepository) Load(ctx context.Context) ([]types.PersistedRow, error) {
	t, err := r.store.ReadTable(ctx, r.table)
	if err != nil {
		return nil, err
	}
	rows := make([]types.PersistedRow, len(t.Rows))
	for i, row := range t.Rows {
		rows[i] = types.PersistedRowFrom(row)
	}
	return rows, nil
}

// Save replaces the table's contents with rows. Columns outside the
// repository's schema version are not written.
func (r *SnapshotRepository) Save(ctx context.Context, rows []types.PersistedRow) error {
	return r.store.ReplaceRows(ctx, types.PersistedTable(r.table, r.version, rows))
}

// AppendChanges appends change records to the change-log table, creating
// it first when needed.
func (r *SnapshotRepository) AppendChanges(ctx context.Context, changes []types.ChangeRecord) error {
	if _, err := ensure(ctx, r.store, r.changeTable, ChangeSchema()); err != nil {
		return err
	}
	return r.store.AppendRows(ctx, types.ChangeTable(r.changeTable, changes))
}

// ApplyResult is the outcome of Apply.
type ApplyResult struct {
	// Rows is the new table contents: persisted rows in their original
	// order followed by rows seen for the first time.
	Rows []types.PersistedRow

	// Changes compares current rows with the active persisted rows.
	Changes []types.ChangeRecord

	// Seeded is set when the table was created by this run.
	Seeded bool

	Inserted   int
	Reappeared int
	Updated    int
	Ended      int
}

// Apply merges a current projection into the persisted rows. Only active
// rows (no end_date) take part in the diff.
//
//   - A current row matching an active row updates it in place; uuid and
//     start_date are kept.
//   - An active row absent from current is end-dated with runDate.
//   - A current row matching only an ended row reopens the most recently
//     ended one: end_date is cleared and its fields are updated.
//   - Any other current row is appended with start_date runDate.
//
// When seeded is true the table was created by this run: current rows are
// written with null dates and no changes are reported.
func Apply(current, persisted []types.PersistedRow, runDate string, seeded bool) (ApplyResult, error) {
	if seeded {
		rows := make([]types.PersistedRow, len(current))
		for i, c := range current {
			c.StartDate, c.EndDate = "", ""
			rows[i] = c
		}
		return ApplyResult{Rows: rows, Seeded: true}, nil
	}

	var active []types.PersistedRow
	activeIdx := make(map[string]int)
	endedIdx := make(map[string]int)
	for i, p := range persisted {
		if p.Active() {
			active = append(active, p)
			activeIdx[p.ID] = i
		} else {
			endedIdx[p.ID] = i
		}
	}

	changes, err := diff.Diff(diff.PersistedRows(current), diff.PersistedRows(active), diff.DefaultKeyColumns, diff.DefaultCompareColumns)
	if err != nil {
		return ApplyResult{}, err
	}
	res := ApplyResult{Changes: changes}
	updated := make(map[string]bool)
	for _, c := range changes {
		if c.Kind == types.ChangeUpdated {
			updated[c.Key] = true
		}
	}
	res.Updated = len(updated)

	rows := make([]types.PersistedRow, len(persisted))
	copy(rows, persisted)
	seen := make(map[string]bool, len(current))
	for _, c := range current {
		seen[c.ID] = true
		if i, ok := activeIdx[c.ID]; ok {
			rows[i] = carry(c, rows[i])
			continue
		}
		if i, ok := endedIdx[c.ID]; ok {
			rows[i] = carry(c, rows[i])
			rows[i].EndDate = ""
			res.Reappeared++
			continue
		}
		c.StartDate, c.EndDate = runDate, ""
		rows = append(rows, c)
		res.Inserted++
	}
	for id, i := range activeIdx {
		if !seen[id] {
			rows[i].EndDate = runDate
			res.Ended++
		}
	}
	res.Rows = rows
	return res, nil
}

// carry returns cur with prev's identity and lifetime fields.
func carry(cur, prev types.PersistedRow) types.PersistedRow {
	cur.UUID = prev.UUID
	cur.StartDate = prev.StartDate
	cur.EndDate = prev.EndDate
	return cur
}

// Plan computes the result of syncing current without writing anything.
// A missing table plans a seeding run.
func (r *SnapshotRepository) Plan(ctx context.Context, current []types.PersistedRow, runDate string) (ApplyResult, error) {
	exists, err := r.store.TableExists(ctx, r.table)
	if err != nil {
		return ApplyResult{}, err
	}
	var persisted []types.PersistedRow
	if exists {
		if persisted, err = r.Load(ctx); err != nil {
			return ApplyResult{}, fmt.Errorf("loading %s: %w", r.table, err)
		}
	}
	res, err := Apply(current, persisted, runDate, !exists)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("applying snapshot to %s: %w", r.table, err)
	}
	return res, nil
}

// Sync runs the check-then-create, load, apply, and save sequence for one
// run and appends the resulting changes to the change log.
func (r *SnapshotRepository) Sync(ctx context.Context, current []types.PersistedRow, runDate string) (ApplyResult, error) {
	created, err := r.EnsureTable(ctx)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("ensuring %s: %w", r.table, err)
	}
	var persisted []types.PersistedRow
	if !created {
		if persisted, err = r.Load(ctx); err != nil {
			return ApplyResult{}, fmt.Errorf("loading %s: %w", r.table, err)
		}
	}
	res, err := Apply(current, persisted, runDate, created)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("applying snapshot to %s: %w", r.table, err)
	}
	if err := r.Save(ctx, res.Rows); err != nil {
		return ApplyResult{}, fmt.Errorf("saving %s: %w", r.table, err)
	}
	if len(res.Changes) > 0 {
		if err := r.AppendChanges(ctx, res.Changes); err != nil {
			return ApplyResult{}, fmt.Errorf("appending changes to %s: %w", r.changeTable, err)
		}
	}
	return res, nil
}

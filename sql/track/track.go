// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package track maintains the difference between a baseline row set,
// as last seen in the database, and the current in-memory state of a
// tracked table. It records schema-level operations as they happen and
// derives row-level changes lazily, either by comparing against the
// held baseline or, in incremental mode after the baseline was
// released, from accumulated per-row states.
package track

import (
	"rowsync.io/rowsync/sql/rowset"
)

type (
	// Mode selects how the tracker stores the baseline.
	Mode uint8

	// An Operation is a free-form record of a method call on the
	// owning table. Operations only mark the diff as dirty; they carry
	// no change semantics of their own.
	Operation struct {
		Name string
		Args []any
	}

	// A RowState is the accumulated net change of a single row while
	// the baseline is no longer held. Old and New hold the full row
	// cells for deletions and insertions respectively, and only the
	// overwritten cells for updates.
	RowState struct {
		Kind      rowset.ChangeKind
		KeyValues []any
		Old, New  map[string]any
	}

	// A Summary reports the tracked change counts of a table.
	Summary struct {
		Operations int
		Inserts    int
		Updates    int
		Deletes    int
		Added      int
		Dropped    int
		Renamed    int
		Retyped    int
		HasChanges bool
	}

	// A Tracker watches one table. It is owned and mutated by a single
	// table and is not safe for concurrent use.
	Tracker struct {
		mode     Mode
		spec     rowset.KeySpec
		baseline *rowset.Table
		released bool
		// baseKeys is the primary-key set of the original baseline,
		// captured when the baseline is released.
		baseKeys map[rowset.Key]struct{}
		states   map[rowset.Key]*RowState
		order    []rowset.Key
		schema   *rowset.SchemaChanges
		ops      []Operation

		// mutations increases on every recorded operation; cached
		// diffs are recomputed only when it has advanced.
		mutations uint64
		cachedAt  uint64
		cachedOK  bool
		cached    []rowset.RowChange
	}

	// An Option configures a tracker.
	Option func(*Tracker)
)

// Tracking modes.
const (
	// ModeIncremental releases the baseline after the first diff
	// computation and accumulates per-row states from then on.
	// Unchanged rows take no storage.
	ModeIncremental Mode = iota
	// ModeFull retains the whole baseline for the tracker's lifetime.
	ModeFull
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "incremental"
}

// WithMode sets the tracking mode.
func WithMode(m Mode) Option {
	return func(t *Tracker) { t.mode = m }
}

// New returns a tracker for the given key spec and baseline. A nil
// baseline means the table does not exist remotely yet, and every
// current row derives as an insertion. The tracker clones the baseline
// so later mutations of the caller's value cannot alias into it.
func New(spec rowset.KeySpec, baseline *rowset.Table, opts ...Option) *Tracker {
	t := &Tracker{spec: spec}
	for _, opt := range opts {
		opt(t)
	}
	t.Reset(baseline)
	return t
}

// Reset replaces the baseline and clears all recorded operations,
// per-row states and cached diffs.
func (t *Tracker) Reset(baseline *rowset.Table) {
	if baseline != nil {
		baseline = baseline.Clone()
	}
	t.baseline = baseline
	t.released = false
	t.baseKeys = nil
	t.states = make(map[rowset.Key]*RowState)
	t.order = nil
	t.schema = rowset.NewSchemaChanges()
	t.ops = nil
	t.mutations++
	t.cachedOK = false
	t.cached = nil
}

// Mode returns the tracking mode.
func (t *Tracker) Mode() Mode { return t.mode }

// Spec returns the current key spec, reflecting any recorded renames
// of key columns.
func (t *Tracker) Spec() rowset.KeySpec { return t.spec }

// Operations returns the recorded method-call markers.
func (t *Tracker) Operations() []Operation { return t.ops }

// SchemaChanges returns the net schema change set.
func (t *Tracker) SchemaChanges() *rowset.SchemaChanges { return t.schema }

// Touch records a method call on the owning table and marks the diff
// as dirty.
func (t *Tracker) Touch(name string, args ...any) {
	t.ops = append(t.ops, Operation{Name: name, Args: args})
	t.mutations++
}

// AddColumn records the addition of a column with the default value
// used to backfill existing rows.
func (t *Tracker) AddColumn(name string, kind rowset.Kind, dflt any) {
	t.schema.Add(name, kind, dflt)
	t.Touch("add_column", name)
}

// DropColumn records the removal of a column.
func (t *Tracker) DropColumn(name string) {
	t.schema.Drop(name)
	t.Touch("drop_column", name)
}

// RenameColumn records a column rename. Renaming a key column updates
// the key spec.
func (t *Tracker) RenameColumn(old, new string) {
	t.schema.Rename(old, new)
	if t.spec.Contains(old) {
		t.spec = t.spec.Rename(old, new)
	}
	t.Touch("rename_column", old, new)
}

// RetypeColumn records a column type change.
func (t *Tracker) RetypeColumn(name string, kind rowset.Kind) {
	t.schema.Retype(name, kind)
	t.Touch("change_column_type", name)
}

// RowInserted records the insertion of a row. Cells hold the full row
// keyed by column name.
func (t *Tracker) RowInserted(keyValues []any, cells map[string]any) {
	t.mutations++
	if !t.accumulating() {
		return
	}
	key := rowset.MakeKey(keyValues...)
	st, ok := t.states[key]
	if !ok {
		t.setState(key, &RowState{Kind: rowset.Insert, KeyValues: keyValues, New: normalizeCells(cells)})
		return
	}
	if st.Kind != rowset.Delete {
		return
	}
	// A deleted row came back: the net effect is an update of the
	// cells that differ from the deleted row, or nothing at all.
	from, to := make(map[string]any), make(map[string]any)
	for c, nv := range cells {
		ov, existed := st.Old[c]
		nv, _ = rowset.Normalize(nv)
		if existed && rowset.Equal(ov, nv) {
			continue
		}
		if existed {
			from[c] = ov
		} else {
			from[c] = nil
		}
		to[c] = nv
	}
	if len(to) == 0 {
		t.dropState(key)
		return
	}
	t.states[key] = &RowState{Kind: rowset.Update, KeyValues: st.KeyValues, Old: from, New: to}
}

// RowUpdated records an update of the given cells, with their values
// before and after. The earliest recorded old value of a cell is kept,
// so repeated updates still compare against the baseline.
func (t *Tracker) RowUpdated(keyValues []any, old, new map[string]any) {
	t.mutations++
	if !t.accumulating() {
		return
	}
	key := rowset.MakeKey(keyValues...)
	st, ok := t.states[key]
	if !ok {
		st = &RowState{Kind: rowset.Update, KeyValues: keyValues, Old: make(map[string]any), New: make(map[string]any)}
		t.setState(key, st)
	}
	switch st.Kind {
	case rowset.Insert:
		for c, v := range new {
			st.New[c], _ = rowset.Normalize(v)
		}
	case rowset.Update:
		for c, nv := range new {
			if _, ok := st.Old[c]; !ok {
				st.Old[c], _ = rowset.Normalize(old[c])
			}
			nv, _ = rowset.Normalize(nv)
			if rowset.Equal(st.Old[c], nv) {
				delete(st.Old, c)
				delete(st.New, c)
				continue
			}
			st.New[c] = nv
		}
		if len(st.New) == 0 {
			t.dropState(key)
		}
	}
}

// RowDeleted records the deletion of a row. Cells hold the row at
// deletion time; recorded old values take precedence so the state
// keeps baseline values for cells that were updated first.
func (t *Tracker) RowDeleted(keyValues []any, cells map[string]any) {
	t.mutations++
	if !t.accumulating() {
		return
	}
	key := rowset.MakeKey(keyValues...)
	st, ok := t.states[key]
	if !ok {
		t.setState(key, &RowState{Kind: rowset.Delete, KeyValues: keyValues, Old: normalizeCells(cells)})
		return
	}
	switch st.Kind {
	case rowset.Insert:
		// Inserted then deleted: net no-op.
		t.dropState(key)
	case rowset.Update:
		old := normalizeCells(cells)
		for c, v := range st.Old {
			old[c] = v
		}
		t.states[key] = &RowState{Kind: rowset.Delete, KeyValues: st.KeyValues, Old: old}
	}
}

// RowChanges derives the row-level changes of the current table
// against the baseline. The result is cached and recomputed only after
// further operations were recorded. Diff computation never fails; a
// missing key column yields no changes and is reported by validation
// instead.
func (t *Tracker) RowChanges(cur *rowset.Table) []rowset.RowChange {
	if t.cachedOK && t.cachedAt == t.mutations {
		return t.cached
	}
	var changes []rowset.RowChange
	if t.released {
		changes = t.fromStates(cur)
	} else {
		changes = t.compare(cur)
		if t.mode == ModeIncremental {
			t.capture(changes)
			t.baseline = nil
			t.released = true
		}
	}
	t.cached = changes
	t.cachedAt = t.mutations
	t.cachedOK = true
	return changes
}

// HasChanges reports whether any row or schema change is pending.
func (t *Tracker) HasChanges(cur *rowset.Table) bool {
	return len(t.RowChanges(cur)) > 0 || !t.schema.Empty()
}

// Summary returns the tracked change counts.
func (t *Tracker) Summary(cur *rowset.Table) Summary {
	s := Summary{Operations: len(t.ops)}
	for _, c := range t.RowChanges(cur) {
		switch c.Kind {
		case rowset.Insert:
			s.Inserts++
		case rowset.Update:
			s.Updates++
		case rowset.Delete:
			s.Deletes++
		}
	}
	s.Added, s.Dropped, s.Renamed, s.Retyped = t.schema.Counts()
	s.HasChanges = s.Inserts+s.Updates+s.Deletes > 0 || !t.schema.Empty()
	return s
}

// BaselineKey reports whether the key was part of the original
// baseline. Before the baseline is released this consults the held
// copy directly.
func (t *Tracker) BaselineKey(key rowset.Key) bool {
	if t.released {
		_, ok := t.baseKeys[key]
		return ok
	}
	if t.baseline == nil {
		return false
	}
	keys, err := rowset.KeyValues(t.spec, t.baseline)
	if err != nil {
		return false
	}
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// accumulating reports whether row notifications must maintain states:
// only in incremental mode after the baseline was released. Until
// then, and always in full mode, diffs derive from a baseline compare.
func (t *Tracker) accumulating() bool {
	return t.mode == ModeIncremental && t.released
}

func (t *Tracker) setState(key rowset.Key, st *RowState) {
	if _, ok := t.states[key]; !ok {
		t.order = append(t.order, key)
	}
	t.states[key] = st
}

func (t *Tracker) dropState(key rowset.Key) {
	delete(t.states, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// compare computes the full diff between the held baseline and the
// current table. A nil baseline compares as empty, deriving every
// current row as an insertion.
func (t *Tracker) compare(cur *rowset.Table) []rowset.RowChange {
	base := t.baseline
	if base == nil {
		base = rowset.NewTable(cur.Columns.Clone()...)
	}
	cpos, err := rowset.KeyPositions(t.spec, cur)
	if err != nil {
		return nil
	}
	bpos, err := rowset.KeyPositions(t.spec, base)
	if err != nil {
		// The key spec is not locatable in the baseline (e.g. the
		// baseline predates a key rename). Treat all rows as new.
		bpos = nil
	}
	baseIdx := make(map[rowset.Key]rowset.Row, len(base.Rows))
	if bpos != nil {
		for _, r := range base.Rows {
			baseIdx[rowset.RowKey(r, bpos)] = r
		}
	}
	// Columns present in both states are compared; added, dropped and
	// renamed columns are schema changes, not cell updates.
	var shared []string
	for _, c := range cur.Columns {
		if base.Columns.Has(c.Name) {
			shared = append(shared, c.Name)
		}
	}
	var (
		changes []rowset.RowChange
		seen    = make(map[rowset.Key]struct{}, len(cur.Rows))
	)
	for _, r := range cur.Rows {
		key := rowset.RowKey(r, cpos)
		seen[key] = struct{}{}
		br, ok := baseIdx[key]
		if !ok {
			changes = append(changes, rowset.RowChange{
				Kind:      rowset.Insert,
				Key:       key,
				KeyValues: rowset.RowKeyValues(r, cpos),
				New:       rowCells(cur, r),
			})
			continue
		}
		var (
			changed []string
			old     = make(map[string]any)
		)
		for _, name := range shared {
			bi, _ := base.Columns.Lookup(name)
			ci, _ := cur.Columns.Lookup(name)
			if !rowset.Equal(br[bi], r[ci]) {
				changed = append(changed, name)
				old[name] = br[bi]
			}
		}
		if len(changed) > 0 {
			changes = append(changes, rowset.RowChange{
				Kind:      rowset.Update,
				Key:       key,
				KeyValues: rowset.RowKeyValues(r, cpos),
				Old:       old,
				New:       rowCells(cur, r),
				Changed:   changed,
			})
		}
	}
	if bpos != nil {
		for _, r := range base.Rows {
			key := rowset.RowKey(r, bpos)
			if _, ok := seen[key]; ok {
				continue
			}
			changes = append(changes, rowset.RowChange{
				Kind:      rowset.Delete,
				Key:       key,
				KeyValues: rowset.RowKeyValues(r, bpos),
				Old:       rowCells(base, r),
			})
		}
	}
	return changes
}

// fromStates derives changes from the accumulated states after the
// baseline was released. Insertions and updates follow current row
// order; deletions follow state recording order.
func (t *Tracker) fromStates(cur *rowset.Table) []rowset.RowChange {
	cpos, err := rowset.KeyPositions(t.spec, cur)
	if err != nil {
		return nil
	}
	var changes []rowset.RowChange
	for _, r := range cur.Rows {
		key := rowset.RowKey(r, cpos)
		st, ok := t.states[key]
		if !ok {
			continue
		}
		switch st.Kind {
		case rowset.Insert:
			changes = append(changes, rowset.RowChange{
				Kind:      rowset.Insert,
				Key:       key,
				KeyValues: st.KeyValues,
				New:       rowCells(cur, r),
			})
		case rowset.Update:
			changed := make([]string, 0, len(st.New))
			for _, c := range cur.Columns {
				if _, ok := st.New[c.Name]; ok {
					changed = append(changed, c.Name)
				}
			}
			changes = append(changes, rowset.RowChange{
				Kind:      rowset.Update,
				Key:       key,
				KeyValues: st.KeyValues,
				Old:       st.Old,
				New:       rowCells(cur, r),
				Changed:   changed,
			})
		}
	}
	for _, key := range t.order {
		st := t.states[key]
		if st == nil || st.Kind != rowset.Delete {
			continue
		}
		changes = append(changes, rowset.RowChange{
			Kind:      rowset.Delete,
			Key:       key,
			KeyValues: st.KeyValues,
			Old:       st.Old,
		})
	}
	return changes
}

// capture seeds the state map and the baseline key set from a full
// compare, immediately before the baseline is released.
func (t *Tracker) capture(changes []rowset.RowChange) {
	t.states = make(map[rowset.Key]*RowState, len(changes))
	t.order = make([]rowset.Key, 0, len(changes))
	for i := range changes {
		c := &changes[i]
		st := &RowState{Kind: c.Kind, KeyValues: c.KeyValues}
		switch c.Kind {
		case rowset.Insert:
			st.New = c.New
		case rowset.Delete:
			st.Old = c.Old
		case rowset.Update:
			st.Old = c.Old
			st.New = make(map[string]any, len(c.Changed))
			for _, name := range c.Changed {
				st.New[name] = c.New[name]
			}
		}
		t.setState(c.Key, st)
	}
	t.baseKeys = make(map[rowset.Key]struct{})
	if t.baseline == nil {
		return
	}
	keys, err := rowset.KeyValues(t.spec, t.baseline)
	if err != nil {
		return
	}
	for _, k := range keys {
		t.baseKeys[k] = struct{}{}
	}
}

func rowCells(t *rowset.Table, r rowset.Row) map[string]any {
	cells := make(map[string]any, len(t.Columns))
	for i, c := range t.Columns {
		cells[c.Name] = r[i]
	}
	return cells
}

func normalizeCells(cells map[string]any) map[string]any {
	n := make(map[string]any, len(cells))
	for c, v := range cells {
		n[c], _ = rowset.Normalize(v)
	}
	return n
}

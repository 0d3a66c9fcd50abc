// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package plan turns tracked changes into an ordered, batched sequence
// of SQL steps, and defines the driver contract the dialect packages
// implement to render and execute them.
package plan

import (
	"fmt"
	"sort"

	"rowsync.io/rowsync/sql/rowset"
)

type (
	// StepKind is the operation kind of a plan step.
	StepKind uint8

	// AlterOp is the schema-change operation of a SchemaChange step.
	AlterOp uint8

	// An Alter is the payload of a SchemaChange step.
	Alter struct {
		Op AlterOp
		// Column is the affected column; for renames, its old name.
		Column string
		// To is the rename target.
		To string
		// Kind is the target kind of an add or retype.
		Kind rowset.Kind
		// Default is the backfill value of an added column.
		Default any
	}

	// A Record is one row of a DML step payload: its key, the bound
	// columns and their values. Delete records carry the key only.
	Record struct {
		Key       rowset.Key
		KeyValues []any
		Columns   []string
		Values    []any
		// Old holds the baseline values of the bound columns when
		// known. Conflict resolution compares against them.
		Old map[string]any
	}

	// A Step is one unit of plan execution. Steps run in ascending
	// priority; ties keep insertion order.
	Step struct {
		Kind     StepKind
		Priority int
		// Alter is set on SchemaChange steps.
		Alter *Alter
		// Records is set on DML steps.
		Records []*Record
		// BatchSize is the number of records executed per statement
		// batch. It is deterministic for a given step shape.
		BatchSize int
		// Comment is a human-readable description of the step.
		Comment string
	}

	// A Plan is the ordered sequence of steps that reconciles one
	// remote table with the current in-memory value.
	Plan struct {
		Table  string
		Schema string
		Spec   rowset.KeySpec
		Steps  []*Step
	}

	// Options describes the input of Build.
	Options struct {
		Table  string
		Schema string
		Spec   rowset.KeySpec
		// Current is the in-memory table the plan reconciles towards.
		Current *rowset.Table
		// Rows are the tracked row-level changes.
		Rows []rowset.RowChange
		// Columns are the tracked schema-level changes.
		Columns *rowset.SchemaChanges
		// MaxParameters bounds the number of bind parameters per
		// statement. Zero means DefaultMaxParameters.
		MaxParameters int
	}
)

// Step kinds.
const (
	SchemaChange StepKind = iota + 1
	DeleteRows
	UpdateRows
	InsertRows
)

// Schema-change operations.
const (
	OpRename AlterOp = iota + 1
	OpDrop
	OpAdd
	OpRetype
)

// Step priorities. Renames run before drops so a column meant to
// survive under a new name is not lost; schema changes run before DML
// so statements bind to the current shape; deletes run before inserts
// so a row moved by delete+insert cannot collide on a unique key.
const (
	PriorityRename = 1
	PriorityDrop   = 2
	PriorityAdd    = 3
	PriorityRetype = 4
	PriorityDelete = 10
	PriorityUpdate = 20
	PriorityInsert = 30
)

// DefaultMaxParameters is the bind-parameter ceiling assumed when the
// dialect does not report one.
const DefaultMaxParameters = 999

// Batch ceilings per step kind. Deletes bind only key columns and can
// batch larger; updates execute one statement per record and batch
// smaller.
const (
	maxDeleteBatch = 1000
	maxInsertBatch = 500
	maxUpdateBatch = 200
)

// String returns the kind name.
func (k StepKind) String() string {
	switch k {
	case SchemaChange:
		return "schema_change"
	case DeleteRows:
		return "delete"
	case UpdateRows:
		return "update"
	case InsertRows:
		return "insert"
	default:
		return "unknown"
	}
}

// String returns the operation name.
func (o AlterOp) String() string {
	switch o {
	case OpRename:
		return "rename_column"
	case OpDrop:
		return "drop_column"
	case OpAdd:
		return "add_column"
	case OpRetype:
		return "change_column_type"
	default:
		return "unknown"
	}
}

// Empty reports whether the plan has no steps. An empty plan is a
// successful no-op.
func (p *Plan) Empty() bool { return len(p.Steps) == 0 }

// UpdateStep returns the plan's update step, or nil. Conflict
// resolution revises its records in place.
func (p *Plan) UpdateStep() *Step {
	for _, s := range p.Steps {
		if s.Kind == UpdateRows {
			return s
		}
	}
	return nil
}

// Build constructs the execution plan for the given changes. Steps are
// emitted in build order and stable-sorted by priority: renames,
// drops, adds and type changes first, then one delete, one update and
// one insert step for the row changes. Existing rows that need values
// for newly added columns join the update step. The result is
// deterministic for a given input.
func Build(o *Options) (*Plan, error) {
	if o.Current == nil {
		return nil, fmt.Errorf("plan: no current value for table %q", o.Table)
	}
	maxParams := o.MaxParameters
	if maxParams <= 0 {
		maxParams = DefaultMaxParameters
	}
	p := &Plan{Table: o.Table, Schema: o.Schema, Spec: o.Spec}
	cols := o.Columns
	if cols == nil {
		cols = rowset.NewSchemaChanges()
	}
	for _, r := range renamesInOrder(cols.Renamed()) {
		p.Steps = append(p.Steps, &Step{
			Kind:     SchemaChange,
			Priority: PriorityRename,
			Alter:    &Alter{Op: OpRename, Column: r[0], To: r[1]},
			Comment:  fmt.Sprintf("rename column %q to %q", r[0], r[1]),
		})
	}
	for _, name := range cols.Dropped() {
		p.Steps = append(p.Steps, &Step{
			Kind:     SchemaChange,
			Priority: PriorityDrop,
			Alter:    &Alter{Op: OpDrop, Column: name},
			Comment:  fmt.Sprintf("drop column %q", name),
		})
	}
	added, kinds, defaults := cols.Added()
	for _, name := range added {
		p.Steps = append(p.Steps, &Step{
			Kind:     SchemaChange,
			Priority: PriorityAdd,
			Alter:    &Alter{Op: OpAdd, Column: name, Kind: kinds[name], Default: defaults[name]},
			Comment:  fmt.Sprintf("add column %q (%s)", name, kinds[name]),
		})
	}
	for _, name := range retypesInOrder(cols.Retyped()) {
		p.Steps = append(p.Steps, &Step{
			Kind:     SchemaChange,
			Priority: PriorityRetype,
			Alter:    &Alter{Op: OpRetype, Column: name, Kind: cols.Retyped()[name]},
			Comment:  fmt.Sprintf("change type of column %q to %s", name, cols.Retyped()[name]),
		})
	}
	if err := p.buildDML(o, added, maxParams); err != nil {
		return nil, err
	}
	sortSteps(p.Steps)
	return p, nil
}

func (p *Plan) buildDML(o *Options, added []string, maxParams int) error {
	var (
		deletes  []*Record
		updates  []*Record
		inserts  []*Record
		inserted = make(map[rowset.Key]struct{})
		updated  = make(map[rowset.Key]*Record)
		names    = o.Current.Columns.Names()
	)
	for _, c := range o.Rows {
		switch c.Kind {
		case rowset.Delete:
			deletes = append(deletes, &Record{Key: c.Key, KeyValues: c.KeyValues})
		case rowset.Update:
			r := &Record{
				Key:       c.Key,
				KeyValues: c.KeyValues,
				Columns:   c.Changed,
				Old:       c.Old,
			}
			r.Values = make([]any, len(r.Columns))
			for i, name := range r.Columns {
				r.Values[i] = c.New[name]
			}
			updates = append(updates, r)
			updated[c.Key] = r
		case rowset.Insert:
			r := &Record{Key: c.Key, KeyValues: c.KeyValues, Columns: names}
			r.Values = make([]any, len(names))
			for i, name := range names {
				r.Values[i] = c.New[name]
			}
			inserts = append(inserts, r)
			inserted[c.Key] = struct{}{}
		}
	}
	// Existing rows carry their values for newly added columns through
	// the update step; inserted rows already bind the full row.
	if len(added) > 0 {
		pos, err := rowset.KeyPositions(o.Spec, o.Current)
		if err != nil {
			return err
		}
		for _, row := range o.Current.Rows {
			key := rowset.RowKey(row, pos)
			if _, ok := inserted[key]; ok {
				continue
			}
			r := updated[key]
			if r == nil {
				r = &Record{Key: key, KeyValues: rowset.RowKeyValues(row, pos)}
				updates = append(updates, r)
				updated[key] = r
			}
			for _, name := range added {
				if containsName(r.Columns, name) {
					continue
				}
				v, _ := o.Current.Value(row, name)
				r.Columns = append(r.Columns, name)
				r.Values = append(r.Values, v)
			}
		}
	}
	spec := len(o.Spec)
	if len(deletes) > 0 {
		p.Steps = append(p.Steps, &Step{
			Kind:      DeleteRows,
			Priority:  PriorityDelete,
			Records:   deletes,
			BatchSize: batchSize(maxDeleteBatch, spec, maxParams),
			Comment:   fmt.Sprintf("delete %d rows", len(deletes)),
		})
	}
	if len(updates) > 0 {
		width := 0
		for _, r := range updates {
			if n := len(r.Columns) + spec; n > width {
				width = n
			}
		}
		p.Steps = append(p.Steps, &Step{
			Kind:      UpdateRows,
			Priority:  PriorityUpdate,
			Records:   updates,
			BatchSize: batchSize(maxUpdateBatch, width, maxParams),
			Comment:   fmt.Sprintf("update %d rows", len(updates)),
		})
	}
	if len(inserts) > 0 {
		p.Steps = append(p.Steps, &Step{
			Kind:      InsertRows,
			Priority:  PriorityInsert,
			Records:   inserts,
			BatchSize: batchSize(maxInsertBatch, len(names), maxParams),
			Comment:   fmt.Sprintf("insert %d rows", len(inserts)),
		})
	}
	return nil
}

// batchSize returns the records per statement batch: the parameter
// ceiling divided by the parameters one record binds, clamped to the
// per-kind ceiling. Deterministic for a given shape.
func batchSize(kindMax, perRecord, maxParams int) int {
	if perRecord < 1 {
		perRecord = 1
	}
	n := maxParams / perRecord
	if n < 1 {
		n = 1
	}
	if n > kindMax {
		n = kindMax
	}
	return n
}

func containsName(names []string, s string) bool {
	for _, n := range names {
		if n == s {
			return true
		}
	}
	return false
}

// renamesInOrder returns the rename pairs sorted by original name, so
// plans build deterministically from the rename map.
func renamesInOrder(renamed map[string]string) [][2]string {
	pairs := make([][2]string, 0, len(renamed))
	for from, to := range renamed {
		pairs = append(pairs, [2]string{from, to})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return pairs
}

// retypesInOrder returns the retyped column names sorted.
func retypesInOrder(retyped map[string]rowset.Kind) []string {
	names := make([]string, 0, len(retyped))
	for name := range retyped {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sortSteps stable-sorts steps by ascending priority, preserving
// insertion order within a priority.
func sortSteps(steps []*Step) {
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Priority < steps[j].Priority })
}

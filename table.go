// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package rowsync

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"rowsync.io/rowsync/sql/conflict"
	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/push"
	"rowsync.io/rowsync/sql/rowset"
	"rowsync.io/rowsync/sql/sqlclient"
	"rowsync.io/rowsync/sql/track"
)

// A Table is a tracked in-memory table bound to one remote table. It
// records every mutation and reconciles with the database on Push. A
// Table is single-owner; it is not safe for concurrent mutation.
type Table struct {
	name    string
	schema  string
	client  *sqlclient.Client
	cfg     *config
	spec    rowset.KeySpec
	value   *rowset.Table
	tracker *track.Tracker
	// exists records whether the remote table is known to exist; it
	// flips on the first successful pull or create.
	exists bool
	index  map[rowset.Key]int
}

// NewTable tracks an in-memory value that may not exist remotely yet.
// The value is canonicalized so the key columns lead, and every current
// row derives as an insertion on the first push.
func NewTable(client *sqlclient.Client, name string, value *rowset.Table, spec rowset.KeySpec, opts ...Option) (*Table, error) {
	cfg := defaults()
	for _, opt := range opts {
		opt(cfg)
	}
	return newTable(client, name, value, spec, cfg)
}

func newTable(client *sqlclient.Client, name string, value *rowset.Table, spec rowset.KeySpec, cfg *config) (*Table, error) {
	if value == nil {
		return nil, &rowset.ValidationError{Message: fmt.Sprintf("table %q has no value", name)}
	}
	if err := rowset.Canonicalize(spec, value); err != nil {
		return nil, err
	}
	t := &Table{
		name:    name,
		client:  client,
		cfg:     cfg,
		spec:    spec,
		value:   value,
		tracker: track.New(spec, nil, track.WithMode(cfg.mode)),
	}
	t.rebuildIndex()
	return t, nil
}

// LoadTable tracks an existing remote table: it introspects the primary
// key, pulls the current rows and starts tracking from that baseline.
func LoadTable(ctx context.Context, client *sqlclient.Client, name string, opts ...Option) (*Table, error) {
	cfg := defaults()
	for _, opt := range opts {
		opt(cfg)
	}
	return loadTable(ctx, client, name, "", cfg)
}

func loadTable(ctx context.Context, client *sqlclient.Client, name, schema string, cfg *config) (*Table, error) {
	spec, err := client.PrimaryKey(ctx, name, schema)
	if err != nil {
		return nil, err
	}
	if len(spec) == 0 {
		return nil, &rowset.SchemaError{
			Message: "table has no primary key",
			Table:   name,
		}
	}
	t := &Table{
		name:    name,
		schema:  schema,
		client:  client,
		cfg:     cfg,
		spec:    spec,
		tracker: track.New(spec, nil, track.WithMode(cfg.mode)),
	}
	if err := t.Pull(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Spec returns the current primary-key spec, reflecting key renames.
func (t *Table) Spec() rowset.KeySpec { return t.spec }

// Value returns the current in-memory table. It is owned by the Table;
// mutate it through the Table's methods only.
func (t *Table) Value() *rowset.Table { return t.value }

// Summary returns the pending change counts.
func (t *Table) Summary() track.Summary { return t.tracker.Summary(t.value) }

// HasChanges reports whether any row or schema change is pending.
func (t *Table) HasChanges() bool { return t.tracker.HasChanges(t.value) }

// Row returns the row with the given key as a column-to-value map, and
// whether it exists.
func (t *Table) Row(keyValues ...any) (map[string]any, bool) {
	i, ok := t.index[rowset.MakeKey(keyValues...)]
	if !ok {
		return nil, false
	}
	return t.cells(t.value.Rows[i]), true
}

// AddRow appends a row given as a column-to-value map. Columns absent
// from the map take nil. With auto-increment enabled and the key cell
// absent, the key becomes max(current keys)+1; this requires a single
// integer key column. A null, missing or duplicate key is a
// ValidationError; an unknown column is a SchemaError.
func (t *Table) AddRow(cells map[string]any) error {
	cells, err := t.insertable(cells, t.nextAuto())
	if err != nil {
		return err
	}
	keyValues, key, err := t.keyOf(cells)
	if err != nil {
		return err
	}
	if _, ok := t.index[key]; ok {
		return t.duplicate(keyValues)
	}
	t.append(key, cells)
	t.tracker.Touch("add_row", keyValues...)
	t.tracker.RowInserted(keyValues, cells)
	return nil
}

// UpdateRow updates the row with the given key. Updates touching a key
// column fail with a ValidationError; a missing row is a NotExistError.
func (t *Table) UpdateRow(keyValues []any, updates map[string]any) error {
	for name := range updates {
		if t.spec.Contains(name) {
			return &rowset.ValidationError{
				Message: fmt.Sprintf("primary-key column %q cannot be modified", name),
				Details: map[string]any{"column": name, "key": keyValues},
			}
		}
		if !t.value.Columns.Has(name) {
			return t.noColumn(name)
		}
	}
	key := rowset.MakeKey(keyValues...)
	i, ok := t.index[key]
	if !ok {
		return &rowset.NotExistError{Err: fmt.Errorf("rowsync: row %v was not found in table %q", keyValues, t.name)}
	}
	row := t.value.Rows[i]
	old := make(map[string]any, len(updates))
	cur := make(map[string]any, len(updates))
	for name, v := range updates {
		p, _ := t.value.Columns.Lookup(name)
		old[name] = row[p]
		row[p], _ = rowset.Normalize(v)
		cur[name] = row[p]
	}
	t.tracker.Touch("update_row", keyValues...)
	t.tracker.RowUpdated(keyValues, old, cur)
	return nil
}

// DeleteRow removes the row with the given key. A missing row is a
// NotExistError.
func (t *Table) DeleteRow(keyValues ...any) error {
	key := rowset.MakeKey(keyValues...)
	i, ok := t.index[key]
	if !ok {
		return &rowset.NotExistError{Err: fmt.Errorf("rowsync: row %v was not found in table %q", keyValues, t.name)}
	}
	cells := t.cells(t.value.Rows[i])
	t.value.Rows = append(t.value.Rows[:i], t.value.Rows[i+1:]...)
	t.rebuildIndex()
	t.tracker.Touch("delete_row", keyValues...)
	t.tracker.RowDeleted(keyValues, cells)
	return nil
}

// UpsertRow updates the row addressed by the map's key cells if it
// exists, and inserts it otherwise.
func (t *Table) UpsertRow(cells map[string]any) error {
	keyValues, key, err := t.keyOf(cells)
	if err == nil {
		if _, ok := t.index[key]; ok {
			updates := make(map[string]any, len(cells))
			for name, v := range cells {
				if !t.spec.Contains(name) {
					updates[name] = v
				}
			}
			return t.UpdateRow(keyValues, updates)
		}
	}
	return t.AddRow(cells)
}

// BulkInsert appends the given rows after validating the whole batch:
// a duplicate key within the batch or against existing rows rejects the
// batch and nothing is inserted. One tracker operation covers the
// batch. Auto-increment assigns consecutive keys.
func (t *Table) BulkInsert(rows []map[string]any) error {
	next := t.nextAuto()
	var (
		prepared = make([]map[string]any, len(rows))
		keys     = make([]rowset.Key, len(rows))
		keyVals  = make([][]any, len(rows))
		batch    = make(map[rowset.Key]struct{}, len(rows))
	)
	for i, cells := range rows {
		cells, err := t.insertable(cells, next)
		if err != nil {
			return err
		}
		keyValues, key, err := t.keyOf(cells)
		if err != nil {
			return err
		}
		if _, ok := t.index[key]; ok {
			return t.duplicate(keyValues)
		}
		if _, ok := batch[key]; ok {
			return &rowset.ValidationError{
				Message: fmt.Sprintf("duplicate primary key %v within batch", keyValues),
				Details: map[string]any{"key": keyValues},
			}
		}
		batch[key] = struct{}{}
		prepared[i], keys[i], keyVals[i] = cells, key, keyValues
	}
	for i, cells := range prepared {
		t.append(keys[i], cells)
		t.tracker.RowInserted(keyVals[i], cells)
	}
	t.tracker.Touch("bulk_insert", len(rows))
	return nil
}

// AddColumnWithDefault appends a column and backfills every current row
// with the default value. An existing column name is a SchemaError.
func (t *Table) AddColumnWithDefault(name string, kind rowset.Kind, dflt any) error {
	if t.value.Columns.Has(name) {
		return &rowset.SchemaError{
			Message: fmt.Sprintf("column %q already exists", name),
			Table:   t.name,
		}
	}
	dflt, _ = rowset.Normalize(dflt)
	t.value.Columns = append(t.value.Columns, &rowset.Column{Name: name, Kind: kind, Null: dflt == nil})
	for i, r := range t.value.Rows {
		t.value.Rows[i] = append(r, dflt)
	}
	t.tracker.AddColumn(name, kind, dflt)
	return nil
}

// DropColumn removes a column. Dropping a key column or an unknown
// column is a SchemaError.
func (t *Table) DropColumn(name string) error {
	p, _ := t.value.Columns.Lookup(name)
	if p == -1 {
		return t.noColumn(name)
	}
	if t.spec.Contains(name) {
		return &rowset.SchemaError{
			Message: fmt.Sprintf("cannot drop primary-key column %q", name),
			Table:   t.name,
		}
	}
	t.value.Columns = append(t.value.Columns[:p], t.value.Columns[p+1:]...)
	for i, r := range t.value.Rows {
		t.value.Rows[i] = append(r[:p], r[p+1:]...)
	}
	t.tracker.DropColumn(name)
	return nil
}

// RenameColumn renames a column. Renaming a key column carries the key
// spec along.
func (t *Table) RenameColumn(old, new string) error {
	p, c := t.value.Columns.Lookup(old)
	if p == -1 {
		return t.noColumn(old)
	}
	if t.value.Columns.Has(new) {
		return &rowset.SchemaError{
			Message: fmt.Sprintf("column %q already exists", new),
			Table:   t.name,
		}
	}
	c.Name = new
	t.tracker.RenameColumn(old, new)
	t.spec = t.tracker.Spec()
	return nil
}

// ChangeColumnType converts a column and its current values to the
// given kind. Key columns keep their type; a value that cannot convert
// is a ValidationError.
func (t *Table) ChangeColumnType(name string, kind rowset.Kind) error {
	p, c := t.value.Columns.Lookup(name)
	if p == -1 {
		return t.noColumn(name)
	}
	if t.spec.Contains(name) {
		return &rowset.SchemaError{
			Message: fmt.Sprintf("cannot change type of primary-key column %q", name),
			Table:   t.name,
		}
	}
	for i, r := range t.value.Rows {
		v, err := rowset.Coerce(r[p], kind)
		if err != nil {
			return &rowset.ValidationError{
				Message: fmt.Sprintf("row %d: column %q: %s", i, name, err),
				Details: map[string]any{"column": name, "row": i},
			}
		}
		r[p] = v
	}
	c.Kind = kind
	t.tracker.RetypeColumn(name, kind)
	return nil
}

// Validate checks the key invariants of the current value: key columns
// exist, no key cell is null, keys are unique and column names do not
// repeat. All violations are reported together.
func (t *Table) Validate() error {
	var merr *multierror.Error
	names := make(map[string]struct{}, len(t.value.Columns))
	for _, c := range t.value.Columns {
		if _, ok := names[c.Name]; ok {
			merr = multierror.Append(merr, &rowset.ValidationError{
				Message: fmt.Sprintf("duplicate column name %q", c.Name),
				Details: map[string]any{"column": c.Name},
			})
		}
		names[c.Name] = struct{}{}
	}
	pos, err := rowset.KeyPositions(t.spec, t.value)
	if err != nil {
		return multierror.Append(merr, err).ErrorOrNil()
	}
	seen := make(map[rowset.Key]int, len(t.value.Rows))
	for i, r := range t.value.Rows {
		null := false
		for _, p := range pos {
			if r[p] == nil {
				null = true
				merr = multierror.Append(merr, &rowset.ValidationError{
					Message: fmt.Sprintf("row %d: null value in primary-key column %q", i, t.value.Columns[p].Name),
					Details: map[string]any{"row": i, "column": t.value.Columns[p].Name},
				})
			}
		}
		if null {
			continue
		}
		key := rowset.RowKey(r, pos)
		if j, ok := seen[key]; ok {
			merr = multierror.Append(merr, &rowset.ValidationError{
				Message: fmt.Sprintf("rows %d and %d share the primary key %v", j, i, rowset.RowKeyValues(r, pos)),
				Details: map[string]any{"rows": []int{j, i}},
			})
			continue
		}
		seen[key] = i
	}
	return merr.ErrorOrNil()
}

// Push reconciles the remote table with the current value: validate,
// create the table if missing, plan the tracked changes, resolve
// conflicts, execute, then pull to rebaseline. A failed push leaves the
// local changes intact; a later pull discards them.
func (t *Table) Push(ctx context.Context) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if !t.exists {
		exists, err := t.client.TableExists(ctx, t.name, t.schema)
		if err != nil {
			return err
		}
		if !exists {
			logrus.WithFields(logrus.Fields{"table": t.name, "rows": len(t.value.Rows)}).Info("rowsync: creating table")
			if err := t.client.CreateTable(ctx, &plan.CreateOptions{
				Table:  t.name,
				Schema: t.schema,
				Value:  t.value,
				Spec:   t.spec,
			}); err != nil {
				return err
			}
			return t.Pull(ctx)
		}
		t.exists = true
	}
	p, err := plan.Build(&plan.Options{
		Table:         t.name,
		Schema:        t.schema,
		Spec:          t.spec,
		Current:       t.value,
		Rows:          t.tracker.RowChanges(t.value),
		Columns:       t.tracker.SchemaChanges(),
		MaxParameters: t.client.Capabilities().MaxParameters,
	})
	if err != nil {
		return err
	}
	if p.Empty() {
		return nil
	}
	if err := conflict.Resolve(ctx, t.client.Driver, p, t.cfg.resolver); err != nil {
		return err
	}
	if err := push.Apply(ctx, t.client, p, &push.Options{
		HealthCheck:       t.cfg.healthCheck,
		ConnectionTimeout: t.cfg.connTimeout,
		QueryTimeout:      t.cfg.queryTimeout,
		IsolationLevel:    t.cfg.isolation,
		Retry:             t.cfg.retry,
	}); err != nil {
		return err
	}
	return t.Pull(ctx)
}

// Pull replaces the current value and the tracker baseline with the
// remote rows. Pending local changes are discarded.
func (t *Table) Pull(ctx context.Context) error {
	tab, err := t.client.Pull(ctx, &plan.PullOptions{
		Table:  t.name,
		Schema: t.schema,
		Spec:   t.spec,
	})
	if err != nil {
		return err
	}
	t.value = tab
	t.exists = true
	t.tracker.Reset(tab)
	t.rebuildIndex()
	logrus.WithFields(logrus.Fields{"table": t.name, "rows": len(tab.Rows)}).Debug("rowsync: pulled")
	return nil
}

// insertable copies and normalizes the given cells, assigns the next
// auto-increment key when enabled and the key cell is absent, and
// rejects unknown columns.
func (t *Table) insertable(cells map[string]any, next func() (int64, error)) (map[string]any, error) {
	c := make(map[string]any, len(t.value.Columns))
	for name, v := range cells {
		if !t.value.Columns.Has(name) {
			return nil, t.noColumn(name)
		}
		c[name], _ = rowset.Normalize(v)
	}
	if t.cfg.autoIncrement {
		if single, ok := t.spec.Single(); ok {
			if v, present := c[single]; !present || v == nil {
				n, err := next()
				if err != nil {
					return nil, err
				}
				c[single] = n
			}
		} else if _, missing := t.missingKey(c); missing {
			_, err := next()
			return nil, err
		}
	}
	for _, col := range t.value.Columns {
		if _, ok := c[col.Name]; !ok {
			c[col.Name] = nil
		}
	}
	return c, nil
}

// nextAuto returns a generator of consecutive auto-increment keys,
// starting after the current maximum. It fails unless the key is a
// single integer column.
func (t *Table) nextAuto() func() (int64, error) {
	var (
		primed bool
		next   int64
	)
	return func() (int64, error) {
		single, ok := t.spec.Single()
		if !ok {
			return 0, &rowset.ValidationError{
				Message: "auto-increment requires a single-column primary key",
				Details: map[string]any{"key": t.spec.String()},
			}
		}
		_, c := t.value.Columns.Lookup(single)
		if c == nil {
			return 0, t.noColumn(single)
		}
		if c.Kind != rowset.KindInt {
			return 0, &rowset.ValidationError{
				Message: fmt.Sprintf("auto-increment requires an integer primary key, %q is %s", single, c.Kind),
				Details: map[string]any{"column": single},
			}
		}
		if !primed {
			p, _ := t.value.Columns.Lookup(single)
			for _, r := range t.value.Rows {
				if v, ok := r[p].(int64); ok && v > next {
					next = v
				}
			}
			primed = true
		}
		next++
		return next, nil
	}
}

// keyOf extracts and validates the key tuple of a cell map.
func (t *Table) keyOf(cells map[string]any) ([]any, rowset.Key, error) {
	if name, missing := t.missingKey(cells); missing {
		return nil, "", &rowset.ValidationError{
			Message: fmt.Sprintf("null value in primary-key column %q", name),
			Details: map[string]any{"column": name},
		}
	}
	keyValues := make([]any, len(t.spec))
	for i, name := range t.spec {
		keyValues[i] = cells[name]
	}
	return keyValues, rowset.MakeKey(keyValues...), nil
}

// missingKey returns the first key column with a nil or absent cell.
func (t *Table) missingKey(cells map[string]any) (string, bool) {
	for _, name := range t.spec {
		if v, ok := cells[name]; !ok || v == nil {
			return name, true
		}
	}
	return "", false
}

func (t *Table) append(key rowset.Key, cells map[string]any) {
	row := make(rowset.Row, len(t.value.Columns))
	for i, c := range t.value.Columns {
		row[i] = cells[c.Name]
	}
	t.value.Rows = append(t.value.Rows, row)
	t.index[key] = len(t.value.Rows) - 1
}

func (t *Table) cells(r rowset.Row) map[string]any {
	cells := make(map[string]any, len(t.value.Columns))
	for i, c := range t.value.Columns {
		cells[c.Name] = r[i]
	}
	return cells
}

func (t *Table) rebuildIndex() {
	t.index = make(map[rowset.Key]int, len(t.value.Rows))
	keys, err := rowset.KeyValues(t.spec, t.value)
	if err != nil {
		return
	}
	for i, k := range keys {
		t.index[k] = i
	}
}

func (t *Table) duplicate(keyValues []any) error {
	return &rowset.ValidationError{
		Message: fmt.Sprintf("duplicate primary key %v in table %q", keyValues, t.name),
		Details: map[string]any{"key": keyValues},
	}
}

func (t *Table) noColumn(name string) error {
	return &rowset.SchemaError{
		Message: fmt.Sprintf("column %q does not exist", name),
		Table:   t.name,
	}
}

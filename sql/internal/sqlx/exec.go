// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlx

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/rowset"
)

// An Exec renders and executes plan steps. The dialect packages embed
// it with their quoting style, placeholder style, type formatting and
// DDL hook, and share the DML paths: the SQL shape of batched deletes,
// per-row updates and multi-values inserts is identical across
// dialects up to quoting and placeholders.
type Exec struct {
	// Conn is the default connection the step runs on when the caller
	// passes none (typically the pool; the executor passes an open
	// transaction instead).
	Conn rowset.ExecQuerier

	// Quote is the identifier quote character, and Dollar selects
	// positional $n placeholders over ?.
	Quote  byte
	Dollar bool

	// Format maps an abstract kind to the dialect column type.
	// KeyFormat, when set, overrides it for primary-key columns.
	Format    func(rowset.Kind) string
	KeyFormat func(rowset.Kind) string

	// Alter executes one schema-change operation. Each dialect renders
	// its own DDL; some consult introspection first.
	Alter func(ctx context.Context, conn rowset.ExecQuerier, p *plan.Plan, a *plan.Alter) error
}

// Build returns a builder with the dialect's quoting and placeholder
// style, seeded with the given phrases.
func (e *Exec) Build(phrases ...string) *Builder {
	b := &Builder{QuoteChar: e.Quote, Dollar: e.Dollar}
	return b.P(phrases...)
}

// ExecStep executes one plan step on the given connection, or on the
// default connection if conn is nil.
func (e *Exec) ExecStep(ctx context.Context, conn rowset.ExecQuerier, p *plan.Plan, s *plan.Step) error {
	if conn == nil {
		conn = e.Conn
	}
	switch s.Kind {
	case plan.SchemaChange:
		return e.Alter(ctx, conn, p, s.Alter)
	case plan.DeleteRows:
		return e.deleteRows(ctx, conn, p, s)
	case plan.UpdateRows:
		return e.updateRows(ctx, conn, p, s)
	case plan.InsertRows:
		return e.insertRows(ctx, conn, p, s)
	default:
		return fmt.Errorf("sqlx: unknown step kind %d", s.Kind)
	}
}

func (e *Exec) deleteRows(ctx context.Context, conn rowset.ExecQuerier, p *plan.Plan, s *plan.Step) error {
	for _, batch := range chunk(s.Records, s.BatchSize) {
		b := e.Build("DELETE FROM").Table(p.Schema, p.Table).P("WHERE")
		e.keyPredicate(b, p.Spec, len(batch))
		args := make([]any, 0, len(batch)*len(p.Spec))
		for _, r := range batch {
			args = append(args, r.KeyValues...)
		}
		if err := e.exec(ctx, conn, b.String(), args); err != nil {
			return fmt.Errorf("sqlx: delete rows from %q: %w", p.Table, err)
		}
	}
	return nil
}

// updateRows executes one statement per record. Batching groups the
// statements for logging only; they all run on the same connection.
func (e *Exec) updateRows(ctx context.Context, conn rowset.ExecQuerier, p *plan.Plan, s *plan.Step) error {
	for _, batch := range chunk(s.Records, s.BatchSize) {
		for _, r := range batch {
			if len(r.Columns) == 0 {
				continue
			}
			b := e.Build("UPDATE").Table(p.Schema, p.Table).P("SET")
			b.MapComma(len(r.Columns), func(i int, b *Builder) {
				b.Ident(r.Columns[i]).P("=").Param()
			})
			b.P("WHERE")
			for i, c := range p.Spec {
				if i > 0 {
					b.P("AND")
				}
				b.Ident(c).P("=").Param()
			}
			args := make([]any, 0, len(r.Values)+len(r.KeyValues))
			args = append(args, r.Values...)
			args = append(args, r.KeyValues...)
			if err := e.exec(ctx, conn, b.String(), args); err != nil {
				return fmt.Errorf("sqlx: update row in %q: %w", p.Table, err)
			}
		}
	}
	return nil
}

func (e *Exec) insertRows(ctx context.Context, conn rowset.ExecQuerier, p *plan.Plan, s *plan.Step) error {
	for _, batch := range chunk(s.Records, s.BatchSize) {
		cols := batch[0].Columns
		b := e.Build("INSERT INTO").Table(p.Schema, p.Table)
		b.Wrap(func(b *Builder) {
			b.MapComma(len(cols), func(i int, b *Builder) {
				b.Ident(cols[i])
			})
		})
		b.P("VALUES")
		b.MapComma(len(batch), func(i int, b *Builder) {
			b.Wrap(func(b *Builder) {
				b.Params(len(cols))
			})
		})
		args := make([]any, 0, len(batch)*len(cols))
		for _, r := range batch {
			args = append(args, r.Values...)
		}
		if err := e.exec(ctx, conn, b.String(), args); err != nil {
			return fmt.Errorf("sqlx: insert rows into %q: %w", p.Table, err)
		}
	}
	return nil
}

// keyPredicate writes the key membership predicate for n rows:
// an IN list for a single-column key, and OR-joined AND-chains for a
// composite key.
func (e *Exec) keyPredicate(b *Builder, spec rowset.KeySpec, n int) {
	if len(spec) == 1 {
		b.Ident(spec[0]).P("IN")
		b.Wrap(func(b *Builder) {
			b.Params(n)
		})
		return
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			b.P("OR")
		}
		b.Wrap(func(b *Builder) {
			for j, c := range spec {
				if j > 0 {
					b.P("AND")
				}
				b.Ident(c).P("=").Param()
			}
		})
	}
}

// CreateTable creates the remote table from the in-memory value,
// including its primary-key constraint, and inserts the value's rows.
// A single-column key renders as a column-level PRIMARY KEY clause; a
// composite key as a named table constraint.
func (e *Exec) CreateTable(ctx context.Context, exists bool, opts *plan.CreateOptions) error {
	switch {
	case exists && opts.IfExists == plan.Fail:
		return &rowset.SchemaError{
			Message: fmt.Sprintf("table %q already exists", opts.Table),
			Table:   opts.Table,
		}
	case exists && opts.IfExists == plan.Replace:
		b := e.Build("DROP TABLE").Table(opts.Schema, opts.Table)
		if err := e.exec(ctx, e.Conn, b.String(), nil); err != nil {
			return fmt.Errorf("sqlx: drop table %q: %w", opts.Table, err)
		}
		exists = false
	}
	if !exists {
		b := e.Build("CREATE TABLE").Table(opts.Schema, opts.Table)
		b.Wrap(func(b *Builder) {
			b.MapComma(len(opts.Value.Columns), func(i int, b *Builder) {
				c := opts.Value.Columns[i]
				key := opts.Spec.Contains(c.Name)
				b.Ident(c.Name).P(e.columnType(c.Kind, key))
				if key && len(opts.Spec) == 1 {
					b.P("PRIMARY KEY")
				} else if key {
					b.P("NOT NULL")
				}
			})
			if len(opts.Spec) > 1 {
				b.Comma().P("CONSTRAINT").Ident(opts.Table + "_pk").P("PRIMARY KEY")
				b.Wrap(func(b *Builder) {
					b.MapComma(len(opts.Spec), func(i int, b *Builder) {
						b.Ident(opts.Spec[i])
					})
				})
			}
		})
		if err := e.exec(ctx, e.Conn, b.String(), nil); err != nil {
			return fmt.Errorf("sqlx: create table %q: %w", opts.Table, err)
		}
	}
	if opts.Value.Empty() {
		return nil
	}
	names := opts.Value.Columns.Names()
	records := make([]*plan.Record, len(opts.Value.Rows))
	for i, r := range opts.Value.Rows {
		records[i] = &plan.Record{Columns: names, Values: r}
	}
	s := &plan.Step{Kind: plan.InsertRows, Records: records, BatchSize: insertBatch(len(names))}
	return e.insertRows(ctx, e.Conn, &plan.Plan{Table: opts.Table, Schema: opts.Schema, Spec: opts.Spec}, s)
}

func (e *Exec) columnType(k rowset.Kind, key bool) string {
	if key && e.KeyFormat != nil {
		return e.KeyFormat(k)
	}
	return e.Format(k)
}

// PullRows reads the remote table into a row set using the column
// metadata reported by introspection. The read can be restricted to a
// column subset and a key set; key columns are always included so the
// rows stay addressable.
func (e *Exec) PullRows(ctx context.Context, opts *plan.PullOptions, cols []*rowset.ColumnInfo) (*rowset.Table, error) {
	selected := selectColumns(opts, cols)
	if len(selected) == 0 {
		return nil, &rowset.SchemaError{
			Message: fmt.Sprintf("table %q has no readable columns", opts.Table),
			Table:   opts.Table,
		}
	}
	b := e.Build("SELECT")
	b.MapComma(len(selected), func(i int, b *Builder) {
		b.Ident(selected[i].Name)
	})
	b.P("FROM").Table(opts.Schema, opts.Table)
	var args []any
	if len(opts.Keys) > 0 {
		b.P("WHERE")
		e.keyPredicate(b, opts.Spec, len(opts.Keys))
		for _, kv := range opts.Keys {
			args = append(args, kv...)
		}
	}
	logrus.WithFields(logrus.Fields{"sql": b.String(), "args": len(args)}).Debug("sqlx: pull")
	rows, err := e.Conn.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlx: read table %q: %w", opts.Table, err)
	}
	defer rows.Close()
	t := rowset.NewTable()
	for _, c := range selected {
		t.Columns = append(t.Columns, &rowset.Column{Name: c.Name, Kind: c.Kind, Key: c.Key, Null: c.Null})
	}
	for rows.Next() {
		targets := make([]any, len(selected))
		for i, c := range selected {
			targets[i] = scanTarget(c.Kind)
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("sqlx: scan table %q: %w", opts.Table, err)
		}
		r := make(rowset.Row, len(targets))
		for i, v := range targets {
			r[i], _ = rowset.Normalize(unwrap(v))
		}
		t.Rows = append(t.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlx: read table %q: %w", opts.Table, err)
	}
	if len(opts.Spec) > 0 {
		if err := rowset.Canonicalize(opts.Spec, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// selectColumns returns the columns to read, in remote schema order:
// all of them, or the key columns plus the requested subset.
func selectColumns(opts *plan.PullOptions, cols []*rowset.ColumnInfo) []*rowset.ColumnInfo {
	if len(opts.Columns) == 0 {
		return cols
	}
	want := make(map[string]bool, len(opts.Columns)+len(opts.Spec))
	for _, c := range opts.Columns {
		want[c] = true
	}
	for _, c := range opts.Spec {
		want[c] = true
	}
	var selected []*rowset.ColumnInfo
	for _, c := range cols {
		if want[c.Name] {
			selected = append(selected, c)
		}
	}
	return selected
}

func scanTarget(k rowset.Kind) any {
	switch k {
	case rowset.KindInt:
		return new(sql.NullInt64)
	case rowset.KindFloat:
		return new(sql.NullFloat64)
	case rowset.KindBool:
		return new(sql.NullBool)
	case rowset.KindTime:
		return new(sql.NullTime)
	default:
		return new(sql.NullString)
	}
}

func unwrap(v any) any {
	switch v := v.(type) {
	case *sql.NullInt64:
		return *v
	case *sql.NullFloat64:
		return *v
	case *sql.NullBool:
		return *v
	case *sql.NullTime:
		return *v
	case *sql.NullString:
		return *v
	default:
		return v
	}
}

func (e *Exec) exec(ctx context.Context, conn rowset.ExecQuerier, stmt string, args []any) error {
	logrus.WithFields(logrus.Fields{"sql": stmt, "args": len(args)}).Debug("sqlx: exec")
	_, err := conn.ExecContext(ctx, stmt, args...)
	return err
}

// chunk splits records into batches of at most size records. A size
// below one yields a single batch.
func chunk(records []*plan.Record, size int) [][]*plan.Record {
	if size < 1 {
		size = len(records)
	}
	var batches [][]*plan.Record
	for len(records) > 0 {
		n := size
		if n > len(records) {
			n = len(records)
		}
		batches = append(batches, records[:n])
		records = records[n:]
	}
	return batches
}

// insertBatch mirrors the planner's insert sizing for the create-table
// seeding path.
func insertBatch(width int) int {
	if width < 1 {
		width = 1
	}
	n := plan.DefaultMaxParameters / width
	if n < 1 {
		n = 1
	}
	if n > 500 {
		n = 500
	}
	return n
}

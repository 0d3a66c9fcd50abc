// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package rowset defines the in-memory tabular value the sync engine
// tracks and pushes, the primary-key utilities that address its rows,
// the change records derived from it, and the fault taxonomy shared by
// all engine packages.
package rowset

import (
	"fmt"
)

type (
	// A Column describes one column of a row set: its name, its abstract
	// kind, whether it takes part in the primary key, and whether it
	// accepts nulls.
	Column struct {
		Name string
		Kind Kind
		Key  bool
		Null bool
	}

	// A Schema is the ordered list of columns of a row set.
	Schema []*Column

	// A Row holds one value per schema column, normalized as described
	// in Normalize.
	Row []any

	// A Table is an in-memory table of rows addressed by a primary key.
	// In canonical form the key columns are the first KeyParts columns
	// of the schema; row sets loaded from a host container may arrive
	// with the key among ordinary columns (KeyParts == 0) until
	// Canonicalize is applied.
	Table struct {
		Columns  Schema
		Rows     []Row
		KeyParts int
	}
)

// NewTable returns a table with the given columns and no rows.
func NewTable(columns ...*Column) *Table {
	return &Table{Columns: columns}
}

// Lookup returns the position and definition of the named column, or
// -1 and nil if no such column exists.
func (s Schema) Lookup(name string) (int, *Column) {
	for i, c := range s {
		if c.Name == name {
			return i, c
		}
	}
	return -1, nil
}

// Has reports whether the schema contains the named column.
func (s Schema) Has(name string) bool {
	i, _ := s.Lookup(name)
	return i != -1
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	c := make(Schema, len(s))
	for i := range s {
		cc := *s[i]
		c[i] = &cc
	}
	return c
}

// Clone returns a copy of the row. Values are shared; they are
// immutable scalars by construction.
func (r Row) Clone() Row {
	c := make(Row, len(r))
	copy(c, r)
	return c
}

// Append adds rows to the table after normalizing their values. It
// returns an error if a row width does not match the schema.
func (t *Table) Append(rows ...Row) error {
	for _, r := range rows {
		if len(r) != len(t.Columns) {
			return fmt.Errorf("rowset: row width %d does not match %d columns", len(r), len(t.Columns))
		}
		nr := make(Row, len(r))
		for i, v := range r {
			nr[i], _ = Normalize(v)
		}
		t.Rows = append(t.Rows, nr)
	}
	return nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := &Table{
		Columns:  t.Columns.Clone(),
		Rows:     make([]Row, len(t.Rows)),
		KeyParts: t.KeyParts,
	}
	for i, r := range t.Rows {
		c.Rows[i] = r.Clone()
	}
	return c
}

// Value returns the value of the named column in the given row, and
// whether the column exists.
func (t *Table) Value(row Row, column string) (any, bool) {
	i, _ := t.Columns.Lookup(column)
	if i == -1 || i >= len(row) {
		return nil, false
	}
	return row[i], true
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return len(t.Rows) == 0
}

// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"context"
	"fmt"
	"sort"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/rowset"
)

const (
	// Query to list database tables, excluding SQLite internals.
	tablesQuery = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"

	// Query to list table columns. pragma_table_info is the
	// table-valued form of PRAGMA table_info, which accepts bind
	// parameters.
	columnsQuery = "SELECT name, type, \"notnull\", pk FROM pragma_table_info(?) ORDER BY cid"
)

// Tables returns the table names of the database. The schema argument
// is ignored; SQLite connections are bound to one database file.
func (d *Driver) Tables(ctx context.Context, _ string) ([]string, error) {
	rows, err := d.QueryContext(ctx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying tables: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scanning table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableExists reports whether the named table exists.
func (d *Driver) TableExists(ctx context.Context, name, _ string) (bool, error) {
	var n int
	err := d.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking table %q: %w", name, err)
	}
	return n > 0, nil
}

// Columns returns the column metadata of the named table, or a
// NotExistError if the table was not found.
func (d *Driver) Columns(ctx context.Context, name, _ string) ([]*rowset.ColumnInfo, error) {
	rows, err := d.QueryContext(ctx, columnsQuery, name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying %q columns: %w", name, err)
	}
	defer rows.Close()
	var columns []*rowset.ColumnInfo
	for rows.Next() {
		var (
			name, typ string
			notnull   bool
			pk        int
		)
		if err := rows.Scan(&name, &typ, &notnull, &pk); err != nil {
			return nil, fmt.Errorf("sqlite: scanning column: %w", err)
		}
		columns = append(columns, &rowset.ColumnInfo{
			Name: name,
			Type: typ,
			Kind: ParseType(typ),
			Null: !notnull && pk == 0,
			Key:  pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, &rowset.NotExistError{Err: fmt.Errorf("sqlite: table %q was not found", name)}
	}
	return columns, nil
}

// PrimaryKey returns the primary-key spec of the named table in key
// ordinal order, or a nil spec if the table has no primary key.
func (d *Driver) PrimaryKey(ctx context.Context, name, _ string) (rowset.KeySpec, error) {
	rows, err := d.QueryContext(ctx, columnsQuery, name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying %q primary key: %w", name, err)
	}
	defer rows.Close()
	type part struct {
		name string
		ord  int
	}
	var (
		parts []part
		total int
	)
	for rows.Next() {
		var (
			name, typ string
			notnull   bool
			pk        int
		)
		if err := rows.Scan(&name, &typ, &notnull, &pk); err != nil {
			return nil, fmt.Errorf("sqlite: scanning column: %w", err)
		}
		total++
		if pk > 0 {
			parts = append(parts, part{name: name, ord: pk})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, &rowset.NotExistError{Err: fmt.Errorf("sqlite: table %q was not found", name)}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].ord < parts[j].ord })
	spec := make(rowset.KeySpec, len(parts))
	for i, p := range parts {
		spec[i] = p.name
	}
	return spec, nil
}

// Pull reads the named table into a row set and canonicalizes its key
// columns when a spec is given.
func (d *Driver) Pull(ctx context.Context, opts *plan.PullOptions) (*rowset.Table, error) {
	columns, err := d.Columns(ctx, opts.Table, opts.Schema)
	if err != nil {
		return nil, err
	}
	return d.PullRows(ctx, opts, columns)
}

// CreateTable creates the remote table from the in-memory value.
func (d *Driver) CreateTable(ctx context.Context, opts *plan.CreateOptions) error {
	exists, err := d.TableExists(ctx, opts.Table, opts.Schema)
	if err != nil {
		return err
	}
	return d.Exec.CreateTable(ctx, exists, opts)
}

// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package postgres

import (
	"context"
	"fmt"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/rowset"
)

const (
	tablesQuery = "SELECT table_name FROM information_schema.tables WHERE table_schema = COALESCE($1, CURRENT_SCHEMA()) AND table_type = 'BASE TABLE' ORDER BY table_name"

	existsQuery = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = COALESCE($1, CURRENT_SCHEMA()) AND table_name = $2"

	columnsQuery = "SELECT c.column_name, c.data_type, c.is_nullable, EXISTS (SELECT 1 FROM information_schema.key_column_usage k JOIN information_schema.table_constraints t ON t.constraint_name = k.constraint_name AND t.constraint_schema = k.constraint_schema WHERE t.constraint_type = 'PRIMARY KEY' AND k.table_schema = c.table_schema AND k.table_name = c.table_name AND k.column_name = c.column_name) FROM information_schema.columns c WHERE c.table_schema = COALESCE($1, CURRENT_SCHEMA()) AND c.table_name = $2 ORDER BY c.ordinal_position"

	primaryKeyQuery = "SELECT k.column_name FROM information_schema.key_column_usage k JOIN information_schema.table_constraints t ON t.constraint_name = k.constraint_name AND t.constraint_schema = k.constraint_schema WHERE t.constraint_type = 'PRIMARY KEY' AND k.table_schema = COALESCE($1, CURRENT_SCHEMA()) AND k.table_name = $2 ORDER BY k.ordinal_position"
)

// nullable converts an empty schema argument to a NULL bind value, so
// COALESCE falls back to the connected schema.
func nullable(schema string) any {
	if schema == "" {
		return nil
	}
	return schema
}

// Tables returns the table names of the given schema, or of the
// connected schema if empty.
func (d *Driver) Tables(ctx context.Context, schema string) ([]string, error) {
	rows, err := d.QueryContext(ctx, tablesQuery, nullable(schema))
	if err != nil {
		return nil, fmt.Errorf("postgres: querying tables: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: scanning table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableExists reports whether the named table exists.
func (d *Driver) TableExists(ctx context.Context, name, schema string) (bool, error) {
	var n int
	if err := d.QueryRowContext(ctx, existsQuery, nullable(schema), name).Scan(&n); err != nil {
		return false, fmt.Errorf("postgres: checking table %q: %w", name, err)
	}
	return n > 0, nil
}

// Columns returns the column metadata of the named table, or a
// NotExistError if the table was not found.
func (d *Driver) Columns(ctx context.Context, name, schema string) ([]*rowset.ColumnInfo, error) {
	rows, err := d.QueryContext(ctx, columnsQuery, nullable(schema), name)
	if err != nil {
		return nil, fmt.Errorf("postgres: querying %q columns: %w", name, err)
	}
	defer rows.Close()
	var columns []*rowset.ColumnInfo
	for rows.Next() {
		var (
			cname, ctype, cnull string
			key                 bool
		)
		if err := rows.Scan(&cname, &ctype, &cnull, &key); err != nil {
			return nil, fmt.Errorf("postgres: scanning column: %w", err)
		}
		columns = append(columns, &rowset.ColumnInfo{
			Name: cname,
			Type: ctype,
			Kind: ParseType(ctype),
			Null: cnull == "YES",
			Key:  key,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, &rowset.NotExistError{Err: fmt.Errorf("postgres: table %q was not found", name)}
	}
	return columns, nil
}

// PrimaryKey returns the primary-key spec of the named table in key
// ordinal order, or a nil spec if the table has no primary key.
func (d *Driver) PrimaryKey(ctx context.Context, name, schema string) (rowset.KeySpec, error) {
	rows, err := d.QueryContext(ctx, primaryKeyQuery, nullable(schema), name)
	if err != nil {
		return nil, fmt.Errorf("postgres: querying %q primary key: %w", name, err)
	}
	defer rows.Close()
	var spec rowset.KeySpec
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("postgres: scanning key column: %w", err)
		}
		spec = append(spec, c)
	}
	return spec, rows.Err()
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

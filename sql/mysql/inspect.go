// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/rowset"
)

const (
	tablesQuery = "SELECT `TABLE_NAME` FROM `INFORMATION_SCHEMA`.`TABLES` WHERE `TABLE_SCHEMA` = COALESCE(?, SCHEMA()) ORDER BY `TABLE_NAME`"

	existsQuery = "SELECT COUNT(*) FROM `INFORMATION_SCHEMA`.`TABLES` WHERE `TABLE_SCHEMA` = COALESCE(?, SCHEMA()) AND `TABLE_NAME` = ?"

	columnsQuery = "SELECT `COLUMN_NAME`, `COLUMN_TYPE`, `IS_NULLABLE`, `COLUMN_KEY` FROM `INFORMATION_SCHEMA`.`COLUMNS` WHERE `TABLE_SCHEMA` = COALESCE(?, SCHEMA()) AND `TABLE_NAME` = ? ORDER BY `ORDINAL_POSITION`"

	primaryKeyQuery = "SELECT `COLUMN_NAME` FROM `INFORMATION_SCHEMA`.`STATISTICS` WHERE `TABLE_SCHEMA` = COALESCE(?, SCHEMA()) AND `TABLE_NAME` = ? AND `INDEX_NAME` = 'PRIMARY' ORDER BY `SEQ_IN_INDEX`"
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
		return nil, fmt.Errorf("mysql: querying tables: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("mysql: scanning table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableExists reports whether the named table exists.
func (d *Driver) TableExists(ctx context.Context, name, schema string) (bool, error) {
	var n int
	if err := d.QueryRowContext(ctx, existsQuery, nullable(schema), name).Scan(&n); err != nil {
		return false, fmt.Errorf("mysql: checking table %q: %w", name, err)
	}
	return n > 0, nil
}

// Columns returns the column metadata of the named table, or a
// NotExistError if the table was not found.
func (d *Driver) Columns(ctx context.Context, name, schema string) ([]*rowset.ColumnInfo, error) {
	rows, err := d.QueryContext(ctx, columnsQuery, nullable(schema), name)
	if err != nil {
		return nil, fmt.Errorf("mysql: querying %q columns: %w", name, err)
	}
	defer rows.Close()
	var columns []*rowset.ColumnInfo
	for rows.Next() {
		var (
			cname, ctype, cnull string
			ckey                sql.NullString
		)
		if err := rows.Scan(&cname, &ctype, &cnull, &ckey); err != nil {
			return nil, fmt.Errorf("mysql: scanning column: %w", err)
		}
		columns = append(columns, &rowset.ColumnInfo{
			Name: cname,
			Type: ctype,
			Kind: ParseType(ctype),
			Null: cnull == "YES",
			Key:  ckey.String == "PRI",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, &rowset.NotExistError{Err: fmt.Errorf("mysql: table %q was not found", name)}
	}
	return columns, nil
}

// columnType returns the raw type of one column, used to re-state the
// type in CHANGE COLUMN statements on servers without RENAME COLUMN.
func (d *Driver) columnType(ctx context.Context, table, schema, column string) (string, error) {
	columns, err := d.Columns(ctx, table, schema)
	if err != nil {
		return "", err
	}
	for _, c := range columns {
		if c.Name == column {
			return c.Type, nil
		}
	}
	return "", &rowset.SchemaError{
		Message: fmt.Sprintf("column %q was not found in table %q", column, table),
		Table:   table,
	}
}

// PrimaryKey returns the primary-key spec of the named table in key
// ordinal order, or a nil spec if the table has no primary key.
func (d *Driver) PrimaryKey(ctx context.Context, name, schema string) (rowset.KeySpec, error) {
	rows, err := d.QueryContext(ctx, primaryKeyQuery, nullable(schema), name)
	if err != nil {
		return nil, fmt.Errorf("mysql: querying %q primary key: %w", name, err)
	}
	defer rows.Close()
	var spec rowset.KeySpec
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("mysql: scanning key column: %w", err)
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

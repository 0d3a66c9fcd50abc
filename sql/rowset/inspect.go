// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package rowset

import (
	"context"
	"database/sql"
)

// ExecQuerier wraps the standard sql.DB methods. Both *sql.DB and
// *sql.Tx satisfy it, so drivers run equally on a pool or inside an
// open transaction.
type ExecQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var (
	_ ExecQuerier = (*sql.DB)(nil)
	_ ExecQuerier = (*sql.Tx)(nil)
)

type (
	// A ColumnInfo describes one column of a remote table as reported
	// by introspection: its name, the raw dialect type, the abstract
	// kind parsed from it, nullability and key membership.
	ColumnInfo struct {
		Name string
		Type string
		Kind Kind
		Null bool
		Key  bool
	}

	// Inspector provides table introspection. Implementations report a
	// missing table with a NotExistError.
	Inspector interface {
		// Tables returns the table names of the given schema, or of the
		// connected schema if empty.
		Tables(ctx context.Context, schema string) ([]string, error)

		// TableExists reports whether the named table exists.
		TableExists(ctx context.Context, name, schema string) (bool, error)

		// Columns returns the column metadata of the named table.
		Columns(ctx context.Context, name, schema string) ([]*ColumnInfo, error)

		// PrimaryKey returns the primary-key spec of the named table,
		// or a nil spec if the table has no primary key.
		PrimaryKey(ctx context.Context, name, schema string) (KeySpec, error)
	}
)

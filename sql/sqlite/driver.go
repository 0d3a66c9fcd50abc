// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sqlite implements the SQLite driver of the sync engine:
// introspection, table reads, and rendering and execution of plan
// steps.
package sqlite

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/mod/semver"

	"rowsync.io/rowsync/sql/internal/sqlx"
	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/retry"
	"rowsync.io/rowsync/sql/rowset"
)

type (
	// Driver represents a SQLite driver for introspecting tables,
	// reading them into row sets and applying execution plans.
	Driver struct {
		conn
		sqlx.Exec
	}

	// database connection and its information.
	conn struct {
		rowset.ExecQuerier
		// System variables that are set on Open.
		version string
	}
)

// DriverName is the dialect name the driver registers under.
const DriverName = "sqlite"

// Open opens a new SQLite driver.
func Open(db rowset.ExecQuerier) (*Driver, error) {
	c := conn{ExecQuerier: db}
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&c.version); err != nil {
		return nil, fmt.Errorf("sqlite: scanning database version: %w", err)
	}
	d := &Driver{conn: c}
	d.Exec = sqlx.Exec{
		Conn:   db,
		Quote:  '"',
		Format: FormatType,
		Alter:  d.alterColumn,
	}
	return d, nil
}

// Dialect returns the dialect name.
func (d *Driver) Dialect() string { return DriverName }

// Version returns the connected database version.
func (d *Driver) Version() string { return d.version }

// Capabilities returns the dialect limits. SQLite runs DDL inside
// transactions but serializes writers, so parallel multi-table pushes
// downgrade to sequential.
func (d *Driver) Capabilities() plan.Capabilities {
	return plan.Capabilities{
		TransactionalDDL: true,
		ConcurrentWrites: false,
		Isolation:        false,
		MaxParameters:    999,
	}
}

// supportsRenameColumn reports whether ALTER TABLE ... RENAME COLUMN
// is available (SQLite 3.25.0).
func (d *Driver) supportsRenameColumn() bool {
	return semver.Compare("v"+d.version, "v3.25.0") != -1
}

// supportsDropColumn reports whether ALTER TABLE ... DROP COLUMN is
// available (SQLite 3.35.0).
func (d *Driver) supportsDropColumn() bool {
	return semver.Compare("v"+d.version, "v3.35.0") != -1
}

// Retryable reports whether the error is transient. SQLite surfaces
// writer contention as SQLITE_BUSY and SQLITE_LOCKED.
func (d *Driver) Retryable(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return retry.Transient(err)
}

// Deadlock reports whether the error is a lock cycle. SQLite has no
// deadlock detection proper; a busy database plays the same role.
func (d *Driver) Deadlock(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy
	}
	return retry.DeadlockMessage(err)
}

// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package postgres implements the PostgreSQL driver of the sync
// engine: introspection, table reads, and rendering and execution of
// plan steps.
package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"rowsync.io/rowsync/sql/internal/sqlx"
	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/retry"
	"rowsync.io/rowsync/sql/rowset"
)

type (
	// Driver represents a PostgreSQL driver for introspecting tables,
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
const DriverName = "postgresql"

// SQLSTATE classes and codes the driver classifies.
const (
	codeSerialization = "40001"
	codeDeadlock      = "40P01"
	classConnection   = "08"
	classOperator     = "57" // operator intervention, e.g. shutdown
)

// Open opens a new PostgreSQL driver.
func Open(db rowset.ExecQuerier) (*Driver, error) {
	c := conn{ExecQuerier: db}
	if err := db.QueryRow("SHOW server_version").Scan(&c.version); err != nil {
		return nil, fmt.Errorf("postgres: scanning database version: %w", err)
	}
	d := &Driver{conn: c}
	d.Exec = sqlx.Exec{
		Conn:   db,
		Quote:  '"',
		Dollar: true,
		Format: FormatType,
		Alter:  d.alterColumn,
	}
	return d, nil
}

// Dialect returns the dialect name.
func (d *Driver) Dialect() string { return DriverName }

// Version returns the connected database version.
func (d *Driver) Version() string { return d.version }

// Capabilities returns the dialect limits.
func (d *Driver) Capabilities() plan.Capabilities {
	return plan.Capabilities{
		TransactionalDDL: true,
		ConcurrentWrites: true,
		Isolation:        true,
		MaxParameters:    65535,
	}
}

// Retryable reports whether the error is transient: serialization
// failures, deadlocks and connection-class failures retry, constraint
// and schema errors do not.
func (d *Driver) Retryable(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) {
		code := string(pe.Code)
		switch {
		case code == codeSerialization, code == codeDeadlock:
			return true
		case strings.HasPrefix(code, classConnection), strings.HasPrefix(code, classOperator):
			return true
		default:
			return false
		}
	}
	return retry.Transient(err)
}

// Deadlock reports whether the error is a deadlock or serialization
// failure.
func (d *Driver) Deadlock(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == codeDeadlock || pe.Code == codeSerialization
	}
	return retry.DeadlockMessage(err)
}

var _ plan.Driver = (*Driver)(nil)

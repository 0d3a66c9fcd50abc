// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package mysql implements the MySQL driver of the sync engine:
// introspection, table reads, and rendering and execution of plan
// steps.
package mysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/mod/semver"

	"rowsync.io/rowsync/sql/internal/sqlx"
	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/retry"
	"rowsync.io/rowsync/sql/rowset"
)

type (
	// Driver represents a MySQL driver for introspecting tables,
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
const DriverName = "mysql"

// MySQL server error numbers the driver classifies.
const (
	errDeadlock        = 1213
	errLockWaitTimeout = 1205
	errQueryTimeout    = 3024
	errConRefused      = 2003
	errServerGone      = 2006
	errServerLost      = 2013
)

// Open opens a new MySQL driver.
func Open(db rowset.ExecQuerier) (*Driver, error) {
	c := conn{ExecQuerier: db}
	if err := db.QueryRow("SELECT @@version").Scan(&c.version); err != nil {
		return nil, fmt.Errorf("mysql: scanning database version: %w", err)
	}
	d := &Driver{conn: c}
	d.Exec = sqlx.Exec{
		Conn:      db,
		Quote:     '`',
		Format:    FormatType,
		KeyFormat: keyFormatType,
		Alter:     d.alterColumn,
	}
	return d, nil
}

// Dialect returns the dialect name.
func (d *Driver) Dialect() string { return DriverName }

// Version returns the connected database version.
func (d *Driver) Version() string { return d.version }

// Capabilities returns the dialect limits. MySQL DDL commits
// implicitly, so schema steps cannot roll back with a transaction.
func (d *Driver) Capabilities() plan.Capabilities {
	return plan.Capabilities{
		TransactionalDDL: false,
		ConcurrentWrites: true,
		Isolation:        true,
		MaxParameters:    65535,
	}
}

// compareV returns an integer comparing the connected version to w.
// MariaDB reports versions such as "10.6.8-MariaDB"; the suffix is
// dropped before the comparison.
func (d *Driver) compareV(w string) int {
	v := d.version
	if i := strings.IndexByte(v, '-'); i != -1 {
		v = v[:i]
	}
	return semver.Compare("v"+v, "v"+w)
}

// supportsRenameColumn reports whether ALTER TABLE ... RENAME COLUMN
// is available (MySQL 8.0.0). Older servers re-state the column type
// with CHANGE COLUMN.
func (d *Driver) supportsRenameColumn() bool {
	return !d.mariadb() && d.compareV("8.0.0") != -1
}

func (d *Driver) mariadb() bool {
	return strings.Contains(strings.ToLower(d.version), "mariadb")
}

// Retryable reports whether the error is transient: deadlocks, lock
// wait timeouts and lost connections retry, constraint and schema
// errors do not.
func (d *Driver) Retryable(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errDeadlock, errLockWaitTimeout, errQueryTimeout, errConRefused, errServerGone, errServerLost:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	return retry.Transient(err)
}

// Deadlock reports whether the error is a deadlock or a lock wait
// timeout, both of which release locks and are safe to restart.
func (d *Driver) Deadlock(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == errDeadlock || me.Number == errLockWaitTimeout
	}
	return retry.DeadlockMessage(err)
}

var _ plan.Driver = (*Driver)(nil)

// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package plan

import (
	"context"

	"rowsync.io/rowsync/sql/rowset"
)

type (
	// PullOptions describes a table read. Columns and Keys restrict
	// the read to the given columns and key tuples; empty means all.
	// Key columns are always included so rows stay addressable.
	PullOptions struct {
		Table   string
		Schema  string
		Spec    rowset.KeySpec
		Columns []string
		Keys    [][]any
	}

	// IfExists selects the behavior of CreateTable when the target
	// table already exists.
	IfExists uint8

	// CreateOptions describes a table creation from an in-memory value.
	CreateOptions struct {
		Table    string
		Schema   string
		Value    *rowset.Table
		Spec     rowset.KeySpec
		IfExists IfExists
	}

	// Capabilities reports dialect limits the planner and executor
	// adapt to.
	Capabilities struct {
		// TransactionalDDL reports whether schema steps can run inside
		// a transaction and roll back with it.
		TransactionalDDL bool
		// ConcurrentWrites reports whether the dialect tolerates
		// concurrent write transactions. A multi-table push downgrades
		// to sequential when false.
		ConcurrentWrites bool
		// Isolation reports whether an isolation level can be issued
		// as the first statement of a transaction.
		Isolation bool
		// MaxParameters is the bind-parameter ceiling per statement.
		MaxParameters int
	}

	// Puller reads a remote table into a row set, inferring richer
	// kinds where the raw driver reports strings, and canonicalizing
	// the key columns when a spec is given.
	Puller interface {
		Pull(ctx context.Context, opts *PullOptions) (*rowset.Table, error)
	}

	// TableCreator creates a remote table from an in-memory value,
	// including its primary-key constraint.
	TableCreator interface {
		CreateTable(ctx context.Context, opts *CreateOptions) error
	}

	// StepExecer renders and executes a single plan step on the given
	// connection, which may be an open transaction. A nil connection
	// runs the step on the driver's own connection.
	StepExecer interface {
		ExecStep(ctx context.Context, conn rowset.ExecQuerier, p *Plan, s *Step) error
	}

	// Driver is the complete per-dialect capability the executor, the
	// conflict resolver and the coordinator consume.
	Driver interface {
		rowset.Inspector
		Puller
		TableCreator
		StepExecer

		// Dialect returns the dialect name (sqlite, mysql, postgresql).
		Dialect() string

		// Capabilities returns the dialect limits.
		Capabilities() Capabilities

		// Retryable reports whether the error is transient and the
		// enclosing transaction may be retried.
		Retryable(err error) bool

		// Deadlock reports whether the error is a deadlock or
		// serialization failure.
		Deadlock(err error) bool
	}
)

// IfExists values.
const (
	// Fail returns an error when the table exists.
	Fail IfExists = iota
	// Replace drops the existing table first.
	Replace
	// Append keeps the table and appends the value's rows.
	Append
)

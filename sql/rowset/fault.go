// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package rowset

import (
	"errors"
	"fmt"
)

type (
	// A ValidationError reports invalid local data: null, duplicate or
	// missing primary-key values, an attempt to modify a key value,
	// duplicate column names, or auto-increment on a non-qualifying key.
	// It is surfaced before any SQL executes.
	ValidationError struct {
		Message string
		Details map[string]any
	}

	// A SchemaError reports a structural problem: a referenced column
	// does not exist, a column already exists, a key column was
	// dropped, or the key spec does not match the table. Raised at
	// validation time or while executing a schema-change step.
	SchemaError struct {
		Message string
		// Table is set when the error is tied to a specific table in a
		// multi-table push.
		Table   string
		Details map[string]any
	}

	// A ConflictError reports a concurrent remote modification that the
	// abort policy (or a failing custom resolver) refused to reconcile.
	ConflictError struct {
		Key       Key
		KeyValues []any
		// Local and Remote hold the disagreeing change sets by column.
		Local, Remote map[string]any
		// Columns lists the conflicting column names.
		Columns []string
		// Suggestion is a human recovery hint.
		Suggestion string
	}

	// A TransactionError reports a failed data transaction: a
	// non-retryable execution error, exhausted retries, or an exceeded
	// wall-clock timeout. It wraps the underlying driver error.
	TransactionError struct {
		Message string
		Details map[string]any
		Err     error
	}

	// A ConnectionError reports a failed health probe or an unusable
	// connection. Details carry a pool-status snapshot when available.
	ConnectionError struct {
		Message string
		Details map[string]any
		Err     error
	}

	// A NotExistError wraps another error to retain its text and
	// indicate that the requested table or column does not exist.
	NotExistError struct {
		Err error
	}
)

func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}

func (e *SchemaError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("schema: table %q: %s", e.Table, e.Message)
	}
	return "schema: " + e.Message
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: concurrent modification of row %v on columns %v", e.KeyValues, e.Columns)
}

func (e *TransactionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transaction: %s: %s", e.Message, e.Err)
	}
	return "transaction: " + e.Message
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection: %s: %s", e.Message, e.Err)
	}
	return "connection: " + e.Message
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *NotExistError) Error() string { return e.Err.Error() }

// IsValidationError reports if the error is a ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsSchemaError reports if the error is a SchemaError.
func IsSchemaError(err error) bool {
	var e *SchemaError
	return errors.As(err, &e)
}

// IsConflictError reports if the error is a ConflictError.
func IsConflictError(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsTransactionError reports if the error is a TransactionError.
func IsTransactionError(err error) bool {
	var e *TransactionError
	return errors.As(err, &e)
}

// IsConnectionError reports if the error is a ConnectionError.
func IsConnectionError(err error) bool {
	var e *ConnectionError
	return errors.As(err, &e)
}

// IsNotExistError reports if the error is a NotExistError.
func IsNotExistError(err error) bool {
	var e *NotExistError
	return errors.As(err, &e)
}

// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sqltest provides helpers for writing sqlmock-backed tests.
package sqltest

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// Rows converts a table literal into sqlmock rows. The first content
// line names the columns; border and separator lines are skipped, so
// both markdown-pipe and client-output style tables parse:
//
//	| id | name  |        +----+-------+
//	|----|-------|        | id | name  |
//	| 1  | Alice |        +----+-------+
//	| 2  | nil   |        | 1  | Alice |
//	                      +----+-------+
//
// Cell values scan as text; empty, "nil" and "NULL" cells scan as SQL
// NULL. A malformed literal fails the test.
func Rows(t *testing.T, table string) *sqlmock.Rows {
	t.Helper()
	rows, err := parse(table)
	require.NoError(t, err)
	return rows
}

func parse(table string) (*sqlmock.Rows, error) {
	var (
		nc   int
		rows *sqlmock.Rows
	)
	for _, line := range strings.Split(table, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || separator(line) {
			continue
		}
		cells := strings.FieldsFunc(line, func(r rune) bool { return r == '|' })
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		if rows == nil {
			nc = len(cells)
			rows = sqlmock.NewRows(cells)
			continue
		}
		if len(cells) != nc {
			return nil, fmt.Errorf("sqltest: row %q has %d cells, header has %d", line, len(cells), nc)
		}
		values := make([]driver.Value, nc)
		for i, c := range cells {
			switch c {
			case "", "nil", "NULL":
			default:
				values[i] = c
			}
		}
		rows.AddRow(values...)
	}
	if rows == nil {
		return nil, errors.New("sqltest: table literal has no header line")
	}
	return rows, nil
}

// separator reports whether the line is a border or alignment row.
func separator(line string) bool {
	for _, r := range line {
		switch r {
		case '|', '-', '+', ':', ' ':
		default:
			return false
		}
	}
	return true
}

// Escape turns a query into an anchored regular expression matching
// it, collapsing the indentation of multi-line query constants.
func Escape(query string) string {
	lines := strings.Split(query, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return regexp.QuoteMeta(strings.TrimSpace(strings.Join(lines, " "))) + "$"
}

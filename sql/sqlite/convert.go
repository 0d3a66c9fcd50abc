// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"strings"

	"rowsync.io/rowsync/sql/rowset"
)

// SQLite column types rendered for the abstract kinds.
const (
	tInteger  = "INTEGER"
	tReal     = "REAL"
	tBoolean  = "BOOLEAN"
	tText     = "TEXT"
	tDatetime = "DATETIME"
)

// FormatType returns the SQLite column type of an abstract kind.
// Unknown kinds render as text.
func FormatType(k rowset.Kind) string {
	switch k {
	case rowset.KindInt:
		return tInteger
	case rowset.KindFloat:
		return tReal
	case rowset.KindBool:
		return tBoolean
	case rowset.KindTime:
		return tDatetime
	default:
		return tText
	}
}

// ParseType returns the abstract kind of a raw SQLite column type,
// following the type-affinity rules: any type containing INT is an
// integer, TEXT/CHAR/CLOB are text, REAL/FLOA/DOUB are floating, and
// declared BOOLEAN and date/time types keep their richer kind.
// Unknown types parse as text.
func ParseType(raw string) rowset.Kind {
	t := strings.ToUpper(raw)
	switch {
	case strings.Contains(t, "INT"):
		return rowset.KindInt
	case strings.Contains(t, "BOOL"):
		return rowset.KindBool
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"), strings.Contains(t, "DECIMAL"), strings.Contains(t, "NUMERIC"):
		return rowset.KindFloat
	case strings.Contains(t, "DATE"), strings.Contains(t, "TIME"):
		return rowset.KindTime
	default:
		return rowset.KindString
	}
}

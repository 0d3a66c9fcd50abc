// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package mysql

import (
	"strings"

	"rowsync.io/rowsync/sql/rowset"
)

// MySQL column types rendered for the abstract kinds.
const (
	tBigInt   = "bigint"
	tDouble   = "double"
	tBool     = "bool"
	tLongText = "longtext"
	tDatetime = "datetime(6)"

	// Key columns cannot be longtext (index prefix limit); textual
	// keys render as a bounded varchar instead.
	tKeyText = "varchar(255)"
)

// FormatType returns the MySQL column type of an abstract kind.
// Unknown kinds render as text.
func FormatType(k rowset.Kind) string {
	switch k {
	case rowset.KindInt:
		return tBigInt
	case rowset.KindFloat:
		return tDouble
	case rowset.KindBool:
		return tBool
	case rowset.KindTime:
		return tDatetime
	default:
		return tLongText
	}
}

// keyFormatType returns the column type used for primary-key columns.
func keyFormatType(k rowset.Kind) string {
	if k == rowset.KindString || k == rowset.KindInvalid {
		return tKeyText
	}
	return FormatType(k)
}

// ParseType returns the abstract kind of a raw MySQL column type as
// reported by information_schema (e.g. "bigint(20) unsigned",
// "tinyint(1)", "varchar(255)"). Unknown types parse as text.
func ParseType(raw string) rowset.Kind {
	t := strings.ToLower(raw)
	base := t
	if i := strings.IndexAny(base, "( "); i != -1 {
		base = base[:i]
	}
	switch base {
	case "tinyint":
		// tinyint(1) is the storage type of bool.
		if strings.HasPrefix(t, "tinyint(1)") {
			return rowset.KindBool
		}
		return rowset.KindInt
	case "bool", "boolean":
		return rowset.KindBool
	case "int", "integer", "bigint", "smallint", "mediumint", "year":
		return rowset.KindInt
	case "float", "double", "decimal", "numeric", "real":
		return rowset.KindFloat
	case "datetime", "timestamp", "date", "time":
		return rowset.KindTime
	default:
		return rowset.KindString
	}
}

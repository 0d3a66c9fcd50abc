// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package postgres

import (
	"strings"

	"rowsync.io/rowsync/sql/rowset"
)

// PostgreSQL column types rendered for the abstract kinds.
const (
	tBigInt      = "bigint"
	tDouble      = "double precision"
	tBoolean     = "boolean"
	tText        = "text"
	tTimestampTZ = "timestamptz"
)

// FormatType returns the PostgreSQL column type of an abstract kind.
// Unknown kinds render as text.
func FormatType(k rowset.Kind) string {
	switch k {
	case rowset.KindInt:
		return tBigInt
	case rowset.KindFloat:
		return tDouble
	case rowset.KindBool:
		return tBoolean
	case rowset.KindTime:
		return tTimestampTZ
	default:
		return tText
	}
}

// ParseType returns the abstract kind of a raw PostgreSQL column type
// as reported by information_schema (e.g. "bigint", "double
// precision", "timestamp with time zone", "character varying").
// Unknown types parse as text.
func ParseType(raw string) rowset.Kind {
	t := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case t == "bigint", t == "integer", t == "smallint", t == "int2", t == "int4", t == "int8",
		strings.HasPrefix(t, "serial"), t == "bigserial", t == "smallserial":
		return rowset.KindInt
	case t == "double precision", t == "real", t == "float4", t == "float8",
		strings.HasPrefix(t, "numeric"), strings.HasPrefix(t, "decimal"):
		return rowset.KindFloat
	case t == "boolean", t == "bool":
		return rowset.KindBool
	case strings.HasPrefix(t, "timestamp"), t == "timestamptz", t == "date",
		strings.HasPrefix(t, "time"):
		return rowset.KindTime
	default:
		return rowset.KindString
	}
}

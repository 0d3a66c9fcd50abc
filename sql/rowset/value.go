// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package rowset

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cast"
)

// A Kind represents the abstract type of a column value. It is the
// bridge between in-memory values and dialect-specific SQL types.
type Kind uint8

// Supported kinds.
const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindTime
)

// String returns the textual representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "boolean"
	case KindString:
		return "text"
	case KindTime:
		return "datetime"
	default:
		return "invalid"
	}
}

// ParseKind returns the kind named by s. Unknown names map to KindString,
// mirroring the column-type fallback used when reading remote tables.
func ParseKind(s string) Kind {
	switch s {
	case "integer", "int", "bigint":
		return KindInt
	case "float", "double", "real":
		return KindFloat
	case "boolean", "bool":
		return KindBool
	case "datetime", "timestamp", "time":
		return KindTime
	case "":
		return KindInvalid
	default:
		return KindString
	}
}

// Normalize coerces v to its canonical in-memory representation and
// reports its kind: integers of any width and sign become int64, floats
// become float64, byte slices become strings, and sql.Null* wrappers are
// unwrapped. Nil and invalid wrappers normalize to an untyped nil. Values
// of unknown types are rendered as text.
func Normalize(v any) (any, Kind) {
	switch v := v.(type) {
	case nil:
		return nil, KindInvalid
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return cast.ToInt64(v), KindInt
	case float32, float64:
		return cast.ToFloat64(v), KindFloat
	case bool:
		return v, KindBool
	case string:
		return v, KindString
	case []byte:
		return string(v), KindString
	case time.Time:
		return v, KindTime
	case sql.NullInt64:
		if !v.Valid {
			return nil, KindInvalid
		}
		return v.Int64, KindInt
	case sql.NullFloat64:
		if !v.Valid {
			return nil, KindInvalid
		}
		return v.Float64, KindFloat
	case sql.NullBool:
		if !v.Valid {
			return nil, KindInvalid
		}
		return v.Bool, KindBool
	case sql.NullString:
		if !v.Valid {
			return nil, KindInvalid
		}
		return v.String, KindString
	case sql.NullTime:
		if !v.Valid {
			return nil, KindInvalid
		}
		return v.Time, KindTime
	default:
		return fmt.Sprint(v), KindString
	}
}

// Coerce converts v to the canonical representation of the target
// kind. Nil stays nil regardless of the target. A value that cannot
// represent the target kind yields an error; the caller decides
// whether that aborts a column type change.
func Coerce(v any, k Kind) (any, error) {
	if v == nil {
		return nil, nil
	}
	nv, _ := Normalize(v)
	switch k {
	case KindInt:
		return cast.ToInt64E(nv)
	case KindFloat:
		return cast.ToFloat64E(nv)
	case KindBool:
		return cast.ToBoolE(nv)
	case KindString:
		return cast.ToStringE(nv)
	case KindTime:
		return cast.ToTimeE(nv)
	default:
		return nil, fmt.Errorf("rowset: cannot coerce %T to %s", v, k)
	}
}

// KindOf reports the kind of a value after normalization.
func KindOf(v any) Kind {
	_, k := Normalize(v)
	return k
}

// Equal reports whether two values are equal after normalization.
// NaN compares equal to NaN, and values of different kinds are never
// equal (an int64 never equals a float64 of the same magnitude).
func Equal(a, b any) bool {
	av, ak := Normalize(a)
	bv, bk := Normalize(b)
	if ak != bk {
		return false
	}
	switch ak {
	case KindInvalid:
		return true
	case KindFloat:
		af, bf := av.(float64), bv.(float64)
		if math.IsNaN(af) && math.IsNaN(bf) {
			return true
		}
		return af == bf
	case KindTime:
		return av.(time.Time).Equal(bv.(time.Time))
	default:
		return av == bv
	}
}

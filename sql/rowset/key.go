// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package rowset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type (
	// A KeySpec names the primary-key columns of a table in order.
	// A single-column key is a spec of length one; composite keys
	// list their columns in significance order.
	KeySpec []string

	// A Key is the canonical comparable encoding of a primary-key
	// value. Two rows share a Key iff their key tuples are equal under
	// Equal. The encoding is type-prefixed so an int64 key 1 never
	// collides with the string key "1" or the float64 key 1.0.
	Key string

	// KeyLocation reports where a key spec was found in a table.
	KeyLocation uint8
)

// Possible KeyLocation values.
const (
	// KeyMissing indicates at least one key column was not found.
	KeyMissing KeyLocation = iota
	// KeyInColumns indicates the key columns exist as ordinary columns.
	KeyInColumns
	// KeyInIndex indicates the key occupies the leading key columns of
	// a canonical table.
	KeyInIndex
)

// NewKeySpec returns a key spec over the given column names.
func NewKeySpec(columns ...string) KeySpec {
	return KeySpec(columns)
}

// Single returns the column name of a single-column key.
func (s KeySpec) Single() (string, bool) {
	if len(s) == 1 {
		return s[0], true
	}
	return "", false
}

// Contains reports whether the spec includes the named column.
func (s KeySpec) Contains(name string) bool {
	for _, c := range s {
		if c == name {
			return true
		}
	}
	return false
}

// Rename returns a copy of the spec with the old column name replaced.
func (s KeySpec) Rename(old, new string) KeySpec {
	r := make(KeySpec, len(s))
	for i, c := range s {
		if c == old {
			r[i] = new
		} else {
			r[i] = c
		}
	}
	return r
}

// Equal reports whether two specs name the same columns in the same order.
func (s KeySpec) Equal(other KeySpec) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// String returns the spec as a comma-separated column list.
func (s KeySpec) String() string {
	return strings.Join(s, ", ")
}

// MakeKey encodes an ordered key tuple into its canonical Key. Values
// are normalized first; the encoding round-trips NaN and does not
// collapse int64 and float64 (a JSON encoding would do both).
func MakeKey(values ...any) Key {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		nv, k := Normalize(v)
		switch k {
		case KindInvalid:
			b.WriteString("n:")
		case KindInt:
			b.WriteString("i:")
			b.WriteString(strconv.FormatInt(nv.(int64), 10))
		case KindFloat:
			b.WriteString("f:")
			b.WriteString(strconv.FormatFloat(nv.(float64), 'g', -1, 64))
		case KindBool:
			b.WriteString("b:")
			b.WriteString(strconv.FormatBool(nv.(bool)))
		case KindTime:
			b.WriteString("t:")
			b.WriteString(nv.(time.Time).UTC().Format(time.RFC3339Nano))
		default:
			b.WriteString("s:")
			b.WriteString(strconv.Quote(nv.(string)))
		}
	}
	return Key(b.String())
}

// LocateKey reports where the key spec lives in the table:
// KeyInIndex for a canonical table whose leading key columns match the
// spec, KeyInColumns when all spec columns exist as ordinary columns,
// and KeyMissing (with the missing names) otherwise. An empty spec is
// always missing.
func LocateKey(spec KeySpec, t *Table) (KeyLocation, []string) {
	if len(spec) == 0 {
		return KeyMissing, nil
	}
	if t.KeyParts == len(spec) {
		match := true
		for i, name := range spec {
			if i >= len(t.Columns) || t.Columns[i].Name != name {
				match = false
				break
			}
		}
		if match {
			return KeyInIndex, nil
		}
	}
	var missing []string
	for _, name := range spec {
		if !t.Columns.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return KeyMissing, missing
	}
	return KeyInColumns, nil
}

// KeyPositions returns the column positions of the spec columns in
// spec order. It returns a SchemaError naming the missing columns if
// any spec column is absent.
func KeyPositions(spec KeySpec, t *Table) ([]int, error) {
	if len(spec) == 0 {
		return nil, &SchemaError{
			Message: "empty primary-key specification",
		}
	}
	pos := make([]int, len(spec))
	var missing []string
	for i, name := range spec {
		p, _ := t.Columns.Lookup(name)
		if p == -1 {
			missing = append(missing, name)
			continue
		}
		pos[i] = p
	}
	if len(missing) > 0 {
		return nil, &SchemaError{
			Message: fmt.Sprintf("primary-key columns missing: %s", strings.Join(missing, ", ")),
			Details: map[string]any{"columns": missing},
		}
	}
	return pos, nil
}

// RowKey encodes the key of a row given the spec column positions
// returned by KeyPositions.
func RowKey(row Row, positions []int) Key {
	values := make([]any, len(positions))
	for i, p := range positions {
		values[i] = row[p]
	}
	return MakeKey(values...)
}

// RowKeyValues returns the raw key tuple of a row in spec order.
func RowKeyValues(row Row, positions []int) []any {
	values := make([]any, len(positions))
	for i, p := range positions {
		values[i] = row[p]
	}
	return values
}

// KeyValues returns the encoded key of every row, in row order. It
// fails with a SchemaError if a spec column is missing.
func KeyValues(spec KeySpec, t *Table) ([]Key, error) {
	pos, err := KeyPositions(spec, t)
	if err != nil {
		return nil, err
	}
	keys := make([]Key, len(t.Rows))
	for i, r := range t.Rows {
		keys[i] = RowKey(r, pos)
	}
	return keys, nil
}

// Canonicalize rearranges the table so the spec columns become the
// leading columns, in spec order, marked as key columns, and sets
// KeyParts. It fails with a SchemaError if a spec column is missing.
// Canonicalizing an already-canonical table is a no-op.
func Canonicalize(spec KeySpec, t *Table) error {
	if loc, _ := LocateKey(spec, t); loc == KeyInIndex {
		return nil
	}
	pos, err := KeyPositions(spec, t)
	if err != nil {
		return err
	}
	lead := make(map[int]bool, len(pos))
	for _, p := range pos {
		lead[p] = true
	}
	order := make([]int, 0, len(t.Columns))
	order = append(order, pos...)
	for i := range t.Columns {
		if !lead[i] {
			order = append(order, i)
		}
	}
	columns := make(Schema, len(t.Columns))
	for i, p := range order {
		c := *t.Columns[p]
		c.Key = i < len(spec)
		if c.Key {
			c.Null = false
		}
		columns[i] = &c
	}
	for ri, r := range t.Rows {
		nr := make(Row, len(r))
		for i, p := range order {
			nr[i] = r[p]
		}
		t.Rows[ri] = nr
	}
	t.Columns = columns
	t.KeyParts = len(spec)
	return nil
}

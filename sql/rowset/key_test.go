// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package rowset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func users() *Table {
	t := NewTable(
		&Column{Name: "name", Kind: KindString},
		&Column{Name: "id", Kind: KindInt},
		&Column{Name: "age", Kind: KindInt},
	)
	_ = t.Append(
		Row{"Alice", 1, 25},
		Row{"Bob", 2, 30},
		Row{"Charlie", 3, 35},
	)
	return t
}

func TestMakeKey(t *testing.T) {
	// Distinct types never collide.
	require.NotEqual(t, MakeKey(int64(1)), MakeKey("1"))
	require.NotEqual(t, MakeKey(int64(1)), MakeKey(1.0))
	require.NotEqual(t, MakeKey(nil), MakeKey(""))
	// Width-normalized integers collide by design.
	require.Equal(t, MakeKey(int32(5)), MakeKey(int64(5)))
	// NaN encodes stably.
	require.Equal(t, MakeKey(math.NaN()), MakeKey(math.NaN()))
	// Composite tuples are position-sensitive.
	require.NotEqual(t, MakeKey("a", "b"), MakeKey("b", "a"))
	require.Equal(t, MakeKey(101, "CS101"), MakeKey(int64(101), "CS101"))
	// A string containing the separator cannot forge a composite key.
	require.NotEqual(t, MakeKey("a\x1fs:\"b\""), MakeKey("a", "b"))
}

func TestLocateKey(t *testing.T) {
	tab := users()
	loc, missing := LocateKey(KeySpec{"id"}, tab)
	require.Equal(t, KeyInColumns, loc)
	require.Empty(t, missing)

	loc, missing = LocateKey(KeySpec{"uuid"}, tab)
	require.Equal(t, KeyMissing, loc)
	require.Equal(t, []string{"uuid"}, missing)

	require.NoError(t, Canonicalize(KeySpec{"id"}, tab))
	loc, _ = LocateKey(KeySpec{"id"}, tab)
	require.Equal(t, KeyInIndex, loc)
}

func TestCanonicalize(t *testing.T) {
	tab := users()
	require.NoError(t, Canonicalize(KeySpec{"id"}, tab))
	require.Equal(t, 1, tab.KeyParts)
	require.Equal(t, []string{"id", "name", "age"}, tab.Columns.Names())
	require.True(t, tab.Columns[0].Key)
	require.False(t, tab.Columns[0].Null)
	require.Equal(t, Row{int64(1), "Alice", int64(25)}, tab.Rows[0])

	// Idempotent.
	require.NoError(t, Canonicalize(KeySpec{"id"}, tab))
	require.Equal(t, []string{"id", "name", "age"}, tab.Columns.Names())

	err := Canonicalize(KeySpec{"id", "missing"}, users())
	require.Error(t, err)
	require.True(t, IsSchemaError(err))
}

func TestCanonicalize_Composite(t *testing.T) {
	tab := NewTable(
		&Column{Name: "grade", Kind: KindString},
		&Column{Name: "course_id", Kind: KindString},
		&Column{Name: "student_id", Kind: KindInt},
	)
	require.NoError(t, tab.Append(Row{"A", "CS101", 101}))
	require.NoError(t, Canonicalize(KeySpec{"student_id", "course_id"}, tab))
	require.Equal(t, []string{"student_id", "course_id", "grade"}, tab.Columns.Names())
	require.Equal(t, 2, tab.KeyParts)
	require.Equal(t, Row{int64(101), "CS101", "A"}, tab.Rows[0])
}

func TestKeyValues(t *testing.T) {
	tab := users()
	keys, err := KeyValues(KeySpec{"id"}, tab)
	require.NoError(t, err)
	require.Equal(t, []Key{MakeKey(1), MakeKey(2), MakeKey(3)}, keys)

	_, err = KeyValues(KeySpec{"nope"}, tab)
	require.True(t, IsSchemaError(err))
}

func TestKeySpec(t *testing.T) {
	s := NewKeySpec("a", "b")
	require.True(t, s.Contains("a"))
	require.False(t, s.Contains("c"))
	_, ok := s.Single()
	require.False(t, ok)
	one, ok := NewKeySpec("id").Single()
	require.True(t, ok)
	require.Equal(t, "id", one)
	require.Equal(t, KeySpec{"a", "c"}, s.Rename("b", "c"))
	require.True(t, s.Equal(KeySpec{"a", "b"}))
	require.False(t, s.Equal(KeySpec{"b", "a"}))
	require.Equal(t, "a, b", s.String())
}

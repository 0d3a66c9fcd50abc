// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package track

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"rowsync.io/rowsync/sql/rowset"
)

func baseline(t *testing.T) *rowset.Table {
	t.Helper()
	tab := rowset.NewTable(
		&rowset.Column{Name: "id", Kind: rowset.KindInt, Key: true},
		&rowset.Column{Name: "name", Kind: rowset.KindString},
		&rowset.Column{Name: "age", Kind: rowset.KindInt},
	)
	tab.KeyParts = 1
	require.NoError(t, tab.Append(
		rowset.Row{1, "Alice", 25},
		rowset.Row{2, "Bob", 30},
		rowset.Row{3, "Charlie", 35},
	))
	return tab
}

func TestCompare(t *testing.T) {
	base := baseline(t)
	cur := base.Clone()
	// Update row 2, delete row 3, insert row 4.
	cur.Rows[1][2] = int64(31)
	cur.Rows = cur.Rows[:2]
	require.NoError(t, cur.Append(rowset.Row{4, "David", 40}))

	tr := New(rowset.KeySpec{"id"}, base, WithMode(ModeFull))
	changes := tr.RowChanges(cur)
	require.Len(t, changes, 3)

	require.Equal(t, rowset.Update, changes[0].Kind)
	require.Equal(t, []any{int64(2)}, changes[0].KeyValues)
	require.Equal(t, []string{"age"}, changes[0].Changed)
	require.Equal(t, map[string]any{"age": int64(30)}, changes[0].Old)
	require.Equal(t, int64(31), changes[0].New["age"])
	require.Equal(t, "Bob", changes[0].New["name"])

	require.Equal(t, rowset.Insert, changes[1].Kind)
	require.Equal(t, []any{int64(4)}, changes[1].KeyValues)
	require.Equal(t, "David", changes[1].New["name"])

	require.Equal(t, rowset.Delete, changes[2].Kind)
	require.Equal(t, []any{int64(3)}, changes[2].KeyValues)
	require.Equal(t, "Charlie", changes[2].Old["name"])
}

func TestCompare_NaN(t *testing.T) {
	base := rowset.NewTable(
		&rowset.Column{Name: "id", Kind: rowset.KindInt, Key: true},
		&rowset.Column{Name: "score", Kind: rowset.KindFloat},
	)
	base.KeyParts = 1
	require.NoError(t, base.Append(rowset.Row{1, math.NaN()}))
	cur := base.Clone()

	tr := New(rowset.KeySpec{"id"}, base)
	require.Empty(t, tr.RowChanges(cur))
	require.False(t, tr.HasChanges(cur))
}

func TestCompare_TypeMismatch(t *testing.T) {
	base := baseline(t)
	cur := base.Clone()
	// Same magnitude, different kind: counts as a change.
	cur.Rows[0][2] = 25.0

	tr := New(rowset.KeySpec{"id"}, base)
	changes := tr.RowChanges(cur)
	require.Len(t, changes, 1)
	require.Equal(t, []string{"age"}, changes[0].Changed)
}

func TestCompare_NilBaseline(t *testing.T) {
	cur := baseline(t)
	tr := New(rowset.KeySpec{"id"}, nil)
	changes := tr.RowChanges(cur)
	require.Len(t, changes, 3)
	for _, c := range changes {
		require.Equal(t, rowset.Insert, c.Kind)
	}
}

func TestIncremental_Release(t *testing.T) {
	base := baseline(t)
	cur := base.Clone()
	cur.Rows[0][2] = int64(26)

	tr := New(rowset.KeySpec{"id"}, base)
	changes := tr.RowChanges(cur)
	require.Len(t, changes, 1)

	// The baseline is gone, but the key set and the state survive.
	require.True(t, tr.BaselineKey(rowset.MakeKey(1)))
	require.False(t, tr.BaselineKey(rowset.MakeKey(9)))

	// Further mutations accumulate through notifications.
	cur.Rows[1][1] = "Bobby"
	tr.RowUpdated([]any{int64(2)}, map[string]any{"name": "Bob"}, map[string]any{"name": "Bobby"})
	changes = tr.RowChanges(cur)
	require.Len(t, changes, 2)
	require.Equal(t, []any{int64(1)}, changes[0].KeyValues)
	require.Equal(t, []any{int64(2)}, changes[1].KeyValues)
	require.Equal(t, map[string]any{"name": "Bob"}, changes[1].Old)
}

func TestIncremental_UpdateCancels(t *testing.T) {
	base := baseline(t)
	cur := base.Clone()
	tr := New(rowset.KeySpec{"id"}, base)
	require.Empty(t, tr.RowChanges(cur))

	// Update away and back: the earliest old value wins the compare,
	// so the row state nets out.
	cur.Rows[0][2] = int64(99)
	tr.RowUpdated([]any{int64(1)}, map[string]any{"age": 25}, map[string]any{"age": 99})
	require.Len(t, tr.RowChanges(cur), 1)

	cur.Rows[0][2] = int64(25)
	tr.RowUpdated([]any{int64(1)}, map[string]any{"age": 99}, map[string]any{"age": 25})
	require.Empty(t, tr.RowChanges(cur))
	require.False(t, tr.HasChanges(cur))
}

func TestIncremental_DeleteInsert(t *testing.T) {
	base := baseline(t)
	cur := base.Clone()
	tr := New(rowset.KeySpec{"id"}, base)
	require.Empty(t, tr.RowChanges(cur))

	// Delete a baseline row, then insert it again with one cell
	// changed: nets to an update.
	cells := map[string]any{"id": 1, "name": "Alice", "age": 25}
	tr.RowDeleted([]any{int64(1)}, cells)
	cur.Rows[0][2] = int64(26)
	tr.RowInserted([]any{int64(1)}, map[string]any{"id": 1, "name": "Alice", "age": 26})

	changes := tr.RowChanges(cur)
	require.Len(t, changes, 1)
	require.Equal(t, rowset.Update, changes[0].Kind)
	require.Equal(t, []string{"age"}, changes[0].Changed)
	require.Equal(t, map[string]any{"age": int64(25)}, changes[0].Old)
}

func TestIncremental_InsertDelete(t *testing.T) {
	base := baseline(t)
	cur := base.Clone()
	tr := New(rowset.KeySpec{"id"}, base)
	require.Empty(t, tr.RowChanges(cur))

	tr.RowInserted([]any{int64(7)}, map[string]any{"id": 7, "name": "Grace", "age": 41})
	tr.RowDeleted([]any{int64(7)}, map[string]any{"id": 7, "name": "Grace", "age": 41})
	require.Empty(t, tr.RowChanges(cur))

	// Deleting a baseline row after an update keeps baseline cells.
	tr.RowUpdated([]any{int64(2)}, map[string]any{"age": 30}, map[string]any{"age": 99})
	tr.RowDeleted([]any{int64(2)}, map[string]any{"id": 2, "name": "Bob", "age": 99})
	cur.Rows = append(cur.Rows[:1], cur.Rows[2:]...)
	changes := tr.RowChanges(cur)
	require.Len(t, changes, 1)
	require.Equal(t, rowset.Delete, changes[0].Kind)
	require.Equal(t, int64(30), changes[0].Old["age"])
	require.Equal(t, "Bob", changes[0].Old["name"])
}

func TestLazyRecompute(t *testing.T) {
	base := baseline(t)
	cur := base.Clone()
	tr := New(rowset.KeySpec{"id"}, base, WithMode(ModeFull))

	first := tr.RowChanges(cur)
	require.Empty(t, first)

	// Without a recorded operation the cached diff is returned even
	// though the value changed under the tracker's feet.
	cur.Rows[0][2] = int64(27)
	require.Empty(t, tr.RowChanges(cur))

	// Any marker dirties the cache.
	tr.Touch("update_row", int64(1))
	require.Len(t, tr.RowChanges(cur), 1)
	require.Len(t, tr.Operations(), 1)
}

func TestSchemaOperations(t *testing.T) {
	tr := New(rowset.KeySpec{"id"}, baseline(t))
	tr.AddColumn("email", rowset.KindString, "")
	tr.RenameColumn("age", "years")
	tr.RetypeColumn("years", rowset.KindFloat)
	require.False(t, tr.SchemaChanges().Empty())
	require.Equal(t, rowset.KeySpec{"id"}, tr.Spec())

	// Renaming a key column updates the spec.
	tr.RenameColumn("id", "uid")
	require.Equal(t, rowset.KeySpec{"uid"}, tr.Spec())
}

func TestSummaryAndReset(t *testing.T) {
	base := baseline(t)
	cur := base.Clone()
	cur.Rows[0][2] = int64(26)
	require.NoError(t, cur.Append(rowset.Row{4, "David", 40}))

	tr := New(rowset.KeySpec{"id"}, base)
	tr.AddColumn("email", rowset.KindString, "")
	s := tr.Summary(cur)
	require.Equal(t, 1, s.Inserts)
	require.Equal(t, 1, s.Updates)
	require.Equal(t, 0, s.Deletes)
	require.Equal(t, 1, s.Added)
	require.True(t, s.HasChanges)

	tr.Reset(cur)
	s = tr.Summary(cur)
	require.False(t, s.HasChanges)
	require.Zero(t, s.Operations)
	require.Empty(t, tr.RowChanges(cur))
}

func TestReset_ClonesBaseline(t *testing.T) {
	base := baseline(t)
	tr := New(rowset.KeySpec{"id"}, base, WithMode(ModeFull))

	// Mutating the caller's table must not mutate the baseline.
	base.Rows[0][2] = int64(99)
	tr.Touch("update_row", int64(1))
	changes := tr.RowChanges(base)
	require.Len(t, changes, 1)
	require.Equal(t, map[string]any{"age": int64(25)}, changes[0].Old)
}

// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package rowset

import (
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	ts := time.Date(2023, 4, 1, 12, 30, 0, 0, time.UTC)
	for _, tt := range []struct {
		input    any
		expected any
		kind     Kind
	}{
		{nil, nil, KindInvalid},
		{int(7), int64(7), KindInt},
		{int8(-3), int64(-3), KindInt},
		{uint32(9), int64(9), KindInt},
		{int64(1 << 40), int64(1 << 40), KindInt},
		{float32(1.5), float64(1.5), KindFloat},
		{2.25, 2.25, KindFloat},
		{true, true, KindBool},
		{"a", "a", KindString},
		{[]byte("bs"), "bs", KindString},
		{ts, ts, KindTime},
		{sql.NullString{String: "x", Valid: true}, "x", KindString},
		{sql.NullString{}, nil, KindInvalid},
		{sql.NullInt64{Int64: 4, Valid: true}, int64(4), KindInt},
		{sql.NullTime{Time: ts, Valid: true}, ts, KindTime},
	} {
		v, k := Normalize(tt.input)
		require.Equal(t, tt.expected, v)
		require.Equal(t, tt.kind, k)
	}
}

func TestNormalize_UnknownType(t *testing.T) {
	type custom struct{ A int }
	v, k := Normalize(custom{A: 1})
	require.Equal(t, KindString, k)
	require.Equal(t, "{1}", v)
}

func TestEqual(t *testing.T) {
	for _, tt := range []struct {
		a, b  any
		equal bool
	}{
		{int64(1), int64(1), true},
		{int64(1), int(1), true},
		{int64(1), float64(1), false},
		{math.NaN(), math.NaN(), true},
		{math.NaN(), 1.0, false},
		{"a", "a", true},
		{"a", "b", false},
		{nil, nil, true},
		{nil, "a", false},
		{true, true, true},
		{true, false, false},
		{[]byte("x"), "x", true},
		{
			time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2023, 4, 1, 2, 0, 0, 0, time.FixedZone("x", 7200)),
			true,
		},
	} {
		require.Equal(t, tt.equal, Equal(tt.a, tt.b), "Equal(%v, %v)", tt.a, tt.b)
	}
}

func TestKindString(t *testing.T) {
	require.Equal(t, "integer", KindInt.String())
	require.Equal(t, "float", KindFloat.String())
	require.Equal(t, "boolean", KindBool.String())
	require.Equal(t, "text", KindString.String())
	require.Equal(t, "datetime", KindTime.String())
	require.Equal(t, KindInt, ParseKind("integer"))
	require.Equal(t, KindString, ParseKind("varchar"))
	require.Equal(t, KindInvalid, ParseKind(""))
}

// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlx

import (
	"strconv"
	"strings"
)

// A Builder provides a syntactic sugar API for writing SQL statements.
// Identifiers are quoted with QuoteChar, and Param renders "?" or
// positional "$n" placeholders depending on Dollar.
type Builder struct {
	strings.Builder
	QuoteChar byte
	Dollar    bool
	params    int
}

// P writes a list of phrases to the builder separated by spaces.
func (b *Builder) P(phrases ...string) *Builder {
	for _, p := range phrases {
		if p == "" {
			continue
		}
		b.pad()
		b.WriteString(p)
	}
	return b
}

// Ident writes the given string as a quoted identifier.
func (b *Builder) Ident(name string) *Builder {
	b.pad()
	b.WriteByte(b.QuoteChar)
	b.WriteString(name)
	b.WriteByte(b.QuoteChar)
	return b
}

// Table writes the given table as a quoted identifier, prefixed by its
// schema qualifier when provided.
func (b *Builder) Table(schema, name string) *Builder {
	if schema != "" {
		b.Ident(schema)
		b.WriteByte('.')
		b.WriteByte(b.QuoteChar)
		b.WriteString(name)
		b.WriteByte(b.QuoteChar)
		return b
	}
	return b.Ident(name)
}

// Comma writes a comma separator.
func (b *Builder) Comma() *Builder {
	b.WriteString(", ")
	return b
}

// MapComma calls f n times, writing a comma separator between calls.
func (b *Builder) MapComma(n int, f func(i int, b *Builder)) *Builder {
	for i := 0; i < n; i++ {
		if i > 0 {
			b.Comma()
		}
		f(i, b)
	}
	return b
}

// Wrap wraps the output of f with parentheses.
func (b *Builder) Wrap(f func(b *Builder)) *Builder {
	b.pad()
	b.WriteByte('(')
	f(b)
	b.WriteByte(')')
	return b
}

// Param writes a bind-parameter placeholder.
func (b *Builder) Param() *Builder {
	b.pad()
	if b.Dollar {
		b.params++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(b.params))
	} else {
		b.WriteByte('?')
	}
	return b
}

// Params writes n comma-separated placeholders.
func (b *Builder) Params(n int) *Builder {
	return b.MapComma(n, func(_ int, b *Builder) {
		b.Param()
	})
}

// String returns the accumulated statement.
func (b *Builder) String() string {
	return strings.TrimSpace(b.Builder.String())
}

// pad writes a space separator unless the output is empty or already
// ends in a separator.
func (b *Builder) pad() {
	if n := b.Len(); n > 0 {
		s := b.Builder.String()
		switch s[n-1] {
		case ' ', '(', '.', ',':
		default:
			b.WriteByte(' ')
		}
	}
}

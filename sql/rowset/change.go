// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package rowset

type (
	// ChangeKind is the kind of a row-level change.
	ChangeKind uint8

	// A RowChange is one row-level difference between a baseline and
	// the current table. Cells are keyed by column name so a change
	// survives schema drift between the two states: New holds the full
	// current row for insertions and updates, Old holds the full
	// baseline row for deletions and the overwritten cells for updates.
	RowChange struct {
		Kind      ChangeKind
		Key       Key
		KeyValues []any
		Old, New  map[string]any
		// Changed lists the differing columns of an update, in schema
		// order. Nil for insertions and deletions.
		Changed []string
	}

	// SchemaChanges is the net set of schema-level differences recorded
	// since the last baseline reset: added and dropped column names, a
	// rename map and a type-change map. The recording methods keep the
	// set net: re-adding a dropped column clears the drop, dropping an
	// added column clears the add, and rename chains collapse.
	SchemaChanges struct {
		added   []string
		addKind map[string]Kind
		addDflt map[string]any
		dropped []string
		renamed map[string]string
		retyped map[string]Kind
	}
)

// Row-level change kinds, in execution order.
const (
	Insert ChangeKind = iota + 1
	Update
	Delete
)

// String returns the kind name.
func (k ChangeKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// NewSchemaChanges returns an empty schema change set.
func NewSchemaChanges() *SchemaChanges {
	return &SchemaChanges{
		addKind: make(map[string]Kind),
		addDflt: make(map[string]any),
		renamed: make(map[string]string),
		retyped: make(map[string]Kind),
	}
}

// Add records the addition of a column with its kind and the default
// value to backfill existing rows with. Adding a previously dropped
// column cancels the drop.
func (s *SchemaChanges) Add(name string, kind Kind, dflt any) {
	if s.removeDropped(name) {
		// Net no-op: the column existed in the baseline, was dropped,
		// and is back. A changed type still surfaces as a retype.
		return
	}
	if !contains(s.added, name) {
		s.added = append(s.added, name)
	}
	s.addKind[name] = kind
	s.addDflt[name], _ = Normalize(dflt)
}

// Drop records the removal of a column. Dropping a column added since
// the baseline cancels the add.
func (s *SchemaChanges) Drop(name string) {
	if contains(s.added, name) {
		s.added = remove(s.added, name)
		delete(s.addKind, name)
		delete(s.addDflt, name)
		return
	}
	// A drop supersedes a pending retype or rename of the same column.
	// Retype entries are keyed by the current name, so clear them
	// before translating a renamed column back to its original name.
	delete(s.retyped, name)
	for old, new := range s.renamed {
		if new == name {
			delete(s.renamed, old)
			name = old
			break
		}
	}
	if !contains(s.dropped, name) {
		s.dropped = append(s.dropped, name)
	}
}

// Rename records a column rename. Renaming a column added since the
// baseline only adjusts the pending add; chains such as a->b followed
// by b->c collapse to a->c, and a rename back to the original name
// cancels the entry.
func (s *SchemaChanges) Rename(old, new string) {
	if contains(s.added, old) {
		s.added = replace(s.added, old, new)
		s.addKind[new] = s.addKind[old]
		delete(s.addKind, old)
		if v, ok := s.addDflt[old]; ok {
			s.addDflt[new] = v
			delete(s.addDflt, old)
		}
		return
	}
	if k, ok := s.retyped[old]; ok {
		s.retyped[new] = k
		delete(s.retyped, old)
	}
	for first, cur := range s.renamed {
		if cur == old {
			if first == new {
				delete(s.renamed, first)
			} else {
				s.renamed[first] = new
			}
			return
		}
	}
	s.renamed[old] = new
}

// Retype records a column type change. Retyping a column added since
// the baseline only adjusts the pending add.
func (s *SchemaChanges) Retype(name string, kind Kind) {
	if contains(s.added, name) {
		s.addKind[name] = kind
		return
	}
	s.retyped[name] = kind
}

// Added returns the added column names in recording order, with their
// kinds and backfill defaults.
func (s *SchemaChanges) Added() (names []string, kinds map[string]Kind, defaults map[string]any) {
	return s.added, s.addKind, s.addDflt
}

// Dropped returns the dropped column names in recording order.
func (s *SchemaChanges) Dropped() []string {
	return s.dropped
}

// Renamed returns the collapsed rename map (original name to current).
func (s *SchemaChanges) Renamed() map[string]string {
	return s.renamed
}

// Retyped returns the type-change map.
func (s *SchemaChanges) Retyped() map[string]Kind {
	return s.retyped
}

// Empty reports whether the set records no changes.
func (s *SchemaChanges) Empty() bool {
	return len(s.added) == 0 && len(s.dropped) == 0 && len(s.renamed) == 0 && len(s.retyped) == 0
}

// Counts returns the number of adds, drops, renames and retypes.
func (s *SchemaChanges) Counts() (added, dropped, renamed, retyped int) {
	return len(s.added), len(s.dropped), len(s.renamed), len(s.retyped)
}

func (s *SchemaChanges) removeDropped(name string) bool {
	if !contains(s.dropped, name) {
		return false
	}
	s.dropped = remove(s.dropped, name)
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func replace(list []string, old, new string) []string {
	for i, v := range list {
		if v == old {
			list[i] = new
		}
	}
	return list
}

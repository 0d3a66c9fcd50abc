// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package conflict detects rows modified remotely since the shared
// baseline and revises the pending update step under a configurable
// policy. Inserts and deletes are never touched; they are the
// planner's concern.
package conflict

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/rowset"
)

type (
	// A Conflict describes one row where local and remote changed
	// since the shared baseline.
	Conflict struct {
		Key       rowset.Key
		KeyValues []any
		// Local holds the pending local change set by column, Remote
		// the remote row restricted to the pulled columns, and
		// Baseline the last-synced values of the locally changed
		// columns where known.
		Local, Remote, Baseline map[string]any
		// Columns lists the columns whose local and remote values
		// disagree, in deterministic order.
		Columns []string
	}

	// A Resolver decides the fate of one conflicting update. It
	// returns the revised change set, or nil to drop the local update
	// for this row.
	Resolver interface {
		Resolve(c *Conflict) (map[string]any, error)
	}

	// ResolverFunc allows using a function as a Resolver.
	ResolverFunc func(c *Conflict) (map[string]any, error)
)

// Resolve calls f(c).
func (f ResolverFunc) Resolve(c *Conflict) (map[string]any, error) {
	return f(c)
}

// LastWriterWins keeps the local change set unchanged; the push
// overwrites the remote modification. This is the default policy.
func LastWriterWins() Resolver {
	return ResolverFunc(func(c *Conflict) (map[string]any, error) {
		return c.Local, nil
	})
}

// FirstWriterWins drops the local update for a conflicting row; the
// remote modification stands.
func FirstWriterWins() Resolver {
	return ResolverFunc(func(c *Conflict) (map[string]any, error) {
		if len(c.Columns) > 0 {
			return nil, nil
		}
		return c.Local, nil
	})
}

// Merge keeps local values for conflicting columns and adopts remote
// values for columns the local update does not touch.
func Merge() Resolver {
	return ResolverFunc(func(c *Conflict) (map[string]any, error) {
		merged := make(map[string]any, len(c.Local)+len(c.Remote))
		for col, v := range c.Local {
			merged[col] = v
		}
		for col, v := range c.Remote {
			if _, ok := merged[col]; !ok {
				merged[col] = v
			}
		}
		return merged, nil
	})
}

// Abort fails the push with a ConflictError when any column
// disagrees.
func Abort() Resolver {
	return ResolverFunc(func(c *Conflict) (map[string]any, error) {
		if len(c.Columns) == 0 {
			return c.Local, nil
		}
		local := make(map[string]any, len(c.Columns))
		remote := make(map[string]any, len(c.Columns))
		for _, col := range c.Columns {
			local[col] = c.Local[col]
			remote[col] = c.Remote[col]
		}
		return nil, &rowset.ConflictError{
			Key:        c.Key,
			KeyValues:  c.KeyValues,
			Local:      local,
			Remote:     remote,
			Columns:    c.Columns,
			Suggestion: "pull the table to adopt the remote changes, or push with a merging strategy",
		}
	})
}

// Resolve pulls the remote rows touched by the plan's update step,
// classifies each pending update against them, and revises the step
// per the resolver's decisions. Rows absent remotely are left to the
// executor. The remote read is restricted to the touched columns and
// keys and runs outside any write transaction.
func Resolve(ctx context.Context, d plan.Driver, p *plan.Plan, r Resolver) error {
	step := p.UpdateStep()
	if step == nil || len(step.Records) == 0 {
		return nil
	}
	var (
		keys    = make([][]any, 0, len(step.Records))
		touched []string
		seen    = make(map[string]bool)
	)
	for _, rec := range step.Records {
		keys = append(keys, rec.KeyValues)
		for _, c := range rec.Columns {
			if !seen[c] {
				seen[c] = true
				touched = append(touched, c)
			}
		}
	}
	remote, err := d.Pull(ctx, &plan.PullOptions{
		Table:   p.Table,
		Schema:  p.Schema,
		Spec:    p.Spec,
		Columns: touched,
		Keys:    keys,
	})
	if err != nil {
		return fmt.Errorf("conflict: reading remote rows of %q: %w", p.Table, err)
	}
	pos, err := rowset.KeyPositions(p.Spec, remote)
	if err != nil {
		return err
	}
	index := make(map[rowset.Key]rowset.Row, len(remote.Rows))
	for _, row := range remote.Rows {
		index[rowset.RowKey(row, pos)] = row
	}
	kept := step.Records[:0]
	for _, rec := range step.Records {
		row, ok := index[rec.Key]
		if !ok {
			// Deleted remotely; the executor applies the plan as is.
			kept = append(kept, rec)
			continue
		}
		c := classify(rec, remote, row, p.Spec)
		if len(c.Columns) > 0 {
			logrus.WithFields(logrus.Fields{
				"table":   p.Table,
				"key":     fmt.Sprint(rec.KeyValues),
				"columns": c.Columns,
			}).Info("conflict: concurrent remote modification")
		}
		resolved, err := r.Resolve(c)
		if err != nil {
			return err
		}
		if resolved == nil {
			continue
		}
		rebind(rec, resolved, p.Spec)
		kept = append(kept, rec)
	}
	step.Records = kept
	if len(step.Records) == 0 {
		drop(p, step)
	}
	return nil
}

// classify compares one pending update against the remote row. A
// column conflicts unless the remote still holds the baseline value
// (remote unchanged) or already holds the local value.
func classify(rec *plan.Record, remote *rowset.Table, row rowset.Row, spec rowset.KeySpec) *Conflict {
	c := &Conflict{
		Key:       rec.Key,
		KeyValues: rec.KeyValues,
		Local:     make(map[string]any, len(rec.Columns)),
		Remote:    make(map[string]any, len(remote.Columns)),
		Baseline:  rec.Old,
	}
	for i, col := range remote.Columns {
		if !spec.Contains(col.Name) {
			c.Remote[col.Name] = row[i]
		}
	}
	for i, col := range rec.Columns {
		local := rec.Values[i]
		c.Local[col] = local
		rv, ok := c.Remote[col]
		if !ok {
			continue
		}
		if base, known := rec.Old[col]; known && rowset.Equal(rv, base) {
			continue
		}
		if rowset.Equal(local, rv) {
			continue
		}
		c.Columns = append(c.Columns, col)
	}
	sort.Strings(c.Columns)
	return c
}

// rebind replaces the record's bound columns with the resolved change
// set, keeping the original binding order for columns that survive and
// appending adopted columns in sorted order. Key columns never bind.
func rebind(rec *plan.Record, resolved map[string]any, spec rowset.KeySpec) {
	var (
		columns []string
		values  []any
		bound   = make(map[string]bool, len(resolved))
	)
	for _, col := range rec.Columns {
		if v, ok := resolved[col]; ok {
			columns = append(columns, col)
			values = append(values, v)
			bound[col] = true
		}
	}
	var adopted []string
	for col := range resolved {
		if !bound[col] && !spec.Contains(col) {
			adopted = append(adopted, col)
		}
	}
	sort.Strings(adopted)
	for _, col := range adopted {
		columns = append(columns, col)
		values = append(values, resolved[col])
	}
	rec.Columns = columns
	rec.Values = values
}

// drop removes an emptied step from the plan.
func drop(p *plan.Plan, step *plan.Step) {
	for i, s := range p.Steps {
		if s == step {
			p.Steps = append(p.Steps[:i], p.Steps[i+1:]...)
			return
		}
	}
}

// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package rowsync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"rowsync.io/rowsync/sql/rowset"
	"rowsync.io/rowsync/sql/sqlclient"
)

// A Database coordinates multiple tracked tables over one shared
// client. Tables keep their registration order; a multi-table push
// validates every table before executing any of them.
type Database struct {
	client *sqlclient.Client
	cfg    *config
	names  []string
	// tables maps a registered name to its tracked table. A nil entry
	// is a lazily registered remote table not yet loaded.
	tables map[string]*Table
}

// NewDatabase returns a database over the given client. Options become
// the defaults of every table it tracks.
func NewDatabase(client *sqlclient.Client, opts ...Option) *Database {
	cfg := defaults()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Database{
		client: client,
		cfg:    cfg,
		tables: make(map[string]*Table),
	}
}

// NewTable tracks a new in-memory table under the database. Table
// options override the database defaults. A duplicate name is a
// SchemaError.
func (d *Database) NewTable(name string, value *rowset.Table, spec rowset.KeySpec, opts ...Option) (*Table, error) {
	if _, ok := d.tables[name]; ok {
		return nil, &rowset.SchemaError{
			Message: "table is already tracked",
			Table:   name,
		}
	}
	cfg := d.cfg.clone()
	for _, opt := range opts {
		opt(cfg)
	}
	t, err := newTable(d.client, name, value, spec, cfg)
	if err != nil {
		return nil, err
	}
	d.register(name, t)
	return t, nil
}

// Table returns the tracked table with the given name, loading it from
// the database first if it was registered lazily.
func (d *Database) Table(ctx context.Context, name string) (*Table, error) {
	t, ok := d.tables[name]
	if !ok {
		return nil, &rowset.NotExistError{Err: fmt.Errorf("rowsync: table %q is not tracked", name)}
	}
	if t == nil {
		var err error
		if t, err = loadTable(ctx, d.client, name, "", d.cfg.clone()); err != nil {
			return nil, err
		}
		d.tables[name] = t
	}
	return t, nil
}

// Tables returns the registered table names in registration order.
func (d *Database) Tables() []string {
	names := make([]string, len(d.names))
	copy(names, d.names)
	return names
}

// Pull re-reads the table list from the database and rehydrates every
// tracked table. New remote tables join the registry; with the lazy
// option their first read is deferred until first access.
func (d *Database) Pull(ctx context.Context) error {
	names, err := d.client.Tables(ctx, "")
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, ok := d.tables[name]; ok {
			continue
		}
		if d.cfg.lazy {
			d.register(name, nil)
			continue
		}
		t, err := loadTable(ctx, d.client, name, "", d.cfg.clone())
		if err != nil {
			return err
		}
		d.register(name, t)
	}
	for _, name := range d.names {
		if t := d.tables[name]; t != nil {
			if err := t.Pull(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Push pushes every table with pending changes, and every table not yet
// present remotely. All selected tables validate first; any validation
// failure aborts the push before a single statement executes. In
// parallel mode tables push concurrently, bounded by the configured
// limit, and all task failures aggregate into one TransactionError.
// Dialects that do not tolerate concurrent writes push sequentially
// regardless.
func (d *Database) Push(ctx context.Context, parallel bool) error {
	var targets []*Table
	for _, name := range d.names {
		t := d.tables[name]
		if t == nil {
			// Lazily registered and never accessed: nothing changed.
			continue
		}
		if t.HasChanges() || !t.exists {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	var invalid *multierror.Error
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			invalid = multierror.Append(invalid, &rowset.SchemaError{
				Message: fmt.Sprintf("validation failed: %s", err),
				Table:   t.name,
			})
		}
	}
	if err := invalid.ErrorOrNil(); err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"push":   uuid.New().String(),
		"tables": len(targets),
	})
	if !parallel || len(targets) == 1 || d.cfg.maxConcurrent <= 1 || !d.client.Capabilities().ConcurrentWrites {
		for _, t := range targets {
			if err := t.Push(ctx); err != nil {
				return err
			}
			log.WithField("table", t.name).Info("rowsync: table pushed")
		}
		return nil
	}
	var (
		g    errgroup.Group
		sem  = semaphore.NewWeighted(int64(d.cfg.maxConcurrent))
		errs = make([]error, len(targets))
	)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				return nil
			}
			defer sem.Release(1)
			if errs[i] = t.Push(ctx); errs[i] != nil {
				log.WithFields(logrus.Fields{"table": t.name, "error": errs[i].Error()}).Error("rowsync: table push failed")
				return nil
			}
			log.WithField("table", t.name).Info("rowsync: table pushed")
			return nil
		})
	}
	g.Wait()
	var (
		failed *multierror.Error
		names  []string
	)
	for i, err := range errs {
		if err != nil {
			failed = multierror.Append(failed, fmt.Errorf("table %q: %w", targets[i].name, err))
			names = append(names, targets[i].name)
		}
	}
	if failed == nil {
		return nil
	}
	return &rowset.TransactionError{
		Message: fmt.Sprintf("parallel push failed for %d of %d tables", len(names), len(targets)),
		Details: map[string]any{"tables": names},
		Err:     failed.ErrorOrNil(),
	}
}

func (d *Database) register(name string, t *Table) {
	d.names = append(d.names, name)
	d.tables[name] = t
}

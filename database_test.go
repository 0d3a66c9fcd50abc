// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package rowsync

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/rowset"
	"rowsync.io/rowsync/sql/sqlclient"
)

// fakeDriver serves the coordinator tests: a fixed set of remote
// tables, per-table step failures and step counters. Transactions still
// run against sqlmock; the step bodies are absorbed here.
type fakeDriver struct {
	caps   plan.Capabilities
	remote map[string]*rowset.Table
	specs  map[string]rowset.KeySpec
	fail   map[string]error

	mu    sync.Mutex
	steps map[string]int
}

func newFakeDriver(concurrent bool) *fakeDriver {
	return &fakeDriver{
		caps: plan.Capabilities{
			TransactionalDDL: true,
			ConcurrentWrites: concurrent,
			MaxParameters:    999,
		},
		remote: make(map[string]*rowset.Table),
		specs:  make(map[string]rowset.KeySpec),
		fail:   make(map[string]error),
		steps:  make(map[string]int),
	}
}

func (d *fakeDriver) Dialect() string                 { return "fake" }
func (d *fakeDriver) Capabilities() plan.Capabilities { return d.caps }
func (d *fakeDriver) Retryable(error) bool            { return false }
func (d *fakeDriver) Deadlock(error) bool             { return false }

func (d *fakeDriver) Tables(context.Context, string) ([]string, error) {
	names := make([]string, 0, len(d.remote))
	for name := range d.remote {
		names = append(names, name)
	}
	return names, nil
}

func (d *fakeDriver) TableExists(_ context.Context, name, _ string) (bool, error) {
	_, ok := d.remote[name]
	return ok, nil
}

func (d *fakeDriver) Columns(_ context.Context, name, _ string) ([]*rowset.ColumnInfo, error) {
	t, ok := d.remote[name]
	if !ok {
		return nil, &rowset.NotExistError{Err: errNotExist(name)}
	}
	cols := make([]*rowset.ColumnInfo, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = &rowset.ColumnInfo{Name: c.Name, Type: c.Kind.String(), Kind: c.Kind, Null: c.Null, Key: c.Key}
	}
	return cols, nil
}

func (d *fakeDriver) PrimaryKey(_ context.Context, name, _ string) (rowset.KeySpec, error) {
	if _, ok := d.remote[name]; !ok {
		return nil, &rowset.NotExistError{Err: errNotExist(name)}
	}
	return d.specs[name], nil
}

func (d *fakeDriver) Pull(_ context.Context, opts *plan.PullOptions) (*rowset.Table, error) {
	t, ok := d.remote[opts.Table]
	if !ok {
		return nil, &rowset.NotExistError{Err: errNotExist(opts.Table)}
	}
	return t.Clone(), nil
}

func (d *fakeDriver) CreateTable(_ context.Context, opts *plan.CreateOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remote[opts.Table] = opts.Value.Clone()
	d.specs[opts.Table] = opts.Spec
	return nil
}

func (d *fakeDriver) ExecStep(_ context.Context, _ rowset.ExecQuerier, p *plan.Plan, _ *plan.Step) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail[p.Table]; err != nil {
		return err
	}
	d.steps[p.Table]++
	return nil
}

func (d *fakeDriver) executed(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.steps[table]
}

type errNotExist string

func (e errNotExist) Error() string { return "fake: table " + string(e) + " was not found" }

func fakeClient(t *testing.T, drv *fakeDriver) (*sqlclient.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &sqlclient.Client{Name: drv.Dialect(), URL: "fake://db", DB: db, Driver: drv}, mock
}

// seed registers a remote table on the fake driver and returns the
// matching in-memory value.
func seed(drv *fakeDriver, name string) *rowset.Table {
	tab := rowset.NewTable(
		&rowset.Column{Name: "id", Kind: rowset.KindInt, Key: true},
		&rowset.Column{Name: "v", Kind: rowset.KindString},
	)
	tab.KeyParts = 1
	tab.Append(rowset.Row{1, "one"})
	drv.remote[name] = tab.Clone()
	drv.specs[name] = rowset.KeySpec{"id"}
	return tab.Clone()
}

func TestDatabase_PushValidatesAllFirst(t *testing.T) {
	drv := newFakeDriver(true)
	c, mock := fakeClient(t, drv)
	d := NewDatabase(c)

	good := seed(drv, "good")
	_, err := d.NewTable("good", good, rowset.KeySpec{"id"})
	require.NoError(t, err)

	bad := rowset.NewTable(
		&rowset.Column{Name: "id", Kind: rowset.KindInt, Key: true},
	)
	bad.KeyParts = 1
	require.NoError(t, bad.Append(rowset.Row{nil}))
	_, err = d.NewTable("bad", bad, rowset.KeySpec{"id"})
	require.NoError(t, err)

	err = d.Push(context.Background(), false)
	require.True(t, rowset.IsSchemaError(err))
	var se *rowset.SchemaError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "bad", se.Table)
	require.Zero(t, drv.executed("good"), "no table executes when any validation fails")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_PushSequentialAbortsOnError(t *testing.T) {
	drv := newFakeDriver(false)
	c, mock := fakeClient(t, drv)
	d := NewDatabase(c)

	for _, name := range []string{"first", "second"} {
		v := seed(drv, name)
		tab, err := d.NewTable(name, v, rowset.KeySpec{"id"})
		require.NoError(t, err)
		require.NoError(t, tab.AddRow(map[string]any{"id": 2, "v": "two"}))
	}
	drv.fail["first"] = errNotExist("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()
	// parallel requested, but the dialect forbids concurrent writes:
	// sequential order applies and the first failure aborts.
	err := d.Push(context.Background(), true)
	require.True(t, rowset.IsTransactionError(err))
	require.Zero(t, drv.executed("second"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_PushParallelAggregates(t *testing.T) {
	drv := newFakeDriver(true)
	c, mock := fakeClient(t, drv)
	mock.MatchExpectationsInOrder(false)
	d := NewDatabase(c, WithMaxConcurrentPushes(2))

	for _, name := range []string{"ok", "bad"} {
		v := seed(drv, name)
		tab, err := d.NewTable(name, v, rowset.KeySpec{"id"})
		require.NoError(t, err)
		require.NoError(t, tab.AddRow(map[string]any{"id": 2, "v": "two"}))
	}
	drv.fail["bad"] = errNotExist("boom")

	mock.ExpectBegin()
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectRollback()
	err := d.Push(context.Background(), true)
	require.True(t, rowset.IsTransactionError(err))
	var te *rowset.TransactionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, []string{"bad"}, te.Details["tables"])
	require.Equal(t, 1, drv.executed("ok"), "sibling failure does not abort a table's own push")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_PushNoTargets(t *testing.T) {
	drv := newFakeDriver(true)
	c, mock := fakeClient(t, drv)
	d := NewDatabase(c)
	require.NoError(t, d.Push(context.Background(), true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_DuplicateName(t *testing.T) {
	drv := newFakeDriver(true)
	c, _ := fakeClient(t, drv)
	d := NewDatabase(c)
	_, err := d.NewTable("users", seed(drv, "users"), rowset.KeySpec{"id"})
	require.NoError(t, err)
	_, err = d.NewTable("users", seed(drv, "users"), rowset.KeySpec{"id"})
	require.True(t, rowset.IsSchemaError(err))
}

func TestDatabase_PullRegistersRemoteTables(t *testing.T) {
	drv := newFakeDriver(true)
	c, _ := fakeClient(t, drv)
	seed(drv, "users")
	d := NewDatabase(c)
	require.NoError(t, d.Pull(context.Background()))
	require.Equal(t, []string{"users"}, d.Tables())
	tab, err := d.Table(context.Background(), "users")
	require.NoError(t, err)
	require.Len(t, tab.Value().Rows, 1)
	require.False(t, tab.HasChanges())
}

func TestDatabase_LazyTable(t *testing.T) {
	drv := newFakeDriver(true)
	c, _ := fakeClient(t, drv)
	seed(drv, "users")
	d := NewDatabase(c, WithLazy())
	require.NoError(t, d.Pull(context.Background()))
	require.Nil(t, d.tables["users"], "lazy registration defers the first read")
	tab, err := d.Table(context.Background(), "users")
	require.NoError(t, err)
	require.Len(t, tab.Value().Rows, 1)

	_, err = d.Table(context.Background(), "ghost")
	require.True(t, rowset.IsNotExistError(err))
}

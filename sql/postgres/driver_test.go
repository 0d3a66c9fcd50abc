// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"rowsync.io/rowsync/internal/sqltest"
	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/rowset"
)

func open(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectQuery(sqltest.Escape("SHOW server_version")).
		WillReturnRows(sqlmock.NewRows([]string{"server_version"}).AddRow("14.5"))
	drv, err := Open(db)
	require.NoError(t, err)
	return drv, mock
}

func TestOpen(t *testing.T) {
	drv, _ := open(t)
	require.Equal(t, "postgresql", drv.Dialect())
	require.Equal(t, "14.5", drv.Version())
	caps := drv.Capabilities()
	require.True(t, caps.TransactionalDDL)
	require.True(t, caps.ConcurrentWrites)
	require.True(t, caps.Isolation)
}

func TestParseType(t *testing.T) {
	for raw, want := range map[string]rowset.Kind{
		"bigint":                      rowset.KindInt,
		"integer":                     rowset.KindInt,
		"smallint":                    rowset.KindInt,
		"double precision":            rowset.KindFloat,
		"numeric(10,2)":               rowset.KindFloat,
		"real":                        rowset.KindFloat,
		"boolean":                     rowset.KindBool,
		"timestamp with time zone":    rowset.KindTime,
		"timestamp without time zone": rowset.KindTime,
		"date":                        rowset.KindTime,
		"text":                        rowset.KindString,
		"character varying":           rowset.KindString,
		"uuid":                        rowset.KindString,
		"jsonb":                       rowset.KindString,
	} {
		require.Equal(t, want, ParseType(raw), "%q", raw)
	}
}

func TestInspect(t *testing.T) {
	drv, mock := open(t)
	mock.ExpectQuery(sqltest.Escape(columnsQuery)).
		WithArgs(nil, "users").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "exists"}).
			AddRow("id", "bigint", "NO", true).
			AddRow("name", "text", "YES", false).
			AddRow("age", "bigint", "YES", false))
	columns, err := drv.Columns(context.Background(), "users", "")
	require.NoError(t, err)
	require.Len(t, columns, 3)
	require.Equal(t, &rowset.ColumnInfo{Name: "id", Type: "bigint", Kind: rowset.KindInt, Key: true}, columns[0])

	mock.ExpectQuery(sqltest.Escape(columnsQuery)).
		WithArgs(nil, "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "exists"}))
	_, err = drv.Columns(context.Background(), "ghost", "")
	require.True(t, rowset.IsNotExistError(err))
}

func TestPrimaryKey(t *testing.T) {
	drv, mock := open(t)
	mock.ExpectQuery(sqltest.Escape(primaryKeyQuery)).
		WithArgs("public", "enrollments").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("student_id").
			AddRow("course_id"))
	spec, err := drv.PrimaryKey(context.Background(), "enrollments", "public")
	require.NoError(t, err)
	require.Equal(t, rowset.KeySpec{"student_id", "course_id"}, spec)
}

func TestAlterColumn(t *testing.T) {
	ctx := context.Background()
	p := &plan.Plan{Table: "users", Spec: rowset.KeySpec{"id"}}
	t.Run("Add", func(t *testing.T) {
		drv, mock := open(t)
		mock.ExpectExec(sqltest.Escape(`ALTER TABLE "users" ADD COLUMN "email" text`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		s := &plan.Step{Kind: plan.SchemaChange, Alter: &plan.Alter{Op: plan.OpAdd, Column: "email", Kind: rowset.KindString}}
		require.NoError(t, drv.ExecStep(ctx, nil, p, s))
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Retype", func(t *testing.T) {
		drv, mock := open(t)
		mock.ExpectExec(sqltest.Escape(`ALTER TABLE "users" ALTER COLUMN "age" TYPE double precision USING "age" ::double precision`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		s := &plan.Step{Kind: plan.SchemaChange, Alter: &plan.Alter{Op: plan.OpRetype, Column: "age", Kind: rowset.KindFloat}}
		require.NoError(t, drv.ExecStep(ctx, nil, p, s))
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Rename", func(t *testing.T) {
		drv, mock := open(t)
		mock.ExpectExec(sqltest.Escape(`ALTER TABLE "users" RENAME COLUMN "name" TO "fullname"`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		s := &plan.Step{Kind: plan.SchemaChange, Alter: &plan.Alter{Op: plan.OpRename, Column: "name", To: "fullname"}}
		require.NoError(t, drv.ExecStep(ctx, nil, p, s))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDollarPlaceholders(t *testing.T) {
	drv, mock := open(t)
	p := &plan.Plan{Table: "users", Spec: rowset.KeySpec{"id"}}
	s := &plan.Step{
		Kind:      plan.UpdateRows,
		BatchSize: 10,
		Records: []*plan.Record{
			{KeyValues: []any{int64(2)}, Columns: []string{"age"}, Values: []any{int64(31)}},
		},
	}
	mock.ExpectExec(sqltest.Escape(`UPDATE "users" SET "age" = $1 WHERE "id" = $2`)).
		WithArgs(int64(31), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, drv.ExecStep(context.Background(), nil, p, s))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	drv, _ := open(t)
	deadlock := &pq.Error{Code: "40P01", Message: "deadlock detected"}
	serialize := &pq.Error{Code: "40001", Message: "could not serialize access"}
	connFail := &pq.Error{Code: "08006", Message: "connection failure"}
	dupKey := &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
	undefCol := &pq.Error{Code: "42703", Message: `column "nick" does not exist`}
	require.True(t, drv.Retryable(deadlock))
	require.True(t, drv.Retryable(serialize))
	require.True(t, drv.Retryable(connFail))
	require.False(t, drv.Retryable(dupKey))
	require.False(t, drv.Retryable(undefCol))
	require.True(t, drv.Deadlock(deadlock))
	require.True(t, drv.Deadlock(serialize))
	require.False(t, drv.Deadlock(connFail))
	require.False(t, drv.Deadlock(errors.New("plain failure")))
}

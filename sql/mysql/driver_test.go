// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package mysql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"rowsync.io/rowsync/internal/sqltest"
	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/rowset"
)

func open(t *testing.T, version string) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectQuery(sqltest.Escape("SELECT @@version")).
		WillReturnRows(sqlmock.NewRows([]string{"@@version"}).AddRow(version))
	drv, err := Open(db)
	require.NoError(t, err)
	return drv, mock
}

func TestOpen(t *testing.T) {
	drv, _ := open(t, "8.0.19")
	require.Equal(t, "mysql", drv.Dialect())
	require.True(t, drv.supportsRenameColumn())
	caps := drv.Capabilities()
	require.False(t, caps.TransactionalDDL)
	require.True(t, caps.ConcurrentWrites)
	require.True(t, caps.Isolation)

	drv, _ = open(t, "5.7.30")
	require.False(t, drv.supportsRenameColumn())

	drv, _ = open(t, "10.6.8-MariaDB")
	require.True(t, drv.mariadb())
	require.False(t, drv.supportsRenameColumn())
}

func TestParseType(t *testing.T) {
	for raw, want := range map[string]rowset.Kind{
		"bigint(20)":          rowset.KindInt,
		"bigint":              rowset.KindInt,
		"int(11) unsigned":    rowset.KindInt,
		"tinyint(1)":          rowset.KindBool,
		"tinyint(4)":          rowset.KindInt,
		"double":              rowset.KindFloat,
		"decimal(10,2)":       rowset.KindFloat,
		"datetime(6)":         rowset.KindTime,
		"timestamp":           rowset.KindTime,
		"varchar(255)":        rowset.KindString,
		"longtext":            rowset.KindString,
		"enum('a','b')":       rowset.KindString,
		"binary(16)":          rowset.KindString,
		"smallint(6)":         rowset.KindInt,
		"double(10,2)":        rowset.KindFloat,
		"boolean":             rowset.KindBool,
		"json":                rowset.KindString,
		"mediumint unsigned ": rowset.KindInt,
	} {
		require.Equal(t, want, ParseType(raw), "%q", raw)
	}
}

func TestInspect(t *testing.T) {
	drv, mock := open(t, "8.0.19")
	mock.ExpectQuery(sqltest.Escape(columnsQuery)).
		WithArgs(nil, "users").
		WillReturnRows(sqltest.Rows(t, `
+-------------+--------------+-------------+------------+
| COLUMN_NAME | COLUMN_TYPE  | IS_NULLABLE | COLUMN_KEY |
+-------------+--------------+-------------+------------+
| id          | bigint(20)   | NO          | PRI        |
| name        | varchar(255) | YES         |            |
| age         | bigint(20)   | YES         |            |
+-------------+--------------+-------------+------------+
`))
	columns, err := drv.Columns(context.Background(), "users", "")
	require.NoError(t, err)
	require.Len(t, columns, 3)
	require.Equal(t, &rowset.ColumnInfo{Name: "id", Type: "bigint(20)", Kind: rowset.KindInt, Key: true}, columns[0])
	require.True(t, columns[1].Null)
}

func TestPrimaryKey(t *testing.T) {
	drv, mock := open(t, "8.0.19")
	mock.ExpectQuery(sqltest.Escape(primaryKeyQuery)).
		WithArgs("app", "enrollments").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).
			AddRow("student_id").
			AddRow("course_id"))
	spec, err := drv.PrimaryKey(context.Background(), "enrollments", "app")
	require.NoError(t, err)
	require.Equal(t, rowset.KeySpec{"student_id", "course_id"}, spec)
}

func TestAlterColumn(t *testing.T) {
	ctx := context.Background()
	p := &plan.Plan{Table: "users", Spec: rowset.KeySpec{"id"}}
	t.Run("Add", func(t *testing.T) {
		drv, mock := open(t, "8.0.19")
		mock.ExpectExec(sqltest.Escape("ALTER TABLE `users` ADD COLUMN `email` longtext")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		s := &plan.Step{Kind: plan.SchemaChange, Alter: &plan.Alter{Op: plan.OpAdd, Column: "email", Kind: rowset.KindString}}
		require.NoError(t, drv.ExecStep(ctx, nil, p, s))
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Rename80", func(t *testing.T) {
		drv, mock := open(t, "8.0.19")
		mock.ExpectExec(sqltest.Escape("ALTER TABLE `users` RENAME COLUMN `name` TO `fullname`")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		s := &plan.Step{Kind: plan.SchemaChange, Alter: &plan.Alter{Op: plan.OpRename, Column: "name", To: "fullname"}}
		require.NoError(t, drv.ExecStep(ctx, nil, p, s))
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Rename57", func(t *testing.T) {
		drv, mock := open(t, "5.7.30")
		mock.ExpectQuery(sqltest.Escape(columnsQuery)).
			WithArgs(nil, "users").
			WillReturnRows(sqltest.Rows(t, `
+-------------+--------------+-------------+------------+
| COLUMN_NAME | COLUMN_TYPE  | IS_NULLABLE | COLUMN_KEY |
+-------------+--------------+-------------+------------+
| id          | bigint(20)   | NO          | PRI        |
| name        | varchar(255) | YES         |            |
+-------------+--------------+-------------+------------+
`))
		mock.ExpectExec(sqltest.Escape("ALTER TABLE `users` CHANGE COLUMN `name` `fullname` varchar(255)")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		s := &plan.Step{Kind: plan.SchemaChange, Alter: &plan.Alter{Op: plan.OpRename, Column: "name", To: "fullname"}}
		require.NoError(t, drv.ExecStep(ctx, nil, p, s))
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Retype", func(t *testing.T) {
		drv, mock := open(t, "8.0.19")
		mock.ExpectExec(sqltest.Escape("ALTER TABLE `users` MODIFY COLUMN `age` double")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		s := &plan.Step{Kind: plan.SchemaChange, Alter: &plan.Alter{Op: plan.OpRetype, Column: "age", Kind: rowset.KindFloat}}
		require.NoError(t, drv.ExecStep(ctx, nil, p, s))
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Drop", func(t *testing.T) {
		drv, mock := open(t, "8.0.19")
		mock.ExpectExec(sqltest.Escape("ALTER TABLE `users` DROP COLUMN `nick`")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		s := &plan.Step{Kind: plan.SchemaChange, Alter: &plan.Alter{Op: plan.OpDrop, Column: "nick"}}
		require.NoError(t, drv.ExecStep(ctx, nil, p, s))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateTable_KeyTypes(t *testing.T) {
	drv, mock := open(t, "8.0.19")
	value := rowset.NewTable(
		&rowset.Column{Name: "code", Kind: rowset.KindString, Key: true},
		&rowset.Column{Name: "note", Kind: rowset.KindString},
	)
	value.KeyParts = 1
	mock.ExpectQuery(sqltest.Escape(existsQuery)).
		WithArgs(nil, "codes").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(sqltest.Escape("CREATE TABLE `codes` (`code` varchar(255) PRIMARY KEY, `note` longtext)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := drv.CreateTable(context.Background(), &plan.CreateOptions{
		Table: "codes", Value: value, Spec: rowset.KeySpec{"code"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	drv, _ := open(t, "8.0.19")
	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	lockWait := &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}
	dupKey := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'PRIMARY'"}
	unknownCol := &mysql.MySQLError{Number: 1054, Message: "Unknown column 'nick'"}
	require.True(t, drv.Retryable(deadlock))
	require.True(t, drv.Retryable(lockWait))
	require.False(t, drv.Retryable(dupKey))
	require.False(t, drv.Retryable(unknownCol))
	require.True(t, drv.Retryable(mysql.ErrInvalidConn))
	require.True(t, drv.Deadlock(deadlock))
	require.True(t, drv.Deadlock(lockWait))
	require.False(t, drv.Deadlock(dupKey))
	require.False(t, drv.Deadlock(errors.New("plain failure")))
}

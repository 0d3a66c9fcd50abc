// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"database/sql"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/sqlclient"
)

func init() {
	sqlclient.Register(
		DriverName,
		sqlclient.DriverOpener("sqlite3", dsn, func(db *sql.DB) (plan.Driver, error) {
			return Open(db)
		}),
		sqlclient.RegisterFlavours("sqlite3"),
	)
}

// dsn translates sqlite://path/to/file.db?opts to the go-sqlite3 DSN
// file:path/to/file.db?opts.
func dsn(u *url.URL) string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(u.Host)
	b.WriteString(u.Path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

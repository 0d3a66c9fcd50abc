// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package postgres

import (
	"database/sql"
	"net/url"

	_ "github.com/lib/pq"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/sqlclient"
)

func init() {
	sqlclient.Register(
		DriverName,
		sqlclient.DriverOpener("postgres", dsn, func(db *sql.DB) (plan.Driver, error) {
			return Open(db)
		}),
		sqlclient.RegisterFlavours("postgres"),
	)
}

// dsn passes the URL through with the scheme lib/pq expects.
func dsn(u *url.URL) string {
	c := *u
	c.Scheme = "postgres"
	return c.String()
}

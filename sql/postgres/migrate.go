// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package postgres

import (
	"context"
	"fmt"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/rowset"
)

// alterColumn executes one schema-change operation. Type changes carry
// a USING cast so existing values convert instead of failing.
func (d *Driver) alterColumn(ctx context.Context, conn rowset.ExecQuerier, p *plan.Plan, a *plan.Alter) error {
	b := d.Build("ALTER TABLE").Table(p.Schema, p.Table)
	switch a.Op {
	case plan.OpAdd:
		b.P("ADD COLUMN").Ident(a.Column).P(FormatType(a.Kind))
	case plan.OpDrop:
		b.P("DROP COLUMN").Ident(a.Column)
	case plan.OpRename:
		b.P("RENAME COLUMN").Ident(a.Column).P("TO").Ident(a.To)
	case plan.OpRetype:
		t := FormatType(a.Kind)
		b.P("ALTER COLUMN").Ident(a.Column).P("TYPE", t, "USING").Ident(a.Column).P("::" + t)
	default:
		return fmt.Errorf("postgres: unknown alter operation %d", a.Op)
	}
	if _, err := conn.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("postgres: %s %q: %w", a.Op, a.Column, err)
	}
	return nil
}

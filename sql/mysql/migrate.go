// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package mysql

import (
	"context"
	"fmt"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/rowset"
)

// alterColumn executes one schema-change operation. Servers without
// RENAME COLUMN (pre-8.0 and MariaDB) route renames through CHANGE
// COLUMN, which requires re-stating the column type fetched by
// introspection first.
func (d *Driver) alterColumn(ctx context.Context, conn rowset.ExecQuerier, p *plan.Plan, a *plan.Alter) error {
	b := d.Build("ALTER TABLE").Table(p.Schema, p.Table)
	switch a.Op {
	case plan.OpAdd:
		b.P("ADD COLUMN").Ident(a.Column).P(FormatType(a.Kind))
	case plan.OpDrop:
		b.P("DROP COLUMN").Ident(a.Column)
	case plan.OpRename:
		if d.supportsRenameColumn() {
			b.P("RENAME COLUMN").Ident(a.Column).P("TO").Ident(a.To)
			break
		}
		typ, err := d.columnType(ctx, p.Table, p.Schema, a.Column)
		if err != nil {
			return err
		}
		b.P("CHANGE COLUMN").Ident(a.Column).Ident(a.To).P(typ)
	case plan.OpRetype:
		b.P("MODIFY COLUMN").Ident(a.Column).P(FormatType(a.Kind))
	default:
		return fmt.Errorf("mysql: unknown alter operation %d", a.Op)
	}
	if _, err := conn.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("mysql: %s %q: %w", a.Op, a.Column, err)
	}
	return nil
}

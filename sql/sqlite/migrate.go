// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/rowset"
)

// alterColumn executes one schema-change operation. Column renames
// require SQLite 3.25.0 and drops 3.35.0; older servers fail with a
// SchemaError instead of emitting SQL the server rejects.
func (d *Driver) alterColumn(ctx context.Context, conn rowset.ExecQuerier, p *plan.Plan, a *plan.Alter) error {
	b := d.Build("ALTER TABLE").Table(p.Schema, p.Table)
	switch a.Op {
	case plan.OpAdd:
		b.P("ADD COLUMN").Ident(a.Column).P(FormatType(a.Kind))
	case plan.OpDrop:
		if !d.supportsDropColumn() {
			return &rowset.SchemaError{
				Message: fmt.Sprintf("version %s does not support dropping columns", d.version),
				Table:   p.Table,
			}
		}
		b.P("DROP COLUMN").Ident(a.Column)
	case plan.OpRename:
		if !d.supportsRenameColumn() {
			return &rowset.SchemaError{
				Message: fmt.Sprintf("version %s does not support renaming columns", d.version),
				Table:   p.Table,
			}
		}
		b.P("RENAME COLUMN").Ident(a.Column).P("TO").Ident(a.To)
	case plan.OpRetype:
		// SQLite types are affinities; stored values keep their own
		// representation and a declared-type change has no effect on
		// them. The retype is recorded remotely on the next table
		// rebuild and is a no-op here.
		logrus.WithFields(logrus.Fields{
			"table":  p.Table,
			"column": a.Column,
			"kind":   a.Kind.String(),
		}).Debug("sqlite: column retype is a no-op under type affinity")
		return nil
	default:
		return fmt.Errorf("sqlite: unknown alter operation %d", a.Op)
	}
	if _, err := conn.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("sqlite: %s %q: %w", a.Op, a.Column, err)
	}
	return nil
}

var _ plan.Driver = (*Driver)(nil)

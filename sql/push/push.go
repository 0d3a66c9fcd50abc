// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package push applies an execution plan to one remote table: schema
// steps first, each in its own transaction where the dialect allows,
// then all data steps in a single transaction driven by the retry
// policy and bounded by a wall-clock timeout.
package push

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rowsync.io/rowsync/sql/plan"
	"rowsync.io/rowsync/sql/retry"
	"rowsync.io/rowsync/sql/rowset"
	"rowsync.io/rowsync/sql/sqlclient"
)

// Options configures one push execution.
type Options struct {
	// HealthCheck runs a connection probe before executing.
	HealthCheck bool

	// ConnectionTimeout bounds the health probe. Defaults to 5s; it is
	// independent of, and smaller than, the query timeout.
	ConnectionTimeout time.Duration

	// QueryTimeout bounds the wall clock of the data transaction,
	// including its retries. Zero means no timeout.
	QueryTimeout time.Duration

	// IsolationLevel, when set and supported by the dialect, is issued
	// as the first statement of the data transaction.
	IsolationLevel string

	// Retry is the backoff policy of the data transaction.
	Retry retry.Policy
}

// Apply executes the plan against the client's database. An empty plan
// is a successful no-op. Schema steps surface their errors immediately;
// the data transaction is retried as a whole on transient failures and
// rolled back on any error, so the database is left either
// pre-transaction or fully applied.
func Apply(ctx context.Context, client *sqlclient.Client, p *plan.Plan, opts *Options) error {
	if p.Empty() {
		return nil
	}
	if opts == nil {
		opts = &Options{Retry: retry.DefaultPolicy()}
	}
	log := logrus.WithFields(logrus.Fields{
		"push":    uuid.New().String(),
		"table":   p.Table,
		"dialect": client.Name,
		"steps":   len(p.Steps),
	})
	level, err := isolation(opts.IsolationLevel)
	if err != nil {
		return err
	}
	if opts.HealthCheck {
		if err := client.Healthy(ctx, opts.ConnectionTimeout); err != nil {
			return err
		}
	}
	schema, data := partition(p)
	if err := applySchema(ctx, client, p, schema, log); err != nil {
		return err
	}
	return applyData(ctx, client, p, data, opts, level, log)
}

// partition splits the plan into schema steps and data steps,
// preserving plan order within each.
func partition(p *plan.Plan) (schema, data []*plan.Step) {
	for _, s := range p.Steps {
		if s.Kind == plan.SchemaChange {
			schema = append(schema, s)
		} else {
			data = append(data, s)
		}
	}
	return schema, data
}

// applySchema runs each schema step in its own transaction when the
// dialect supports transactional DDL, and directly on the connection
// otherwise (the dialect commits DDL implicitly either way).
func applySchema(ctx context.Context, client *sqlclient.Client, p *plan.Plan, steps []*plan.Step, log *logrus.Entry) error {
	caps := client.Capabilities()
	for _, s := range steps {
		log.WithField("step", s.Comment).Debug("push: schema step")
		if !caps.TransactionalDDL {
			if err := client.ExecStep(ctx, nil, p, s); err != nil {
				return err
			}
			continue
		}
		tx, err := client.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("push: begin schema transaction: %w", err)
		}
		if err := client.ExecStep(ctx, tx, p, s); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("push: commit schema transaction: %w", err)
		}
	}
	return nil
}

// applyData runs all data steps in one transaction, retried as a whole
// per the policy. Deadlocks wait an extra backoff proportional to the
// time already spent before restarting.
func applyData(ctx context.Context, client *sqlclient.Client, p *plan.Plan, steps []*plan.Step, opts *Options, level string, log *logrus.Entry) error {
	if len(steps) == 0 {
		return nil
	}
	start := time.Now()
	if opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.QueryTimeout)
		defer cancel()
	}
	err := retry.Do(ctx, opts.Retry, client.Retryable, func(ctx context.Context) error {
		err := runTx(ctx, client, p, steps, level, log)
		if err != nil && client.Deadlock(err) {
			// Competing transactions back off unevenly so the retry
			// does not collide again immediately.
			d := time.Since(start) / 4
			log.WithFields(logrus.Fields{"backoff": d, "error": err.Error()}).Warn("push: deadlock detected")
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		}
		return err
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return &rowset.TransactionError{
			Message: fmt.Sprintf("push of table %q exceeded its timeout", p.Table),
			Details: map[string]any{
				"table":   p.Table,
				"schema":  p.Schema,
				"timeout": opts.QueryTimeout.Seconds(),
				"elapsed": time.Since(start).Seconds(),
			},
			Err: err,
		}
	default:
		return &rowset.TransactionError{
			Message: fmt.Sprintf("push of table %q failed", p.Table),
			Details: map[string]any{"table": p.Table, "schema": p.Schema},
			Err:     err,
		}
	}
}

// isolation validates and normalizes the configured isolation level.
// The level is spliced into a SET statement rather than bound as a
// parameter, so only the levels the dialects define pass through.
func isolation(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	level := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	switch level {
	case "READ UNCOMMITTED", "READ COMMITTED", "REPEATABLE READ", "SERIALIZABLE":
		return level, nil
	}
	return "", &rowset.ValidationError{
		Message: fmt.Sprintf("unsupported isolation level %q", s),
		Details: map[string]any{"isolation_level": s},
	}
}

// runTx executes the data steps inside one transaction.
func runTx(ctx context.Context, client *sqlclient.Client, p *plan.Plan, steps []*plan.Step, level string, log *logrus.Entry) error {
	tx, err := client.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if level != "" && client.Capabilities().Isolation {
		if _, err := tx.ExecContext(ctx, "SET TRANSACTION ISOLATION LEVEL "+level); err != nil {
			return fmt.Errorf("set isolation level: %w", err)
		}
	}
	for _, s := range steps {
		log.WithFields(logrus.Fields{"step": s.Comment, "batch": s.BatchSize}).Debug("push: data step")
		if err := client.ExecStep(ctx, tx, p, s); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

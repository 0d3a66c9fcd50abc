// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package rowsync tracks in-memory tables and synchronizes them with a
// SQL database. A Table records row and schema mutations as they
// happen; Push turns the accumulated changes into an ordered plan and
// applies it transactionally; Pull rebaselines from the database. A
// Database coordinates multiple tables over one shared client.
package rowsync

import (
	"time"

	"rowsync.io/rowsync/sql/conflict"
	"rowsync.io/rowsync/sql/retry"
	"rowsync.io/rowsync/sql/track"
)

// DefaultMaxConcurrentPushes bounds a parallel multi-table push when no
// explicit limit is configured.
const DefaultMaxConcurrentPushes = 4

type (
	// config carries the per-table and per-database settings. A
	// database hands a copy to each of its tables; table options
	// override it.
	config struct {
		mode          track.Mode
		resolver      conflict.Resolver
		autoIncrement bool
		healthCheck   bool
		lazy          bool
		queryTimeout  time.Duration
		connTimeout   time.Duration
		isolation     string
		retry         retry.Policy
		maxConcurrent int
	}

	// Option configures a Table or a Database.
	Option func(*config)
)

func defaults() *config {
	return &config{
		mode:          track.ModeIncremental,
		resolver:      conflict.LastWriterWins(),
		connTimeout:   5 * time.Second,
		retry:         retry.DefaultPolicy(),
		maxConcurrent: DefaultMaxConcurrentPushes,
	}
}

func (c *config) clone() *config {
	cc := *c
	return &cc
}

// WithTrackingMode selects how the tracker stores its baseline. The
// default is incremental tracking.
func WithTrackingMode(m track.Mode) Option {
	return func(c *config) { c.mode = m }
}

// WithConflictPolicy sets the resolver applied to updates of rows that
// changed remotely since the last sync. The default is
// conflict.LastWriterWins. Custom policies implement conflict.Resolver,
// typically as a conflict.ResolverFunc.
func WithConflictPolicy(r conflict.Resolver) Option {
	return func(c *config) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithAutoIncrement lets AddRow assign max(key)+1 when the key cell is
// absent. Requires a single integer key column.
func WithAutoIncrement() Option {
	return func(c *config) { c.autoIncrement = true }
}

// WithHealthCheck probes the connection before each push.
func WithHealthCheck() Option {
	return func(c *config) { c.healthCheck = true }
}

// WithLazy defers a table's first pull until it is first accessed.
func WithLazy() Option {
	return func(c *config) { c.lazy = true }
}

// WithQueryTimeout bounds the wall clock of each push's data
// transaction, including retries. Zero means no timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithConnectionTimeout bounds the health probe. The default is 5s.
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *config) { c.connTimeout = d }
}

// WithIsolationLevel issues the given isolation level as the first
// statement of each data transaction, on dialects that support it.
// Only the standard levels (READ UNCOMMITTED, READ COMMITTED,
// REPEATABLE READ, SERIALIZABLE) are accepted; push rejects anything
// else before executing.
func WithIsolationLevel(level string) Option {
	return func(c *config) { c.isolation = level }
}

// WithRetryPolicy replaces the default backoff policy of the data
// transaction.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *config) { c.retry = p }
}

// WithMaxConcurrentPushes bounds the number of tables pushed at once by
// Database.Push in parallel mode.
func WithMaxConcurrentPushes(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

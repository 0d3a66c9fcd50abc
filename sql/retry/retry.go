// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package retry implements the backoff policy applied to transient
// database failures, and a generic combinator that drives an operation
// under it. Error classification is split: the dialect drivers match
// their typed driver errors, and this package matches the transient
// message phrases shared across dialects.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// A Policy controls how many times an operation is attempted and how
// long to wait between attempts. Attempt n (zero-based) waits
// min(InitialDelay * ExponentialBase^n, MaxDelay), plus a uniform
// random addition of at most JitterMax when Jitter is set. Jitter only
// ever adds to the delay, so the exponential value is a floor.
type Policy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
	JitterMax       time.Duration
}

// DefaultPolicy returns the policy applied when the caller does not
// configure one: 3 attempts, 100ms initial delay doubling up to 30s,
// with up to 1s of jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		JitterMax:       time.Second,
	}
}

// Delay returns the wait before retrying after attempt n (zero-based).
func (p Policy) Delay(n int) time.Duration {
	base := p.ExponentialBase
	if base <= 0 {
		base = 2.0
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(base, float64(n)))
	if d > p.MaxDelay || d < 0 {
		d = p.MaxDelay
	}
	if p.Jitter && p.JitterMax > 0 {
		d += time.Duration(rand.Int63n(int64(p.JitterMax)))
	}
	return d
}

// Do runs op up to p.MaxAttempts times, waiting p.Delay(n) between
// attempts, while retryable classifies the failure as transient. It
// returns nil on the first success, the last error when attempts are
// exhausted, and the context error if the context ends while waiting.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for n := 0; n < attempts; n++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !retryable(err) || n == attempts-1 {
			return err
		}
		d := p.Delay(n)
		logrus.WithFields(logrus.Fields{
			"attempt": n + 1,
			"delay":   d,
			"error":   err.Error(),
		}).Warn("retry: transient failure, backing off")
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Transient message fragments shared across dialects. The dialect
// drivers consult their typed errors first and fall back to these.
var transientPhrases = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"bad connection",
	"i/o timeout",
	"server has gone away",
	"timeout expired",
	"deadlock detected",
	"could not serialize access",
	"lock wait timeout",
	"database is locked",
	"database table is locked",
	"try restarting transaction",
}

// Deadlock message fragments. A deadlock is retryable and additionally
// triggers the executor's extra-backoff path.
var deadlockPhrases = []string{
	"deadlock detected",
	"deadlock found",
	"could not serialize access",
	"database is locked",
}

// Transient reports whether the error text indicates a transient
// failure safe to retry, or the error is a known transient sentinel.
// Schema, constraint and validation errors never match.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return matches(err, transientPhrases)
}

// DeadlockMessage reports whether the error text indicates a deadlock
// or a serialization failure.
func DeadlockMessage(err error) bool {
	return err != nil && matches(err, deadlockPhrases)
}

func matches(err error, phrases []string) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

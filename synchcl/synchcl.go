// Copyright 2023-present The RowSync Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package synchcl loads sync environments from an HCL project file.
// A project file declares one block per environment:
//
//	env "prod" {
//	  url               = env("DATABASE_URL")
//	  tracking_mode     = "incremental"
//	  conflict_strategy = "abort"
//	  query_timeout     = "30s"
//	  retry {
//	    max_attempts = 5
//	    max_delay    = "10s"
//	  }
//	}
package synchcl

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"rowsync.io/rowsync"
	"rowsync.io/rowsync/sql/conflict"
	"rowsync.io/rowsync/sql/retry"
	"rowsync.io/rowsync/sql/track"
)

type (
	// Project is a parsed project file.
	Project struct {
		Envs []*Env `hcl:"env,block"`
	}

	// Env is one sync environment: the database URL and the options a
	// Database opened for it is configured with.
	Env struct {
		Name                string `hcl:"name,label"`
		URL                 string `hcl:"url"`
		TrackingMode        string `hcl:"tracking_mode,optional"`
		ConflictStrategy    string `hcl:"conflict_strategy,optional"`
		Lazy                bool   `hcl:"lazy,optional"`
		MaxConcurrentPushes int    `hcl:"max_concurrent_pushes,optional"`
		QueryTimeout        string `hcl:"query_timeout,optional"`
		ConnectionTimeout   string `hcl:"connection_timeout,optional"`
		IsolationLevel      string `hcl:"isolation_level,optional"`
		Retry               *Retry `hcl:"retry,block"`
	}

	// Retry overrides parts of the default backoff policy. Durations
	// are strings in time.ParseDuration notation.
	Retry struct {
		MaxAttempts     int     `hcl:"max_attempts,optional"`
		InitialDelay    string  `hcl:"initial_delay,optional"`
		MaxDelay        string  `hcl:"max_delay,optional"`
		ExponentialBase float64 `hcl:"exponential_base,optional"`
		Jitter          *bool   `hcl:"jitter,optional"`
		JitterMax       string  `hcl:"jitter_max,optional"`
	}
)

// Parse parses a project file from source. Environment names must be
// unique. The filename only serves diagnostics.
func Parse(src []byte, filename string) (*Project, error) {
	parser := hclparse.NewParser()
	f, diag := parser.ParseHCL(src, filename)
	if diag.HasErrors() {
		return nil, fmt.Errorf("synchcl: parse %s: %w", filename, diag)
	}
	p := &Project{}
	if diag := gohcl.DecodeBody(f.Body, evalContext(), p); diag.HasErrors() {
		return nil, fmt.Errorf("synchcl: decode %s: %w", filename, diag)
	}
	seen := make(map[string]bool, len(p.Envs))
	for _, e := range p.Envs {
		if e.Name == "" {
			return nil, fmt.Errorf("synchcl: %s: all env blocks must be named", filename)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("synchcl: %s: duplicate env %q", filename, e.Name)
		}
		seen[e.Name] = true
	}
	return p, nil
}

// ParseFile parses the project file at path.
func ParseFile(path string) (*Project, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("synchcl: read project file: %w", err)
	}
	return Parse(src, path)
}

// Env returns the named environment. An empty name selects the only
// environment of a single-env project.
func (p *Project) Env(name string) (*Env, error) {
	if name == "" {
		if len(p.Envs) == 1 {
			return p.Envs[0], nil
		}
		return nil, fmt.Errorf("synchcl: project defines %d envs, name one", len(p.Envs))
	}
	for _, e := range p.Envs {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("synchcl: env %q not defined in project file", name)
}

// Options translates the environment into database options.
func (e *Env) Options() ([]rowsync.Option, error) {
	var opts []rowsync.Option
	switch e.TrackingMode {
	case "":
	case "incremental":
		opts = append(opts, rowsync.WithTrackingMode(track.ModeIncremental))
	case "full":
		opts = append(opts, rowsync.WithTrackingMode(track.ModeFull))
	default:
		return nil, fmt.Errorf("synchcl: env %q: unknown tracking_mode %q", e.Name, e.TrackingMode)
	}
	switch e.ConflictStrategy {
	case "", "last_writer_wins":
	case "first_writer_wins":
		opts = append(opts, rowsync.WithConflictPolicy(conflict.FirstWriterWins()))
	case "merge":
		opts = append(opts, rowsync.WithConflictPolicy(conflict.Merge()))
	case "abort":
		opts = append(opts, rowsync.WithConflictPolicy(conflict.Abort()))
	default:
		return nil, fmt.Errorf("synchcl: env %q: unknown conflict_strategy %q", e.Name, e.ConflictStrategy)
	}
	if e.Lazy {
		opts = append(opts, rowsync.WithLazy())
	}
	if e.MaxConcurrentPushes > 0 {
		opts = append(opts, rowsync.WithMaxConcurrentPushes(e.MaxConcurrentPushes))
	}
	if e.IsolationLevel != "" {
		opts = append(opts, rowsync.WithIsolationLevel(e.IsolationLevel))
	}
	if d, ok, err := duration(e.Name, "query_timeout", e.QueryTimeout); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, rowsync.WithQueryTimeout(d))
	}
	if d, ok, err := duration(e.Name, "connection_timeout", e.ConnectionTimeout); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, rowsync.WithConnectionTimeout(d))
	}
	if e.Retry != nil {
		p, err := e.Retry.policy(e.Name)
		if err != nil {
			return nil, err
		}
		opts = append(opts, rowsync.WithRetryPolicy(p))
	}
	return opts, nil
}

// policy applies the block's overrides on the default backoff policy.
func (r *Retry) policy(env string) (retry.Policy, error) {
	p := retry.DefaultPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.ExponentialBase > 0 {
		p.ExponentialBase = r.ExponentialBase
	}
	if r.Jitter != nil {
		p.Jitter = *r.Jitter
	}
	if d, ok, err := duration(env, "retry.initial_delay", r.InitialDelay); err != nil {
		return p, err
	} else if ok {
		p.InitialDelay = d
	}
	if d, ok, err := duration(env, "retry.max_delay", r.MaxDelay); err != nil {
		return p, err
	} else if ok {
		p.MaxDelay = d
	}
	if d, ok, err := duration(env, "retry.jitter_max", r.JitterMax); err != nil {
		return p, err
	} else if ok {
		p.JitterMax = d
	}
	return p, nil
}

func duration(env, attr, s string) (time.Duration, bool, error) {
	if s == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("synchcl: env %q: invalid %s: %w", env, attr, err)
	}
	return d, true, nil
}

// evalContext returns the evaluation scope of a project file: the
// env() function reading process environment variables.
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{
			"env": function.New(&function.Spec{
				Params: []function.Parameter{
					{Name: "name", Type: cty.String},
				},
				Type: function.StaticReturnType(cty.String),
				Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
					return cty.StringVal(os.Getenv(args[0].AsString())), nil
				},
			}),
		},
	}
}

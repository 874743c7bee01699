// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package database owns the PostgreSQL connection pool the agent queries.
//
// Every query issued through QueryRows runs inside a READ ONLY transaction
// with a statement timeout. SQL validation happens earlier, in the policy
// engine; the transaction mode is the second line.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/DataNexus/services/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultStartupRetries = 5
	defaultRetryDelay     = 3 * time.Second
	defaultMaxRows        = 5000
)

var (
	// ErrPoolNotInitialized is returned by methods called on a nil or
	// closed pool.
	ErrPoolNotInitialized = errors.New("database pool is not initialized")

	// ErrConnect is returned when the pool cannot be opened after all retries.
	ErrConnect = errors.New("failed to initialize database pool")
)

// Options configures Connect.
type Options struct {
	DSN      string
	MinConns int32
	MaxConns int32

	// QueryTimeout bounds pool acquisition plus statement execution.
	QueryTimeout time.Duration

	StartupRetries int
	RetryDelay     time.Duration

	// MaxRows caps the rows returned by QueryRows. Zero means the default.
	MaxRows int
}

// OptionsFromSettings maps configuration onto Options.
func OptionsFromSettings(s *config.Settings) Options {
	return Options{
		DSN:          s.DatabaseURL(),
		MinConns:     int32(s.Database.PoolMin),
		MaxConns:     int32(s.Database.PoolMax),
		QueryTimeout: s.Database.QueryTimeout(),
	}
}

func (o *Options) normalize() {
	if o.StartupRetries <= 0 {
		o.StartupRetries = defaultStartupRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 10 * time.Second
	}
	if o.MaxRows <= 0 {
		o.MaxRows = defaultMaxRows
	}
	if o.MaxConns <= 0 {
		o.MaxConns = 20
	}
	if o.MinConns > o.MaxConns {
		o.MinConns = o.MaxConns
	}
}

// Pool wraps a pgx pool.
//
// # Thread Safety
//
// Safe for concurrent use.
type Pool struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	maxRows int
}

// Connect opens the pool and verifies it with a ping.
//
// # Description
//
// Each attempt builds a fresh pool; a pool that fails its ping is closed
// before the next attempt. Attempts are separated by RetryDelay.
//
// # Inputs
//
//   - ctx: Cancels the retry loop.
//   - opts: Connection settings.
//
// # Outputs
//
//   - *Pool: Ready for queries.
//   - error: Wraps ErrConnect after the last failed attempt, or the parse
//     error for an invalid DSN.
func Connect(ctx context.Context, opts Options) (*Pool, error) {
	opts.normalize()
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	cfg.MinConns = opts.MinConns
	cfg.MaxConns = opts.MaxConns
	cfg.ConnConfig.ConnectTimeout = opts.QueryTimeout

	slog.Info("Initializing database connection pool",
		"host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database,
		"min_conns", opts.MinConns, "max_conns", opts.MaxConns)

	var lastErr error
	for attempt := 1; attempt <= opts.StartupRetries; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, opts.QueryTimeout)
			err = pool.Ping(pingCtx)
			cancel()
			if err == nil {
				slog.Info("Database connection pool initialized")
				return &Pool{pool: pool, timeout: opts.QueryTimeout, maxRows: opts.MaxRows}, nil
			}
			pool.Close()
		}
		lastErr = err
		slog.Error("Database pool initialization failed",
			"attempt", attempt, "max_attempts", opts.StartupRetries, "error", err)

		if attempt == opts.StartupRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrConnect, ctx.Err())
		case <-time.After(opts.RetryDelay):
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrConnect, lastErr)
}

// Health pings the database.
func (p *Pool) Health(ctx context.Context) bool {
	if p == nil || p.pool == nil {
		slog.Warn("Health check failed: database pool is not initialized")
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		return false
	}
	return true
}

// PGX exposes the underlying pool for packages that manage their own tables.
func (p *Pool) PGX() *pgxpool.Pool {
	if p == nil {
		return nil
	}
	return p.pool
}

// Close releases all connections. Safe to call more than once.
func (p *Pool) Close() {
	if p == nil || p.pool == nil {
		return
	}
	slog.Info("Closing database connection pool")
	p.pool.Close()
	p.pool = nil
}

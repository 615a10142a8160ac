// Package postgres builds the pgx connection pool used by the alert store
// and instruments every query with an OpenTelemetry span, a structured log
// line for slow or failed queries, and an optional metrics observer.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Option configures NewPool.
type Option func(*poolOptions)

type poolOptions struct {
	maxConns int32
	tracer   queryTracer
}

// WithMaxConns caps the pool size. Zero keeps the pgx default.
func WithMaxConns(n int32) Option {
	return func(o *poolOptions) { o.maxConns = n }
}

// WithQueryObserver receives per-query durations (wired by main for Prometheus).
func WithQueryObserver(obs QueryObserver) Option {
	return func(o *poolOptions) { o.tracer.observer = obs }
}

// WithSlowQueryLog logs successful queries that take at least d. Failed
// queries are always logged. Zero logs every query.
func WithSlowQueryLog(d time.Duration) Option {
	return func(o *poolOptions) { o.tracer.slow = d }
}

// WithQueryArgs includes bind arguments in query logs.
func WithQueryArgs(enabled bool) Option {
	return func(o *poolOptions) { o.tracer.logArgs = enabled }
}

// NewPool parses databaseURL, installs the tracer chain and verifies the
// connection.
func NewPool(ctx context.Context, databaseURL string, opts ...Option) (*pgxpool.Pool, error) {
	o := poolOptions{tracer: queryTracer{slow: 200 * time.Millisecond}}
	for _, opt := range opts {
		opt(&o)
	}

	pc, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if o.maxConns > 0 {
		pc.MaxConns = o.maxConns
	}

	tracer := o.tracer
	tracer.inner = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())
	pc.ConnConfig.Tracer = &tracer

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

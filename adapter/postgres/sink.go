package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trickstertwo/xrelay"
)

// Sink inserts each log message into a Postgres table.
type Sink struct {
	pool      *pgxpool.Pool
	table     string
	insertSQL string

	closed atomic.Bool
	stored atomic.Uint64
	failed atomic.Uint64
}

// Stats is a snapshot of sink counters.
type Stats struct {
	Stored uint64
	Failed uint64
}

// NewSink connects a pool and, if requested, creates the table.
func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	table := quoteTable(cfg.Table)
	s := &Sink{
		pool:      pool,
		table:     table,
		insertSQL: fmt.Sprintf("INSERT INTO %s (msg, received_at) VALUES ($1, COALESCE($2::timestamptz, now()))", table),
	}
	if cfg.EnsureSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// quoteTable sanitizes an optionally schema-qualified table name.
func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// EnsureSchema creates the log table if it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id          BIGSERIAL PRIMARY KEY,
    msg         TEXT NOT NULL,
    received_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("ensure %s table: %w", s.table, err)
	}
	return nil
}

// Store inserts msg. A zero ReceivedAt falls back to the database clock.
func (s *Sink) Store(ctx context.Context, msg xrelay.Message) error {
	var receivedAt any
	if !msg.ReceivedAt.IsZero() {
		receivedAt = msg.ReceivedAt.UTC()
	}
	if _, err := s.pool.Exec(ctx, s.insertSQL, msg.Payload, receivedAt); err != nil {
		s.failed.Add(1)
		return fmt.Errorf("insert log message: %w", err)
	}
	s.stored.Add(1)
	return nil
}

// Ping checks the pool.
func (s *Sink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats returns current counters.
func (s *Sink) Stats() Stats {
	return Stats{Stored: s.stored.Load(), Failed: s.failed.Load()}
}

// Close closes the pool. Idempotent.
func (s *Sink) Close(context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.pool.Close()
	return nil
}

// Package postgres writes crawl outcomes into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/rum-crawler/internal/crawler"
)

const defaultTable = "rum_outcomes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for outcome rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
	// CreateTable issues CREATE TABLE IF NOT EXISTS on open.
	CreateTable bool
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink implements crawler.Sink on a pgx pool.
type Sink struct {
	pool   execCloser
	table  string
	insert string
}

// New connects to Postgres and optionally creates the table.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.CreateTable {
		if err := s.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{
		pool:  pool,
		table: table,
		insert: fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	host,
	status,
	findings,
	error,
	started_at,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, table),
	}, nil
}

// EnsureTable creates the outcome table when missing.
func (s *Sink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	url         TEXT        NOT NULL,
	host        TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	findings    JSONB       NOT NULL DEFAULT '[]',
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT      NOT NULL DEFAULT 0
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Write inserts one outcome row.
func (s *Sink) Write(ctx context.Context, outcome crawler.Outcome) error {
	findings := outcome.Findings
	if findings == nil {
		findings = []crawler.Finding{}
	}
	findingsJSON, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	var errText *string
	if outcome.Err != "" {
		errText = &outcome.Err
	}
	args := []any{
		outcome.RunID,
		outcome.URL,
		outcome.Host,
		string(outcome.Status),
		findingsJSON,
		errText,
		outcome.Started,
		outcome.DurationMs(),
	}
	if _, err := s.pool.Exec(ctx, s.insert, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Sink) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

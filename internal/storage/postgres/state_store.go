// Package postgres provides the Postgres-backed job state store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/places-scraper/internal/job"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const lastJobKey = "last_job_id"

// Config controls the connection pool and table names.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	JobsTable       string        `mapstructure:"jobs_table"`
	StateTable      string        `mapstructure:"state_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// StateStore keeps one jsonb document per job plus a small key/value table
// for the last created job pointer.
type StateStore struct {
	pool       pool
	jobsTable  string
	stateTable string
}

// New connects to Postgres and creates the tables when missing.
func New(ctx context.Context, cfg Config) (*StateStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.JobsTable, cfg.StateTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, jobsTable, stateTable string) (*StateStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if jobsTable == "" {
		jobsTable = "scrape_jobs"
	}
	if stateTable == "" {
		stateTable = "scrape_state"
	}
	for _, name := range []string{jobsTable, stateTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &StateStore{pool: p, jobsTable: jobsTable, stateTable: stateTable}, nil
}

// EnsureSchema creates both tables if they do not exist.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	doc JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.jobsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`, s.stateTable),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// LoadJobs reads every job document.
func (s *StateStore) LoadJobs(ctx context.Context) ([]job.Record, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT doc FROM %s", s.jobsTable))
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	var out []job.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		var rec job.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// SaveJob upserts a job document.
func (s *StateStore) SaveJob(ctx context.Context, rec job.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, doc, updated_at) VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`, s.jobsTable)
	if _, err := s.pool.Exec(ctx, query, rec.ID, doc); err != nil {
		return fmt.Errorf("upsert job %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteJob removes a job document.
func (s *StateStore) DeleteJob(ctx context.Context, jobID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.jobsTable)
	if _, err := s.pool.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// LastJobID reads the pointer row.
func (s *StateStore) LastJobID(ctx context.Context) (string, error) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.stateTable)
	var id string
	err := s.pool.QueryRow(ctx, query, lastJobKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read last job id: %w", err)
	}
	return id, nil
}

// SetLastJobID upserts the pointer row; "" deletes it.
func (s *StateStore) SetLastJobID(ctx context.Context, jobID string) error {
	if jobID == "" {
		query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", s.stateTable)
		if _, err := s.pool.Exec(ctx, query, lastJobKey); err != nil {
			return fmt.Errorf("clear last job id: %w", err)
		}
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, s.stateTable)
	if _, err := s.pool.Exec(ctx, query, lastJobKey, jobID); err != nil {
		return fmt.Errorf("write last job id: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *StateStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

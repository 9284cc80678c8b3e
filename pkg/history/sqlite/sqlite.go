// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/leseb/docqa/pkg/history"
)

func init() {
	history.Providers.Register("sqlite", func(ctx context.Context, params map[string]string) (history.Store, error) {
		return New(ctx, params["path"])
	})
}

var _ history.Store = (*Store)(nil)

// Store is a SQLite-backed implementation of history.Store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path. The special path ":memory:"
// keeps everything in memory.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite history: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One connection: a ":memory:" database is per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ingest_runs (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL,
			status TEXT NOT NULL,
			documents INTEGER NOT NULL DEFAULT 0,
			failed_files TEXT NOT NULL DEFAULT '[]',
			chunks INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_runs_tenant ON ingest_runs(tenant, started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite create tables: %w", err)
		}
	}
	return nil
}

func (s *Store) Record(ctx context.Context, run *history.Run) error {
	failed, err := json.Marshal(run.FailedFiles)
	if err != nil {
		return fmt.Errorf("marshal failed files: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, tenant, status, documents, failed_files, chunks, dropped, attempts, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Tenant, string(run.Status), run.Documents, string(failed), run.Chunks, run.Dropped,
		run.Attempts, run.Error, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, tenant string, limit int) ([]*history.Run, error) {
	if limit <= 0 {
		limit = history.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant, status, documents, failed_files, chunks, dropped, attempts, error, started_at, finished_at
		 FROM ingest_runs WHERE tenant = ? ORDER BY started_at DESC LIMIT ?`, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*history.Run
	for rows.Next() {
		var (
			r                 history.Run
			status, failed    string
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.Tenant, &status, &r.Documents, &failed, &r.Chunks, &r.Dropped,
			&r.Attempts, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = history.Status(status)
		if err := json.Unmarshal([]byte(failed), &r.FailedFiles); err != nil {
			return nil, fmt.Errorf("unmarshal failed files: %w", err)
		}
		r.StartedAt = time.Unix(0, started).UTC()
		r.FinishedAt = time.Unix(0, finished).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTenant(ctx context.Context, tenant string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ingest_runs WHERE tenant = ?`, tenant)
	return err
}

func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ingest_runs`)
	return err
}

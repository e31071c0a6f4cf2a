package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the results database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := RequireLocal(path, "results database"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Pragmas are per connection; a single connection keeps them in effect
	// and serialises concurrent workers' writes.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS migration_results (
  batch_id        TEXT NOT NULL,
  repo_id         TEXT NOT NULL,
  variant         TEXT NOT NULL,
  state           TEXT NOT NULL,
  reason          TEXT,
  rounds          INTEGER NOT NULL DEFAULT 0,
  max_verdict     TEXT NOT NULL,
  max_error       TEXT,
  min_verdict     TEXT NOT NULL,
  min_error       TEXT,
  base_revision   TEXT,
  diff_hash       TEXT,
  unit_error      TEXT,
  trajectory      JSON,
  started_at      TEXT NOT NULL,
  finished_at     TEXT NOT NULL,
  PRIMARY KEY (batch_id, repo_id)
);`,
		`CREATE TABLE IF NOT EXISTS batches (
  id          TEXT PRIMARY KEY,
  experiment  TEXT NOT NULL,
  variant     TEXT NOT NULL,
  model       TEXT,
  created_at  TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS migration_results_batch_finished_idx ON migration_results(batch_id, finished_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

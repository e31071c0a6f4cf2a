package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps records in the migration_results table. Writes are
// insert-once.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps a database opened with storage.OpenSQLite.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// RegisterBatch records batch metadata. Registering the same id twice is
// a no-op.
func (s *SQLiteStore) RegisterBatch(ctx context.Context, b Batch) error {
	if b.ID == "" {
		return fmt.Errorf("batch id is empty")
	}
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO batches(id, experiment, variant, model, created_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, b.ID, b.Experiment, b.Variant, b.Model, created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("register batch: %w", err)
	}
	return nil
}

// Put inserts rec, returning ErrExists when (batch, repo) is already present.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	if rec.BatchID == "" || rec.RepoID == "" {
		return fmt.Errorf("record requires batch and repo ids")
	}
	traj, err := json.Marshal(rec.Trajectory)
	if err != nil {
		return fmt.Errorf("encode trajectory: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO migration_results(
  batch_id, repo_id, variant, state, reason, rounds,
  max_verdict, max_error, min_verdict, min_error,
  base_revision, diff_hash, unit_error, trajectory, started_at, finished_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(batch_id, repo_id) DO NOTHING;
`,
		rec.BatchID, rec.RepoID, rec.Variant, rec.State, nullable(rec.Reason), rec.Rounds,
		string(rec.Max.Outcome), nullable(rec.Max.Error), string(rec.Min.Outcome), nullable(rec.Min.Error),
		nullable(rec.BaseRevision), nullable(rec.DiffHash), nullable(rec.UnitError), string(traj),
		formatTime(rec.StartedAt), formatTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert result %s/%s: %w", rec.BatchID, rec.RepoID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert result %s/%s: %w", rec.BatchID, rec.RepoID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", rec.BatchID, rec.RepoID, ErrExists)
	}
	return nil
}

const recordColumns = `batch_id, repo_id, variant, state, reason, rounds,
  max_verdict, max_error, min_verdict, min_error,
  base_revision, diff_hash, unit_error, trajectory, started_at, finished_at`

// List returns every record of a batch ordered by completion time.
func (s *SQLiteStore) List(ctx context.Context, batchID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM migration_results
WHERE batch_id = ?
ORDER BY finished_at ASC, repo_id ASC;
`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

// Get returns one record or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, batchID, repoID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+recordColumns+`
FROM migration_results
WHERE batch_id = ? AND repo_id = ?;
`, batchID, repoID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s/%s: %w", batchID, repoID, ErrNotFound)
	}
	return rec, err
}

// Batches summarises every batch that has a registration or at least one
// record, newest first.
func (s *SQLiteStore) Batches(ctx context.Context) ([]BatchSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
WITH ids AS (
  SELECT id AS batch_id FROM batches
  UNION
  SELECT DISTINCT batch_id FROM migration_results
)
SELECT
  ids.batch_id,
  COALESCE(b.experiment, ''),
  COALESCE(b.variant, MAX(r.variant), ''),
  COALESCE(b.model, ''),
  COALESCE(b.created_at, MIN(r.started_at), ''),
  COUNT(r.repo_id),
  COALESCE(SUM(CASE WHEN r.max_verdict = 'pass' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN r.min_verdict = 'pass' THEN 1 ELSE 0 END), 0)
FROM ids
LEFT JOIN batches b ON b.id = ids.batch_id
LEFT JOIN migration_results r ON r.batch_id = ids.batch_id
GROUP BY ids.batch_id
ORDER BY 5 DESC, 1 ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var (
			b       BatchSummary
			created string
		)
		if err := rows.Scan(&b.ID, &b.Experiment, &b.Variant, &b.Model, &created, &b.Total, &b.MaxPassed, &b.MinPassed); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.CreatedAt = parseTime(created)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec                              Record
		reason, maxErr, minErr           sql.NullString
		baseRev, diffHash, unitErr, traj sql.NullString
		maxOutcome, minOutcome           string
		startedS, finishedS              string
	)
	err := row.Scan(
		&rec.BatchID, &rec.RepoID, &rec.Variant, &rec.State, &reason, &rec.Rounds,
		&maxOutcome, &maxErr, &minOutcome, &minErr,
		&baseRev, &diffHash, &unitErr, &traj, &startedS, &finishedS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, err
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan result: %w", err)
	}

	rec.Reason = reason.String
	rec.Max = Verdict{Outcome: Outcome(maxOutcome), Error: maxErr.String}
	rec.Min = Verdict{Outcome: Outcome(minOutcome), Error: minErr.String}
	rec.BaseRevision = baseRev.String
	rec.DiffHash = diffHash.String
	rec.UnitError = unitErr.String
	if traj.Valid && traj.String != "" && traj.String != "null" {
		if err := json.Unmarshal([]byte(traj.String), &rec.Trajectory); err != nil {
			return Record{}, fmt.Errorf("decode trajectory for %s/%s: %w", rec.BatchID, rec.RepoID, err)
		}
	}
	rec.StartedAt = parseTime(startedS)
	rec.FinishedAt = parseTime(finishedS)
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

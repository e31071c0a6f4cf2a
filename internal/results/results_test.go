package results

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/codemig/internal/storage"
	"github.com/mattjoyce/codemig/internal/transcript"
)

func sampleRecord(batch, repo string) Record {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Record{
		BatchID:    batch,
		RepoID:     repo,
		Variant:    "baseline",
		State:      "CONVERGED",
		Reason:     "model requested no further tool calls",
		Rounds:     2,
		Max:        Verdict{Outcome: Pass},
		Min:        Verdict{Outcome: Errored, Error: "exit status 2"},
		DiffHash:   "abc",
		Trajectory: []transcript.Entry{{Role: "user", Content: "migrate"}, {Role: "assistant", Content: "done", Round: 1}},
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
	}
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteStore(db)
}

func TestVerdictOf(t *testing.T) {
	assert.Equal(t, Verdict{Outcome: Pass}, VerdictOf(true, nil))
	assert.Equal(t, Verdict{Outcome: Fail}, VerdictOf(false, nil))

	v := VerdictOf(true, errors.New("mvn not found"))
	assert.Equal(t, Errored, v.Outcome)
	assert.Equal(t, "mvn not found", v.Error)
	assert.False(t, v.Success())
}

func TestSQLiteStorePutAndGet(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord("b1", "acme/app")
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "b1", "acme/app")
	require.NoError(t, err)
	assert.Equal(t, rec.State, got.State)
	assert.Equal(t, rec.Max, got.Max)
	assert.Equal(t, rec.Min, got.Min)
	assert.Equal(t, rec.Trajectory, got.Trajectory)
	assert.True(t, rec.StartedAt.Equal(got.StartedAt))
}

func TestSQLiteStoreInsertOnce(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleRecord("b1", "acme/app")))

	dup := sampleRecord("b1", "acme/app")
	dup.State = "FAULTED"
	err := s.Put(ctx, dup)
	assert.ErrorIs(t, err, ErrExists)

	got, err := s.Get(ctx, "b1", "acme/app")
	require.NoError(t, err)
	assert.Equal(t, "CONVERGED", got.State, "first write wins")

	// Same repo in another batch is a distinct key.
	assert.NoError(t, s.Put(ctx, sampleRecord("b2", "acme/app")))
}

func TestSQLiteStoreConcurrentPuts(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Put(ctx, sampleRecord("b1", "acme/app"))
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrExists)
	}
	assert.Equal(t, 1, ok)
}

func TestSQLiteStoreListAndBatches(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterBatch(ctx, Batch{ID: "b1", Experiment: "exp", Variant: "rag", Model: "qwen"}))
	require.NoError(t, s.RegisterBatch(ctx, Batch{ID: "b1", Experiment: "other"}))

	a := sampleRecord("b1", "a/b")
	c := sampleRecord("b1", "c/d")
	c.Max = Verdict{Outcome: Fail}
	c.FinishedAt = a.FinishedAt.Add(time.Second)
	require.NoError(t, s.Put(ctx, c))
	require.NoError(t, s.Put(ctx, a))
	require.NoError(t, s.Put(ctx, sampleRecord("b0", "x/y")))

	list, err := s.List(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a/b", list[0].RepoID)
	assert.Equal(t, "c/d", list[1].RepoID)

	batches, err := s.Batches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	byID := map[string]BatchSummary{}
	for _, b := range batches {
		byID[b.ID] = b
	}
	assert.Equal(t, "exp", byID["b1"].Experiment)
	assert.Equal(t, 2, byID["b1"].Total)
	assert.Equal(t, 1, byID["b1"].MaxPassed)
	assert.Equal(t, 0, byID["b1"].MinPassed)
	assert.Equal(t, 1, byID["b0"].Total)
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	s := newSQLiteStore(t)
	_, err := s.Get(context.Background(), "b1", "nope/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exp1")
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), sampleRecord("b1", "acme/app")))

	data, err := os.ReadFile(filepath.Join(dir, "acme__app.json"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, true, raw["max_migration_success"])
	assert.Equal(t, false, raw["min_migration_success"])
	assert.Equal(t, "CONVERGED", raw["terminal_state"])
	assert.Len(t, raw["trajectory"], 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestFileStoreInsertOnce(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleRecord("b1", "acme/app")))
	second := sampleRecord("b2", "acme/app")
	second.State = "FAULTED"
	assert.ErrorIs(t, s.Put(ctx, second), ErrExists)

	got, err := s.Load("acme/app")
	require.NoError(t, err)
	assert.Equal(t, "CONVERGED", got.State)
}

func TestFileStoreLoadAll(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleRecord("b1", "c/d")))
	require.NoError(t, s.Put(ctx, sampleRecord("b1", "a/b")))

	all, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a/b", all[0].RepoID)

	_, err = s.Load("missing/repo")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRejectsBadRepoID(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Put(context.Background(), sampleRecord("b1", "../escape")))
}

type failingSink struct{ err error }

func (f failingSink) Put(context.Context, Record) error { return f.err }

func TestTee(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemory(), NewMemory()
	sink := Tee(nil, a, nil, b)

	require.NoError(t, sink.Put(ctx, sampleRecord("b1", "a/b")))
	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)

	assert.ErrorIs(t, sink.Put(ctx, sampleRecord("b1", "a/b")), ErrExists)

	boom := errors.New("disk full")
	err := Tee(nil, NewMemory(), failingSink{err: boom}).Put(ctx, sampleRecord("b1", "a/b"))
	assert.ErrorIs(t, err, boom)
}

func TestTeeWarnsWhenSomeSinksKeepEarlierCopy(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	files, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, files.Put(ctx, sampleRecord("b1", "a/b")))

	// A later batch of the same experiment shares the file store.
	fresh := NewMemory()
	require.NoError(t, Tee(logger, fresh, files).Put(ctx, sampleRecord("b2", "a/b")))

	assert.Len(t, fresh.Records(), 1)
	assert.Contains(t, buf.String(), "earlier copy was kept")
	assert.Contains(t, buf.String(), "batch_id=b2")
	assert.Contains(t, buf.String(), "stale_sinks=1")
}

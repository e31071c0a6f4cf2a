package results

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mattjoyce/codemig/internal/log"
)

type tee struct {
	sinks  []Sink
	logger *slog.Logger
}

// Tee writes every record to all sinks. A record is ErrExists only when
// every sink already had it; other sink errors are joined. When only some
// sinks had it, the stale copies are kept and a warning is logged.
func Tee(logger *slog.Logger, sinks ...Sink) Sink {
	if logger == nil {
		logger = log.WithComponent("results")
	}
	t := &tee{logger: logger}
	for _, s := range sinks {
		if s != nil {
			t.sinks = append(t.sinks, s)
		}
	}
	return t
}

func (t *tee) Put(ctx context.Context, rec Record) error {
	var (
		errs   []error
		exists int
	)
	for _, s := range t.sinks {
		err := s.Put(ctx, rec)
		switch {
		case err == nil:
		case errors.Is(err, ErrExists):
			exists++
		default:
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if len(t.sinks) > 0 && exists == len(t.sinks) {
		return ErrExists
	}
	if exists > 0 {
		t.logger.Warn("result already present in some sinks; their earlier copy was kept",
			"batch_id", rec.BatchID, "repo_id", rec.RepoID, "stale_sinks", exists, "sinks", len(t.sinks))
	}
	return nil
}

// Memory is an in-process Sink, used by the single-repository path and in
// tests.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
	order   []string
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Put stores rec once per (batch, repo).
func (m *Memory) Put(_ context.Context, rec Record) error {
	key := rec.BatchID + "\x00" + rec.RepoID
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; ok {
		return ErrExists
	}
	m.records[key] = rec
	m.order = append(m.order, key)
	return nil
}

// Records returns stored records in insertion order.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.records[k])
	}
	return out
}

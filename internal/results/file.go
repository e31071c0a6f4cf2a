package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/codemig/internal/workspace"
)

// fileRecord is the on-disk layout of one result file. The first three keys
// are the ones downstream analysis reads.
type fileRecord struct {
	MaxMigrationSuccess bool `json:"max_migration_success"`
	MinMigrationSuccess bool `json:"min_migration_success"`
	Record
}

// FileStore writes one JSON file per repository under an experiment
// directory: <dir>/<owner__repo>.json.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("results directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the experiment directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file a repository's record is written to.
func (s *FileStore) Path(repoID string) (string, error) {
	name, err := workspace.SanitizeRepoID(repoID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Put writes rec to a temp file and links it into place, so a reader never
// sees a partial file and an existing result is never replaced.
func (s *FileStore) Put(_ context.Context, rec Record) error {
	path, err := s.Path(rec.RepoID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}

	data, err := json.MarshalIndent(fileRecord{
		MaxMigrationSuccess: rec.MaxSuccess(),
		MinMigrationSuccess: rec.MinSuccess(),
		Record:              rec,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result %s: %w", rec.RepoID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".result-*.json")
	if err != nil {
		return fmt.Errorf("create temp result: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp result: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp result: %w", err)
	}

	// Link fails when the target exists, which makes the write insert-once
	// even when two writers race past the Stat above.
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
		return fmt.Errorf("publish result %s: %w", path, err)
	}
	return nil
}

// Load reads one repository's record.
func (s *FileStore) Load(repoID string) (Record, error) {
	path, err := s.Path(repoID)
	if err != nil {
		return Record{}, err
	}
	return readRecordFile(path)
}

// LoadAll reads every result file in the directory, sorted by repo id.
func (s *FileStore) LoadAll() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read results directory: %w", err)
	}
	var out []Record
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		rec, err := readRecordFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoID < out[j].RepoID })
	return out, nil
}

func readRecordFile(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read result: %w", err)
	}
	var fr fileRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return Record{}, fmt.Errorf("decode result %s: %w", path, err)
	}
	return fr.Record, nil
}

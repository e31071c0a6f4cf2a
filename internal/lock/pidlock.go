// Package lock keeps two batches of one experiment from running at once.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld matches a HeldError with errors.Is.
var ErrHeld = errors.New("lock held by another process")

// HeldError reports a lock owned by another live process.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s is held by pid %d", e.Path, e.PID)
	}
	return fmt.Sprintf("%s is held by another process", e.Path)
}

func (e *HeldError) Is(target error) bool { return target == ErrHeld }

// ExperimentLockPath is where a batch for experiment under outputDir takes
// its lock.
func ExperimentLockPath(outputDir, experiment string) string {
	return filepath.Join(outputDir, experiment, ".lock")
}

// PIDLock is a PID file held open under flock(2). The kernel drops the lock
// when the process dies, so a stale file never blocks the next batch.
type PIDLock struct {
	f *os.File
}

// AcquirePIDLock takes the lock without waiting and records the current
// PID in it. A lock owned elsewhere yields a *HeldError.
func AcquirePIDLock(path string) (*PIDLock, error) {
	if path == "" {
		return nil, errors.New("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, &HeldError{Path: path, PID: holderPID(path)}
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	l := &PIDLock{f: f}
	if err := l.stamp(); err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("record pid in %s: %w", path, err)
	}
	return l, nil
}

// stamp replaces the file contents with our PID.
func (l *PIDLock) stamp() error {
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	if _, err := l.f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return err
	}
	return l.f.Sync()
}

// Release unlocks and closes the file. The file itself stays behind.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}

func holderPID(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}

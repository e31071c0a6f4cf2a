package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystems on which flock and SQLite's WAL locking cannot be trusted.
var networkFilesystems = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"ceph":   true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// Filesystem describes the mount holding a path.
type Filesystem struct {
	// Inspected is the nearest existing ancestor actually examined.
	Inspected string
	Type      string
	Network   bool
}

// DetectFilesystem reports the filesystem of path, or of its nearest existing
// ancestor when path does not exist yet. Platforms without detection report
// type "unknown".
func DetectFilesystem(path string) (Filesystem, error) {
	return detectFilesystem(path, filesystemType)
}

func detectFilesystem(path string, typeOf func(string) (string, error)) (Filesystem, error) {
	if strings.TrimSpace(path) == "" {
		return Filesystem{}, errors.New("path is empty")
	}
	inspect, err := nearestExistingPath(path)
	if err != nil {
		return Filesystem{}, err
	}
	fsType, err := typeOf(inspect)
	if err != nil {
		return Filesystem{}, fmt.Errorf("detect filesystem for %q: %w", inspect, err)
	}
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	return Filesystem{Inspected: inspect, Type: fsType, Network: networkFilesystems[fsType]}, nil
}

// RequireLocal fails when path lives on a network filesystem. what names the
// file in the error ("results database", "experiment lock").
func RequireLocal(path, what string) error {
	return requireLocal(path, what, filesystemType)
}

func requireLocal(path, what string, typeOf func(string) (string, error)) error {
	fs, err := detectFilesystem(path, typeOf)
	if err != nil {
		return fmt.Errorf("%s %q: %w", what, path, err)
	}
	if fs.Network {
		return fmt.Errorf("%s %q is on network filesystem %s, where file locking is unreliable; "+
			"move it to local disk (experiment.state_path, experiment.output_dir or --db)", what, path, fs.Type)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		candidate = parent
	}
}

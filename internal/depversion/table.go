// Package depversion holds the read-only table of recommended dependency
// versions offered to the agent through the lookup tool.
package depversion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table maps "groupId:artifactId" coordinates to versions. It is immutable
// after construction and safe for concurrent use.
type Table struct {
	versions map[string]string
}

// NewTable copies versions into a new table.
func NewTable(versions map[string]string) *Table {
	m := make(map[string]string, len(versions))
	for k, v := range versions {
		m[strings.TrimSpace(k)] = v
	}
	return &Table{versions: m}
}

// Load reads a table from a JSON or YAML object file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dependency versions: %w", err)
	}

	var versions map[string]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &versions)
	default:
		err = json.Unmarshal(data, &versions)
	}
	if err != nil {
		return nil, fmt.Errorf("parse dependency versions %s: %w", path, err)
	}
	return NewTable(versions), nil
}

// Lookup returns the recommended version for coordinate. Surrounding
// whitespace is ignored.
func (t *Table) Lookup(coordinate string) (string, bool) {
	if t == nil {
		return "", false
	}
	v, ok := t.versions[strings.TrimSpace(coordinate)]
	return v, ok
}

// Describe renders the lookup result as tool feedback.
func (t *Table) Describe(coordinate string) string {
	coordinate = strings.TrimSpace(coordinate)
	if v, ok := t.Lookup(coordinate); ok {
		return fmt.Sprintf("Recommended version for '%s': %s", coordinate, v)
	}
	return fmt.Sprintf("No version information found for '%s'. "+
		"Please select an appropriate version based on your knowledge.", coordinate)
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.versions)
}

// Coordinates returns all coordinates, sorted.
func (t *Table) Coordinates() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.versions))
	for k := range t.versions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Package dataset loads the list of repositories a batch should migrate.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/codemig/internal/workspace"
)

// Entry is one repository of a manifest.
type Entry struct {
	Repo       string `yaml:"repo" json:"repo"`
	BaseCommit string `yaml:"base_commit,omitempty" json:"base_commit,omitempty"`
	URL        string `yaml:"url,omitempty" json:"url,omitempty"`
}

type manifest struct {
	Repos []Entry `yaml:"repos"`
}

// Load reads a manifest. The format follows the file extension:
// .yaml/.yml (a list of entries or {repos: [...]}), .jsonl (one entry per
// line) or anything else (one repo id per line, '#' starts a comment).
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var entries []Entry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		entries, err = parseYAML(data)
	case ".jsonl":
		entries, err = parseJSONL(data)
	default:
		entries = parseText(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	for i, e := range entries {
		entries[i].Repo = strings.TrimSpace(e.Repo)
		if entries[i].Repo == "" {
			return nil, fmt.Errorf("manifest %s: entry %d has no repo", path, i)
		}
	}
	return entries, nil
}

func parseYAML(data []byte) ([]Entry, error) {
	var list []Entry
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m.Repos, nil
}

func parseJSONL(data []byte) ([]Entry, error) {
	var out []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}

func parseText(data []byte) []Entry {
	var out []Entry
	for _, line := range strings.Split(string(data), "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, Entry{Repo: line})
	}
	return out
}

// IDs returns the repo ids in manifest order.
func IDs(entries []Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Repo)
	}
	return ids
}

// Pins returns the acquisition hints keyed by repo id.
func Pins(entries []Entry) map[string]workspace.Pin {
	pins := make(map[string]workspace.Pin, len(entries))
	for _, e := range entries {
		if e.BaseCommit == "" && e.URL == "" {
			continue
		}
		pins[e.Repo] = workspace.Pin{URL: e.URL, BaseCommit: e.BaseCommit}
	}
	return pins
}

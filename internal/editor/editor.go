// Package editor implements the file editing tool offered to the agent.
// Every path it touches is confined to one workspace.
package editor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/mattjoyce/codemig/internal/workspace"
)

// Commands understood by Apply.
const (
	CmdView       = "view"
	CmdCreate     = "create"
	CmdStrReplace = "str_replace"
	CmdInsert     = "insert"
)

// maxViewBytes caps file content returned by view.
const maxViewBytes = 200 * 1024

// Request is one editor invocation.
type Request struct {
	Command    string
	Path       string
	FileText   string
	OldStr     string
	NewStr     string
	InsertLine int
	// ViewRange limits view to [start, end] (1-based, inclusive; end -1 means EOF).
	ViewRange []int
}

// Editor edits files inside a single workspace.
type Editor struct {
	ws *workspace.Workspace
}

// New binds an editor to ws.
func New(ws *workspace.Workspace) *Editor {
	return &Editor{ws: ws}
}

// Apply runs req and returns the text shown to the model. Failures are
// returned as errors; callers turn them into tool text.
func (e *Editor) Apply(req Request) (string, error) {
	path, err := e.resolve(req.Path)
	if err != nil {
		return "", err
	}

	switch req.Command {
	case CmdView:
		return e.view(path, req.ViewRange)
	case CmdCreate:
		return e.create(path, req.FileText)
	case CmdStrReplace:
		return e.strReplace(path, req.OldStr, req.NewStr)
	case CmdInsert:
		return e.insert(path, req.InsertLine, req.NewStr)
	case "":
		return "", errors.New("command is required")
	default:
		return "", fmt.Errorf("unknown command %q (expected view, create, str_replace or insert)", req.Command)
	}
}

// resolve maps p to an absolute path inside the workspace. Existing path
// prefixes are symlink-resolved so a link cannot point the editor outside.
func (e *Editor) resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	abs := e.ws.Resolve(p)
	if !e.ws.Contains(abs) {
		return "", fmt.Errorf("path %q is outside the workspace %q", p, e.ws.Root())
	}

	// Walk up to the deepest existing ancestor and resolve symlinks there.
	existing := abs
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	resolved = filepath.Join(append([]string{resolved}, rest...)...)
	if !e.ws.Contains(resolved) {
		return "", fmt.Errorf("path %q resolves outside the workspace %q", p, e.ws.Root())
	}
	return resolved, nil
}

func (e *Editor) rel(path string) string {
	r, err := filepath.Rel(e.ws.Root(), path)
	if err != nil {
		return path
	}
	return r
}

func (e *Editor) view(path string, viewRange []int) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("view %s: %w", e.rel(path), err)
	}
	if info.IsDir() {
		return e.listDir(path)
	}
	if info.Size() > maxViewBytes && len(viewRange) == 0 {
		return "", fmt.Errorf("file %s is %d bytes; pass view_range to read part of it", e.rel(path), info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("view %s: %w", e.rel(path), err)
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	start, end := 1, len(lines)
	if len(viewRange) == 2 {
		start = viewRange[0]
		if viewRange[1] != -1 {
			end = viewRange[1]
		}
		if start < 1 || start > len(lines)+1 || end < start-1 || end > len(lines) {
			return "", fmt.Errorf("invalid view_range %v for %d lines", viewRange, len(lines))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here's the result of running `cat -n` on %s:\n", e.rel(path))
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i, lines[i-1])
	}
	return b.String(), nil
}

func (e *Editor) listDir(dir string) (string, error) {
	var entries []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if d.IsDir() {
			entries = append(entries, rel+"/")
			if depth >= 2 {
				return filepath.SkipDir
			}
			return nil
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("list %s: %w", e.rel(dir), err)
	}
	sort.Strings(entries)

	var b strings.Builder
	fmt.Fprintf(&b, "Files and directories up to 2 levels deep in %s, excluding hidden items:\n", e.rel(dir))
	for _, entry := range entries {
		b.WriteString(entry)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (e *Editor) create(path, text string) (string, error) {
	var before string
	if data, err := os.ReadFile(path); err == nil {
		before = string(data)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("create %s: %w", e.rel(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", e.rel(path), err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("create %s: %w", e.rel(path), err)
	}
	return fmt.Sprintf("File created successfully at: %s\n%s", e.rel(path), LineDiff(before, text)), nil
}

func (e *Editor) strReplace(path, oldStr, newStr string) (string, error) {
	if oldStr == "" {
		return "", errors.New("old_str is required for str_replace")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("str_replace %s: %w", e.rel(path), err)
	}
	before := string(data)

	switch n := strings.Count(before, oldStr); n {
	case 0:
		return "", fmt.Errorf("no replacement was performed, old_str did not appear verbatim in %s", e.rel(path))
	case 1:
	default:
		return "", fmt.Errorf("no replacement was performed, old_str appears %d times in %s; make it unique", n, e.rel(path))
	}

	after := strings.Replace(before, oldStr, newStr, 1)
	if err := writePreservingMode(path, after); err != nil {
		return "", fmt.Errorf("str_replace %s: %w", e.rel(path), err)
	}
	return fmt.Sprintf("The file %s has been edited.\n%s", e.rel(path), LineDiff(before, after)), nil
}

func (e *Editor) insert(path string, line int, text string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", e.rel(path), err)
	}
	before := string(data)

	lines := strings.SplitAfter(before, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if line < 0 || line > len(lines) {
		return "", fmt.Errorf("insert_line %d out of range [0, %d]", line, len(lines))
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if line > 0 && !strings.HasSuffix(lines[line-1], "\n") {
		lines[line-1] += "\n"
	}

	var b strings.Builder
	for _, l := range lines[:line] {
		b.WriteString(l)
	}
	b.WriteString(text)
	for _, l := range lines[line:] {
		b.WriteString(l)
	}
	after := b.String()

	if err := writePreservingMode(path, after); err != nil {
		return "", fmt.Errorf("insert %s: %w", e.rel(path), err)
	}
	return fmt.Sprintf("The file %s has been edited.\n%s", e.rel(path), LineDiff(before, after)), nil
}

func writePreservingMode(path, content string) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, []byte(content), mode)
}

// LineDiff renders a line-oriented diff of before and after: removed lines
// prefixed "-", added lines "+". Unchanged lines are omitted.
func LineDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var out strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		default:
			continue
		}
		for _, l := range strings.SplitAfter(d.Text, "\n") {
			if l == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(strings.TrimSuffix(l, "\n"))
			out.WriteByte('\n')
		}
	}
	return out.String()
}

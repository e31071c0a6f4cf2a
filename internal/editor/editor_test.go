package editor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/codemig/internal/workspace"
)

func newEditor(t *testing.T) (*Editor, string) {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), "a/b", "")
	require.NoError(t, err)
	return New(ws), ws.Root()
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestViewFile(t *testing.T) {
	ed, root := newEditor(t)
	writeFile(t, filepath.Join(root, "pom.xml"), "<project>\n  <java.version>1.8</java.version>\n</project>\n")

	out, err := ed.Apply(Request{Command: CmdView, Path: "pom.xml"})
	require.NoError(t, err)
	assert.Contains(t, out, "     1\t<project>\n")
	assert.Contains(t, out, "     2\t  <java.version>1.8</java.version>\n")
	assert.Contains(t, out, "     3\t</project>\n")

	out, err = ed.Apply(Request{Command: CmdView, Path: "pom.xml", ViewRange: []int{2, 2}})
	require.NoError(t, err)
	assert.NotContains(t, out, "<project>")
	assert.Contains(t, out, "     2\t")

	_, err = ed.Apply(Request{Command: CmdView, Path: "pom.xml", ViewRange: []int{2, 9}})
	assert.Error(t, err)
}

func TestViewDirectory(t *testing.T) {
	ed, root := newEditor(t)
	writeFile(t, filepath.Join(root, "src", "main", "java", "App.java"), "class App {}")
	writeFile(t, filepath.Join(root, "pom.xml"), "")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "")

	out, err := ed.Apply(Request{Command: CmdView, Path: "."})
	require.NoError(t, err)
	assert.Contains(t, out, "pom.xml\n")
	assert.Contains(t, out, "src/\n")
	assert.Contains(t, out, "src/main/\n")
	assert.NotContains(t, out, "java/")
	assert.NotContains(t, out, ".git")
}

func TestCreate(t *testing.T) {
	ed, root := newEditor(t)

	out, err := ed.Apply(Request{Command: CmdCreate, Path: "src/New.java", FileText: "class New {}\n"})
	require.NoError(t, err)
	assert.Contains(t, out, "File created successfully at: src/New.java")
	assert.Contains(t, out, "+class New {}")
	assert.Equal(t, "class New {}\n", readFile(t, filepath.Join(root, "src", "New.java")))
}

func TestStrReplace(t *testing.T) {
	ed, root := newEditor(t)
	path := filepath.Join(root, "pom.xml")
	writeFile(t, path, "<source>1.8</source>\n<target>1.8</target>\n")

	_, err := ed.Apply(Request{Command: CmdStrReplace, Path: "pom.xml", OldStr: "1.8", NewStr: "17"})
	assert.ErrorContains(t, err, "appears 2 times")

	_, err = ed.Apply(Request{Command: CmdStrReplace, Path: "pom.xml", OldStr: "11", NewStr: "17"})
	assert.ErrorContains(t, err, "did not appear verbatim")

	out, err := ed.Apply(Request{Command: CmdStrReplace, Path: path, OldStr: "<source>1.8", NewStr: "<source>17"})
	require.NoError(t, err)
	assert.Contains(t, out, "-<source>1.8</source>")
	assert.Contains(t, out, "+<source>17</source>")
	assert.NotContains(t, out, "target")
	assert.Equal(t, "<source>17</source>\n<target>1.8</target>\n", readFile(t, path))
}

func TestInsert(t *testing.T) {
	ed, root := newEditor(t)
	path := filepath.Join(root, "A.java")
	writeFile(t, path, "line1\nline2")

	_, err := ed.Apply(Request{Command: CmdInsert, Path: "A.java", InsertLine: 1, NewStr: "inserted"})
	require.NoError(t, err)
	assert.Equal(t, "line1\ninserted\nline2", readFile(t, path))

	_, err = ed.Apply(Request{Command: CmdInsert, Path: "A.java", InsertLine: 0, NewStr: "top"})
	require.NoError(t, err)
	assert.Equal(t, "top\nline1\ninserted\nline2", readFile(t, path))

	_, err = ed.Apply(Request{Command: CmdInsert, Path: "A.java", InsertLine: 4, NewStr: "end"})
	require.NoError(t, err)
	assert.Equal(t, "top\nline1\ninserted\nline2\nend\n", readFile(t, path))

	_, err = ed.Apply(Request{Command: CmdInsert, Path: "A.java", InsertLine: 42, NewStr: "x"})
	assert.Error(t, err)
}

func TestPathConfinement(t *testing.T) {
	ed, root := newEditor(t)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret"), "s3cret")
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	cases := []Request{
		{Command: CmdView, Path: "../"},
		{Command: CmdView, Path: "/etc/passwd"},
		{Command: CmdView, Path: "escape/secret"},
		{Command: CmdCreate, Path: "escape/new.txt", FileText: "x"},
		{Command: CmdCreate, Path: "src/../../x", FileText: "x"},
	}
	for _, req := range cases {
		_, err := ed.Apply(req)
		assert.Error(t, err, "path %q must be rejected", req.Path)
	}
	_, err := os.Stat(filepath.Join(outside, "new.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestAbsolutePathInsideAllowed(t *testing.T) {
	ed, root := newEditor(t)
	writeFile(t, filepath.Join(root, "x.txt"), "hello\n")
	out, err := ed.Apply(Request{Command: CmdView, Path: filepath.Join(root, "x.txt")})
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
}

func TestUnknownCommand(t *testing.T) {
	ed, _ := newEditor(t)
	_, err := ed.Apply(Request{Command: "undo_edit", Path: "x"})
	assert.ErrorContains(t, err, "unknown command")
	_, err = ed.Apply(Request{Path: "x"})
	assert.Error(t, err)
	_, err = ed.Apply(Request{Command: CmdView})
	assert.Error(t, err)
}

func TestLineDiff(t *testing.T) {
	d := LineDiff("a\nb\nc\n", "a\nB\nc\n")
	assert.Equal(t, "-b\n+B\n", d)
	assert.Equal(t, "", LineDiff("same\n", "same\n"))
}

package workspace

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-C", dir, "-c", "user.email=test@example.com", "-c", "user.name=test", "-c", "commit.gpgsign=false"}, args...)
	out, err := exec.Command("git", full...).CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// makeRemote creates <base>/<repoID>.git with two commits and returns the
// first commit's hash.
func makeRemote(t *testing.T, base, repoID string) string {
	t.Helper()
	dir := filepath.Join(base, repoID+".git")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	git(t, dir, "init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pom.xml"), []byte("<project>8</project>\n"), 0o644))
	git(t, dir, "add", ".")
	git(t, dir, "commit", "-q", "-m", "first")
	first := git(t, dir, "rev-parse", "HEAD")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("second\n"), 0o644))
	git(t, dir, "add", ".")
	git(t, dir, "commit", "-q", "-m", "second")
	return first
}

func TestNewResolvesRootOnce(t *testing.T) {
	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(real, link))

	ws, err := New(link, "a/b", "")
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(real)
	require.NoError(t, err)
	assert.Equal(t, want, ws.Root())

	// Retargeting the link later does not move the workspace.
	require.NoError(t, os.Remove(link))
	require.NoError(t, os.Symlink(t.TempDir(), link))
	assert.Equal(t, want, ws.Root())
}

func TestNewRejectsFilesAndMissing(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := New(file, "x", "")
	assert.Error(t, err)
	_, err = New(filepath.Join(t.TempDir(), "missing"), "x", "")
	assert.Error(t, err)
	_, err = New("", "x", "")
	assert.Error(t, err)
}

func TestResolveAndContains(t *testing.T) {
	ws := &Workspace{root: "/work/r1"}

	assert.Equal(t, "/work/r1/src", ws.Resolve("src"))
	assert.Equal(t, "/work", ws.Resolve(".."))
	assert.Equal(t, "/etc", ws.Resolve("/etc"))

	assert.True(t, ws.Contains("/work/r1"))
	assert.True(t, ws.Contains("/work/r1/src/main"))
	assert.True(t, ws.Contains("/work/r1/a/../b"))
	assert.False(t, ws.Contains("/work/r10"))
	assert.False(t, ws.Contains("/work"))
	assert.False(t, ws.Contains("/work/r1/../r2"))
}

func TestSanitizeRepoID(t *testing.T) {
	got, err := SanitizeRepoID("owner/repo")
	require.NoError(t, err)
	assert.Equal(t, "owner__repo", got)

	got, err = SanitizeRepoID("single")
	require.NoError(t, err)
	assert.Equal(t, "single", got)
}

func TestGitSourceAcquire(t *testing.T) {
	requireGit(t)
	remotes := t.TempDir()
	first := makeRemote(t, remotes, "acme/app")

	mgr, err := NewManager(filepath.Join(t.TempDir(), "exp"))
	require.NoError(t, err)

	src := &GitSource{
		Manager:      mgr,
		BaseURL:      remotes,
		CloneTimeout: time.Minute,
		Attempts:     1,
		Pins:         map[string]Pin{"acme/app": {BaseCommit: first}},
	}

	ws, err := src.Acquire(context.Background(), "acme/app")
	require.NoError(t, err)

	assert.Equal(t, "acme/app", ws.RepoID)
	assert.Equal(t, first, ws.BaseRevision)
	assert.Equal(t, "acme__app", filepath.Base(ws.Root()))
	_, err = os.Stat(filepath.Join(ws.Root(), "README"))
	assert.True(t, os.IsNotExist(err), "README belongs to the second commit")

	// Diff reflects edits relative to the base revision.
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "pom.xml"), []byte("<project>17</project>\n"), 0o644))
	diff, err := Diff(context.Background(), ws)
	require.NoError(t, err)
	assert.Contains(t, diff, "+<project>17</project>")
	assert.Contains(t, diff, "-<project>8</project>")
}

func TestGitSourceAcquireWithoutPinUsesHead(t *testing.T) {
	requireGit(t)
	remotes := t.TempDir()
	makeRemote(t, remotes, "acme/app")

	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	src := &GitSource{Manager: mgr, BaseURL: remotes, CloneTimeout: time.Minute}

	ws, err := src.Acquire(context.Background(), "acme/app")
	require.NoError(t, err)
	head, err := HeadRevision(context.Background(), ws.Root())
	require.NoError(t, err)
	assert.Equal(t, head, ws.BaseRevision)
}

func TestGitSourceCloneFailure(t *testing.T) {
	requireGit(t)
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	src := &GitSource{
		Manager:      mgr,
		BaseURL:      t.TempDir(),
		CloneTimeout: time.Minute,
		Attempts:     2,
		RetryBackoff: time.Millisecond,
	}

	_, err = src.Acquire(context.Background(), "missing/repo")
	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr), "got %v", err)
	assert.Equal(t, StageClone, acqErr.Stage)
	assert.Equal(t, "missing/repo", acqErr.RepoID)
}

func TestGitSourceCheckoutFailure(t *testing.T) {
	requireGit(t)
	remotes := t.TempDir()
	makeRemote(t, remotes, "acme/app")

	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	src := &GitSource{
		Manager:      mgr,
		BaseURL:      remotes,
		CloneTimeout: time.Minute,
		Pins:         map[string]Pin{"acme/app": {BaseCommit: "deadbeefdeadbeef"}},
	}

	_, err = src.Acquire(context.Background(), "acme/app")
	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr), "got %v", err)
	assert.Equal(t, StageCheckout, acqErr.Stage)
}

func TestGitSourceTimeoutCoversCheckout(t *testing.T) {
	requireGit(t)
	realGit, err := exec.LookPath("git")
	require.NoError(t, err)

	remotes := t.TempDir()
	first := makeRemote(t, remotes, "acme/app")

	// A git on PATH that hangs on checkout and defers to the real one otherwise.
	shimDir := t.TempDir()
	shim := "#!/bin/sh\nif [ \"$3\" = checkout ]; then exec sleep 30; fi\nexec " + realGit + " \"$@\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(shimDir, "git"), []byte(shim), 0o755))
	t.Setenv("PATH", shimDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	src := &GitSource{
		Manager:      mgr,
		BaseURL:      remotes,
		CloneTimeout: 3 * time.Second,
		Pins:         map[string]Pin{"acme/app": {BaseCommit: first}},
	}

	started := time.Now()
	_, err = src.Acquire(context.Background(), "acme/app")
	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr), "got %v", err)
	assert.Equal(t, StageTimeout, acqErr.Stage)
	assert.Contains(t, acqErr.Error(), "during checkout")
	assert.Less(t, time.Since(started), 20*time.Second)
}

func TestCloneURL(t *testing.T) {
	src := &GitSource{
		BaseURL: "https://github.com/",
		Pins:    map[string]Pin{"x/y": {URL: "https://mirror/x/y.git"}},
	}
	assert.Equal(t, "https://github.com/a/b.git", src.CloneURL("a/b"))
	assert.Equal(t, "https://mirror/x/y.git", src.CloneURL("x/y"))
}

func TestLocalSource(t *testing.T) {
	dir := t.TempDir()
	ws, err := OpenLocal(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(ws.Root()), ws.RepoID)
	assert.Empty(t, ws.BaseRevision)

	_, err = Diff(context.Background(), ws)
	assert.ErrorIs(t, err, ErrNoBaseRevision)

	_, err = (&LocalSource{}).Acquire(context.Background(), filepath.Join(dir, "missing"))
	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.Equal(t, StageResolve, acqErr.Stage)
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "target"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("target/\n*.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "A.java"), []byte("class A {}"), 0o644))

	ws, err := New(dir, "a/b", "")
	require.NoError(t, err)

	before, err := Fingerprint(ws)
	require.NoError(t, err)

	// Ignored and .git changes do not alter the fingerprint.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "target", "A.class"), []byte{1, 2}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build.log"), []byte("ok"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "index"), []byte("x"), 0o644))
	same, err := Fingerprint(ws)
	require.NoError(t, err)
	assert.Equal(t, before, same)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "A.java"), []byte("class A { }"), 0o644))
	changed, err := Fingerprint(ws)
	require.NoError(t, err)
	assert.NotEqual(t, before, changed)
}

func TestHashText(t *testing.T) {
	assert.Equal(t, HashText("abc"), HashText("abc"))
	assert.NotEqual(t, HashText("abc"), HashText("abd"))
	assert.Len(t, HashText(""), 64)
}

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/codemig/internal/log"
	"github.com/mattjoyce/codemig/internal/workspace"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func newSandbox(t *testing.T, opts Options) (*Sandbox, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	ws, err := workspace.New(dir, "a/b", "")
	require.NoError(t, err)
	return New(ws, opts), ws.Root()
}

func TestRunDeniedCommandNeverExecutes(t *testing.T) {
	sb, root := newSandbox(t, Options{})
	marker := filepath.Join(root, "ran")

	out := sb.Run(context.Background(), "cd /etc && touch "+marker)

	assert.Contains(t, out, "would escape the allowed path")
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "denied command must not run")
}

func TestRunRelativeCdResolvesAgainstRoot(t *testing.T) {
	sb, root := newSandbox(t, Options{})

	// The test process cwd is deliberately different from the root.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NotEqual(t, root, wd)

	out := sb.Run(context.Background(), "cd src && pwd")
	assert.Equal(t, filepath.Join(root, "src"), strings.TrimSpace(out))
}

func TestRunCdWithOptionStaysInRoot(t *testing.T) {
	sb, root := newSandbox(t, Options{})

	out := sb.Run(context.Background(), "cd -P .. && pwd")
	assert.Contains(t, out, "would escape the allowed path")

	out = sb.Run(context.Background(), "cd -P src && pwd")
	assert.Equal(t, filepath.Join(root, "src"), strings.TrimSpace(out))
}

func TestExecuteRunsInRoot(t *testing.T) {
	sb, root := newSandbox(t, Options{})
	out := sb.Execute(context.Background(), "pwd")
	assert.Equal(t, root, strings.TrimSpace(out))
}

func TestExecuteMergesStreams(t *testing.T) {
	sb, _ := newSandbox(t, Options{})
	out := sb.Execute(context.Background(), "echo out; echo err 1>&2")
	assert.Contains(t, out, "out")
	assert.Contains(t, out, "err")
}

func TestExecuteNonZeroExitIsFeedback(t *testing.T) {
	sb, _ := newSandbox(t, Options{})
	out := sb.Execute(context.Background(), "echo BUILD FAILURE; exit 3")
	assert.Equal(t, "BUILD FAILURE\n", out)
}

func TestExecuteNoOutput(t *testing.T) {
	sb, _ := newSandbox(t, Options{})
	assert.Equal(t, "(no output)", sb.Execute(context.Background(), "true"))
}

func TestExecuteTimeout(t *testing.T) {
	sb, _ := newSandbox(t, Options{Timeout: 200 * time.Millisecond, GracePeriod: 100 * time.Millisecond})

	start := time.Now()
	out := sb.Execute(context.Background(), "sleep 30")

	assert.Equal(t, "Error: Command timed out after 200ms", out)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecuteTimeoutKillsBackgroundChildren(t *testing.T) {
	sb, _ := newSandbox(t, Options{Timeout: 200 * time.Millisecond, GracePeriod: 100 * time.Millisecond})

	start := time.Now()
	out := sb.Execute(context.Background(), "sleep 30 & sleep 30")

	assert.Contains(t, out, "timed out")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecuteIgnoringSIGTERMGetsKilled(t *testing.T) {
	sb, _ := newSandbox(t, Options{Timeout: 200 * time.Millisecond, GracePeriod: 200 * time.Millisecond})

	start := time.Now()
	out := sb.Execute(context.Background(), "trap '' TERM; sleep 30")

	assert.Contains(t, out, "timed out")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecuteContextCanceled(t *testing.T) {
	sb, _ := newSandbox(t, Options{GracePeriod: 100 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	out := sb.Execute(ctx, "sleep 30")
	assert.Equal(t, "Error executing command: context canceled", out)
}

func TestExecuteTruncatesOutput(t *testing.T) {
	sb, _ := newSandbox(t, Options{MaxOutputBytes: 10})
	out := sb.Execute(context.Background(), "printf 'abcdefghijklmnopqrstuvwxyz'")
	assert.Equal(t, "abcdefghij"+truncatedMarker, out)
}

func TestFormatTimeout(t *testing.T) {
	assert.Equal(t, "300 seconds", formatTimeout(300*time.Second))
	assert.Equal(t, "1.5s", formatTimeout(1500*time.Millisecond))
}

func TestDefaultsApplied(t *testing.T) {
	sb, _ := newSandbox(t, Options{})
	assert.Equal(t, DefaultTimeout, sb.timeout)
	assert.Equal(t, DefaultMaxOutputBytes, sb.maxOut)
	assert.Equal(t, DefaultAllowedPrefixes, sb.allowed)
}

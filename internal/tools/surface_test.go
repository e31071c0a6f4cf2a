package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/codemig/internal/config"
	"github.com/mattjoyce/codemig/internal/depversion"
	"github.com/mattjoyce/codemig/internal/editor"
	"github.com/mattjoyce/codemig/internal/log"
	"github.com/mattjoyce/codemig/internal/sandbox"
	"github.com/mattjoyce/codemig/internal/workspace"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func newDeps(t *testing.T) (Deps, string) {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), "a/b", "")
	require.NoError(t, err)
	return Deps{
		Sandbox:  sandbox.New(ws, sandbox.Options{}),
		Editor:   editor.New(ws),
		Versions: depversion.NewTable(map[string]string{"junit:junit": "4.13.2"}),
		RepoID:   "a/b",
	}, ws.Root()
}

func TestParseCapabilities(t *testing.T) {
	caps, err := ParseCapabilities([]string{"shell", "editor", "shell"})
	require.NoError(t, err)
	assert.Equal(t, []Capability{Shell, Editor}, caps)

	_, err = ParseCapabilities([]string{"browser"})
	assert.Error(t, err)
}

func TestVariantSurfaces(t *testing.T) {
	deps, _ := newDeps(t)
	for name, v := range config.DefaultVariants() {
		caps, err := ParseCapabilities(v.Capabilities)
		require.NoError(t, err, name)
		s, err := NewSurface(caps, deps)
		require.NoError(t, err, name)

		if name == "rag" {
			assert.Equal(t, []string{ToolEditFile, ToolExecuteCommand, ToolLookupVersion}, s.Names(), name)
		} else {
			assert.Equal(t, []string{ToolEditFile, ToolExecuteCommand}, s.Names(), name)
		}
	}
}

func TestNewSurfaceRequiresBackends(t *testing.T) {
	_, err := NewSurface([]Capability{Shell}, Deps{})
	assert.Error(t, err)
	_, err = NewSurface([]Capability{DependencyLookup}, Deps{})
	assert.Error(t, err)
	_, err = NewSurface(nil, Deps{})
	assert.Error(t, err)
}

func TestDefsCarrySchemas(t *testing.T) {
	deps, _ := newDeps(t)
	s, err := NewSurface([]Capability{Shell, Editor, DependencyLookup}, deps)
	require.NoError(t, err)

	defs := s.Defs()
	require.Len(t, defs, 3)
	assert.Equal(t, ToolExecuteCommand, defs[0].Name)

	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	require.NoError(t, json.Unmarshal(defs[0].Parameters, &schema))
	assert.Equal(t, "object", schema.Type)
	assert.Contains(t, schema.Properties, "command")
	assert.Equal(t, []string{"command"}, schema.Required)

	require.NoError(t, json.Unmarshal(defs[1].Parameters, &schema))
	assert.Contains(t, schema.Properties, "insert_line")
	assert.ElementsMatch(t, []string{"command", "path"}, schema.Required)
}

func TestDispatchExecuteCommand(t *testing.T) {
	deps, root := newDeps(t)
	s, err := NewSurface([]Capability{Shell}, deps)
	require.NoError(t, err)

	out := s.Dispatch(context.Background(), Call{Name: ToolExecuteCommand, Arguments: map[string]any{"command": "pwd"}})
	assert.Equal(t, root, strings.TrimSpace(out))

	out = s.Dispatch(context.Background(), Call{Name: ToolExecuteCommand, Arguments: map[string]any{"command": "cd /etc"}})
	assert.Contains(t, out, "would escape the allowed path")

	out = s.Dispatch(context.Background(), Call{Name: ToolExecuteCommand})
	assert.Equal(t, "Error: command is required", out)
}

func TestDispatchEditFile(t *testing.T) {
	deps, root := newDeps(t)
	s, err := NewSurface([]Capability{Editor}, deps)
	require.NoError(t, err)

	out := s.Dispatch(context.Background(), Call{Name: ToolEditFile, Arguments: map[string]any{
		"command":   "create",
		"path":      "pom.xml",
		"file_text": "a\nb\nc\n",
	}})
	assert.Contains(t, out, "File created successfully")

	out = s.Dispatch(context.Background(), Call{Name: ToolEditFile, Arguments: map[string]any{
		"command":     "insert",
		"path":        "pom.xml",
		"insert_line": float64(1),
		"new_str":     "x",
	}})
	assert.Contains(t, out, "+x")

	out = s.Dispatch(context.Background(), Call{Name: ToolEditFile, Arguments: map[string]any{
		"command":    "view",
		"path":       "pom.xml",
		"view_range": []any{float64(2), float64(2)},
	}})
	assert.Contains(t, out, "     2\tx")
	assert.NotContains(t, out, "     1\t")

	data, err := os.ReadFile(filepath.Join(root, "pom.xml"))
	require.NoError(t, err)
	assert.Equal(t, "a\nx\nb\nc\n", string(data))

	out = s.Dispatch(context.Background(), Call{Name: ToolEditFile, Arguments: map[string]any{
		"command": "view",
		"path":    "/etc/passwd",
	}})
	assert.True(t, strings.HasPrefix(out, "Error: "), out)
}

func TestDispatchLookupVersion(t *testing.T) {
	deps, _ := newDeps(t)
	s, err := NewSurface([]Capability{DependencyLookup}, deps)
	require.NoError(t, err)

	out := s.Dispatch(context.Background(), Call{Name: ToolLookupVersion, Arguments: map[string]any{"coordinate": "junit:junit"}})
	assert.Equal(t, "Recommended version for 'junit:junit': 4.13.2", out)

	out = s.Dispatch(context.Background(), Call{Name: ToolLookupVersion, Arguments: map[string]any{"dependency_coordinate": "x:y"}})
	assert.Contains(t, out, "No version information found for 'x:y'")
}

func TestDispatchUnknownTool(t *testing.T) {
	deps, _ := newDeps(t)
	s, err := NewSurface([]Capability{Shell}, deps)
	require.NoError(t, err)

	out := s.Dispatch(context.Background(), Call{Name: ToolLookupVersion})
	assert.Equal(t, `Error: unknown tool "lookup_dependency_version" (available: execute_command)`, out)
}

func TestDispatchWritesToolLog(t *testing.T) {
	deps, _ := newDeps(t)
	var buf bytes.Buffer
	deps.ToolLog = log.NewToolLoggerTo(&buf)
	s, err := NewSurface([]Capability{DependencyLookup}, deps)
	require.NoError(t, err)

	s.Dispatch(context.Background(), Call{Turn: 4, Name: ToolLookupVersion, Arguments: map[string]any{"coordinate": "junit:junit"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event":"BEFORE"`)
	assert.Contains(t, lines[1], `"turn":4`)
	assert.Contains(t, lines[1], "4.13.2")
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newDeps(t)
	s, err := NewSurface([]Capability{Shell, DependencyLookup}, deps)
	require.NoError(t, err)

	srv := NewMCPServer(s, "codemig", "test")
	require.NotNil(t, srv)
	assert.Len(t, s.ServerTools(), 2)
}

func TestIntSlice(t *testing.T) {
	assert.Equal(t, []int{1, -1}, intSlice([]any{float64(1), float64(-1)}))
	assert.Nil(t, intSlice("1,2"))
	assert.Nil(t, intSlice([]any{"x"}))
}

// Package tools assembles the static, per-variant tool surface offered to
// the model and dispatches the model's tool calls to it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mattjoyce/codemig/internal/config"
	"github.com/mattjoyce/codemig/internal/depversion"
	"github.com/mattjoyce/codemig/internal/editor"
	"github.com/mattjoyce/codemig/internal/log"
	"github.com/mattjoyce/codemig/internal/model"
	"github.com/mattjoyce/codemig/internal/sandbox"
)

// Tool names exposed to the model.
const (
	ToolExecuteCommand = "execute_command"
	ToolEditFile       = "edit_file"
	ToolLookupVersion  = "lookup_dependency_version"
)

// Capability is one tool family a variant may grant.
type Capability string

const (
	Shell            Capability = config.CapShell
	Editor           Capability = config.CapEditor
	DependencyLookup Capability = config.CapDependencyLookup
)

// ParseCapabilities validates capability names.
func ParseCapabilities(names []string) ([]Capability, error) {
	out := make([]Capability, 0, len(names))
	seen := make(map[Capability]bool, len(names))
	for _, n := range names {
		if !config.KnownCapabilities[n] {
			return nil, fmt.Errorf("unknown capability %q", n)
		}
		c := Capability(n)
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

// Deps are the backends the tools call into. Only those required by the
// requested capabilities must be set.
type Deps struct {
	Sandbox  *sandbox.Sandbox
	Editor   *editor.Editor
	Versions *depversion.Table
	ToolLog  *log.ToolLogger
	RepoID   string
	Logger   *slog.Logger
}

// Call is one tool invocation inside a numbered round.
type Call struct {
	Turn      int
	ID        string
	Name      string
	Arguments map[string]any
}

// Surface is the fixed set of tools for one run. It is built once and never
// changes afterwards.
type Surface struct {
	tools    []server.ServerTool
	handlers map[string]server.ToolHandlerFunc
	defs     []model.ToolDef
	deps     Deps
	logger   *slog.Logger
}

// NewSurface resolves caps into a concrete tool list.
func NewSurface(caps []Capability, deps Deps) (*Surface, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Surface{
		handlers: make(map[string]server.ToolHandlerFunc),
		deps:     deps,
		logger:   logger.With(slog.String("component", "tools")),
	}

	has := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		has[c] = true
	}

	if has[Shell] {
		if deps.Sandbox == nil {
			return nil, fmt.Errorf("capability %s requires a sandbox", Shell)
		}
		s.add(executeCommandTool(), s.handleExecuteCommand)
	}
	if has[Editor] {
		if deps.Editor == nil {
			return nil, fmt.Errorf("capability %s requires an editor", Editor)
		}
		s.add(editFileTool(), s.handleEditFile)
	}
	if has[DependencyLookup] {
		if deps.Versions == nil {
			return nil, fmt.Errorf("capability %s requires a dependency version table", DependencyLookup)
		}
		s.add(lookupVersionTool(), s.handleLookupVersion)
	}
	if len(s.tools) == 0 {
		return nil, fmt.Errorf("no tools granted")
	}
	return s, nil
}

func (s *Surface) add(tool mcp.Tool, handler server.ToolHandlerFunc) {
	schema, err := json.Marshal(tool.InputSchema)
	if err != nil {
		// Schemas are built from literals above; this cannot fail.
		panic(fmt.Sprintf("marshal schema for %s: %v", tool.Name, err))
	}
	s.tools = append(s.tools, server.ServerTool{Tool: tool, Handler: handler})
	s.handlers[tool.Name] = handler
	s.defs = append(s.defs, model.ToolDef{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  schema,
	})
}

// Defs returns the tool declarations sent to the model.
func (s *Surface) Defs() []model.ToolDef {
	out := make([]model.ToolDef, len(s.defs))
	copy(out, s.defs)
	return out
}

// Names returns the tool names, sorted.
func (s *Surface) Names() []string {
	names := make([]string, 0, len(s.handlers))
	for n := range s.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ServerTools returns the tools in the form an MCP server registers.
func (s *Surface) ServerTools() []server.ServerTool {
	out := make([]server.ServerTool, len(s.tools))
	copy(out, s.tools)
	return out
}

// Dispatch runs call and returns its textual result. It never fails: unknown
// tools, bad arguments and tool errors all come back as text.
func (s *Surface) Dispatch(ctx context.Context, call Call) string {
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	s.deps.ToolLog.Before(ctx, s.deps.RepoID, call.Turn, call.Name, args)

	out := s.dispatch(ctx, call.Name, args)

	s.deps.ToolLog.After(ctx, s.deps.RepoID, call.Turn, call.Name, args, out)
	return out
}

func (s *Surface) dispatch(ctx context.Context, name string, args map[string]any) (out string) {
	handler, ok := s.handlers[name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q (available: %s)", name, strings.Join(s.Names(), ", "))
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked", "tool", name, "panic", r)
			out = fmt.Sprintf("Error: tool %s failed: %v", name, r)
		}
	}()

	res, err := handler(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return resultText(res)
}

func resultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mattjoyce/codemig/internal/editor"
)

func executeCommandTool() mcp.Tool {
	return mcp.NewTool(ToolExecuteCommand,
		mcp.WithDescription("Execute a shell command in the repository. The working directory is the "+
			"repository root; commands that leave it are refused. Standard output and standard error "+
			"are returned together."),
		mcp.WithString("command",
			mcp.Description("The shell command to run, e.g. `mvn clean verify`."),
			mcp.Required(),
		),
	)
}

func editFileTool() mcp.Tool {
	return mcp.NewTool(ToolEditFile,
		mcp.WithDescription("View, create and edit files in the repository. "+
			"`view` shows a file with line numbers or lists a directory; `create` writes a file; "+
			"`str_replace` replaces exactly one occurrence of old_str with new_str; "+
			"`insert` adds new_str after line insert_line (0 inserts at the top)."),
		mcp.WithString("command",
			mcp.Description("One of view, create, str_replace, insert."),
			mcp.Enum(editor.CmdView, editor.CmdCreate, editor.CmdStrReplace, editor.CmdInsert),
			mcp.Required(),
		),
		mcp.WithString("path",
			mcp.Description("File or directory path, relative to the repository root or absolute inside it."),
			mcp.Required(),
		),
		mcp.WithString("file_text", mcp.Description("Content for create.")),
		mcp.WithString("old_str", mcp.Description("Exact text to replace for str_replace.")),
		mcp.WithString("new_str", mcp.Description("Replacement text for str_replace, or text to add for insert.")),
		mcp.WithNumber("insert_line", mcp.Description("Line after which insert adds new_str.")),
		mcp.WithArray("view_range",
			mcp.Description("Optional [start, end] line range for view; end -1 reads to the end."),
			mcp.Items(map[string]any{"type": "integer"}),
		),
	)
}

func lookupVersionTool() mcp.Tool {
	return mcp.NewTool(ToolLookupVersion,
		mcp.WithDescription("Look up the recommended Java 17 compatible version of a Maven dependency."),
		mcp.WithString("coordinate",
			mcp.Description("Maven coordinate in the form groupId:artifactId, e.g. org.springframework.boot:spring-boot-starter-parent."),
			mcp.Required(),
		),
	)
}

func (s *Surface) handleExecuteCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := request.GetString("command", "")
	if command == "" {
		return mcp.NewToolResultError("Error: command is required"), nil
	}
	return mcp.NewToolResultText(s.deps.Sandbox.Run(ctx, command)), nil
}

func (s *Surface) handleEditFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := editor.Request{
		Command:    request.GetString("command", ""),
		Path:       request.GetString("path", ""),
		FileText:   request.GetString("file_text", ""),
		OldStr:     request.GetString("old_str", ""),
		NewStr:     request.GetString("new_str", ""),
		InsertLine: request.GetInt("insert_line", 0),
		ViewRange:  intSlice(request.GetArguments()["view_range"]),
	}
	out, err := s.deps.Editor.Apply(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err)), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Surface) handleLookupVersion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	coordinate := request.GetString("coordinate", "")
	if coordinate == "" {
		coordinate = request.GetString("dependency_coordinate", "")
	}
	if coordinate == "" {
		return mcp.NewToolResultError("Error: coordinate is required"), nil
	}
	return mcp.NewToolResultText(s.deps.Versions.Describe(coordinate)), nil
}

func intSlice(v any) []int {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, x := range raw {
		switch n := x.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		default:
			return nil
		}
	}
	return out
}

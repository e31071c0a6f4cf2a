package tools

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer exposes the surface as an MCP tool server.
func NewMCPServer(s *Surface, name, version string) *server.MCPServer {
	srv := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
	)
	srv.AddTools(s.ServerTools()...)
	return srv
}

// ServeMCP serves the surface over MCP's stdio transport until ctx ends or
// in is closed.
func ServeMCP(ctx context.Context, s *Surface, name, version string, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(NewMCPServer(s, name, version)).Listen(ctx, in, out)
}

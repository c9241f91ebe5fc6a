// Package democompute is the example Compute effect backend SPEC_FULL.md
// describes: a small set of named operations registered as
// mark3labs/mcp-go tools, dispatched in-process rather than over the
// stdio JSON-RPC transport the teacher's internal/mcpserver uses —
// grounded on that package's server.go/tools.go wiring idiom
// (server.NewMCPServer, server.ServerTool, mcp.NewToolWithRawSchema),
// adapted because a Compute effect is resolved synchronously inside one
// process rather than over a subprocess boundary.
package democompute

import (
	"github.com/mark3labs/mcp-go/server"
)

// Name and Version identify this compute backend to the MCP server the
// way claude-ops's "claudeops" name and build version do.
const (
	Name    = "zerver-democompute"
	Version = "0.1.0"
)

// Server owns the registered tool set. It is never driven over stdio;
// NewServer wires the same mcp.Tool/server.ServerTool registration the
// teacher's Run() does so the library's schema/registration machinery
// is genuinely exercised, and Lookup exposes the handler table a
// Compute effect dispatches through directly.
type Server struct {
	mcp     *server.MCPServer
	handler map[string]toolHandlerFunc
}

// NewServer builds the tool registry used by the demo's Compute effect
// backend.
func NewServer() *Server {
	mcpServer := server.NewMCPServer(Name, Version, server.WithToolCapabilities(true))

	tools := []server.ServerTool{
		{Tool: uppercaseTool(), Handler: handleUppercase},
		{Tool: wordCountTool(), Handler: handleWordCount},
	}
	mcpServer.AddTools(tools...)

	handlers := map[string]toolHandlerFunc{
		"uppercase":  handleUppercase,
		"word_count": handleWordCount,
	}

	return &Server{mcp: mcpServer, handler: handlers}
}

// Lookup returns the registered handler for operation, if any.
func (s *Server) Lookup(operation string) (toolHandlerFunc, bool) {
	h, ok := s.handler[operation]
	return h, ok
}

// MCP exposes the underlying mcp-go server, e.g. for a binary that also
// wants to serve these tools over stdio to an external MCP client.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ABOUTME: Builds mcp-go servers that expose the catalogue over JSON-RPC.
// ABOUTME: One server per connection so each connection's ClientSlot stays private.

package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer returns an MCP server whose tool calls run against slot.
func (d *Dispatcher) MCPServer(slot *ClientSlot, name, version string) *server.MCPServer {
	srv := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, desc := range catalogue {
		srv.AddTool(desc.MCPTool(), d.mcpHandler(slot, desc.Name))
	}
	return srv
}

func (d *Dispatcher) mcpHandler(slot *ClientSlot, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return ToMCPResult(d.Execute(ctx, slot, name, req.GetArguments())), nil
	}
}

// ToMCPResult converts a Result to its MCP wire form.
func ToMCPResult(res Result) *mcp.CallToolResult {
	content := make([]mcp.Content, 0, len(res.Content))
	for _, c := range res.Content {
		content = append(content, mcp.NewTextContent(c.Text))
	}
	return &mcp.CallToolResult{Content: content, IsError: res.IsError}
}

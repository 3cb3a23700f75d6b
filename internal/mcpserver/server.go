package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

const (
	serverName    = "botpanel-tools"
	serverVersion = "v1.0.0"
)

// ToolServer exposes the tool registry over MCP so external agents can use
// the same tools the chat models do. Calls are attributed to one tenant and
// share its rate limit.
type ToolServer struct {
	server   *mcp.Server
	registry repo.ToolRegistry
	caller   repo.ToolCallContext
	log      logrus.FieldLogger
}

// NewToolServer registers every tool of the registry on a new MCP server
func NewToolServer(registry repo.ToolRegistry, tenantID string, log logrus.FieldLogger) *ToolServer {
	s := &ToolServer{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
		registry: registry,
		caller:   repo.ToolCallContext{TenantID: tenantID, UserID: "mcp"},
		log:      log,
	}
	for _, spec := range registry.Definitions() {
		s.server.AddTool(&mcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: inputSchema(spec.Parameters),
		}, s.handler(spec.Name))
	}
	return s
}

// Server returns the underlying MCP server
func (s *ToolServer) Server() *mcp.Server {
	return s.server
}

// RunStdio serves on stdin/stdout until the client disconnects or ctx ends
func (s *ToolServer) RunStdio(ctx context.Context) error {
	s.log.WithField("tenant_id", s.caller.TenantID).Info("mcp tool server running on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *ToolServer) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := "{}"
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			args = string(req.Params.Arguments)
		}
		out := s.registry.Invoke(ctx, s.caller, name, args)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out}},
			IsError: isToolError(out),
		}, nil
	}
}

// inputSchema guarantees an object schema; tools without parameters get an
// empty one.
func inputSchema(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	if _, ok := params["type"]; !ok {
		out := make(map[string]interface{}, len(params)+1)
		for k, v := range params {
			out[k] = v
		}
		out["type"] = "object"
		return out
	}
	return params
}

func isToolError(out string) bool {
	return strings.HasPrefix(out, "Error:")
}

// DescribeTools renders the tool catalog as indented JSON
func DescribeTools(registry repo.ToolRegistry) (string, error) {
	data, err := json.MarshalIndent(registry.Definitions(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tools: %w", err)
	}
	return string(data), nil
}

package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const recentToolCalls = 100

// registerResources exposes read-only views of the activity log and chat.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"hitl://tool_calls",
			"Tool Calls",
			mcplib.WithResourceDescription("Pending approvals and the most recent tool calls, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleToolCallsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"hitl://chat",
			"Chat History",
			mcplib.WithResourceDescription("Messages exchanged with the operator"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleChatResource,
	)
}

func (s *Server) handleToolCallsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	view := s.coord.ToolCalls(recentToolCalls)
	return jsonResource(req.Params.URI, view)
}

func (s *Server) handleChatResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonResource(req.Params.URI, map[string]any{"history": s.coord.ChatHistory()})
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

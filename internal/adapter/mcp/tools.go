package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/hitl/internal/domain"
	"github.com/Strob0t/hitl/internal/domain/tool"
)

// registerTools registers the catalogue tools plus ask_user and tell_user.
func (s *Server) registerTools() {
	tools := s.coord.Tools()
	serverTools := make([]mcpserver.ServerTool, 0, len(tools)+2)
	for i := range tools {
		serverTools = append(serverTools, s.catalogueTool(&tools[i]))
	}
	serverTools = append(serverTools, s.askUserTool(), s.tellUserTool())
	s.mcpServer.AddTools(serverTools...)
}

func (s *Server) catalogueTool(t *tool.Tool) mcpserver.ServerTool {
	opts := []mcplib.ToolOption{
		mcplib.WithDescription(t.Description),
		mcplib.WithDestructiveHintAnnotation(t.RequiresApproval()),
	}
	for _, p := range t.Params {
		var propOpts []mcplib.PropertyOption
		if p.Description != "" {
			propOpts = append(propOpts, mcplib.Description(p.Description))
		}
		if p.Required {
			propOpts = append(propOpts, mcplib.Required())
		}
		switch p.Type {
		case tool.ParamBoolean:
			opts = append(opts, mcplib.WithBoolean(p.Name, propOpts...))
		case tool.ParamNumber:
			opts = append(opts, mcplib.WithNumber(p.Name, propOpts...))
		default:
			opts = append(opts, mcplib.WithString(p.Name, propOpts...))
		}
	}

	name := t.Name
	return mcpserver.ServerTool{
		Tool: mcplib.NewTool(name, opts...),
		Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			return s.handleInvoke(ctx, name, req.GetArguments())
		},
	}
}

func (s *Server) handleInvoke(ctx context.Context, name string, kwargs map[string]any) (*mcplib.CallToolResult, error) {
	out, err := s.coord.Invoke(ctx, name, nil, kwargs)
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		return mcplib.NewToolResultError(err.Error()), nil
	case err != nil:
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("tool %s failed", name), err), nil
	case out.Denied:
		return mcplib.NewToolResultError(out.Message), nil
	}
	return mcplib.NewToolResultText(out.Text()), nil
}

func (s *Server) askUserTool() mcpserver.ServerTool {
	t := mcplib.NewTool("ask_user",
		mcplib.WithDescription("Ask the human operator a question and wait for the answer. "+
			"Pass options for a multiple-choice question; omit them for free text."),
		mcplib.WithString("question",
			mcplib.Required(),
			mcplib.Description("The question to ask"),
		),
		mcplib.WithArray("options",
			mcplib.Description("Allowed answers"),
			mcplib.WithStringItems(),
		),
	)
	return mcpserver.ServerTool{
		Tool:    t,
		Handler: s.handleAskUser,
	}
}

func (s *Server) handleAskUser(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	text, _ := args["question"].(string)
	if strings.TrimSpace(text) == "" {
		return mcplib.NewToolResultError("question is required"), nil
	}
	options, err := stringSlice(args["options"])
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}

	answer, err := s.coord.AskQuestion(ctx, text, options)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("ask_user failed", err), nil
	}
	return mcplib.NewToolResultText(answer), nil
}

func (s *Server) tellUserTool() mcpserver.ServerTool {
	t := mcplib.NewTool("tell_user",
		mcplib.WithDescription("Post a message to the human operator without waiting for a reply."),
		mcplib.WithString("message",
			mcplib.Required(),
			mcplib.Description("The message to post"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    t,
		Handler: s.handleTellUser,
	}
}

func (s *Server) handleTellUser(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	msg, _ := req.GetArguments()["message"].(string)
	if err := s.coord.TellUser(ctx, msg); err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	return mcplib.NewToolResultText("Message delivered."), nil
}

func stringSlice(v any) ([]string, error) {
	switch vals := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return vals, nil
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("options must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("options must be an array of strings, got %T", v)
}

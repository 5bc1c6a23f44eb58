package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/core"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/dispatch"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/registry"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/schema"
)

// Server exposes registered skill operations as MCP tools. Each
// (skill, operation) pair becomes one tool named "skill.operation",
// with its input schema derived from the operation's parameter specs.
type Server struct {
	mcpServer  *server.MCPServer
	dispatcher *dispatch.Dispatcher
}

// NewServer creates an MCP server routing tool calls through the dispatcher.
func NewServer(name, version string, d *dispatch.Dispatcher) *Server {
	return &Server{
		mcpServer:  server.NewMCPServer(name, version),
		dispatcher: d,
	}
}

// RegisterSkills adds one tool per operation of every skill in the registry.
func (s *Server) RegisterSkills(reg *registry.Registry) {
	for _, skill := range reg.Skills() {
		for _, op := range skill.Operations {
			desc, err := reg.Lookup(skill.ID, op)
			if err != nil {
				continue
			}
			s.registerOperation(skill.ID, desc)
		}
	}
}

func (s *Server) registerOperation(skillID string, desc *registry.OperationDescriptor) {
	toolName := fmt.Sprintf("%s.%s", skillID, desc.Name)

	opts := []mcp.ToolOption{mcp.WithDescription(desc.Description)}
	for _, spec := range desc.Params {
		opts = append(opts, propertyOption(spec))
	}
	tool := mcp.NewTool(toolName, opts...)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		outcome := s.dispatcher.Dispatch(ctx, core.InvocationRequest{
			SkillID:   skillID,
			Operation: desc.Name,
			Params:    args,
		})
		if !outcome.Succeeded() {
			return mcp.NewToolResultError(fmt.Sprintf("%s (exit %d)", outcome.Detail, outcome.ExitCode)), nil
		}
		payload, err := json.Marshal(outcome)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(payload)), nil
	})
}

func propertyOption(spec schema.ParameterSpec) mcp.ToolOption {
	var propOpts []mcp.PropertyOption
	if spec.Required {
		propOpts = append(propOpts, mcp.Required())
	}

	switch spec.Type {
	case schema.TypeInteger:
		return mcp.WithNumber(spec.Name, propOpts...)
	case schema.TypeEnum:
		propOpts = append(propOpts, mcp.Enum(spec.Enum...))
		return mcp.WithString(spec.Name, propOpts...)
	default:
		if spec.MinLength > 0 {
			propOpts = append(propOpts, mcp.MinLength(spec.MinLength))
		}
		if spec.MaxLength > 0 {
			propOpts = append(propOpts, mcp.MaxLength(spec.MaxLength))
		}
		return mcp.WithString(spec.Name, propOpts...)
	}
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

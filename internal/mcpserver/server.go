// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcpserver adapts loaded workflow tools onto mark3labs/mcp-go: it
// translates a workflow's derived parameter schema into a JSON Schema input
// shape, registers/unregisters tools by name, and exposes a small set of
// fixed management tools (status, reload, save-from-url) alongside the
// dynamic per-workflow ones.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pixelle-mcp/gateway/internal/log"
	"github.com/pixelle-mcp/gateway/internal/workflow/manager"
	"github.com/pixelle-mcp/gateway/internal/workflow/model"
)

// Manager is the subset of manager.Manager the server needs, so tests can
// substitute a fake.
type Manager interface {
	Status() map[string]manager.LoadedWorkflow
	ReloadAll() error
	SaveFromURL(ctx context.Context, url string, filename string) (model.Metadata, error)
}

// Server wraps an MCP server and keeps it in sync with a workflow manager's
// loaded tools via the Register/Unregister calls the manager makes on every
// load/unload/reload.
type Server struct {
	mcpServer *server.MCPServer
	manager   Manager
	name      string
	version   string
	logger    *slog.Logger
}

// Config configures a Server.
type Config struct {
	Name    string
	Version string
	Manager Manager
	Logger  *slog.Logger
}

// New creates a Server and registers its fixed management tools. The caller
// is responsible for driving manager.LoadAll (or equivalent) afterward so
// per-workflow tools get registered through Register.
func New(cfg Config) *Server {
	name := cfg.Name
	if name == "" {
		name = "pixelle-gateway"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
		manager:   cfg.Manager,
		name:      name,
		version:   version,
		logger:    logger,
	}
	s.registerManagementTools()
	return s
}

// SetManager binds the manager after construction, for callers that must
// build the Server before the manager exists (the manager needs the Server
// as its Registry, so one side of the pair has to be wired late).
func (s *Server) SetManager(m Manager) {
	s.manager = m
}

// Register implements manager.Registry: it builds a JSON Schema input shape
// from md's ordered parameters and registers a closure that recovers from
// any panic in handler and turns it into an error-status tool result.
func (s *Server) Register(toolName string, md model.Metadata, handler manager.Handler) error {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        toolName,
		Description: md.Description,
		InputSchema: inputSchemaFor(md),
	}, s.wrapHandler(toolName, handler))
	return nil
}

// Unregister implements manager.Registry.
func (s *Server) Unregister(toolName string) error {
	s.mcpServer.DeleteTools(toolName)
	return nil
}

// wrapHandler adapts a manager.Handler to mcp-go's tool handler signature,
// recovering from panics so a single broken invocation never takes down the
// server process.
func (s *Server) wrapHandler(toolName string, handler manager.Handler) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("tool handler panicked", log.ToolKey, toolName, "panic", r)
				result = mcp.NewToolResultError(fmt.Sprintf("internal error executing %s", toolName))
				err = nil
			}
		}()

		params := request.GetArguments()
		res := handler(ctx, params)
		return textResult(res.ToLLMResult()), nil
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(text)}}
}

// Run serves the MCP protocol over stdio until the process is told to stop.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting mcp server", "name", s.name, "version", s.version)
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func inputSchemaFor(md model.Metadata) mcp.ToolInputSchema {
	properties := map[string]any{}
	var required []string

	for _, p := range md.OrderedParams() {
		prop := map[string]any{
			"type":        jsonSchemaType(p.Type),
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func jsonSchemaType(t model.ParamType) string {
	switch t {
	case model.ParamInt:
		return "integer"
	case model.ParamFloat:
		return "number"
	case model.ParamBool:
		return "boolean"
	default:
		return "string"
	}
}

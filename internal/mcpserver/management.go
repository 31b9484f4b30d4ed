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

package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerManagementTools registers the fixed, always-present tools that
// manage the set of dynamic per-workflow tools rather than running one.
func (s *Server) registerManagementTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "gateway_status",
		Description: "List every currently loaded workflow tool with its parameter names and load time.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, s.handleStatus)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "gateway_reload",
		Description: "Reload every workflow tool from the workflows directory, matching the loaded set exactly to what's on disk.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, s.handleReload)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "gateway_save_workflow",
		Description: "Download a workflow graph file from a URL into the workflows directory and register it as a new tool.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL of the workflow graph JSON file to fetch",
				},
				"filename": map[string]any{
					"type":        "string",
					"description": "Optional filename to store it under (defaults to the URL's basename)",
				},
			},
			Required: []string{"url"},
		},
	}, s.handleSaveWorkflow)
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type toolSummary struct {
		ToolName string `json:"tool_name"`
		Params   []string `json:"params"`
		LoadedAt string `json:"loaded_at"`
	}

	status := s.manager.Status()
	summaries := make([]toolSummary, 0, len(status))
	for name, loaded := range status {
		var params []string
		for _, p := range loaded.Metadata.OrderedParams() {
			params = append(params, p.Name)
		}
		summaries = append(summaries, toolSummary{
			ToolName: name,
			Params:   params,
			LoadedAt: loaded.LoadedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	data, err := json.Marshal(summaries)
	if err != nil {
		return mcp.NewToolResultError("failed to render tool status"), nil
	}
	return textResult(string(data)), nil
}

func (s *Server) handleReload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.manager.ReloadAll(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult("workflows reloaded"), nil
}

func (s *Server) handleSaveWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("missing required argument: url"), nil
	}
	filename := request.GetString("filename", "")

	md, err := s.manager.SaveFromURL(ctx, url, filename)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(fmt.Sprintf("registered tool %q", md.ToolName)), nil
}

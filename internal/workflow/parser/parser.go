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

// Package parser turns a node-graph workflow file into a typed tool schema
// by reading a small marker DSL out of each node's title.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pixelle-mcp/gateway/internal/workflow/model"
	gatewayerrors "github.com/pixelle-mcp/gateway/pkg/errors"
)

// paramMarker matches "$name.field", "$name.field!" and
// "$name.field:description", with the trailing "!" marking the parameter
// required.
var paramMarker = regexp.MustCompile(`^\$(\w+)\.(\w+)(!)?(?::(.+))?$`)

// outputMarker matches "$output.var".
var outputMarker = regexp.MustCompile(`^\$output\.(\w+)$`)

// toolNamePattern constrains the derived or overridden tool name.
var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// knownOutputClassTypes are node classes treated as anonymous outputs (keyed
// by node id) even without an explicit "$output.var" marker.
var knownOutputClassTypes = map[string]bool{
	"SaveImage":     true,
	"SaveVideo":     true,
	"SaveAudio":     true,
	"VHS_SaveVideo": true,
	"VHS_SaveAudio": true,
}

// mcpDescriptionFields is checked case-insensitively against a node's inputs
// to extract the free-text description carried by a node titled "MCP".
var mcpDescriptionFields = []string{"value", "text", "string"}

// node is the on-disk shape of one workflow graph node.
type node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      struct {
		Title string `json:"title"`
	} `json:"_meta"`
}

// Graph is a parsed workflow file: node id -> node record. It is decoded
// with json.Decoder so that key order (and therefore node visitation order)
// matches the file's own insertion order.
type Graph struct {
	order []string
	nodes map[string]node
	raw   map[string]json.RawMessage
}

// ParseGraph decodes raw workflow JSON, preserving node order.
func ParseGraph(data []byte) (*Graph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("workflow graph must be a JSON object")
	}

	g := &Graph{nodes: make(map[string]node), raw: make(map[string]json.RawMessage)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		id, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}

		var n node
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}

		g.order = append(g.order, id)
		g.nodes[id] = n
		g.raw[id] = raw
	}
	return g, nil
}

// ToSubmission decodes the graph's raw per-node JSON into a fresh
// map[string]any keyed by node id, suitable for mutating in place and
// submitting to the engine. Each call returns an independent copy.
func (g *Graph) ToSubmission() (map[string]any, error) {
	nodes := make(map[string]any, len(g.raw))
	for id, raw := range g.raw {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		nodes[id] = decoded
	}
	return nodes, nil
}

// Parser derives Metadata from a Graph.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// ParseFile loads and parses a workflow file from disk. The tool name
// defaults to the file's stem when name is empty.
func (p *Parser) ParseFile(path string, name string) (model.Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Metadata{}, gatewayerrors.Wrapf(err, "reading workflow file %s", path)
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	graph, err := ParseGraph(data)
	if err != nil {
		return model.Metadata{}, &gatewayerrors.ParseError{Path: path, Reason: "invalid json", Cause: err}
	}
	return p.Parse(graph, name)
}

// Parse derives Metadata from an already-decoded Graph.
func (p *Parser) Parse(graph *Graph, toolName string) (model.Metadata, error) {
	if !toolNamePattern.MatchString(toolName) {
		return model.Metadata{}, &gatewayerrors.ValidationError{
			Field:   "tool_name",
			Message: fmt.Sprintf("%q does not match %s", toolName, toolNamePattern.String()),
		}
	}

	md := model.Metadata{
		ToolName: toolName,
		Params:   make(map[string]model.ParamInfo),
	}

	sawMCPNode := false

	for _, id := range graph.order {
		n := graph.nodes[id]
		title := strings.TrimSpace(n.Meta.Title)

		switch {
		case outputMarker.MatchString(title):
			m := outputMarker.FindStringSubmatch(title)
			md.Mapping.OutputMappings = append(md.Mapping.OutputMappings, model.OutputMapping{
				NodeID:    id,
				OutputVar: m[1],
			})

		case knownOutputClassTypes[n.ClassType]:
			md.Mapping.OutputMappings = append(md.Mapping.OutputMappings, model.OutputMapping{
				NodeID:    id,
				OutputVar: id,
			})

		case paramMarker.MatchString(title):
			m := paramMarker.FindStringSubmatch(title)
			paramName, field, required, description := m[1], m[2], m[3] == "!", m[4]

			info, exists := md.Params[paramName]
			if !exists {
				info = model.ParamInfo{Name: paramName, Type: model.ParamString, Description: description, Required: required}
				md.ParamOrder = append(md.ParamOrder, paramName)
			}

			if def, ok := fieldDefault(n.Inputs, field); ok {
				info.Type = inferType(def)
				if !required {
					info.Default = def
				}
			} else if !required {
				p.logger.Warn("optional parameter has no default", "param", paramName, "node", id)
			}
			if required {
				info.Default = nil
			}
			md.Params[paramName] = info

			md.Mapping.ParamMappings = append(md.Mapping.ParamMappings, model.ParamMapping{
				ParamName:     paramName,
				NodeID:        id,
				InputField:    field,
				NodeClassType: n.ClassType,
			})

		case title == "MCP":
			if sawMCPNode {
				return model.Metadata{}, &gatewayerrors.ParseError{Reason: fmt.Sprintf("duplicate MCP description node: %s", id)}
			}
			sawMCPNode = true
			md.Description = mcpDescription(n.Inputs)
		}
	}

	return md, nil
}

// fieldDefault returns inputs[field] only when that value is a literal, not
// a graph edge ([source_node_id, slot] pair).
func fieldDefault(inputs map[string]any, field string) (any, bool) {
	v, ok := inputs[field]
	if !ok {
		return nil, false
	}
	if isEdge(v) {
		return nil, false
	}
	return v, true
}

func isEdge(v any) bool {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return false
	}
	_, idIsString := arr[0].(string)
	_, slotIsNumber := arr[1].(float64)
	return idIsString && slotIsNumber
}

func inferType(v any) model.ParamType {
	switch val := v.(type) {
	case bool:
		return model.ParamBool
	case float64:
		if val == float64(int64(val)) {
			return model.ParamInt
		}
		return model.ParamFloat
	default:
		return model.ParamString
	}
}

func mcpDescription(inputs map[string]any) string {
	lower := make(map[string]any, len(inputs))
	for k, v := range inputs {
		lower[strings.ToLower(k)] = v
	}
	for _, field := range mcpDescriptionFields {
		if v, ok := lower[field]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

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

// Package model holds the data types shared between the workflow parser,
// executor and manager: the derived parameter schema and the mapping tables
// that drive parameter write-back and output collection.
package model

// ParamType is the inferred JSON-ish type of a derived parameter.
type ParamType string

const (
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
	ParamString ParamType = "string"
)

// ParamInfo describes one parameter exposed by a loaded workflow's tool
// schema.
type ParamInfo struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	// Default is nil when Required is true.
	Default any
}

// ParamMapping records where a parameter's value is written back into the
// graph at execution time.
type ParamMapping struct {
	ParamName      string
	NodeID         string
	InputField     string
	NodeClassType  string
}

// OutputMapping records which output variable a graph node's produced media
// should be grouped under.
type OutputMapping struct {
	NodeID    string
	OutputVar string
}

// MappingInfo is the full set of write-back and output-grouping directives
// derived from a graph.
type MappingInfo struct {
	ParamMappings  []ParamMapping
	OutputMappings []OutputMapping
}

// Metadata is everything the parser derives from a single workflow graph.
type Metadata struct {
	// ToolName is the name this workflow will be registered under.
	ToolName string
	// Description comes from an optional node titled "MCP".
	Description string
	// ParamOrder preserves the order parameters were first seen in the
	// graph. OrderedParams derives the required-first presentation order
	// from it.
	ParamOrder []string
	Params     map[string]ParamInfo
	Mapping    MappingInfo
}

// OrderedParams returns this metadata's parameters with all required
// parameters first (in declared order) followed by optional parameters (in
// declared order). This is the order the tool schema and any generated CLI
// help text should present them in.
func (m Metadata) OrderedParams() []ParamInfo {
	ordered := make([]ParamInfo, 0, len(m.ParamOrder))
	var optional []ParamInfo
	for _, name := range m.ParamOrder {
		p, ok := m.Params[name]
		if !ok {
			continue
		}
		if p.Required {
			ordered = append(ordered, p)
		} else {
			optional = append(optional, p)
		}
	}
	return append(ordered, optional...)
}

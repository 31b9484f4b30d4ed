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

// Package events emits structured lifecycle events for loaded workflow
// tools (loaded/unloaded/reloaded/load_failed). There is no external
// subscriber in this system; the emitter's job is to put a consistent,
// structured record into the log.
package events

import (
	"log/slog"
	"time"

	"github.com/pixelle-mcp/gateway/internal/log"
)

// Type is the kind of lifecycle event.
type Type string

const (
	Loaded     Type = "loaded"
	Unloaded   Type = "unloaded"
	Reloaded   Type = "reloaded"
	LoadFailed Type = "load_failed"
)

// Event is one lifecycle occurrence for a managed workflow tool.
type Event struct {
	Type      Type           `json:"type"`
	ToolName  string         `json:"tool_name"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Emitter logs lifecycle events.
type Emitter struct {
	logger *slog.Logger
}

// NewEmitter creates an Emitter. A nil logger falls back to slog.Default().
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger}
}

// Emit logs an event.
func (e *Emitter) Emit(ev Event) {
	attrs := []any{log.ToolKey, ev.ToolName, log.EventKey, string(ev.Type)}
	if ev.Message != "" {
		attrs = append(attrs, "message", ev.Message)
	}
	for k, v := range ev.Details {
		attrs = append(attrs, k, v)
	}
	e.logger.Info("workflow lifecycle event", attrs...)
}

// EmitLoaded emits a loaded event.
func (e *Emitter) EmitLoaded(toolName, sourcePath string) {
	e.Emit(Event{
		Type:      Loaded,
		ToolName:  toolName,
		Timestamp: time.Now(),
		Message:   "workflow loaded",
		Details:   map[string]any{log.WorkflowKey: sourcePath},
	})
}

// EmitUnloaded emits an unloaded event.
func (e *Emitter) EmitUnloaded(toolName string) {
	e.Emit(Event{
		Type:      Unloaded,
		ToolName:  toolName,
		Timestamp: time.Now(),
		Message:   "workflow unloaded",
	})
}

// EmitReloaded emits a reloaded event for one tool.
func (e *Emitter) EmitReloaded(toolName string) {
	e.Emit(Event{
		Type:      Reloaded,
		ToolName:  toolName,
		Timestamp: time.Now(),
		Message:   "workflow reloaded",
	})
}

// EmitReloadSummary emits a summary reloaded event covering the whole
// directory scan, not tied to a single tool name.
func (e *Emitter) EmitReloadSummary(loaded, failed int) {
	e.Emit(Event{
		Type:      Reloaded,
		ToolName:  "*",
		Timestamp: time.Now(),
		Message:   "workflow directory reload complete",
		Details:   map[string]any{"loaded": loaded, "failed": failed},
	})
}

// EmitLoadFailed emits a load_failed event.
func (e *Emitter) EmitLoadFailed(toolName, sourcePath string, err error) {
	e.Emit(Event{
		Type:      LoadFailed,
		ToolName:  toolName,
		Timestamp: time.Now(),
		Message:   "workflow load failed",
		Details:   map[string]any{log.WorkflowKey: sourcePath, "error": err.Error()},
	})
}

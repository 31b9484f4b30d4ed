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

// Package manager owns the set of loaded workflow tools: scanning the
// workflows directory at startup, loading/unloading/reloading individual
// files, and keeping the external tool registry consistent with what is on
// disk. The workflow file is the authoritative spec for a tool; unloading a
// tool deletes its file.
package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pixelle-mcp/gateway/internal/events"
	"github.com/pixelle-mcp/gateway/internal/log"
	"github.com/pixelle-mcp/gateway/internal/workflow/executor"
	"github.com/pixelle-mcp/gateway/internal/workflow/model"
	"github.com/pixelle-mcp/gateway/internal/workflow/parser"
	"github.com/pixelle-mcp/gateway/internal/workflow/result"
	gatewayerrors "github.com/pixelle-mcp/gateway/pkg/errors"
)

// Handler is the signature a loaded workflow's executor closure presents to
// the tool registry.
type Handler func(ctx context.Context, params map[string]any) result.Result

// Registry is the external tool-protocol surface a Manager keeps in sync
// with the workflows directory. Implemented by internal/mcpserver.
type Registry interface {
	Register(toolName string, md model.Metadata, handler Handler) error
	Unregister(toolName string) error
}

// LoadedWorkflow is one tool's process-local record.
type LoadedWorkflow struct {
	Metadata   model.Metadata
	SourcePath string
	LoadedAt   time.Time
}

// Manager loads workflow graph files into registered tools.
type Manager struct {
	dir      string
	parser   *parser.Parser
	executor *executor.Executor
	registry Registry
	events   *events.Emitter
	logger   *slog.Logger

	mu    sync.RWMutex
	tools map[string]LoadedWorkflow
}

// Config collects a Manager's dependencies.
type Config struct {
	WorkflowsDir string
	Parser       *parser.Parser
	Executor     *executor.Executor
	Registry     Registry
	Events       *events.Emitter
	Logger       *slog.Logger
}

// New creates a Manager. The workflows directory is created if absent.
func New(cfg Config) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.WorkflowsDir, 0o755); err != nil {
		return nil, gatewayerrors.Wrapf(err, "creating workflows directory %s", cfg.WorkflowsDir)
	}
	return &Manager{
		dir:      cfg.WorkflowsDir,
		parser:   cfg.Parser,
		executor: cfg.Executor,
		registry: cfg.Registry,
		events:   cfg.Events,
		logger:   logger,
		tools:    make(map[string]LoadedWorkflow),
	}, nil
}

// LoadAll scans the workflows directory and loads every file in it. Errors
// on individual files are collected and returned together; one bad file
// does not block the others from loading.
func (m *Manager) LoadAll() error {
	paths, err := m.listGraphFiles()
	if err != nil {
		return err
	}
	var errs []string
	for _, path := range paths {
		if _, err := m.Load(path, ""); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", path, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to load %d workflow file(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Load parses path, registers the derived tool, and records it as loaded.
// toolName overrides the filename stem when non-empty. Loading a name that
// already exists atomically replaces the prior registration. When path does
// not live under the managed directory, the file is copied in under
// {tool_name}.json (save-on-load).
func (m *Manager) Load(path string, toolName string) (model.Metadata, error) {
	md, err := m.parser.ParseFile(path, toolName)
	if err != nil {
		m.events.EmitLoadFailed(toolName, path, err)
		return model.Metadata{}, err
	}

	storedPath, err := m.ensureManaged(path, md.ToolName)
	if err != nil {
		m.events.EmitLoadFailed(md.ToolName, path, err)
		return model.Metadata{}, err
	}

	handler := m.handlerFor(storedPath, md.ToolName)

	m.mu.Lock()
	if _, exists := m.tools[md.ToolName]; exists {
		_ = m.registry.Unregister(md.ToolName)
	}
	if err := m.registry.Register(md.ToolName, md, handler); err != nil {
		m.mu.Unlock()
		m.events.EmitLoadFailed(md.ToolName, storedPath, err)
		return model.Metadata{}, err
	}
	m.tools[md.ToolName] = LoadedWorkflow{Metadata: md, SourcePath: storedPath, LoadedAt: time.Now()}
	m.mu.Unlock()

	m.events.EmitLoaded(md.ToolName, storedPath)
	return md, nil
}

// Unload unregisters a tool, deletes its managed file, and drops its
// in-memory record.
func (m *Manager) Unload(toolName string) error {
	m.mu.Lock()
	loaded, ok := m.tools[toolName]
	if !ok {
		m.mu.Unlock()
		return &gatewayerrors.NotFoundError{Resource: "workflow", ID: toolName}
	}
	delete(m.tools, toolName)
	m.mu.Unlock()

	if err := m.registry.Unregister(toolName); err != nil {
		m.logger.Warn("failed to unregister tool", log.ToolKey, toolName, "error", err)
	}
	if err := os.Remove(loaded.SourcePath); err != nil && !os.IsNotExist(err) {
		return gatewayerrors.Wrapf(err, "deleting workflow file %s", loaded.SourcePath)
	}

	m.events.EmitUnloaded(toolName)
	return nil
}

// ReloadAll unregisters everything currently loaded, then reloads from the
// directory, so the loaded set exactly matches what's on disk afterward.
func (m *Manager) ReloadAll() error {
	m.mu.Lock()
	for name := range m.tools {
		_ = m.registry.Unregister(name)
	}
	m.tools = make(map[string]LoadedWorkflow)
	m.mu.Unlock()

	paths, err := m.listGraphFiles()
	if err != nil {
		return err
	}

	loaded, failed := 0, 0
	for _, path := range paths {
		if _, err := m.Load(path, ""); err != nil {
			failed++
			m.logger.Warn("failed to reload workflow", log.WorkflowKey, path, "error", err)
			continue
		}
		loaded++
		m.events.EmitReloaded(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	}
	m.events.EmitReloadSummary(loaded, failed)
	return nil
}

// Status returns a snapshot of every currently loaded tool.
func (m *Manager) Status() map[string]LoadedWorkflow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make(map[string]LoadedWorkflow, len(m.tools))
	for k, v := range m.tools {
		snapshot[k] = v
	}
	return snapshot
}

// SaveFromURL downloads a graph file from a URL into the managed directory
// and loads it, letting a conversational caller add a new tool without
// filesystem access.
func (m *Manager) SaveFromURL(ctx context.Context, url string, filename string) (model.Metadata, error) {
	if filename == "" {
		filename = filepath.Base(strings.SplitN(url, "?", 2)[0])
	}
	if filepath.Ext(filename) != ".json" {
		filename += ".json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.Metadata{}, gatewayerrors.Wrapf(err, "building request for %s", url)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return model.Metadata{}, gatewayerrors.Wrapf(err, "downloading %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Metadata{}, &gatewayerrors.EngineError{Engine: "blob-store", StatusCode: resp.StatusCode, Message: "fetching workflow source failed"}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Metadata{}, gatewayerrors.Wrapf(err, "reading response body for %s", url)
	}

	dest := filepath.Join(m.dir, filename)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return model.Metadata{}, gatewayerrors.Wrapf(err, "writing workflow file %s", dest)
	}

	toolName := strings.TrimSuffix(filename, filepath.Ext(filename))
	return m.Load(dest, toolName)
}

func (m *Manager) handlerFor(path, toolName string) Handler {
	return func(ctx context.Context, params map[string]any) result.Result {
		res := m.executor.Execute(ctx, path, toolName, params)
		m.logger.LogAttrs(ctx, slog.LevelInfo, "workflow invocation finished",
			slog.String(log.ToolKey, toolName),
			slog.String(log.PromptIDKey, res.PromptID),
			log.Int64(log.DurationKey, res.Duration.Milliseconds()),
		)
		return res
	}
}

// ensureManaged returns the path to use for subsequent execution and
// persistence: path itself when it already lives under the managed
// directory, otherwise a copy of it placed there under {tool_name}.json.
func (m *Manager) ensureManaged(path, toolName string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", gatewayerrors.Wrapf(err, "resolving path %s", path)
	}
	absDir, err := filepath.Abs(m.dir)
	if err != nil {
		return "", gatewayerrors.Wrapf(err, "resolving workflows directory %s", m.dir)
	}
	if filepath.Dir(absPath) == absDir {
		return absPath, nil
	}

	dest := filepath.Join(absDir, toolName+".json")
	if dest == absPath {
		return absPath, nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", gatewayerrors.Wrapf(err, "reading workflow file %s", absPath)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", gatewayerrors.Wrapf(err, "copying workflow file into %s", dest)
	}
	return dest, nil
}

func (m *Manager) listGraphFiles() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, gatewayerrors.Wrapf(err, "listing workflows directory %s", m.dir)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		paths = append(paths, filepath.Join(m.dir, entry.Name()))
	}
	return paths, nil
}

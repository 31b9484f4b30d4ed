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

package manager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelle-mcp/gateway/internal/events"
	"github.com/pixelle-mcp/gateway/internal/workflow/executor"
	"github.com/pixelle-mcp/gateway/internal/workflow/model"
	"github.com/pixelle-mcp/gateway/internal/workflow/parser"
)

const graphA = `{
  "1": {"class_type": "SaveImage", "inputs": {"images": ["0", 0]}, "_meta": {"title": "$output.image"}}
}`

type fakeRegistry struct {
	registered   map[string]model.Metadata
	unregisterCalls []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{registered: map[string]model.Metadata{}}
}

func (r *fakeRegistry) Register(toolName string, md model.Metadata, handler Handler) error {
	r.registered[toolName] = md
	return nil
}

func (r *fakeRegistry) Unregister(toolName string) error {
	r.unregisterCalls = append(r.unregisterCalls, toolName)
	delete(r.registered, toolName)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeRegistry) {
	t.Helper()
	dir := t.TempDir()
	reg := newFakeRegistry()
	m, err := New(Config{
		WorkflowsDir: dir,
		Parser:       parser.New(nil),
		Executor:     executor.New(executor.Config{Parser: parser.New(nil)}),
		Registry:     reg,
		Events:       events.NewEmitter(nil),
	})
	require.NoError(t, err)
	return m, reg
}

func TestLoad_RegistersToolAndRecordsIt(t *testing.T) {
	m, reg := newTestManager(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.json")
	require.NoError(t, os.WriteFile(path, []byte(graphA), 0o644))

	md, err := m.Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "demo", md.ToolName)
	assert.Contains(t, reg.registered, "demo")

	status := m.Status()
	require.Contains(t, status, "demo")
}

func TestLoad_CopiesFileIntoManagedDirectory(t *testing.T) {
	m, _ := newTestManager(t)
	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "demo.json")
	require.NoError(t, os.WriteFile(path, []byte(graphA), 0o644))

	_, err := m.Load(path, "")
	require.NoError(t, err)

	status := m.Status()
	loaded := status["demo"]
	assert.Equal(t, m.dir, filepath.Dir(loaded.SourcePath))
	data, err := os.ReadFile(loaded.SourcePath)
	require.NoError(t, err)
	assert.Equal(t, graphA, string(data))
}

func TestLoad_ReplacesExistingToolAtomically(t *testing.T) {
	m, reg := newTestManager(t)
	path := filepath.Join(m.dir, "demo.json")
	require.NoError(t, os.WriteFile(path, []byte(graphA), 0o644))

	_, err := m.Load(path, "")
	require.NoError(t, err)
	_, err = m.Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"demo"}, reg.unregisterCalls)
	assert.Len(t, m.Status(), 1)
}

func TestUnload_RemovesFileAndRegistration(t *testing.T) {
	m, reg := newTestManager(t)
	path := filepath.Join(m.dir, "demo.json")
	require.NoError(t, os.WriteFile(path, []byte(graphA), 0o644))
	_, err := m.Load(path, "")
	require.NoError(t, err)

	require.NoError(t, m.Unload("demo"))
	assert.Contains(t, reg.unregisterCalls, "demo")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	assert.NotContains(t, m.Status(), "demo")
}

func TestUnload_UnknownToolIsNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Unload("missing")
	require.Error(t, err)
}

func TestLoadAll_LoadsEveryFileAndSkipsBadOnes(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(m.dir, "good.json"), []byte(graphA), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.dir, "bad.json"), []byte("not json"), 0o644))

	err := m.LoadAll()
	require.Error(t, err)
	status := m.Status()
	assert.Contains(t, status, "good")
	assert.NotContains(t, status, "bad")
}

func TestReloadAll_MatchesDiskExactly(t *testing.T) {
	m, reg := newTestManager(t)
	path := filepath.Join(m.dir, "demo.json")
	require.NoError(t, os.WriteFile(path, []byte(graphA), 0o644))
	_, err := m.Load(path, "")
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(filepath.Join(m.dir, "other.json"), []byte(graphA), 0o644))

	require.NoError(t, m.ReloadAll())
	status := m.Status()
	assert.NotContains(t, status, "demo")
	assert.Contains(t, status, "other")
	assert.Contains(t, reg.registered, "other")
}

func TestSaveFromURL_DownloadsAndLoads(t *testing.T) {
	m, _ := newTestManager(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(graphA))
	}))
	defer srv.Close()

	md, err := m.SaveFromURL(context.Background(), srv.URL, "uploaded")
	require.NoError(t, err)
	assert.Equal(t, "uploaded", md.ToolName)
	_, err = os.Stat(filepath.Join(m.dir, "uploaded.json"))
	require.NoError(t, err)
}

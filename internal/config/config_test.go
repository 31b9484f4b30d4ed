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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresEngineBaseURL(t *testing.T) {
	t.Setenv("ENGINE_BASE_URL", "")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  base_url: http://file-engine\nworkflows_dir: /from/file\n"), 0o644))

	t.Setenv("ENGINE_BASE_URL", "http://env-engine")
	t.Setenv("WORKFLOWS_DIR", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env-engine", cfg.Engine.BaseURL)
	assert.Equal(t, "/from/file", cfg.WorkflowsDir)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	t.Setenv("ENGINE_BASE_URL", "http://engine")
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://engine", cfg.Engine.BaseURL)
}

func TestConfig_DefaultTimeout(t *testing.T) {
	cfg := Default()
	cfg.DefaultTimeoutSeconds = 0
	assert.Equal(t, 30*time.Minute, cfg.DefaultTimeout())

	cfg.DefaultTimeoutSeconds = 120
	assert.Equal(t, 120*time.Second, cfg.DefaultTimeout())
}

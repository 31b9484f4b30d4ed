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

// Package config loads the gateway's process-wide configuration from a YAML
// file with environment variable overrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	gatewayerrors "github.com/pixelle-mcp/gateway/pkg/errors"
	"gopkg.in/yaml.v3"
)

// WaitStrategy selects how the executor detects engine completion.
type WaitStrategy string

const (
	WaitStrategyHTTP WaitStrategy = "http"
	WaitStrategyWS   WaitStrategy = "ws"
)

// EngineConfig describes how to reach the inference engine.
type EngineConfig struct {
	BaseURL      string       `yaml:"base_url"`
	APIKey       string       `yaml:"api_key,omitempty"`
	Cookies      string       `yaml:"cookies,omitempty"`
	WaitStrategy WaitStrategy `yaml:"wait_strategy"`
}

// BlobConfig describes the blob store used to rehost engine outputs.
type BlobConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ServerConfig identifies this process to its MCP host.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// RateLimitConfig bounds the rate of tool invocations.
type RateLimitConfig struct {
	CallsPerMinute int `yaml:"calls_per_minute"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level gateway configuration.
type Config struct {
	Engine                EngineConfig    `yaml:"engine"`
	Blob                  BlobConfig      `yaml:"blob"`
	Server                ServerConfig    `yaml:"server"`
	RateLimit             RateLimitConfig `yaml:"rate_limit"`
	Log                   LogConfig       `yaml:"log"`
	WorkflowsDir          string          `yaml:"workflows_dir"`
	DefaultTimeoutSeconds int             `yaml:"default_timeout_seconds"`
	WatchWorkflowsDir     bool            `yaml:"watch_workflows_dir"`
}

// DefaultTimeout returns the per-invocation timeout set by
// DefaultTimeoutSeconds, or 30 minutes when that is not positive. The
// executor does not apply it: an invocation runs under the context its
// caller passes in.
func (c *Config) DefaultTimeout() time.Duration {
	if c.DefaultTimeoutSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// Default returns a Config populated with the gateway's defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			WaitStrategy: WaitStrategyHTTP,
		},
		Server: ServerConfig{
			Name:    "pixelle-gateway",
			Version: "dev",
		},
		RateLimit: RateLimitConfig{
			CallsPerMinute: 60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		WorkflowsDir:          "workflows",
		DefaultTimeoutSeconds: 1800,
	}
}

// Load reads configuration from the YAML file at path (if non-empty and it
// exists) and then applies environment variable overrides. A missing path is
// not an error: the process can run on environment variables and defaults
// alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, gatewayerrors.Wrapf(err, "reading config file %s", path)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &gatewayerrors.ConfigError{Key: path, Reason: "invalid yaml", Cause: err}
		}
	}

	applyEnv(cfg)

	if cfg.Engine.BaseURL == "" {
		return nil, &gatewayerrors.ConfigError{Key: "engine.base_url", Reason: "must be set via config file or ENGINE_BASE_URL"}
	}

	return cfg, nil
}

// applyEnv overlays environment variables on top of file-sourced and default
// values. Environment variables always win over file-sourced configuration.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ENGINE_BASE_URL"); v != "" {
		cfg.Engine.BaseURL = v
	}
	if v := os.Getenv("ENGINE_API_KEY"); v != "" {
		cfg.Engine.APIKey = v
	}
	if v := os.Getenv("ENGINE_COOKIES"); v != "" {
		cfg.Engine.Cookies = v
	}
	if v := os.Getenv("ENGINE_WAIT_STRATEGY"); v != "" {
		cfg.Engine.WaitStrategy = WaitStrategy(strings.ToLower(v))
	}
	if v := os.Getenv("BLOB_BASE_URL"); v != "" {
		cfg.Blob.BaseURL = v
	}
	if v := os.Getenv("WORKFLOWS_DIR"); v != "" {
		cfg.WorkflowsDir = v
	}
	if v := os.Getenv("DEFAULT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultTimeoutSeconds = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

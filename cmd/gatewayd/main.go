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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pixelle-mcp/gateway/internal/blob"
	"github.com/pixelle-mcp/gateway/internal/config"
	"github.com/pixelle-mcp/gateway/internal/engine"
	"github.com/pixelle-mcp/gateway/internal/events"
	"github.com/pixelle-mcp/gateway/internal/log"
	"github.com/pixelle-mcp/gateway/internal/mcpserver"
	"github.com/pixelle-mcp/gateway/internal/ratelimit"
	"github.com/pixelle-mcp/gateway/internal/workflow/executor"
	"github.com/pixelle-mcp/gateway/internal/workflow/manager"
	"github.com/pixelle-mcp/gateway/internal/workflow/parser"
	"github.com/pixelle-mcp/gateway/internal/workflow/wait"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		engineURL    = flag.String("engine-url", "", "Inference engine base URL")
		workflowsDir = flag.String("workflows-dir", "", "Directory for workflow graph files")
		watch        = flag.Bool("watch", false, "Watch the workflows directory and reload on change")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("gatewayd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", log.Error(err))
		os.Exit(1)
	}
	if *engineURL != "" {
		cfg.Engine.BaseURL = *engineURL
	}
	if *workflowsDir != "" {
		cfg.WorkflowsDir = *workflowsDir
	}
	if *watch {
		cfg.WatchWorkflowsDir = true
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("gatewayd exited with error", log.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug("engine configured",
		"base_url", cfg.Engine.BaseURL,
		"api_key", log.SanitizeAPIKey(cfg.Engine.APIKey),
		"cookies", log.SanitizeSecret(cfg.Engine.Cookies),
	)
	engineClient := engine.New(engine.Config{
		BaseURL: cfg.Engine.BaseURL,
		APIKey:  cfg.Engine.APIKey,
		Cookies: engine.NewStaticCookieResolver(cfg.Engine.Cookies),
		Logger:  log.WithComponent(logger, "engine"),
	})
	blobClient := blob.New(cfg.Blob.BaseURL, engineClient)
	graphParser := parser.New(logger)
	limiter := ratelimit.New(cfg.RateLimit.CallsPerMinute)

	var waiter wait.Waiter
	switch cfg.Engine.WaitStrategy {
	case config.WaitStrategyWS:
		waiter = wait.NewStreamer(engineClient, log.WithComponent(logger, "streamer"))
	default:
		waiter = wait.NewPoller(engineClient, log.WithComponent(logger, "poller"))
	}

	exec := executor.New(executor.Config{
		Parser:  graphParser,
		Engine:  engineClient,
		Blob:    blobClient,
		Waiter:  waiter,
		Limiter: limiter,
		Logger:  log.WithComponent(logger, "executor"),
	})

	// mcpserver.Server and manager.Manager need each other: the server
	// implements manager.Registry, and the manager implements the Manager
	// interface the server's management tools call. Build the server first
	// with its manager bound late, after the manager exists.
	mcpSrv := mcpserver.New(mcpserver.Config{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
		Logger:  log.WithComponent(logger, "mcpserver"),
	})

	emitter := events.NewEmitter(log.WithComponent(logger, "events"))
	mgr, err := manager.New(manager.Config{
		WorkflowsDir: cfg.WorkflowsDir,
		Parser:       graphParser,
		Executor:     exec,
		Registry:     mcpSrv,
		Events:       emitter,
		Logger:       log.WithComponent(logger, "manager"),
	})
	if err != nil {
		return fmt.Errorf("creating workflow manager: %w", err)
	}
	mcpSrv.SetManager(mgr)

	if err := mgr.LoadAll(); err != nil {
		logger.Warn("some workflows failed to load", log.Error(err))
	}

	var watcher *manager.Watcher
	if cfg.WatchWorkflowsDir {
		watcher, err = manager.NewWatcher(manager.WatchConfig{Manager: mgr, Logger: logger})
		if err != nil {
			return fmt.Errorf("starting workflows directory watcher: %w", err)
		}
		defer watcher.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- mcpSrv.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		return nil
	case err := <-errCh:
		return err
	}
}

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

// Package executor runs one workflow invocation end to end: load the graph,
// write caller parameters into it, submit it to the inference engine, wait
// for completion, and rehost produced media under stable blob-store URLs.
package executor

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pixelle-mcp/gateway/internal/log"
	"github.com/pixelle-mcp/gateway/internal/ratelimit"
	"github.com/pixelle-mcp/gateway/internal/workflow/model"
	"github.com/pixelle-mcp/gateway/internal/workflow/parser"
	"github.com/pixelle-mcp/gateway/internal/workflow/result"
	"github.com/pixelle-mcp/gateway/internal/workflow/wait"
	gatewayerrors "github.com/pixelle-mcp/gateway/pkg/errors"
)

// mediaUploadClassTypes are the node classes whose parameter writes accept a
// plain media reference or, when the supplied value is an http(s) URL, get
// routed through the engine's media-upload endpoint first.
var mediaUploadClassTypes = map[string]bool{
	"LoadImage":           true,
	"VHS_LoadAudioUpload": true,
	"VHS_LoadVideo":       true,
}

// engineClient is the subset of engine.Client the executor needs beyond what
// the configured Waiter already wraps.
type engineClient interface {
	UploadMedia(ctx context.Context, filename string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, rawURL string) (data []byte, contentType string, err error)
}

// blobClient rehosts engine media URLs under the blob store's own URLs.
type blobClient interface {
	Upload(ctx context.Context, source any, filename string) (string, error)
}

// Executor runs invocations for a single loaded workflow graph.
type Executor struct {
	parser  *parser.Parser
	engine  engineClient
	blob    blobClient
	waiter  wait.Waiter
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// Config collects an Executor's dependencies.
type Config struct {
	Parser  *parser.Parser
	Engine  engineClient
	Blob    blobClient
	Waiter  wait.Waiter
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger
}

// New creates an Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		parser:  cfg.Parser,
		engine:  cfg.Engine,
		blob:    cfg.Blob,
		waiter:  cfg.Waiter,
		limiter: cfg.Limiter,
		logger:  logger,
	}
}

// Execute loads graphPath, writes params into a deep copy, submits it, waits
// for completion, and rehosts every produced media URL before returning.
func (e *Executor) Execute(ctx context.Context, graphPath string, toolName string, params map[string]any) result.Result {
	start := time.Now()

	md, graph, err := e.loadAndParse(graphPath, toolName)
	if err != nil {
		return result.Result{Status: result.StatusError, Duration: time.Since(start), Msg: err.Error()}
	}

	nodes, err := graph.ToSubmission()
	if err != nil {
		return result.Result{Status: result.StatusError, Duration: time.Since(start), Msg: gatewayerrors.Wrapf(err, "copying graph %s", graphPath).Error()}
	}

	if err := e.applyParams(ctx, md, nodes, params); err != nil {
		return result.Result{Status: result.StatusError, Duration: time.Since(start), Msg: err.Error()}
	}

	if e.limiter != nil && !e.limiter.Allow() {
		return result.Result{Status: result.StatusError, Duration: time.Since(start), Msg: "rate limit exceeded; try again shortly"}
	}

	clientID := uuid.NewString()
	invLogger := log.WithInvocation(e.logger, toolName, clientID)
	promptID, res, err := e.waiter.Run(ctx, nodes, clientID, nil, md.Mapping.OutputMappings)
	if err != nil {
		invLogger.Warn("workflow invocation failed", "error", err)
		return result.Result{Status: result.StatusError, PromptID: promptID, Duration: time.Since(start), Msg: err.Error()}
	}

	if res.Status != result.StatusCompleted {
		return res
	}

	e.rehost(ctx, &res, invLogger)
	return res
}

// loadAndParse re-reads and re-parses the graph file on every invocation, so
// the write-back mapping always agrees with what the caller was shown.
func (e *Executor) loadAndParse(graphPath, toolName string) (model.Metadata, *parser.Graph, error) {
	data, err := os.ReadFile(graphPath)
	if err != nil {
		return model.Metadata{}, nil, gatewayerrors.Wrapf(err, "reading workflow file %s", graphPath)
	}
	graph, err := parser.ParseGraph(data)
	if err != nil {
		return model.Metadata{}, nil, &gatewayerrors.ParseError{Path: graphPath, Reason: "invalid json", Cause: err}
	}
	md, err := e.parser.Parse(graph, toolName)
	if err != nil {
		return model.Metadata{}, nil, err
	}
	return md, graph, nil
}

// applyParams writes each parameter mapping's resolved value into the
// corresponding node input, in declared order, choosing plain vs.
// media-upload write mode by the node's class type.
func (e *Executor) applyParams(ctx context.Context, md model.Metadata, nodes map[string]any, params map[string]any) error {
	for _, m := range md.Mapping.ParamMappings {
		value, err := e.resolveParam(md, m, params)
		if err != nil {
			return err
		}

		if mediaUploadClassTypes[m.NodeClassType] {
			value, err = e.resolveMediaValue(ctx, value)
			if err != nil {
				return err
			}
		}

		node, ok := nodes[m.NodeID].(map[string]any)
		if !ok {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			inputs = map[string]any{}
			node["inputs"] = inputs
		}
		inputs[m.InputField] = value
	}
	return nil
}

func (e *Executor) resolveParam(md model.Metadata, m model.ParamMapping, params map[string]any) (any, error) {
	if v, ok := params[m.ParamName]; ok {
		return v, nil
	}
	info, ok := md.Params[m.ParamName]
	if !ok {
		return nil, &gatewayerrors.ValidationError{Field: m.ParamName, Message: "unknown parameter"}
	}
	if info.Required {
		return nil, &gatewayerrors.ValidationError{Field: m.ParamName, Message: "missing required parameter"}
	}
	return info.Default, nil
}

// resolveMediaValue substitutes an http(s) URL value with the engine-
// assigned handle from uploading it through the media-upload endpoint;
// any other value (already a media reference) passes through unchanged.
func (e *Executor) resolveMediaValue(ctx context.Context, value any) (any, error) {
	s, ok := value.(string)
	if !ok || !isHTTPURL(s) {
		return value, nil
	}

	data, contentType, err := e.engine.Download(ctx, s)
	if err != nil {
		return nil, gatewayerrors.Wrapf(err, "downloading media input %s", s)
	}
	filename := filenameFromURL(s)
	handle, err := e.engine.UploadMedia(ctx, filename, data, contentType)
	if err != nil {
		return nil, gatewayerrors.Wrapf(err, "uploading media input %s to engine", s)
	}
	return handle, nil
}

// rehost replaces every media URL in res with a blob-store URL, uploading
// each distinct URL exactly once and preserving first-seen order.
func (e *Executor) rehost(ctx context.Context, res *result.Result, logger *slog.Logger) {
	cache := map[string]string{}
	rehostOne := func(url string) string {
		if cached, ok := cache[url]; ok {
			return cached
		}
		rehosted, err := e.blob.Upload(ctx, url, "")
		if err != nil {
			logger.Warn("failed to rehost engine output", "url", url, "error", err)
			cache[url] = url
			return url
		}
		cache[url] = rehosted
		return rehosted
	}

	res.Images = rehostAll(res.Images, rehostOne)
	res.Videos = rehostAll(res.Videos, rehostOne)
	res.Audios = rehostAll(res.Audios, rehostOne)
	res.ImagesByVar = rehostByVar(res.ImagesByVar, rehostOne)
	res.VideosByVar = rehostByVar(res.VideosByVar, rehostOne)
	res.AudiosByVar = rehostByVar(res.AudiosByVar, rehostOne)
}

func rehostAll(urls []string, rehostOne func(string) string) []string {
	if urls == nil {
		return nil
	}
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = rehostOne(u)
	}
	return out
}

func rehostByVar(byVar map[string][]string, rehostOne func(string) string) map[string][]string {
	if byVar == nil {
		return nil
	}
	out := make(map[string][]string, len(byVar))
	for k, v := range byVar {
		out[k] = rehostAll(v, rehostOne)
	}
	return out
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func filenameFromURL(rawURL string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

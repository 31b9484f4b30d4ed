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

package wait

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pixelle-mcp/gateway/internal/engine"
	"github.com/pixelle-mcp/gateway/internal/log"
	"github.com/pixelle-mcp/gateway/internal/workflow/model"
	"github.com/pixelle-mcp/gateway/internal/workflow/result"
)

// historyClient is the subset of engine.Client a Poller needs, so tests can
// substitute a fake without standing up an HTTP server.
type historyClient interface {
	Submit(ctx context.Context, graph map[string]any, clientID string, extra map[string]any) (string, error)
	History(ctx context.Context, promptID string) (engine.HistoryEntry, bool, error)
	ViewURL(filename, subfolder, mediaType string) string
}

// Poller is the history-polling Waiter: submit, then repeatedly fetch
// /history until the engine reports completion or error.
type Poller struct {
	client       historyClient
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewPoller creates a history-polling Waiter.
func NewPoller(client historyClient, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{client: client, pollInterval: time.Second, logger: logger}
}

// Run implements Waiter.
func (p *Poller) Run(ctx context.Context, graph map[string]any, clientID string, extra map[string]any, outputVars []model.OutputMapping) (string, result.Result, error) {
	start := time.Now()
	logger := log.WithCorrelationID(p.logger, clientID)
	promptID, err := p.client.Submit(ctx, graph, clientID, extra)
	if err != nil {
		return "", result.Result{}, err
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		entry, ok, err := p.client.History(ctx, promptID)
		if err == nil && ok {
			if entry.Status.StatusStr == "error" {
				return promptID, result.Result{Status: result.StatusError, PromptID: promptID, Duration: time.Since(start), Msg: extractExceptionMessages(entry.Status.Messages)}, nil
			}
			if len(entry.Outputs) > 0 {
				res := normalize(entry.Outputs, outputVars, p.client.ViewURL)
				res.PromptID = promptID
				res.Duration = time.Since(start)
				return promptID, res, nil
			}
		}

		select {
		case <-ctx.Done():
			logger.Debug("poll timed out waiting for engine completion", log.PromptIDKey, promptID)
			return promptID, result.Result{Status: result.StatusTimeout, PromptID: promptID, Duration: time.Since(start)}, nil
		case <-ticker.C:
		}
	}
}

// extractExceptionMessages pulls "exception_message" fields out of the
// engine's status.messages array, which is a list of [type, body] pairs.
func extractExceptionMessages(messages []json.RawMessage) string {
	var texts []string
	for _, raw := range messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var msgType string
		if err := json.Unmarshal(pair[0], &msgType); err != nil || msgType != "execution_error" {
			continue
		}
		var body struct {
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &body); err == nil && body.ExceptionMessage != "" {
			texts = append(texts, body.ExceptionMessage)
		}
	}
	if len(texts) == 0 {
		return "engine reported an execution error"
	}
	joined := texts[0]
	for _, t := range texts[1:] {
		joined += "; " + t
	}
	return joined
}

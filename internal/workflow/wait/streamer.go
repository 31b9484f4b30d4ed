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

	"github.com/gorilla/websocket"

	"github.com/pixelle-mcp/gateway/internal/log"
	"github.com/pixelle-mcp/gateway/internal/workflow/model"
	"github.com/pixelle-mcp/gateway/internal/workflow/result"
)

// streamClient is the subset of engine.Client a Streamer needs.
type streamClient interface {
	Submit(ctx context.Context, graph map[string]any, clientID string, extra map[string]any) (string, error)
	Stream(ctx context.Context, clientID string) (*websocket.Conn, error)
	ViewURL(filename, subfolder, mediaType string) string
}

// Streamer is the event-stream Waiter: open the engine's WebSocket status
// stream before submitting (to avoid a race against a fast job), then read
// frames until a completion sentinel, an error frame, or the deadline.
type Streamer struct {
	client      streamClient
	recvTimeout time.Duration
	logger      *slog.Logger
}

// NewStreamer creates an event-stream Waiter.
func NewStreamer(client streamClient, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{client: client, recvTimeout: 3 * time.Second, logger: logger}
}

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Run implements Waiter.
func (s *Streamer) Run(ctx context.Context, graph map[string]any, clientID string, extra map[string]any, outputVars []model.OutputMapping) (string, result.Result, error) {
	start := time.Now()
	conn, err := s.client.Stream(ctx, clientID)
	if err != nil {
		return "", result.Result{}, err
	}
	defer conn.Close()

	promptID, err := s.client.Submit(ctx, graph, clientID, extra)
	if err != nil {
		return "", result.Result{}, err
	}

	logger := log.WithCorrelationID(s.logger, clientID)
	collected := map[string]json.RawMessage{}

	// A read error on a websocket connection is permanent, so the deadline
	// is enforced by closing the connection once ctx is done rather than by
	// per-read timeouts.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return promptID, result.Result{Status: result.StatusTimeout, PromptID: promptID, Duration: time.Since(start)}, nil
			}
			if isTimeout(err) {
				select {
				case <-ctx.Done():
					return promptID, result.Result{Status: result.StatusTimeout, PromptID: promptID, Duration: time.Since(start)}, nil
				default:
					continue
				}
			}
			return promptID, result.Result{Status: result.StatusError, PromptID: promptID, Duration: time.Since(start), Msg: "engine event stream closed unexpectedly"}, nil
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "executing":
			var data struct {
				Node     *string `json:"node"`
				PromptID string  `json:"prompt_id"`
			}
			if err := json.Unmarshal(frame.Data, &data); err != nil {
				continue
			}
			if data.Node == nil && data.PromptID == promptID {
				if !hasAnyOutput(collected) {
					return promptID, result.Result{Status: result.StatusError, PromptID: promptID, Duration: time.Since(start), Msg: "engine reported completion with no collected outputs"}, nil
				}
				res := normalize(collected, outputVars, s.client.ViewURL)
				res.PromptID = promptID
				res.Duration = time.Since(start)
				return promptID, res, nil
			}

		case "executed", "execution_cached":
			var data struct {
				Node     string          `json:"node"`
				PromptID string          `json:"prompt_id"`
				Output   json.RawMessage `json:"output"`
			}
			if err := json.Unmarshal(frame.Data, &data); err != nil {
				continue
			}
			if data.PromptID == promptID && len(data.Output) > 0 {
				collected[data.Node] = data.Output
			}

		case "execution_error":
			var data struct {
				PromptID         string `json:"prompt_id"`
				ExceptionMessage string `json:"exception_message"`
			}
			if err := json.Unmarshal(frame.Data, &data); err == nil && data.PromptID == promptID {
				return promptID, result.Result{Status: result.StatusError, PromptID: promptID, Duration: time.Since(start), Msg: data.ExceptionMessage}, nil
			}

		case "status":
			logger.Debug("engine queue status", log.PromptIDKey, promptID, "data", string(frame.Data))
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

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

// Package wait implements the two interchangeable strategies for detecting
// that the inference engine has finished a submitted prompt: polling its
// history endpoint, and consuming its WebSocket event stream. Both share one
// normalization pass from raw per-node outputs into a Result.
package wait

import (
	"context"

	"github.com/pixelle-mcp/gateway/internal/workflow/model"
	"github.com/pixelle-mcp/gateway/internal/workflow/result"
)

// Waiter submits a prepared graph to the engine and blocks until it
// completes, fails, or the context's deadline expires, returning the
// normalized Result. outputVars gives node id -> output variable name, in
// the order the parser derived them, so the normalized Result's _by_var
// iteration order is deterministic rather than a function of Go's randomized
// map iteration. The two implementations differ in exactly when they submit
// relative to opening their completion-detection channel: the poller
// submits then polls; the streamer must open its event connection before
// submitting, to avoid a race against a fast-completing job.
type Waiter interface {
	Run(ctx context.Context, graph map[string]any, clientID string, extra map[string]any, outputVars []model.OutputMapping) (promptID string, res result.Result, err error)
}

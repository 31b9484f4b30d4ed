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

// Package result defines the typed execution result returned by a workflow
// invocation, plus a human-readable projection suitable for surfacing to a
// conversational tool caller.
package result

import (
	"fmt"
	"strings"
	"time"
)

// Status is the terminal state of an invocation.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusTimeout    Status = "timeout"
	StatusProcessing Status = "processing"
)

// Result is the outcome of one workflow invocation.
type Result struct {
	Status   Status        `json:"status"`
	PromptID string        `json:"prompt_id,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	Images []string `json:"images,omitempty"`
	Videos []string `json:"videos,omitempty"`
	Audios []string `json:"audios,omitempty"`
	Texts  []string `json:"texts,omitempty"`

	ImagesByVar map[string][]string `json:"images_by_var,omitempty"`
	VideosByVar map[string][]string `json:"videos_by_var,omitempty"`
	AudiosByVar map[string][]string `json:"audios_by_var,omitempty"`
	TextsByVar  map[string][]string `json:"texts_by_var,omitempty"`

	RawOutputs map[string]any `json:"outputs,omitempty"`
	Msg        string         `json:"msg,omitempty"`
}

// FlattenByVar concatenates a *_by_var map's values in the order given by
// varOrder, falling back to an arbitrary order for variables not present in
// varOrder (defensive; callers normally supply every key).
func FlattenByVar(byVar map[string][]string, varOrder []string) []string {
	flat := make([]string, 0)
	seen := make(map[string]bool, len(varOrder))
	for _, v := range varOrder {
		seen[v] = true
		flat = append(flat, byVar[v]...)
	}
	for k, v := range byVar {
		if !seen[k] {
			flat = append(flat, v...)
		}
	}
	return flat
}

// ToLLMResult renders the result as a single human-readable line, the
// projection a conversational caller is expected to read directly.
func (r Result) ToLLMResult() string {
	switch r.Status {
	case StatusError:
		if r.Msg != "" {
			return fmt.Sprintf("Execution failed: %s", r.Msg)
		}
		return "Execution failed."
	case StatusTimeout:
		return fmt.Sprintf("Execution timed out after %s.", r.Duration.Round(time.Second))
	case StatusProcessing:
		return "Execution is still processing."
	}

	var parts []string
	if n := len(r.Images); n > 0 {
		parts = append(parts, fmt.Sprintf("%d image(s)", n))
	}
	if n := len(r.Videos); n > 0 {
		parts = append(parts, fmt.Sprintf("%d video(s)", n))
	}
	if n := len(r.Audios); n > 0 {
		parts = append(parts, fmt.Sprintf("%d audio file(s)", n))
	}
	if n := len(r.Texts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d text output(s)", n))
	}
	if len(parts) == 0 {
		return "Execution completed with no outputs."
	}
	return fmt.Sprintf("Execution completed: %s.", strings.Join(parts, ", "))
}

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
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pixelle-mcp/gateway/internal/workflow/model"
	"github.com/pixelle-mcp/gateway/internal/workflow/result"
)

var (
	imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".bmp": true, ".tiff": true}
	videoExts = map[string]bool{".mp4": true, ".mov": true, ".avi": true, ".webm": true, ".gif": true}
	audioExts = map[string]bool{".mp3": true, ".wav": true, ".flac": true, ".ogg": true, ".aac": true, ".m4a": true, ".wma": true, ".opus": true}
)

type mediaRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// nodeOutput is the engine's per-node output shape: lists of media
// descriptors under "images"/"gifs"/"audio", plus an optional text value.
type nodeOutput struct {
	Images []mediaRef      `json:"images"`
	Gifs   []mediaRef      `json:"gifs"`
	Audio  []mediaRef      `json:"audio"`
	Text   json.RawMessage `json:"text"`
}

// ViewURLFunc builds a viewable URL for one engine output file.
type ViewURLFunc func(filename, subfolder, mediaType string) string

// normalize splits raw per-node engine outputs into images/videos/audios,
// groups them (and any text outputs) by output variable, and flattens the
// groups back into the flat lists a Result carries. outputVars gives the
// node id -> output variable mapping in the order the parser derived it;
// the _by_var iteration order follows that order, never raw's map order.
func normalize(raw map[string]json.RawMessage, outputVars []model.OutputMapping, viewURL ViewURLFunc) result.Result {
	imagesByVar := map[string][]string{}
	videosByVar := map[string][]string{}
	audiosByVar := map[string][]string{}
	textsByVar := map[string][]string{}

	nodeVar := make(map[string]string, len(outputVars))
	for _, ov := range outputVars {
		nodeVar[ov.NodeID] = ov.OutputVar
	}

	produced := map[string]bool{}
	for nodeID, rawNode := range raw {
		var out nodeOutput
		if err := json.Unmarshal(rawNode, &out); err != nil {
			continue
		}

		varName, ok := nodeVar[nodeID]
		if !ok {
			varName = nodeID
		}

		for _, m := range out.Images {
			appendBySuffix(imagesByVar, videosByVar, audiosByVar, varName, m, viewURL)
		}
		for _, m := range out.Gifs {
			appendBySuffix(imagesByVar, videosByVar, audiosByVar, varName, m, viewURL)
		}
		for _, m := range out.Audio {
			appendBySuffix(imagesByVar, videosByVar, audiosByVar, varName, m, viewURL)
		}

		if texts := extractTexts(out.Text); len(texts) > 0 {
			textsByVar[varName] = append(textsByVar[varName], texts...)
		}

		if len(out.Images) > 0 || len(out.Gifs) > 0 || len(out.Audio) > 0 || len(extractTexts(out.Text)) > 0 {
			produced[varName] = true
		}
	}

	order := varOrder(outputVars, produced)

	return result.Result{
		Status:      result.StatusCompleted,
		ImagesByVar: imagesByVar,
		VideosByVar: videosByVar,
		AudiosByVar: audiosByVar,
		TextsByVar:  textsByVar,
		Images:      result.FlattenByVar(imagesByVar, order),
		Videos:      result.FlattenByVar(videosByVar, order),
		Audios:      result.FlattenByVar(audiosByVar, order),
		Texts:       result.FlattenByVar(textsByVar, order),
	}
}

// varOrder returns the output variables that produced anything, ordered by
// the parser's declared output-mapping order. Variables that produced
// output but have no entry in outputVars (the node-id fallback case) are
// appended afterwards, sorted, so the result is still deterministic.
func varOrder(outputVars []model.OutputMapping, produced map[string]bool) []string {
	var order []string
	seen := map[string]bool{}
	for _, ov := range outputVars {
		if produced[ov.OutputVar] && !seen[ov.OutputVar] {
			seen[ov.OutputVar] = true
			order = append(order, ov.OutputVar)
		}
	}

	var leftover []string
	for v := range produced {
		if !seen[v] {
			leftover = append(leftover, v)
		}
	}
	sort.Strings(leftover)
	return append(order, leftover...)
}

func appendBySuffix(images, videos, audios map[string][]string, varName string, m mediaRef, viewURL ViewURLFunc) {
	url := viewURL(m.Filename, m.Subfolder, m.Type)
	ext := strings.ToLower(filepath.Ext(m.Filename))
	switch {
	case imageExts[ext]:
		images[varName] = append(images[varName], url)
	case videoExts[ext]:
		videos[varName] = append(videos[varName], url)
	case audioExts[ext]:
		audios[varName] = append(audios[varName], url)
	}
}

func extractTexts(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

// hasAnyOutput reports whether any per-node output record was accumulated,
// used by the event-stream strategy to distinguish a
// genuine empty result from "the completion sentinel fired with nothing
// collected" (itself an error per the shared contract).
func hasAnyOutput(raw map[string]json.RawMessage) bool {
	return len(raw) > 0
}

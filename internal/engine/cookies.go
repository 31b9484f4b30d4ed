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

package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	gatewayerrors "github.com/pixelle-mcp/gateway/pkg/errors"
)

// StaticCookieResolver resolves a configured cookie source once and caches
// the result for the life of the process. The source is one of: a literal
// JSON object, a literal "k=v; k=v" string, or an http(s) URL whose body is
// one of those two forms.
type StaticCookieResolver struct {
	source string
	client *http.Client

	once     sync.Once
	resolved string
	err      error
}

// NewStaticCookieResolver creates a resolver for the given configured
// source. An empty source resolves to an empty cookie header forever.
func NewStaticCookieResolver(source string) *StaticCookieResolver {
	return &StaticCookieResolver{source: source, client: &http.Client{Timeout: 10 * time.Second}}
}

// Resolve returns the "k=v; k2=v2" Cookie header value.
func (r *StaticCookieResolver) Resolve(ctx context.Context) (string, error) {
	r.once.Do(func() {
		r.resolved, r.err = r.resolve(ctx)
	})
	return r.resolved, r.err
}

func (r *StaticCookieResolver) resolve(ctx context.Context) (string, error) {
	content := strings.TrimSpace(r.source)
	if content == "" {
		return "", nil
	}

	if strings.HasPrefix(content, "http://") || strings.HasPrefix(content, "https://") {
		fetched, err := r.fetch(ctx, content)
		if err != nil {
			return "", gatewayerrors.Wrapf(err, "fetching cookies from %s", content)
		}
		content = strings.TrimSpace(fetched)
	}

	var cookies map[string]string
	if strings.HasPrefix(content, "{") {
		if err := json.Unmarshal([]byte(content), &cookies); err != nil {
			return "", gatewayerrors.Wrap(err, "parsing cookies json")
		}
	} else {
		cookies = parseCookiePairs(content)
	}

	return formatCookieHeader(cookies), nil
}

func (r *StaticCookieResolver) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &gatewayerrors.EngineError{Engine: "cookie-source", StatusCode: resp.StatusCode, Message: "failed to fetch cookies"}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func parseCookiePairs(content string) map[string]string {
	cookies := make(map[string]string)
	for _, pair := range strings.Split(content, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		cookies[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return cookies
}

func formatCookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	var b strings.Builder
	first := true
	for k, v := range cookies {
		if !first {
			b.WriteString("; ")
		}
		first = false
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}

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

// Package engine is a thin client for the external inference engine's HTTP
// and WebSocket surface: submitting graphs, polling history, streaming
// status, and uploading media inputs.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pixelle-mcp/gateway/internal/log"
	gatewayerrors "github.com/pixelle-mcp/gateway/pkg/errors"
	"github.com/pixelle-mcp/gateway/pkg/httpclient"
)

// Client talks to the inference engine's HTTP and WebSocket endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cookies    CookieResolver
	logger     *slog.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// Cookies, when set, resolves to a header value of the form
	// "k=v; k2=v2" for requests that need the engine's session.
	Cookies CookieResolver
	Timeout time.Duration
	Logger  *slog.Logger
}

// CookieResolver lazily resolves a Cookie header value.
type CookieResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// New creates an engine Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = timeout
	httpCfg.UserAgent = "pixelle-gateway-engine-client/1.0"
	httpClient, err := httpclient.New(httpCfg)
	if err != nil {
		// DefaultConfig with a positive timeout always validates; this is
		// unreachable in practice.
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		cookies:    cfg.Cookies,
		logger:     logger,
	}
}

// HistoryEntry is one prompt's entry in the engine's /history response.
type HistoryEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Messages  []json.RawMessage `json:"messages"`
	} `json:"status"`
	Outputs map[string]json.RawMessage `json:"outputs"`
}

// Submit posts a graph for execution and returns the assigned prompt id.
func (c *Client) Submit(ctx context.Context, graph map[string]any, clientID string, extra map[string]any) (string, error) {
	body := map[string]any{
		"prompt":    graph,
		"client_id": clientID,
	}
	if c.apiKey != "" {
		if extra == nil {
			extra = map[string]any{}
		}
		extra["api_key_comfy_org"] = c.apiKey
	}
	if extra != nil {
		body["extra_data"] = extra
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", gatewayerrors.Wrap(err, "encoding prompt submission")
	}

	log.Trace(c.logger, "submitting prompt", log.String("body", string(raw)))

	req, err := c.newRequest(ctx, http.MethodPost, "/prompt", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", gatewayerrors.Wrap(err, "submitting prompt")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	log.Trace(c.logger, "prompt submission response", log.Int("status", resp.StatusCode), log.String("body", string(respBody)))
	if resp.StatusCode != http.StatusOK {
		return "", &gatewayerrors.EngineError{Engine: "comfyui", StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var parsed struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.PromptID == "" {
		return "", &gatewayerrors.EngineError{Engine: "comfyui", Message: "submit response missing prompt_id"}
	}
	return parsed.PromptID, nil
}

// History fetches the engine's history entry for a prompt. ok is false when
// the entry is not yet present (the caller should keep polling).
func (c *Client) History(ctx context.Context, promptID string) (HistoryEntry, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return HistoryEntry{}, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HistoryEntry{}, false, gatewayerrors.Wrap(err, "fetching history")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HistoryEntry{}, false, nil
	}

	var all map[string]HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return HistoryEntry{}, false, nil
	}
	entry, ok := all[promptID]
	return entry, ok, nil
}

// Stream opens the engine's event stream for a given client id, setting a
// Cookie header when a resolver is configured. The caller owns closing the
// returned connection.
func (c *Client) Stream(ctx context.Context, clientID string) (*websocket.Conn, error) {
	wsURL, err := c.wsURL(clientID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.cookies != nil {
		cookie, err := c.cookies.Resolve(ctx)
		if err == nil && cookie != "" {
			header.Set("Cookie", cookie)
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, gatewayerrors.Wrap(err, "opening engine event stream")
	}
	return conn, nil
}

func (c *Client) wsURL(clientID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", gatewayerrors.Wrapf(err, "parsing engine base url %s", c.baseURL)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = path.Join(u.Path, "/ws")
	q := u.Query()
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// UploadMedia uploads a local file's bytes to the engine's media upload
// endpoint and returns the engine-assigned handle (the name the engine will
// accept back as a node input value).
func (c *Client) UploadMedia(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return "", gatewayerrors.Wrap(err, "preparing media upload")
	}
	if _, err := part.Write(data); err != nil {
		return "", gatewayerrors.Wrap(err, "writing media upload body")
	}
	if err := w.Close(); err != nil {
		return "", gatewayerrors.Wrap(err, "finalizing media upload body")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload/image", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", gatewayerrors.Wrap(err, "uploading media to engine")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &gatewayerrors.EngineError{Engine: "comfyui", StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var parsed struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &gatewayerrors.EngineError{Engine: "comfyui", Message: "upload response missing name"}
	}
	return parsed.Name, nil
}

// ViewURL builds a viewable URL for an engine-produced output file.
func (c *Client) ViewURL(filename, subfolder, mediaType string) string {
	q := url.Values{}
	q.Set("filename", filename)
	if subfolder != "" {
		q.Set("subfolder", subfolder)
	}
	if mediaType != "" {
		q.Set("type", mediaType)
	}
	return fmt.Sprintf("%s/view?%s", c.baseURL, q.Encode())
}

// Download fetches arbitrary bytes from the engine, honoring the configured
// cookie resolver (used for authenticated media re-hosting).
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", gatewayerrors.Wrapf(err, "building download request for %s", rawURL)
	}
	if c.cookies != nil {
		cookie, err := c.cookies.Resolve(ctx)
		if err == nil && cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", gatewayerrors.Wrapf(err, "downloading %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &gatewayerrors.EngineError{Engine: "comfyui", StatusCode: resp.StatusCode, Message: "download failed for " + rawURL}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", gatewayerrors.Wrapf(err, "reading download body for %s", rawURL)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, gatewayerrors.Wrapf(err, "building request %s %s", method, path)
	}
	return req, nil
}

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

// Package blob is a thin client for the blob store used to rehost engine
// outputs under stable URLs: upload bytes/files/URLs and get a URL back.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	gatewayerrors "github.com/pixelle-mcp/gateway/pkg/errors"
	"github.com/pixelle-mcp/gateway/pkg/httpclient"
)

// Downloader fetches bytes from a URL, abstracting over whether the source
// needs engine authentication (the gateway wires the engine client in here
// so downloads of engine-produced media carry the right cookies).
type Downloader interface {
	Download(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// Client uploads bytes to the blob store and returns the stable URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	downloader Downloader
}

// New creates a blob Client. downloader resolves http(s):// sources passed
// to Upload; it may be nil if the caller never needs URL sources (Upload
// then rejects them rather than silently failing to fetch).
func New(baseURL string, downloader Downloader) *Client {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = 60 * time.Second
	httpCfg.UserAgent = "pixelle-gateway-blob-client/1.0"
	httpClient, err := httpclient.New(httpCfg)
	if err != nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		downloader: downloader,
	}
}

// Upload resolves source — raw bytes, a local file path, or an http(s)://
// URL — and uploads the resulting content, returning the blob store's URL.
// filename is preserved when given; otherwise it is inferred from the
// source (file base name, URL path suffix) or generated.
func (c *Client) Upload(ctx context.Context, source any, filename string) (string, error) {
	switch v := source.(type) {
	case []byte:
		return c.UploadBytes(ctx, v, filename)
	case string:
		if isHTTPURL(v) {
			return c.uploadFromURL(ctx, v, filename)
		}
		if filename != "" {
			data, err := os.ReadFile(v)
			if err != nil {
				return "", gatewayerrors.Wrapf(err, "reading file %s", v)
			}
			return c.UploadBytes(ctx, data, filename)
		}
		return c.UploadFile(ctx, v)
	default:
		return "", &gatewayerrors.ValidationError{
			Field:   "source",
			Message: fmt.Sprintf("unsupported upload source type %T", source),
		}
	}
}

func (c *Client) uploadFromURL(ctx context.Context, rawURL, filename string) (string, error) {
	if c.downloader == nil {
		return "", &gatewayerrors.ValidationError{
			Field:   "source",
			Message: "URL source requires a configured downloader",
		}
	}
	data, contentType, err := c.downloader.Download(ctx, rawURL)
	if err != nil {
		return "", gatewayerrors.Wrapf(err, "downloading %s", rawURL)
	}
	if filename == "" {
		filename = filenameFromURL(rawURL)
	}
	if filename == "" {
		filename = uuid.NewString() + extFromContentType(contentType)
	}
	return c.UploadBytes(ctx, data, filename)
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// filenameFromURL returns the last path segment of rawURL, stripping any
// query string or fragment; empty if the URL has no path segment.
func filenameFromURL(rawURL string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
		j := strings.Index(u, "/")
		if j < 0 {
			return ""
		}
		u = u[j:]
	}
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

func extFromContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "jpeg"):
		return ".jpg"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "mp4"):
		return ".mp4"
	case strings.Contains(contentType, "wav"):
		return ".wav"
	default:
		return ""
	}
}

// UploadBytes uploads raw bytes under filename (generated when empty) and
// returns the resulting URL.
func (c *Client) UploadBytes(ctx context.Context, data []byte, filename string) (string, error) {
	if filename == "" {
		filename = uuid.NewString() + guessExtFromContent(data)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", gatewayerrors.Wrap(err, "preparing blob upload")
	}
	if _, err := part.Write(data); err != nil {
		return "", gatewayerrors.Wrap(err, "writing blob upload body")
	}
	if err := w.Close(); err != nil {
		return "", gatewayerrors.Wrap(err, "finalizing blob upload body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return "", gatewayerrors.Wrap(err, "building blob upload request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &gatewayerrors.EngineError{Engine: "blob-store", Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &gatewayerrors.EngineError{Engine: "blob-store", StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var parsed struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.URL == "" {
		return "", &gatewayerrors.EngineError{Engine: "blob-store", Message: "upload response missing url"}
	}
	return parsed.URL, nil
}

// UploadFile reads a local file and uploads it, preserving its base name.
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", gatewayerrors.Wrapf(err, "reading file %s", path)
	}
	return c.UploadBytes(ctx, data, filepath.Base(path))
}

// guessExtFromContent special-cases the content types the original system
// distinguished explicitly; everything else falls back to extensionless.
func guessExtFromContent(data []byte) string {
	ct := http.DetectContentType(data)
	switch ct {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/tiff":
		return ".tif"
	default:
		return ""
	}
}

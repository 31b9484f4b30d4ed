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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_ReturnsPromptID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prompt", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "abc", body["client_id"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"prompt_id": "p-1"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	id, err := c.Submit(context.Background(), map[string]any{"1": map[string]any{}}, "abc", nil)
	require.NoError(t, err)
	assert.Equal(t, "p-1", id)
}

func TestSubmit_NonOKIsEngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Submit(context.Background(), map[string]any{}, "abc", nil)
	require.Error(t, err)
}

func TestHistory_MissingEntryIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, ok, err := c.History(context.Background(), "p-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistory_ReturnsOutputsWhenPresent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"p-1": {"outputs": {"9": {"images": [{"filename": "a.png"}]}}}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	entry, ok, err := c.History(context.Background(), "p-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, entry.Outputs, "9")
}

func TestUploadMedia_ReturnsEngineHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload/image", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "cat_1.jpg"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	name, err := c.UploadMedia(context.Background(), "cat.jpg", []byte("bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "cat_1.jpg", name)
}

func TestViewURL_BuildsQueryString(t *testing.T) {
	c := New(Config{BaseURL: "http://engine"})
	got := c.ViewURL("a.png", "sub", "output")
	assert.Contains(t, got, "filename=a.png")
	assert.Contains(t, got, "subfolder=sub")
	assert.Contains(t, got, "type=output")
}

func TestStaticCookieResolver_ParsesKeyValuePairs(t *testing.T) {
	r := NewStaticCookieResolver("a=1; b=2")
	header, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Contains(t, header, "a=1")
	assert.Contains(t, header, "b=2")
}

func TestStaticCookieResolver_ParsesJSON(t *testing.T) {
	r := NewStaticCookieResolver(`{"a": "1"}`)
	header, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a=1", header)
}

func TestStaticCookieResolver_EmptySourceResolvesEmpty(t *testing.T) {
	r := NewStaticCookieResolver("")
	header, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Empty(t, header)
}

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

package blob

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloader struct {
	data        []byte
	contentType string
	err         error
	gotURL      string
}

func (f *fakeDownloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	f.gotURL = url
	return f.data, f.contentType, f.err
}

func TestUploadBytes_ReturnsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "cat.jpg", hdr.Filename)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://blob/cat.jpg"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	url, err := c.UploadBytes(context.Background(), []byte("data"), "cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://blob/cat.jpg", url)
}

func TestUploadBytes_GeneratesFilenameWhenEmpty(t *testing.T) {
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		gotFilename = hdr.Filename
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://blob/x"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.UploadBytes(context.Background(), []byte{0xFF, 0xD8, 0xFF}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, gotFilename)
}

func TestUploadBytes_NonOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.UploadBytes(context.Background(), []byte("data"), "f.bin")
	require.Error(t, err)
}

func TestUpload_BytesSource(t *testing.T) {
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		gotFilename = hdr.Filename
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://blob/bytes"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	url, err := c.Upload(context.Background(), []byte("raw data"), "note.txt")
	require.NoError(t, err)
	assert.Equal(t, "https://blob/bytes", url)
	assert.Equal(t, "note.txt", gotFilename)
}

func TestUpload_LocalPathSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cat.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg bytes"), 0o644))

	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		gotFilename = hdr.Filename
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://blob/cat.jpg"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	url, err := c.Upload(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, "https://blob/cat.jpg", url)
	assert.Equal(t, "cat.jpg", gotFilename)
}

func TestUpload_URLSource_DownloadsThenUploads(t *testing.T) {
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		gotFilename = hdr.Filename
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://blob/rehosted.png"})
	}))
	defer srv.Close()

	downloader := &fakeDownloader{data: []byte("png bytes"), contentType: "image/png"}
	c := New(srv.URL, downloader)

	url, err := c.Upload(context.Background(), "https://engine.example/view/output.png", "")
	require.NoError(t, err)
	assert.Equal(t, "https://blob/rehosted.png", url)
	assert.Equal(t, "https://engine.example/view/output.png", downloader.gotURL)
	assert.Equal(t, "output.png", gotFilename)
}

func TestUpload_URLSource_WithoutDownloaderIsError(t *testing.T) {
	c := New("http://blob.invalid", nil)
	_, err := c.Upload(context.Background(), "https://engine.example/view/output.png", "")
	require.Error(t, err)
}

func TestUpload_UnsupportedSourceTypeIsError(t *testing.T) {
	c := New("http://blob.invalid", nil)
	_, err := c.Upload(context.Background(), 42, "")
	require.Error(t, err)
}

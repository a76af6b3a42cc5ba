package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
)

func TestFetchThumbnail(t *testing.T) {
	assert := assert_.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jpeg bytes"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "thumb.jpg")
	thumbs := NewThumbnails(5 * time.Second)
	assert.NoError(thumbs.FetchThumbnail(context.Background(), server.URL, dest))

	data, err := os.ReadFile(dest)
	assert.NoError(err)
	assert.Equal("jpeg bytes", string(data))
}

func TestFetchThumbnailHTTPError(t *testing.T) {
	assert := assert_.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "thumb.jpg")
	thumbs := NewThumbnails(5 * time.Second)
	err := thumbs.FetchThumbnail(context.Background(), server.URL, dest)
	assert.Error(err)
	// No file left behind on failure.
	_, statErr := os.Stat(dest)
	assert.True(os.IsNotExist(statErr))
}

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("spreadsheet-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	client := NewClient(5*time.Second, 0, nil)

	dest, err := client.Download(context.Background(), srv.URL+"/data/batch_a.xlsx", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "batch_a.xlsx"), dest)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "spreadsheet-bytes", string(content))
}

func TestClient_DownloadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := NewClient(5*time.Second, 0, nil)
	_, err := client.Download(context.Background(), srv.URL+"/missing.xlsx", t.TempDir())
	require.Error(t, err)
}

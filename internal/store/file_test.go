package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir, nil)

	state := []byte(`{"db_name":"test_db"}`)
	require.NoError(t, fs.Save(context.Background(), "test_db", state))

	got, err := fs.Load(context.Background(), "test_db")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	assert.Equal(t, filepath.Join(dir, "test_db.mdb"), fs.Path("test_db"))
}

func TestFileStore_LoadMissing(t *testing.T) {
	fs := NewFileStore(t.TempDir(), nil)
	_, err := fs.Load(context.Background(), "nope")
	require.Error(t, err)
}

func TestSplitDBPath(t *testing.T) {
	root, name, err := SplitDBPath("/data/srrsh/hypno_db.mdb")
	require.NoError(t, err)
	assert.Equal(t, "/data/srrsh", root)
	assert.Equal(t, "hypno_db", name)

	// 根目录从路径派生，缺省为当前目录
	root, name, err = SplitDBPath("hypno_db.mdb")
	require.NoError(t, err)
	assert.Equal(t, ".", root)
	assert.Equal(t, "hypno_db", name)

	_, _, err = SplitDBPath("/data/srrsh/hypno_db.json")
	require.Error(t, err)
}

package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filestore/pkg/filestore"
	"github.com/tendant/simple-filestore/pkg/filestore/storage/storetest"
)

func newTestBackend(t *testing.T, config Config) *Backend {
	t.Helper()
	if config.BaseDir == "" {
		config.BaseDir = t.TempDir()
	}
	b, err := New(config)
	require.NoError(t, err)
	return b
}

func TestFSBackend_Conformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) filestore.BlobStore {
		return newTestBackend(t, Config{})
	})
}

func TestFSBackend_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base directory is required")
}

func TestFSBackend_RejectsUnknownAlgorithm(t *testing.T) {
	_, err := New(Config{BaseDir: t.TempDir(), Algorithm: "crc32"})
	assert.ErrorIs(t, err, filestore.ErrValidation)
}

func TestFSBackend_ShardedLayout(t *testing.T) {
	tmp := t.TempDir()
	b := newTestBackend(t, Config{BaseDir: tmp})
	ctx := context.Background()

	hash, err := b.Put(ctx, filestore.Bytes([]byte("hello world")))
	require.NoError(t, err)

	want := filepath.Join(tmp, "b9", "4d", "27", hash)
	assert.Equal(t, want, b.FilePath(hash))
	assert.Equal(t, filepath.Join(tmp, "b9", "4d", "27"), b.DirPath(hash))

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestFSBackend_PathsForDepth(t *testing.T) {
	root := t.TempDir()
	b := newTestBackend(t, Config{BaseDir: root, Depth: 2})

	assert.Equal(t, filepath.Join(root, "40", "b2"), b.DirPath("40b2da21ac35"))
	assert.Equal(t, filepath.Join(root, "40", "b2", "40b2da21ac35"), b.FilePath("40b2da21ac35"))
	assert.Equal(t, filepath.Join(root, "ab"), b.DirPath("abc"), "short hashes get the segments that fit")
}

func TestFSBackend_CustomLayoutAndMD5(t *testing.T) {
	tmp := t.TempDir()
	b := newTestBackend(t, Config{BaseDir: tmp, Depth: 2, Width: 3, Algorithm: filestore.MD5})
	ctx := context.Background()

	hash, err := b.Put(ctx, filestore.Bytes([]byte("hello world")))
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", hash)
	assert.Equal(t, filepath.Join(tmp, "5eb", "63b", hash), b.FilePath(hash))
	assert.FileExists(t, b.FilePath(hash))
}

func TestFSBackend_TempFilesAreRemoved(t *testing.T) {
	tmp := t.TempDir()
	b := newTestBackend(t, Config{BaseDir: tmp})
	ctx := context.Background()

	_, err := b.Put(ctx, filestore.FromReader(strings.NewReader("streamed")))
	require.NoError(t, err)
	_, err = b.Put(ctx, filestore.FromReader(strings.NewReader("streamed")))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(tmp, tempDirName))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFSBackend_FailedStreamLeavesNothing(t *testing.T) {
	tmp := t.TempDir()
	b := newTestBackend(t, Config{BaseDir: tmp})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Put(ctx, filestore.FromReader(strings.NewReader("never stored")))
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(filepath.Join(tmp, tempDirName))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFSBackend_DeletePrunesEmptyDirectories(t *testing.T) {
	tmp := t.TempDir()
	b := newTestBackend(t, Config{BaseDir: tmp})
	ctx := context.Background()

	hash, err := b.Put(ctx, filestore.Bytes([]byte("hello world")))
	require.NoError(t, err)
	require.NoError(t, b.Delete(ctx, hash))

	_, err = os.Stat(filepath.Join(tmp, "b9"))
	assert.True(t, os.IsNotExist(err), "expected shard directories removed, stat err=%v", err)
	assert.DirExists(t, tmp)
}

func TestFSBackend_DeleteKeepsSharedShardDirectory(t *testing.T) {
	tmp := t.TempDir()
	b := newTestBackend(t, Config{BaseDir: tmp, Depth: 1, Width: 1})
	ctx := context.Background()

	// Both hashes start with "b"; the first is "hello world", the second a fixed sibling.
	first, err := b.Put(ctx, filestore.Bytes([]byte("hello world")))
	require.NoError(t, err)
	sibling := "b" + strings.Repeat("1", 63)
	require.NoError(t, os.WriteFile(b.FilePath(sibling), []byte("x"), fileMode))

	require.NoError(t, b.Delete(ctx, first))
	assert.DirExists(t, filepath.Join(tmp, "b"))
	assert.FileExists(t, b.FilePath(sibling))
}

func TestFSBackend_InvalidHash(t *testing.T) {
	b := newTestBackend(t, Config{})
	ctx := context.Background()

	for _, hash := range []string{"", "../../etc/passwd", strings.Repeat("G", 64), strings.Repeat("a", 32)} {
		_, err := b.Get(ctx, hash)
		assert.ErrorIs(t, err, filestore.ErrValidation, hash)
		_, err = b.Has(ctx, hash)
		assert.ErrorIs(t, err, filestore.ErrValidation, hash)
	}
}

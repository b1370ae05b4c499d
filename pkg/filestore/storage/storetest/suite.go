// Package storetest provides a conformance suite that every
// filestore.BlobStore implementation must pass.
package storetest

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filestore/pkg/filestore"
)

// StoreFactory creates a fresh, empty blob store for one test.
type StoreFactory func(t *testing.T) filestore.BlobStore

// RunConformanceSuite runs the blob store conformance tests against the
// stores produced by factory. The stores must use sha256.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("PutReturnsContentHash", func(t *testing.T) { testPutReturnsContentHash(t, factory) })
	t.Run("PutIsIdempotent", func(t *testing.T) { testPutIsIdempotent(t, factory) })
	t.Run("PutStream", func(t *testing.T) { testPutStream(t, factory) })
	t.Run("EmptyContent", func(t *testing.T) { testEmptyContent(t, factory) })
	t.Run("GetStream", func(t *testing.T) { testGetStream(t, factory) })
	t.Run("MissingBlob", func(t *testing.T) { testMissingBlob(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("ConcurrentIdenticalPuts", func(t *testing.T) { testConcurrentIdenticalPuts(t, factory) })
}

const (
	helloWorld     = "hello world"
	helloWorldHash = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	emptyHash      = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	missingHash    = "0000000000000000000000000000000000000000000000000000000000000000"
)

func testPutReturnsContentHash(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	hash, err := store.Put(ctx, filestore.Bytes([]byte(helloWorld)))
	require.NoError(t, err)
	assert.Equal(t, helloWorldHash, hash)

	ok, err := store.Has(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, helloWorld, string(data))
}

func testPutIsIdempotent(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	first, err := store.Put(ctx, filestore.Bytes([]byte(helloWorld)))
	require.NoError(t, err)
	second, err := store.Put(ctx, filestore.Bytes([]byte(helloWorld)))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	data, err := store.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, helloWorld, string(data))
}

func testPutStream(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	// Larger than the usual copy buffer so the stream is read in several chunks.
	payload := bytes.Repeat([]byte("0123456789abcdef"), 16*1024)
	streamed, err := store.Put(ctx, filestore.FromReader(bytes.NewReader(payload)))
	require.NoError(t, err)

	buffered, err := store.Put(ctx, filestore.Bytes(payload))
	require.NoError(t, err)
	assert.Equal(t, buffered, streamed)

	data, err := store.Get(ctx, streamed)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func testEmptyContent(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	hash, err := store.Put(ctx, filestore.Bytes(nil))
	require.NoError(t, err)
	assert.Equal(t, emptyHash, hash)

	data, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func testGetStream(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	hash, err := store.Put(ctx, filestore.FromReader(strings.NewReader(helloWorld)))
	require.NoError(t, err)

	rc, err := store.GetStream(ctx, hash)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, helloWorld, string(data))
}

func testMissingBlob(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	ok, err := store.Has(ctx, missingHash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, missingHash)
	assert.ErrorIs(t, err, filestore.ErrNotFound)

	_, err = store.GetStream(ctx, missingHash)
	assert.ErrorIs(t, err, filestore.ErrNotFound)

	err = store.Delete(ctx, missingHash)
	assert.ErrorIs(t, err, filestore.ErrNotFound)
}

func testDelete(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	hash, err := store.Put(ctx, filestore.Bytes([]byte(helloWorld)))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, hash))

	ok, err := store.Has(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, store.Delete(ctx, hash), filestore.ErrNotFound)

	// The same content can be stored again after deletion.
	again, err := store.Put(ctx, filestore.Bytes([]byte(helloWorld)))
	require.NoError(t, err)
	assert.Equal(t, hash, again)
}

func testConcurrentIdenticalPuts(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	const writers = 8
	hashes := make([]string, writers)
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hashes[i], errs[i] = store.Put(ctx, filestore.FromReader(strings.NewReader(helloWorld)))
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, helloWorldHash, hashes[i])
	}

	data, err := store.Get(ctx, helloWorldHash)
	require.NoError(t, err)
	assert.Equal(t, helloWorld, string(data))
}

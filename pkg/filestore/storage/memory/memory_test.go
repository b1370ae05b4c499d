package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filestore/pkg/filestore"
	memorystorage "github.com/tendant/simple-filestore/pkg/filestore/storage/memory"
	"github.com/tendant/simple-filestore/pkg/filestore/storage/storetest"
)

func TestMemoryBackend_Conformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) filestore.BlobStore {
		return memorystorage.New("")
	})
}

func TestMemoryBackend_Dedup(t *testing.T) {
	backend := memorystorage.New(filestore.SHA256)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := backend.Put(ctx, filestore.Bytes([]byte("same bytes")))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, backend.Len())
}

func TestMemoryBackend_GetReturnsCopy(t *testing.T) {
	backend := memorystorage.New("")
	ctx := context.Background()

	input := []byte("original")
	hash, err := backend.Put(ctx, filestore.Bytes(input))
	require.NoError(t, err)
	input[0] = 'X'

	data, err := backend.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	data[0] = 'Y'
	again, err := backend.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "original", string(again))
}

func TestMemoryBackend_MD5(t *testing.T) {
	backend := memorystorage.New(filestore.MD5)
	hash, err := backend.Put(context.Background(), filestore.Bytes([]byte("hello world")))
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", hash)
}

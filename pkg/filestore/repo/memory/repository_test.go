package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filestore/pkg/filestore"
	"github.com/tendant/simple-filestore/pkg/filestore/repo/memory"
	"github.com/tendant/simple-filestore/pkg/filestore/repo/repotest"
)

func TestMemoryRepository_Conformance(t *testing.T) {
	repotest.RunConformanceSuite(t, func(t *testing.T) filestore.MetadataStore {
		return memory.New()
	})
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	created, err := repo.Put(ctx, "file-1", filestore.FileFields{
		FileMeta:    filestore.FileMeta{ContentType: "text/plain", Tags: []string{"a"}},
		ContentHash: "abc",
	})
	require.NoError(t, err)

	created.Tags[0] = "mutated"
	created.IsDeleted = true

	got, err := repo.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Tags)
	assert.False(t, got.IsDeleted)

	now := time.Now()
	require.NoError(t, repo.SetAccessDate(ctx, "file-1", now))
	got, err = repo.Get(ctx, "file-1")
	require.NoError(t, err)
	*got.AccessDate = time.Time{}

	again, err := repo.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.True(t, again.AccessDate.Equal(filestore.Timestamp(now)))
}

package badger

import (
	"context"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filestore/pkg/filestore"
	"github.com/tendant/simple-filestore/pkg/filestore/repo/repotest"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestBadgerRepository_Conformance(t *testing.T) {
	repotest.RunConformanceSuite(t, func(t *testing.T) filestore.MetadataStore {
		return newTestRepository(t)
	})
}

func TestBadgerRepository_OnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := Open(Config{Path: dir})
	require.NoError(t, err)
	_, err = repo.Put(ctx, "file-1", filestore.FileFields{ContentHash: "abc"})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ContentHash)
}

func TestBadgerRepository_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestBadgerRepository_UpdateIndexFollowsBumps(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.Put(ctx, "file/with/slashes", filestore.FileFields{ContentHash: "abc"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, repo.SetDeleted(ctx, "file/with/slashes"))

	// Exactly one index entry survives, at the bumped date.
	var keys []string
	require.NoError(t, repo.db.View(func(txn *badgerdb.Txn) error {
		var err error
		keys, err = scanKeys(ctx, txn, []byte(prefixUpdate), nil)
		return err
	}))
	require.Len(t, keys, 1)

	id, micros, ok := parseUpdateKey(keys[0])
	require.True(t, ok)
	assert.Equal(t, "file/with/slashes", id)
	assert.Greater(t, micros, created.UpdateDate.UnixMicro())

	require.NoError(t, repo.Delete(ctx, "file/with/slashes"))
	require.NoError(t, repo.db.View(func(txn *badgerdb.Txn) error {
		var err error
		keys, err = scanKeys(ctx, txn, []byte(prefixUpdate), nil)
		return err
	}))
	assert.Empty(t, keys)
}

func TestParseUpdateKey(t *testing.T) {
	id, micros, ok := parseUpdateKey("00000000000000001234/a/b")
	require.True(t, ok)
	assert.Equal(t, "a/b", id)
	assert.Equal(t, int64(1234), micros)

	_, _, ok = parseUpdateKey("garbage")
	assert.False(t, ok)
}

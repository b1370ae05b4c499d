// Package repotest provides a conformance suite that every
// filestore.MetadataStore implementation must pass.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filestore/pkg/filestore"
)

// StoreFactory creates a fresh, empty metadata store for one test. The
// factory registers its own cleanup.
type StoreFactory func(t *testing.T) filestore.MetadataStore

// RunConformanceSuite runs the metadata store conformance tests against the
// stores produced by factory.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) { testPutAndGet(t, factory) })
	t.Run("PutConflict", func(t *testing.T) { testPutConflict(t, factory) })
	t.Run("ConcurrentPutSameID", func(t *testing.T) { testConcurrentPutSameID(t, factory) })
	t.Run("MissingRecord", func(t *testing.T) { testMissingRecord(t, factory) })
	t.Run("SetDeleted", func(t *testing.T) { testSetDeleted(t, factory) })
	t.Run("SetAccessDate", func(t *testing.T) { testSetAccessDate(t, factory) })
	t.Run("SetUpdated", func(t *testing.T) { testSetUpdated(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("CountByHash", func(t *testing.T) { testCountByHash(t, factory) })
	t.Run("FindFilters", func(t *testing.T) { testFindFilters(t, factory) })
	t.Run("FindSortAndPaginate", func(t *testing.T) { testFindSortAndPaginate(t, factory) })
	t.Run("FindSelect", func(t *testing.T) { testFindSelect(t, factory) })
	t.Run("FindInvalidOptions", func(t *testing.T) { testFindInvalidOptions(t, factory) })
	t.Run("ListUpdated", func(t *testing.T) { testListUpdated(t, factory) })
	t.Run("ListUpdatedIncludesTombstones", func(t *testing.T) { testListUpdatedIncludesTombstones(t, factory) })
}

const (
	hashA = "aaaa000000000000000000000000000000000000000000000000000000000000"
	hashB = "bbbb000000000000000000000000000000000000000000000000000000000000"
)

func fields(hash string, tags ...string) filestore.FileFields {
	return filestore.FileFields{
		FileMeta: filestore.FileMeta{
			ContentType:   "text/plain",
			ContentLength: 11,
			Name:          "hello.txt",
			Tags:          tags,
		},
		ContentHash: hash,
	}
}

// putSpaced stores records with distinct timestamps so ordering by date is
// unambiguous.
func putSpaced(t *testing.T, store filestore.MetadataStore, hash string, ids ...string) []*filestore.FileRecord {
	t.Helper()
	records := make([]*filestore.FileRecord, 0, len(ids))
	for _, id := range ids {
		r, err := store.Put(context.Background(), id, fields(hash))
		require.NoError(t, err)
		records = append(records, r)
		time.Sleep(2 * time.Millisecond)
	}
	return records
}

func ids(records []*filestore.FileRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func testPutAndGet(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	before := filestore.Now()
	created, err := store.Put(ctx, "file-1", fields(hashA, "red", "blue"))
	require.NoError(t, err)

	assert.Equal(t, "file-1", created.ID)
	assert.Equal(t, hashA, created.ContentHash)
	assert.False(t, created.IsDeleted)
	assert.Nil(t, created.AccessDate)
	assert.True(t, created.CreateDate.Equal(created.UpdateDate))
	assert.False(t, created.CreateDate.Before(before))
	assert.Equal(t, time.UTC, created.CreateDate.Location())

	got, err := store.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", got.ContentType)
	assert.Equal(t, int64(11), got.ContentLength)
	assert.Equal(t, "hello.txt", got.Name)
	assert.Equal(t, []string{"red", "blue"}, got.Tags)
	assert.True(t, created.CreateDate.Equal(got.CreateDate))
	assert.True(t, created.UpdateDate.Equal(got.UpdateDate))
	assert.Equal(t, time.UTC, got.UpdateDate.Location())

	ok, err := store.Has(ctx, "file-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testPutConflict(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "file-1", fields(hashA))
	require.NoError(t, err)

	_, err = store.Put(ctx, "file-1", fields(hashB))
	assert.ErrorIs(t, err, filestore.ErrConflict)

	got, err := store.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, hashA, got.ContentHash)
}

func testConcurrentPutSameID(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Put(ctx, "contended", fields(hashA))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, filestore.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)
}

func testMissingRecord(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, filestore.ErrNotFound)

	ok, err := store.Has(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, store.Delete(ctx, "missing"), filestore.ErrNotFound)
	assert.ErrorIs(t, store.SetDeleted(ctx, "missing"), filestore.ErrNotFound)
	assert.ErrorIs(t, store.SetUpdated(ctx, "missing"), filestore.ErrNotFound)
	assert.ErrorIs(t, store.SetAccessDate(ctx, "missing", time.Now()), filestore.ErrNotFound)
}

func testSetDeleted(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	created, err := store.Put(ctx, "file-1", fields(hashA))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, store.SetDeleted(ctx, "file-1"))

	got, err := store.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.True(t, got.UpdateDate.After(created.UpdateDate))
	assert.True(t, got.CreateDate.Equal(created.CreateDate))

	// Soft-deleted records stay visible to Has and to hash counts.
	ok, err := store.Has(ctx, "file-1")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := store.Count(ctx, filestore.ByContentHash(hashA))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Deleting twice keeps the flag and never moves the date backwards.
	require.NoError(t, store.SetDeleted(ctx, "file-1"))
	again, err := store.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.True(t, again.IsDeleted)
	assert.False(t, again.UpdateDate.Before(got.UpdateDate))
}

func testSetAccessDate(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	created, err := store.Put(ctx, "file-1", fields(hashA))
	require.NoError(t, err)

	when := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.FixedZone("CET", 3600))
	require.NoError(t, store.SetAccessDate(ctx, "file-1", when))

	got, err := store.Get(ctx, "file-1")
	require.NoError(t, err)
	require.NotNil(t, got.AccessDate)
	assert.True(t, got.AccessDate.Equal(filestore.Timestamp(when)), "got %v", got.AccessDate)
	assert.True(t, got.UpdateDate.Equal(created.UpdateDate), "access must not bump the update date")
}

func testSetUpdated(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	created, err := store.Put(ctx, "file-1", fields(hashA))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, store.SetUpdated(ctx, "file-1"))

	got, err := store.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.True(t, got.UpdateDate.After(created.UpdateDate))
	assert.False(t, got.IsDeleted)
}

func testDelete(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "file-1", fields(hashA))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "file-1"))

	ok, err := store.Has(ctx, "file-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, "file-1")
	assert.ErrorIs(t, err, filestore.ErrNotFound)

	n, err := store.Count(ctx, filestore.ByContentHash(hashA))
	require.NoError(t, err)
	assert.Zero(t, n)

	// The id is free again after a hard delete.
	_, err = store.Put(ctx, "file-1", fields(hashB))
	require.NoError(t, err)
}

func testCountByHash(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Put(ctx, fmt.Sprintf("a-%d", i), fields(hashA))
		require.NoError(t, err)
	}
	_, err := store.Put(ctx, "b-0", fields(hashB))
	require.NoError(t, err)

	n, err := store.Count(ctx, filestore.ByContentHash(hashA))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = store.Count(ctx, filestore.ByContentHash(hashB))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Count(ctx, filestore.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	found, err := store.Find(ctx, filestore.ByContentHash(hashA), filestore.FindOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a-0", "a-1", "a-2"}, ids(found))
}

func testFindFilters(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "red-1", fields(hashA, "red"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "red-2", fields(hashB, "red", "big"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "plain", fields(hashB))
	require.NoError(t, err)
	require.NoError(t, store.SetDeleted(ctx, "red-2"))

	deleted, live := true, false
	tests := []struct {
		name  string
		query filestore.Query
		want  []string
	}{
		{name: "all", query: filestore.Query{}, want: []string{"plain", "red-1", "red-2"}},
		{name: "tag", query: filestore.Query{Tag: "red"}, want: []string{"red-1", "red-2"}},
		{name: "deleted", query: filestore.Query{Deleted: &deleted}, want: []string{"red-2"}},
		{name: "live", query: filestore.Query{Deleted: &live}, want: []string{"plain", "red-1"}},
		{name: "hash and tag", query: filestore.Query{ContentHash: hashB, Tag: "big"}, want: []string{"red-2"}},
		{name: "no match", query: filestore.Query{Tag: "green"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := store.Find(ctx, tt.query, filestore.FindOptions{})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids(found))

			n, err := store.Count(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.want)), n)
		})
	}
}

func testFindSortAndPaginate(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	putSpaced(t, store, hashA, "f1", "f2", "f3", "f4", "f5")

	newest, err := store.Find(ctx, filestore.Query{}, filestore.FindOptions{Sort: filestore.SortUpdateDesc})
	require.NoError(t, err)
	assert.Equal(t, []string{"f5", "f4", "f3", "f2", "f1"}, ids(newest))

	oldest, err := store.Find(ctx, filestore.Query{}, filestore.FindOptions{Sort: filestore.SortUpdateAsc})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2", "f3", "f4", "f5"}, ids(oldest))

	created, err := store.Find(ctx, filestore.Query{}, filestore.FindOptions{Sort: filestore.SortCreateDesc})
	require.NoError(t, err)
	assert.Equal(t, []string{"f5", "f4", "f3", "f2", "f1"}, ids(created))

	page, err := store.Find(ctx, filestore.Query{}, filestore.FindOptions{Sort: filestore.SortUpdateDesc, Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"f4", "f3"}, ids(page))

	past, err := store.Find(ctx, filestore.Query{}, filestore.FindOptions{Sort: filestore.SortUpdateDesc, Skip: 10})
	require.NoError(t, err)
	assert.NotNil(t, past)
	assert.Empty(t, past)
}

func testFindSelect(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "file-1", fields(hashA, "red"))
	require.NoError(t, err)

	found, err := store.Find(ctx, filestore.Query{}, filestore.FindOptions{
		Select: []string{filestore.FieldContentHash},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)

	r := found[0]
	assert.Equal(t, "file-1", r.ID)
	assert.Equal(t, hashA, r.ContentHash)
	assert.Empty(t, r.Name)
	assert.Empty(t, r.ContentType)
	assert.Nil(t, r.Tags)
	assert.True(t, r.CreateDate.IsZero())
}

func testFindInvalidOptions(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	_, err := store.Find(ctx, filestore.Query{}, filestore.FindOptions{Skip: -1})
	assert.ErrorIs(t, err, filestore.ErrValidation)

	_, err = store.Find(ctx, filestore.Query{}, filestore.FindOptions{Limit: -1})
	assert.ErrorIs(t, err, filestore.ErrValidation)

	_, err = store.Find(ctx, filestore.Query{}, filestore.FindOptions{Select: []string{"password"}})
	assert.ErrorIs(t, err, filestore.ErrValidation)
}

func testListUpdated(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	records := putSpaced(t, store, hashA, "f1", "f2", "f3")

	// The window is inclusive of since.
	since := records[1].UpdateDate
	updated, err := store.ListUpdated(ctx, since, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"f3", "f2"}, ids(updated))

	n, err := store.CountUpdated(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Stored dates have microsecond precision; a finer since still bounds
	// the window exactly.
	justAfter := records[1].UpdateDate.Add(500 * time.Nanosecond)
	updated, err = store.ListUpdated(ctx, justAfter, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"f3"}, ids(updated))
	n, err = store.CountUpdated(ctx, justAfter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	justBefore := records[1].UpdateDate.Add(-500 * time.Nanosecond)
	n, err = store.CountUpdated(ctx, justBefore)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := store.ListUpdated(ctx, time.Unix(0, 0), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"f3", "f2", "f1"}, ids(all))

	page, err := store.ListUpdated(ctx, time.Unix(0, 0), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"f2"}, ids(page))

	future := records[2].UpdateDate.Add(time.Hour)
	none, err := store.ListUpdated(ctx, future, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err = store.CountUpdated(ctx, future)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = store.ListUpdated(ctx, since, -1, 0)
	assert.ErrorIs(t, err, filestore.ErrValidation)
}

func testListUpdatedIncludesTombstones(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	records := putSpaced(t, store, hashA, "f1", "f2")
	checkpoint := records[1].UpdateDate.Add(time.Millisecond)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, store.SetDeleted(ctx, "f1"))

	updated, err := store.ListUpdated(ctx, checkpoint, 0, 0)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "f1", updated[0].ID)
	assert.True(t, updated[0].IsDeleted)
}

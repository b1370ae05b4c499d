package filestore

import (
	"context"
	"io"
	"time"
)

// BlobStore stores immutable byte sequences addressed by the hash of their
// content. It knows nothing about references; deciding when a blob may be
// deleted is the file store's job.
type BlobStore interface {
	// Put stores content and returns its hash. Storing content that already
	// exists is a no-op beyond hashing.
	Put(ctx context.Context, content Content) (string, error)

	// Get returns the blob's bytes, or ErrNotFound.
	Get(ctx context.Context, hash string) ([]byte, error)

	// GetStream opens the blob for a single sequential read, or fails with
	// ErrNotFound before any bytes are delivered.
	GetStream(ctx context.Context, hash string) (io.ReadCloser, error)

	// Has reports whether the blob exists
	Has(ctx context.Context, hash string) (bool, error)

	// Delete removes the blob unconditionally, or fails with ErrNotFound.
	Delete(ctx context.Context, hash string) error
}

// MetadataStore persists file records. Implementations only need document
// CRUD, equality and range queries, sorting and pagination.
type MetadataStore interface {
	// Put creates the record for id, or fails with ErrConflict.
	Put(ctx context.Context, id string, fields FileFields) (*FileRecord, error)

	// Get returns the record, soft-deleted or not, or ErrNotFound.
	Get(ctx context.Context, id string) (*FileRecord, error)

	// Has reports whether a record exists regardless of its deleted flag.
	Has(ctx context.Context, id string) (bool, error)

	// Delete hard-removes the record, or fails with ErrNotFound.
	Delete(ctx context.Context, id string) error

	// SetDeleted flags the record as deleted and bumps its update date.
	SetDeleted(ctx context.Context, id string) error

	// SetAccessDate records the last access time without bumping the update date.
	SetAccessDate(ctx context.Context, id string, when time.Time) error

	// SetUpdated bumps the update date only.
	SetUpdated(ctx context.Context, id string) error

	// Find returns the records matching q.
	Find(ctx context.Context, q Query, opts FindOptions) ([]*FileRecord, error)

	// Count returns the number of records matching q.
	Count(ctx context.Context, q Query) (int64, error)

	// ListUpdated returns records with UpdateDate >= since, newest first.
	ListUpdated(ctx context.Context, since time.Time, skip, limit int) ([]*FileRecord, error)

	// CountUpdated returns the number of records with UpdateDate >= since.
	CountUpdated(ctx context.Context, since time.Time) (int64, error)

	// Close releases the backend's resources.
	Close() error
}

// EventSink receives file lifecycle events.
type EventSink interface {
	// FileCreated is fired after a record has been stored
	FileCreated(ctx context.Context, record *FileRecord) error

	// FileSoftDeleted is fired after a record has been flagged deleted
	FileSoftDeleted(ctx context.Context, id string) error

	// FileDeleted is fired after a record has been removed. blobRemoved
	// reports whether its blob was reclaimed.
	FileDeleted(ctx context.Context, id, hash string, blobRemoved bool) error
}

package filestore

import (
	"context"
	"io"
	"time"
)

// Service defines the file store facade consumed by the HTTP adapter and the CLI
type Service interface {
	// File operations
	Put(ctx context.Context, id string, meta *FileMeta, content Content) (*FileRecord, error)
	Has(ctx context.Context, id string) (bool, error)
	GetMeta(ctx context.Context, id string) (*FileRecord, error)
	Get(ctx context.Context, id string) (*FileRecord, []byte, error)
	GetStream(ctx context.Context, id string) (*FileRecord, io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
	SetDeleted(ctx context.Context, id string) error
	SetAccessDate(ctx context.Context, id string, when time.Time) error
	// SetUpdated bumps the update date so the file reappears in the change feed.
	SetUpdated(ctx context.Context, id string) error

	// Listing and counting
	ListMeta(ctx context.Context, skip, limit int) ([]*FileRecord, error)
	CountMeta(ctx context.Context, q Query) (int64, error)

	// Change feed
	ListUpdated(ctx context.Context, since time.Time, skip, limit int) ([]*FileRecord, error)
	CountUpdated(ctx context.Context, since time.Time) (int64, error)
	HasUpdates(ctx context.Context, since time.Time) (bool, error)

	// Maintenance
	PurgeDeleted(ctx context.Context, before time.Time) (int, error)
	Verify(ctx context.Context) ([]string, error)
}

package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// service implements the Service interface
type service struct {
	blobs     BlobStore
	metadata  MetadataStore
	eventSink EventSink
	validator Validator
	logger    *slog.Logger
	locks     *hashLocks
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithBlobStore sets the blob store for the service
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobs = store
	}
}

// WithMetadataStore sets the metadata store for the service
func WithMetadataStore(store MetadataStore) Option {
	return func(s *service) {
		s.metadata = store
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithValidator replaces the default metadata validator
func WithValidator(v Validator) Option {
	return func(s *service) {
		s.validator = v
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithHashLocking serializes Put and Delete on the same content hash within
// this process. Without it a Delete that reclaims a blob can race a Put that
// reuses the same content under a new id.
func WithHashLocking() Option {
	return func(s *service) {
		s.locks = newHashLocks()
	}
}

// New creates a new file store with the given options
func New(options ...Option) (Service, error) {
	s := &service{}

	for _, option := range options {
		option(s)
	}

	if s.blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.validator == nil {
		s.validator = NewValidator()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

func (s *service) Put(ctx context.Context, id string, meta *FileMeta, content Content) (*FileRecord, error) {
	if err := ValidateID(id); err != nil {
		return nil, &FileError{ID: id, Op: "put", Err: err}
	}
	if err := s.validator.ValidateMeta(meta); err != nil {
		return nil, &FileError{ID: id, Op: "put", Err: err}
	}
	if content == nil {
		return nil, &FileError{ID: id, Op: "put", Err: fmt.Errorf("%w: content is required", ErrValidation)}
	}

	// The blob must be durable before any record references its hash.
	hash, err := s.blobs.Put(ctx, content)
	if err != nil {
		return nil, &FileError{ID: id, Op: "put", Err: err}
	}

	if s.locks != nil {
		unlock := s.locks.lock(hash)
		defer unlock()

		ok, err := s.blobs.Has(ctx, hash)
		if err != nil {
			return nil, &FileError{ID: id, Op: "put", Err: err}
		}
		if !ok {
			return nil, &FileError{ID: id, Op: "put", Err: &BlobError{Hash: hash, Op: "put", Err: ErrBlobReclaimed}}
		}
	}

	record, err := s.metadata.Put(ctx, id, FileFields{FileMeta: *meta, ContentHash: hash})
	if err != nil {
		return nil, &FileError{ID: id, Op: "put", Err: err}
	}

	s.logger.DebugContext(ctx, "file stored", "id", id, "hash", hash)
	if err := s.eventSink.FileCreated(ctx, record); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "file_created", "id", id, "error", err)
	}

	return record, nil
}

func (s *service) Has(ctx context.Context, id string) (bool, error) {
	ok, err := s.metadata.Has(ctx, id)
	if err != nil {
		return false, &FileError{ID: id, Op: "has", Err: err}
	}
	return ok, nil
}

func (s *service) GetMeta(ctx context.Context, id string) (*FileRecord, error) {
	record, err := s.metadata.Get(ctx, id)
	if err != nil {
		return nil, &FileError{ID: id, Op: "get_meta", Err: err}
	}
	return record, nil
}

func (s *service) Get(ctx context.Context, id string) (*FileRecord, []byte, error) {
	record, err := s.metadata.Get(ctx, id)
	if err != nil {
		return nil, nil, &FileError{ID: id, Op: "get", Err: err}
	}

	data, err := s.blobs.Get(ctx, record.ContentHash)
	if err != nil {
		return nil, nil, s.blobReadError(ctx, "get", record, err)
	}

	return record, data, nil
}

func (s *service) GetStream(ctx context.Context, id string) (*FileRecord, io.ReadCloser, error) {
	record, err := s.metadata.Get(ctx, id)
	if err != nil {
		return nil, nil, &FileError{ID: id, Op: "get_stream", Err: err}
	}

	rc, err := s.blobs.GetStream(ctx, record.ContentHash)
	if err != nil {
		return nil, nil, s.blobReadError(ctx, "get_stream", record, err)
	}

	return record, rc, nil
}

// blobReadError turns a missing blob behind an existing record into an
// integrity error; a record must never point at a hash that is not stored.
func (s *service) blobReadError(ctx context.Context, op string, record *FileRecord, err error) error {
	if errors.Is(err, ErrNotFound) {
		s.logger.ErrorContext(ctx, "blob missing for stored record", "id", record.ID, "hash", record.ContentHash)
		return &FileError{ID: record.ID, Op: op, Err: &BlobError{
			Hash: record.ContentHash,
			Op:   op,
			Err:  fmt.Errorf("%w: record references missing blob", ErrIntegrity),
		}}
	}
	return &FileError{ID: record.ID, Op: op, Err: err}
}

func (s *service) Delete(ctx context.Context, id string) error {
	record, err := s.metadata.Get(ctx, id)
	if err != nil {
		return &FileError{ID: id, Op: "delete", Err: err}
	}
	hash := record.ContentHash

	if s.locks != nil {
		unlock := s.locks.lock(hash)
		defer unlock()
	}

	if err := s.metadata.Delete(ctx, id); err != nil {
		return &FileError{ID: id, Op: "delete", Err: err}
	}

	// Counted after the removal, so the count only sees surviving referrers.
	refs, err := s.metadata.Count(ctx, ByContentHash(hash))
	if err != nil {
		return &FileError{ID: id, Op: "delete", Err: err}
	}

	blobRemoved := false
	if refs == 0 {
		if err := s.blobs.Delete(ctx, hash); err != nil {
			if errors.Is(err, ErrNotFound) {
				s.logger.ErrorContext(ctx, "blob already gone on delete", "id", id, "hash", hash)
				err = fmt.Errorf("%w: blob missing on delete", ErrIntegrity)
			}
			return &FileError{ID: id, Op: "delete", Err: &BlobError{Hash: hash, Op: "delete", Err: err}}
		}
		blobRemoved = true
	}

	s.logger.DebugContext(ctx, "file deleted", "id", id, "hash", hash, "refs", refs, "blob_removed", blobRemoved)
	if err := s.eventSink.FileDeleted(ctx, id, hash, blobRemoved); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "file_deleted", "id", id, "error", err)
	}

	return nil
}

func (s *service) SetDeleted(ctx context.Context, id string) error {
	if err := s.metadata.SetDeleted(ctx, id); err != nil {
		return &FileError{ID: id, Op: "set_deleted", Err: err}
	}

	if err := s.eventSink.FileSoftDeleted(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "file_soft_deleted", "id", id, "error", err)
	}

	return nil
}

func (s *service) SetAccessDate(ctx context.Context, id string, when time.Time) error {
	if err := s.metadata.SetAccessDate(ctx, id, Timestamp(when)); err != nil {
		return &FileError{ID: id, Op: "set_access_date", Err: err}
	}
	return nil
}

func (s *service) SetUpdated(ctx context.Context, id string) error {
	if err := s.metadata.SetUpdated(ctx, id); err != nil {
		return &FileError{ID: id, Op: "set_updated", Err: err}
	}
	s.logger.DebugContext(ctx, "file touched", "id", id)
	return nil
}

func (s *service) ListMeta(ctx context.Context, skip, limit int) ([]*FileRecord, error) {
	return s.metadata.Find(ctx, Query{}, FindOptions{Sort: SortUpdateDesc, Skip: skip, Limit: limit})
}

func (s *service) CountMeta(ctx context.Context, q Query) (int64, error) {
	return s.metadata.Count(ctx, q)
}

func (s *service) ListUpdated(ctx context.Context, since time.Time, skip, limit int) ([]*FileRecord, error) {
	return s.metadata.ListUpdated(ctx, since, skip, limit)
}

func (s *service) CountUpdated(ctx context.Context, since time.Time) (int64, error) {
	return s.metadata.CountUpdated(ctx, since)
}

func (s *service) HasUpdates(ctx context.Context, since time.Time) (bool, error) {
	n, err := s.metadata.CountUpdated(ctx, since)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *service) PurgeDeleted(ctx context.Context, before time.Time) (int, error) {
	deleted := true
	tombstones, err := s.metadata.Find(ctx, Query{Deleted: &deleted}, FindOptions{Sort: SortUpdateAsc})
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, r := range tombstones {
		if !r.UpdateDate.Before(before) {
			break
		}
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if err := s.Delete(ctx, r.ID); err != nil {
			switch {
			case errors.Is(err, ErrIntegrity):
				// The record is gone; only its blob was already missing.
				s.logger.ErrorContext(ctx, "purged file had no blob", "id", r.ID, "hash", r.ContentHash, "error", err)
			case errors.Is(err, ErrNotFound):
				continue
			default:
				return purged, err
			}
		}
		purged++
	}

	s.logger.InfoContext(ctx, "purged deleted files", "count", purged, "before", before)
	return purged, nil
}

const verifyBatch = 500

func (s *service) Verify(ctx context.Context) ([]string, error) {
	var dangling []string
	for skip := 0; ; skip += verifyBatch {
		records, err := s.metadata.Find(ctx, Query{}, FindOptions{
			Select: []string{FieldID, FieldContentHash},
			Sort:   SortCreateDesc,
			Skip:   skip,
			Limit:  verifyBatch,
		})
		if err != nil {
			return dangling, err
		}
		for _, r := range records {
			ok, err := s.blobs.Has(ctx, r.ContentHash)
			if err != nil {
				return dangling, &FileError{ID: r.ID, Op: "verify", Err: err}
			}
			if !ok {
				s.logger.ErrorContext(ctx, "blob missing for stored record", "id", r.ID, "hash", r.ContentHash)
				dangling = append(dangling, r.ID)
			}
		}
		if len(records) < verifyBatch {
			return dangling, nil
		}
	}
}

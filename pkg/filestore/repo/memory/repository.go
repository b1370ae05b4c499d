package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tendant/simple-filestore/pkg/filestore"
)

// Repository implements filestore.MetadataStore using in-memory storage
type Repository struct {
	mu      sync.RWMutex
	records map[string]*filestore.FileRecord
	byHash  map[string]map[string]struct{} // content_hash -> set of ids
	now     func() time.Time
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		records: make(map[string]*filestore.FileRecord),
		byHash:  make(map[string]map[string]struct{}),
		now:     filestore.Now,
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: file %q", filestore.ErrNotFound, id)
}

func (r *Repository) Put(ctx context.Context, id string, fields filestore.FileFields) (*filestore.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; exists {
		return nil, fmt.Errorf("%w: file %q", filestore.ErrConflict, id)
	}

	record := filestore.NewFileRecord(id, fields, r.now())
	r.records[id] = record
	ids, ok := r.byHash[record.ContentHash]
	if !ok {
		ids = make(map[string]struct{})
		r.byHash[record.ContentHash] = ids
	}
	ids[id] = struct{}{}

	// Return a copy to prevent external modifications
	return record.Clone(), nil
}

func (r *Repository) Get(ctx context.Context, id string) (*filestore.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, notFound(id)
	}
	return record.Clone(), nil
}

func (r *Repository) Has(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.records[id]
	return exists, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		return notFound(id)
	}

	delete(r.records, id)
	if ids := r.byHash[record.ContentHash]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byHash, record.ContentHash)
		}
	}
	return nil
}

func (r *Repository) SetDeleted(ctx context.Context, id string) error {
	return r.update(id, func(record *filestore.FileRecord, now time.Time) {
		record.IsDeleted = true
		record.UpdateDate = filestore.Bump(record.UpdateDate, now)
	})
}

func (r *Repository) SetAccessDate(ctx context.Context, id string, when time.Time) error {
	when = filestore.Timestamp(when)
	return r.update(id, func(record *filestore.FileRecord, _ time.Time) {
		record.AccessDate = &when
	})
}

func (r *Repository) SetUpdated(ctx context.Context, id string) error {
	return r.update(id, func(record *filestore.FileRecord, now time.Time) {
		record.UpdateDate = filestore.Bump(record.UpdateDate, now)
	})
}

func (r *Repository) update(id string, fn func(*filestore.FileRecord, time.Time)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		return notFound(id)
	}
	fn(record, r.now())
	return nil
}

func (r *Repository) Find(ctx context.Context, q filestore.Query, opts filestore.FindOptions) ([]*filestore.FileRecord, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	candidates := r.candidates(q)
	r.mu.RUnlock()

	return filestore.FindIn(candidates, q, opts), nil
}

func (r *Repository) Count(ctx context.Context, q filestore.Query) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, record := range r.scan(q) {
		if q.Matches(record) {
			n++
		}
	}
	return n, nil
}

func (r *Repository) ListUpdated(ctx context.Context, since time.Time, skip, limit int) ([]*filestore.FileRecord, error) {
	return r.Find(ctx, filestore.UpdatedSince(since), filestore.FindOptions{
		Sort:  filestore.SortUpdateDesc,
		Skip:  skip,
		Limit: limit,
	})
}

func (r *Repository) CountUpdated(ctx context.Context, since time.Time) (int64, error) {
	return r.Count(ctx, filestore.UpdatedSince(since))
}

func (r *Repository) Close() error {
	return nil
}

// scan returns the stored records that may match q, using the hash index
// when the query is keyed on a content hash. Callers hold the read lock.
func (r *Repository) scan(q filestore.Query) []*filestore.FileRecord {
	var out []*filestore.FileRecord
	if q.ContentHash != "" {
		ids := r.byHash[q.ContentHash]
		out = make([]*filestore.FileRecord, 0, len(ids))
		for id := range ids {
			out = append(out, r.records[id])
		}
		return out
	}
	out = make([]*filestore.FileRecord, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, record)
	}
	return out
}

// candidates is scan with copied records, safe to hand out after the lock
// is released.
func (r *Repository) candidates(q filestore.Query) []*filestore.FileRecord {
	records := r.scan(q)
	for i, record := range records {
		records[i] = record.Clone()
	}
	return records
}

// Package badger implements filestore.MetadataStore on an embedded BadgerDB.
//
// Key layout:
//
//	file/<id>                  JSON encoded FileRecord
//	upd/<micros>/<id>          update date index, micros zero padded to 20 digits
//	hash/<content_hash>/<id>   content hash index
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/tendant/simple-filestore/pkg/filestore"
)

const (
	backendName = "badger"

	prefixFile   = "file/"
	prefixUpdate = "upd/"
	prefixHash   = "hash/"

	// Update transactions retried on badger write conflicts.
	maxRetries = 5
)

// Config options for the Badger repository
type Config struct {
	Path     string       // Directory of the database; ignored when InMemory is set
	InMemory bool         // Keep everything in memory (tests)
	Logger   *slog.Logger // Receives badger's internal log output (default: slog.Default())
}

// Repository implements filestore.MetadataStore using BadgerDB
type Repository struct {
	db  *badgerdb.DB
	now func() time.Time
}

// Open opens or creates the database described by config.
func Open(config Config) (*Repository, error) {
	if config.Path == "" && !config.InMemory {
		return nil, errors.New("badger path is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	opts := badgerdb.DefaultOptions(config.Path).
		WithLogger(&slogLogger{logger: config.Logger.With("component", "badger")})
	if config.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Repository{db: db, now: filestore.Now}, nil
}

func fileKey(id string) []byte {
	return []byte(prefixFile + id)
}

func updateKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixUpdate, t.UnixMicro(), id))
}

func hashKey(hash, id string) []byte {
	return []byte(prefixHash + hash + "/" + id)
}

// parseUpdateKey splits an update index key, prefix stripped, into its
// id and timestamp.
func parseUpdateKey(key string) (string, int64, bool) {
	ts, id, ok := strings.Cut(key, "/")
	if !ok {
		return "", 0, false
	}
	micros, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return id, micros, true
}

func notFound(id string) error {
	return fmt.Errorf("%w: file %q", filestore.ErrNotFound, id)
}

func (r *Repository) storageError(op, key string, err error) error {
	if errors.Is(err, filestore.ErrNotFound) || errors.Is(err, filestore.ErrConflict) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return filestore.NewStorageError(backendName, op, key, err)
}

func getRecord(txn *badgerdb.Txn, id string) (*filestore.FileRecord, error) {
	item, err := txn.Get(fileKey(id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}

	var rec filestore.FileRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode record %q: %w", id, err)
	}
	return &rec, nil
}

func setRecord(txn *badgerdb.Txn, rec *filestore.FileRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return txn.Set(fileKey(rec.ID), val)
}

func (r *Repository) Put(ctx context.Context, id string, fields filestore.FileFields) (*filestore.FileRecord, error) {
	rec := filestore.NewFileRecord(id, fields, r.now())

	err := r.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(fileKey(id))
		if err == nil {
			return fmt.Errorf("%w: file %q", filestore.ErrConflict, id)
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}

		if err := setRecord(txn, rec); err != nil {
			return err
		}
		if err := txn.Set(updateKey(rec.UpdateDate, id), nil); err != nil {
			return err
		}
		return txn.Set(hashKey(rec.ContentHash, id), nil)
	})
	// A concurrent transaction created the same key first.
	if errors.Is(err, badgerdb.ErrConflict) {
		return nil, fmt.Errorf("%w: file %q", filestore.ErrConflict, id)
	}
	if err != nil {
		return nil, r.storageError("put", id, err)
	}
	return rec, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*filestore.FileRecord, error) {
	var rec *filestore.FileRecord
	err := r.db.View(func(txn *badgerdb.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, r.storageError("get", id, err)
	}
	return rec, nil
}

func (r *Repository) Has(ctx context.Context, id string) (bool, error) {
	err := r.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(fileKey(id))
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, r.storageError("has", id, err)
	}
	return true, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	err := r.retry(ctx, func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(fileKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(updateKey(rec.UpdateDate, id)); err != nil {
			return err
		}
		return txn.Delete(hashKey(rec.ContentHash, id))
	})
	return r.storageError("delete", id, err)
}

func (r *Repository) SetDeleted(ctx context.Context, id string) error {
	return r.modify(ctx, "set_deleted", id, func(rec *filestore.FileRecord, now time.Time) {
		rec.IsDeleted = true
		rec.UpdateDate = filestore.Bump(rec.UpdateDate, now)
	})
}

func (r *Repository) SetAccessDate(ctx context.Context, id string, when time.Time) error {
	when = filestore.Timestamp(when)
	return r.modify(ctx, "set_access_date", id, func(rec *filestore.FileRecord, _ time.Time) {
		rec.AccessDate = &when
	})
}

func (r *Repository) SetUpdated(ctx context.Context, id string) error {
	return r.modify(ctx, "set_updated", id, func(rec *filestore.FileRecord, now time.Time) {
		rec.UpdateDate = filestore.Bump(rec.UpdateDate, now)
	})
}

// modify applies fn to the stored record of id and keeps the update date
// index in step.
func (r *Repository) modify(ctx context.Context, op, id string, fn func(*filestore.FileRecord, time.Time)) error {
	err := r.retry(ctx, func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		prev := rec.UpdateDate
		fn(rec, r.now())

		if !rec.UpdateDate.Equal(prev) {
			if err := txn.Delete(updateKey(prev, id)); err != nil {
				return err
			}
			if err := txn.Set(updateKey(rec.UpdateDate, id), nil); err != nil {
				return err
			}
		}
		return setRecord(txn, rec)
	})
	return r.storageError(op, id, err)
}

// retry runs fn in an update transaction, retrying on write conflicts.
func (r *Repository) retry(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = r.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return err
}

// candidates loads the records that may match q, narrowing the scan with
// the hash or update date index when q allows it.
func (r *Repository) candidates(ctx context.Context, txn *badgerdb.Txn, q filestore.Query) ([]*filestore.FileRecord, error) {
	switch {
	case q.ContentHash != "":
		ids, err := scanKeys(ctx, txn, []byte(prefixHash+q.ContentHash+"/"), nil)
		if err != nil {
			return nil, err
		}
		return loadRecords(txn, ids)

	case q.UpdatedSince != nil:
		start := filestore.WindowStart(*q.UpdatedSince)
		seek := []byte(fmt.Sprintf("%s%020d/", prefixUpdate, start.UnixMicro()))
		if start.UnixMicro() < 0 {
			seek = []byte(prefixUpdate)
		}
		keys, err := scanKeys(ctx, txn, []byte(prefixUpdate), seek)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(keys))
		for _, k := range keys {
			if id, _, ok := parseUpdateKey(k); ok {
				ids = append(ids, id)
			}
		}
		return loadRecords(txn, ids)
	}

	var records []*filestore.FileRecord
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchSize = 100
	opts.Prefix = []byte(prefixFile)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec filestore.FileRecord
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return nil, fmt.Errorf("decode record %q: %w", it.Item().Key(), err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// scanKeys returns the keys under prefix, starting at seek if given, with
// the prefix stripped.
func scanKeys(ctx context.Context, txn *badgerdb.Txn, prefix, seek []byte) ([]string, error) {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	if seek == nil {
		seek = prefix
	}

	var keys []string
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
	}
	return keys, nil
}

func loadRecords(txn *badgerdb.Txn, ids []string) ([]*filestore.FileRecord, error) {
	records := make([]*filestore.FileRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := getRecord(txn, id)
		if errors.Is(err, filestore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *Repository) Find(ctx context.Context, q filestore.Query, opts filestore.FindOptions) ([]*filestore.FileRecord, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var result []*filestore.FileRecord
	err := r.db.View(func(txn *badgerdb.Txn) error {
		candidates, err := r.candidates(ctx, txn, q)
		if err != nil {
			return err
		}
		result = filestore.FindIn(candidates, q, opts)
		return nil
	})
	if err != nil {
		return nil, r.storageError("find", "", err)
	}
	return result, nil
}

func (r *Repository) Count(ctx context.Context, q filestore.Query) (int64, error) {
	var n int64
	err := r.db.View(func(txn *badgerdb.Txn) error {
		// Reference counting only needs the keys of the hash index.
		if q.ContentHash != "" && q.UpdatedSince == nil && q.Deleted == nil && q.Tag == "" {
			keys, err := scanKeys(ctx, txn, []byte(prefixHash+q.ContentHash+"/"), nil)
			n = int64(len(keys))
			return err
		}

		candidates, err := r.candidates(ctx, txn, q)
		if err != nil {
			return err
		}
		for _, rec := range candidates {
			if q.Matches(rec) {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, r.storageError("count", "", err)
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

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// slogLogger routes badger's internal logging to slog.
type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *slogLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Infof is logged at debug level; badger reports every compaction at info.
func (l *slogLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *slogLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

package filestore

import (
	"errors"
	"fmt"
)

// Error kinds
var (
	// ErrNotFound indicates a file id or a content hash is absent
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a file id already exists on create
	ErrConflict = errors.New("already exists")

	// ErrValidation indicates malformed input
	ErrValidation = errors.New("validation failed")

	// ErrIntegrity indicates a metadata record references a blob that does not exist
	ErrIntegrity = errors.New("integrity violation")

	// ErrBackend indicates a failure of the underlying storage medium
	ErrBackend = errors.New("backend failure")

	// ErrBlobReclaimed indicates a concurrent delete removed the blob a put was about to reference.
	// It is only returned when hash locking is enabled and wraps ErrBackend.
	ErrBlobReclaimed = fmt.Errorf("%w: blob reclaimed by concurrent delete", ErrBackend)
)

// FileError represents an error related to a file operation
type FileError struct {
	ID  string
	Op  string
	Err error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file operation %s failed for file %q: %v", e.Op, e.ID, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// BlobError represents an error related to a blob operation
type BlobError struct {
	Hash string
	Op   string
	Err  error
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("blob operation %s failed for hash %s: %v", e.Op, e.Hash, e.Err)
}

func (e *BlobError) Unwrap() error {
	return e.Err
}

// StorageError represents a failure of a storage medium (disk, database, network).
// It matches ErrBackend with errors.Is.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrBackend.
func (e *StorageError) Is(target error) bool {
	return target == ErrBackend
}

// NewStorageError wraps err as a StorageError. It returns nil when err is nil.
func NewStorageError(backend, op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Backend: backend, Key: key, Op: op, Err: err}
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

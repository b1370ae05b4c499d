package fs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tendant/simple-filestore/pkg/filestore"
)

const (
	backendName = "fs"
	tempDirName = ".tmp"
	dirMode     = 0755
	fileMode    = 0644
)

// Backend is a filesystem implementation of the filestore.BlobStore interface.
// Blobs live at <BaseDir>/<shard>/.../<hash>.
type Backend struct {
	baseDir   string
	tempDir   string
	depth     int
	width     int
	algorithm filestore.HashAlgorithm
}

// Config options for the filesystem backend
type Config struct {
	BaseDir   string                  // Base directory for storing blobs
	TempDir   string                  // Directory for in-flight writes (default: <BaseDir>/.tmp); must be on the same filesystem
	Depth     int                     // Number of shard directories (default: 3)
	Width     int                     // Hex characters per shard directory (default: 2)
	Algorithm filestore.HashAlgorithm // Content hash (default: sha256)
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if config.Depth <= 0 {
		config.Depth = filestore.DefaultDepth
	}
	if config.Width <= 0 {
		config.Width = filestore.DefaultWidth
	}
	algorithm, err := filestore.ParseHashAlgorithm(string(config.Algorithm))
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Clean(config.BaseDir)
	tempDir := config.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(baseDir, tempDirName)
	}

	if err := os.MkdirAll(baseDir, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if err := os.MkdirAll(tempDir, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Backend{
		baseDir:   baseDir,
		tempDir:   tempDir,
		depth:     config.Depth,
		width:     config.Width,
		algorithm: algorithm,
	}, nil
}

// DirPath returns the shard directory of hash.
func (b *Backend) DirPath(hash string) string {
	segments := filestore.ShardSegments(hash, b.depth, b.width)
	return filepath.Join(append([]string{b.baseDir}, segments...)...)
}

// FilePath returns the path of the blob for hash.
func (b *Backend) FilePath(hash string) string {
	return filepath.Join(b.DirPath(hash), hash)
}

// Put stores content and returns its hash
func (b *Backend) Put(ctx context.Context, content filestore.Content) (string, error) {
	switch c := content.(type) {
	case filestore.Buffer:
		return b.putBuffer(ctx, c)
	case filestore.Stream:
		return b.putStream(ctx, c.R)
	default:
		return "", fmt.Errorf("%w: unsupported content %T", filestore.ErrValidation, content)
	}
}

func (b *Backend) putBuffer(ctx context.Context, data filestore.Buffer) (string, error) {
	hash := b.algorithm.Sum(data)

	exists, err := b.Has(ctx, hash)
	if err != nil {
		return "", err
	}
	if exists {
		return hash, nil
	}

	tmpPath, err := b.writeTemp(ctx, data.Reader())
	if err != nil {
		return "", err
	}
	if err := b.commit(tmpPath, hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (b *Backend) putStream(ctx context.Context, r io.Reader) (string, error) {
	if r == nil {
		return "", fmt.Errorf("%w: nil stream", filestore.ErrValidation)
	}

	h := b.algorithm.New()
	tmpPath, err := b.writeTemp(ctx, io.TeeReader(r, h))
	if err != nil {
		return "", err
	}

	hash := hex.EncodeToString(h.Sum(nil))
	if err := b.commit(tmpPath, hash); err != nil {
		return "", err
	}
	return hash, nil
}

// writeTemp copies r into a new uniquely named file in the temp directory.
// The file is removed again if anything fails.
func (b *Backend) writeTemp(ctx context.Context, r io.Reader) (string, error) {
	tmpPath := filepath.Join(b.tempDir, uuid.NewString())

	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return "", filestore.NewStorageError(backendName, "put", tmpPath, fmt.Errorf("failed to create temp file: %w", err))
	}

	_, err = io.Copy(file, &contextReader{ctx: ctx, r: r})
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", filestore.NewStorageError(backendName, "put", tmpPath, fmt.Errorf("failed to write file: %w", err))
	}

	return tmpPath, nil
}

// commit moves the temp file to the blob path of hash unless a blob is
// already there, in which case the temp file is discarded. Hard linking
// places the file only if the target is absent; filesystems without hard
// links fall back to rename, which is safe because both files hold the same
// bytes.
func (b *Backend) commit(tmpPath, hash string) error {
	defer os.Remove(tmpPath)

	final := b.FilePath(hash)
	for attempt := 0; ; attempt++ {
		if err := os.MkdirAll(filepath.Dir(final), dirMode); err != nil {
			return filestore.NewStorageError(backendName, "put", hash, fmt.Errorf("failed to create directory: %w", err))
		}

		err := os.Link(tmpPath, final)
		switch {
		case err == nil, errors.Is(err, os.ErrExist):
			return nil
		case errors.Is(err, os.ErrNotExist) && attempt == 0:
			// A concurrent delete pruned the shard directory; recreate it once.
			continue
		}

		if err := os.Rename(tmpPath, final); err != nil {
			return filestore.NewStorageError(backendName, "put", hash, fmt.Errorf("failed to move blob into place: %w", err))
		}
		return nil
	}
}

// Get returns the blob's bytes
func (b *Backend) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := b.algorithm.Validate(hash); err != nil {
		return nil, &filestore.BlobError{Hash: hash, Op: "get", Err: err}
	}

	data, err := os.ReadFile(b.FilePath(hash))
	if os.IsNotExist(err) {
		return nil, &filestore.BlobError{Hash: hash, Op: "get", Err: filestore.ErrNotFound}
	} else if err != nil {
		return nil, filestore.NewStorageError(backendName, "get", hash, fmt.Errorf("failed to read file: %w", err))
	}

	return data, nil
}

// GetStream opens the blob for reading
func (b *Backend) GetStream(ctx context.Context, hash string) (io.ReadCloser, error) {
	if err := b.algorithm.Validate(hash); err != nil {
		return nil, &filestore.BlobError{Hash: hash, Op: "get_stream", Err: err}
	}

	file, err := os.Open(b.FilePath(hash))
	if os.IsNotExist(err) {
		return nil, &filestore.BlobError{Hash: hash, Op: "get_stream", Err: filestore.ErrNotFound}
	} else if err != nil {
		return nil, filestore.NewStorageError(backendName, "get_stream", hash, fmt.Errorf("failed to open file: %w", err))
	}

	return file, nil
}

// Has reports whether the blob exists
func (b *Backend) Has(ctx context.Context, hash string) (bool, error) {
	if err := b.algorithm.Validate(hash); err != nil {
		return false, &filestore.BlobError{Hash: hash, Op: "has", Err: err}
	}

	_, err := os.Stat(b.FilePath(hash))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, filestore.NewStorageError(backendName, "has", hash, fmt.Errorf("failed to get file info: %w", err))
	}

	return true, nil
}

// Delete removes the blob
func (b *Backend) Delete(ctx context.Context, hash string) error {
	if err := b.algorithm.Validate(hash); err != nil {
		return &filestore.BlobError{Hash: hash, Op: "delete", Err: err}
	}

	filePath := b.FilePath(hash)
	if err := os.Remove(filePath); os.IsNotExist(err) {
		return &filestore.BlobError{Hash: hash, Op: "delete", Err: filestore.ErrNotFound}
	} else if err != nil {
		return filestore.NewStorageError(backendName, "delete", hash, fmt.Errorf("failed to delete file: %w", err))
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath))

	return nil
}

// cleanupEmptyDirectories removes empty shard directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir || len(dir) <= len(b.baseDir) {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tendant/simple-filestore/pkg/filestore"
)

// Backend is an in-memory implementation of the filestore.BlobStore interface
type Backend struct {
	mu        sync.RWMutex
	objects   map[string][]byte
	algorithm filestore.HashAlgorithm
}

// New creates a new in-memory storage backend. An empty algorithm means sha256.
func New(algorithm filestore.HashAlgorithm) *Backend {
	if algorithm == "" {
		algorithm = filestore.SHA256
	}
	return &Backend{
		objects:   make(map[string][]byte),
		algorithm: algorithm,
	}
}

// Put stores content and returns its hash
func (b *Backend) Put(ctx context.Context, content filestore.Content) (string, error) {
	var data []byte
	switch c := content.(type) {
	case filestore.Buffer:
		data = bytes.Clone(c)
	case filestore.Stream:
		if c.R == nil {
			return "", fmt.Errorf("%w: nil stream", filestore.ErrValidation)
		}
		var err error
		if data, err = io.ReadAll(c.R); err != nil {
			return "", filestore.NewStorageError("memory", "put", "", err)
		}
	default:
		return "", fmt.Errorf("%w: unsupported content %T", filestore.ErrValidation, content)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	hash := b.algorithm.Sum(data)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[hash]; !exists {
		b.objects[hash] = data
	}
	return hash, nil
}

// Get returns a copy of the blob
func (b *Backend) Get(ctx context.Context, hash string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[hash]
	if !exists {
		return nil, &filestore.BlobError{Hash: hash, Op: "get", Err: filestore.ErrNotFound}
	}
	return bytes.Clone(data), nil
}

// GetStream opens the blob for reading
func (b *Backend) GetStream(ctx context.Context, hash string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[hash]
	if !exists {
		return nil, &filestore.BlobError{Hash: hash, Op: "get_stream", Err: filestore.ErrNotFound}
	}
	// Stored slices are never mutated, so the reader can share them.
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Has reports whether the blob exists
func (b *Backend) Has(ctx context.Context, hash string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, exists := b.objects[hash]
	return exists, nil
}

// Delete deletes the blob
func (b *Backend) Delete(ctx context.Context, hash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[hash]; !exists {
		return &filestore.BlobError{Hash: hash, Op: "delete", Err: filestore.ErrNotFound}
	}

	delete(b.objects, hash)
	return nil
}

// Len returns the number of stored blobs.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

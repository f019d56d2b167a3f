package vigil

import (
	"context"
	"errors"
	"io/fs"
	"os"
)

// StorageBackend defines the interface for model and sample storage.
// Keys are slash-separated paths such as "models/pump.vgl".
type StorageBackend interface {
	// Read reads an object. A missing key yields an error matching
	// os.ErrNotExist.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write creates or replaces an object.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes an object.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any resources.
	Close() error
}

// Ensure interfaces are implemented
var (
	_ StorageBackend = (*FileBackend)(nil)
	_ StorageBackend = (*S3Backend)(nil)
	_ StorageBackend = (*MemoryBackend)(nil)
	_ StorageBackend = (*TieredBackend)(nil)
	_ StorageBackend = (*SQLiteBackend)(nil)
)

// IsNotExist reports whether err means a missing key.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist)
}

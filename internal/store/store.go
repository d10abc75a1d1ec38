// Package store provides the durable key-value store behind the permission
// cache.
//
// The cache treats the store as a fallible collaborator: every call can
// return an error and the cache degrades to in-memory-only operation when
// it does. The file implementation compresses records and writes them
// atomically (temp file + rename) so a crash never leaves a torn snapshot.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("key not found")

// Store is a durable key-value store for versioned snapshot records.
type Store interface {
	// Get returns the stored value for a key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set durably stores a value under a key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Package storage defines the durable key/value substrate beneath the
// secure store. Backends hold only opaque ciphertext; all encryption
// happens above this layer. Implementations include in-memory (volatile,
// for tests and development) and bbolt (survives process restarts).
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("storage: key not found")

// Backend is the interface a key/value substrate must implement.
// All methods accept context.Context for tracing and cancellation.
type Backend interface {
	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Get retrieves the value stored under key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the value stored under key. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key string) error

	// GetAndDelete atomically retrieves and removes the value under key.
	// Returns ErrNotFound if the key does not exist.
	//
	// SECURITY: this operation MUST be atomic with respect to concurrent
	// callers. It backs one-time-use token validation, where a separate
	// read-then-delete sequence is exploitable.
	GetAndDelete(ctx context.Context, key string) ([]byte, error)

	// List returns all keys beginning with prefix, in unspecified order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Package chunkstore defines the pluggable backend interface for the shared
// chunk namespace used by the snapshot write and read paths.
package chunkstore

import "context"

// Store is the durable, shared namespace holding one or more streams.
//
// Keys are slash-separated paths. All implementations must provide two
// linearizability guarantees the snapshot protocol depends on:
//
//   - Put is an atomic publish: a key never becomes visible to Get or List
//     until its full value is durable (write-to-temporary-then-rename or an
//     equivalent object-store commit).
//   - Rename is atomic with respect to List: a concurrent List observes
//     either the old key or the new key, never both and never a partial
//     value.
//
// Writers are append-only. Nothing in the protocol overwrites or deletes a
// published key; terminal stream metadata is published under a fresh key.
//
// All implementations must be safe for concurrent use from multiple
// goroutines and, for filesystem-like backends, from multiple processes.
type Store interface {
	// Put atomically publishes data under key, creating any intermediate
	// namespace levels. Publishing an already existing key replaces it
	// atomically (used only for the stream metadata record).
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the value for key. Returns errors.ErrKeyNotFound if the
	// key has not been published.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all published keys with the given prefix in
	// lexicographic order. An empty result is not an error.
	List(ctx context.Context, prefix string) ([]string, error)

	// Rename atomically moves the value at oldKey to newKey. Returns
	// errors.ErrKeyNotFound if oldKey has not been published.
	Rename(ctx context.Context, oldKey, newKey string) error
}

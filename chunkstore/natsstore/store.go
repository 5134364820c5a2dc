// Package natsstore provides a NATS JetStream ObjectStore-backed chunk
// store. ObjectStore publishes are atomic at the object level, which
// satisfies the write-then-publish contract; Rename maps onto an object
// metadata update, which JetStream applies atomically.
package natsstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	snaperrors "github.com/c360/snapstream/errors"
)

// Store is a JetStream ObjectStore-backed chunkstore.Store.
type Store struct {
	obs jetstream.ObjectStore
}

// New wraps an existing ObjectStore bucket.
func New(obs jetstream.ObjectStore) (*Store, error) {
	if obs == nil {
		return nil, fmt.Errorf("natsstore: nil object store: %w", snaperrors.ErrInvalidConfig)
	}
	return &Store{obs: obs}, nil
}

// NewBucket creates (or opens) the named bucket on js and wraps it.
func NewBucket(ctx context.Context, js jetstream.JetStream, bucket string) (*Store, error) {
	if js == nil {
		return nil, fmt.Errorf("natsstore: nil jetstream: %w", snaperrors.ErrInvalidConfig)
	}
	obs, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "snapstream chunk store",
	})
	if err != nil {
		return nil, fmt.Errorf("natsstore: create bucket %q: %w", bucket, err)
	}
	return &Store{obs: obs}, nil
}

// Put atomically publishes data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.obs.PutBytes(ctx, key, data); err != nil {
		return fmt.Errorf("natsstore: put %q: %w", key, classify(err))
	}
	return nil
}

// Get retrieves the value for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.obs.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, fmt.Errorf("natsstore: %q: %w", key, snaperrors.ErrKeyNotFound)
		}
		return nil, fmt.Errorf("natsstore: get %q: %w", key, classify(err))
	}
	return data, nil
}

// List returns all published keys with the given prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	infos, err := s.obs.List(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoObjectsFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("natsstore: list: %w", classify(err))
	}

	var keys []string
	for _, info := range infos {
		if info.Deleted {
			continue
		}
		if strings.HasPrefix(info.Name, prefix) {
			keys = append(keys, info.Name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Rename atomically moves the value at oldKey to newKey.
func (s *Store) Rename(ctx context.Context, oldKey, newKey string) error {
	err := s.obs.UpdateMeta(ctx, oldKey, jetstream.ObjectMeta{Name: newKey})
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return fmt.Errorf("natsstore: %q: %w", oldKey, snaperrors.ErrKeyNotFound)
		}
		return fmt.Errorf("natsstore: rename %q -> %q: %w", oldKey, newKey, classify(err))
	}
	return nil
}

// classify maps connectivity failures onto the transient storage sentinel so
// callers retry them with backoff.
func classify(err error) error {
	if errors.Is(err, jetstream.ErrJetStreamNotEnabled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", snaperrors.ErrStorageUnavailable, err)
	}
	return err
}

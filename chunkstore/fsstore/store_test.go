package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	snaperrors "github.com/c360/snapstream/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, snaperrors.ErrInvalidConfig)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "streams/a/chunks/chunk_0", []byte("hello")))
	data, err := s.Get(ctx, "streams/a/chunks/chunk_0")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestGetMissingKey(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, snaperrors.ErrKeyNotFound)
}

func TestPutReplacesAtomically(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "meta", []byte("v1")))
	require.NoError(t, s.Put(ctx, "meta", []byte("v2")))
	data, err := s.Get(ctx, "meta")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestListPrefixAndOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a/chunks/chunk_2", nil))
	require.NoError(t, s.Put(ctx, "a/chunks/chunk_1", nil))
	require.NoError(t, s.Put(ctx, "a/meta", nil))
	require.NoError(t, s.Put(ctx, "b/chunks/chunk_1", nil))

	keys, err := s.List(ctx, "a/chunks/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/chunks/chunk_1", "a/chunks/chunk_2"}, keys)

	keys, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 4)

	keys, err = s.List(ctx, "c/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestListHidesInFlightFiles(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "a", ".tmp-partial"), []byte("x"), 0o644))

	keys, err := s.List(ctx, "a/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRename(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "staging/c1", []byte("payload")))
	require.NoError(t, s.Rename(ctx, "staging/c1", "chunks/chunk_0"))

	_, err := s.Get(ctx, "staging/c1")
	assert.ErrorIs(t, err, snaperrors.ErrKeyNotFound)

	data, err := s.Get(ctx, "chunks/chunk_0")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	assert.ErrorIs(t, s.Rename(ctx, "staging/c1", "elsewhere"), snaperrors.ErrKeyNotFound)
}

func TestConcurrentPublishers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("chunks/chunk_%04d", i)
			assert.NoError(t, s.Put(ctx, key, []byte{byte(i)}))
		}(i)
	}
	wg.Wait()

	keys, err := s.List(ctx, "chunks/")
	require.NoError(t, err)
	assert.Len(t, keys, 20)
}

func TestContextCancellation(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Put(ctx, "k", nil))
	_, err := s.Get(ctx, "k")
	assert.Error(t, err)
	_, err = s.List(ctx, "")
	assert.Error(t, err)
}

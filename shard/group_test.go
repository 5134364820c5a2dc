package shard_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/snapstream/chunkstore"
	"github.com/c360/snapstream/chunkstore/fsstore"
	snaperrors "github.com/c360/snapstream/errors"
	"github.com/c360/snapstream/replay"
	"github.com/c360/snapstream/shard"
	"github.com/c360/snapstream/snapshot"
	"github.com/c360/snapstream/testutil"
)

func sealedStream(t *testing.T, root string, src testutil.Source) chunkstore.Store {
	t.Helper()
	store, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	opts := snapshot.Options{MaxChunkSizeBytes: 1}
	require.NoError(t, testutil.Materialize(context.Background(), store, root, src, opts, 1))
	return store
}

func source(store chunkstore.Store, root string) shard.SourceFunc {
	return func() (*replay.Orchestrator, error) {
		return replay.New(store, root, replay.WithReaderConfig(testutil.FastReaderConfig())), nil
	}
}

func drainConsumer(t *testing.T, ctx context.Context, c *shard.Consumer) ([]int64, error) {
	t.Helper()
	var out []int64
	for {
		el, err := c.Next(ctx)
		if err != nil {
			return out, err
		}
		v, err := testutil.ParseInt64Element(el)
		require.NoError(t, err)
		out = append(out, v)
	}
}

func TestOffPolicyDuplicatesStream(t *testing.T) {
	store := sealedStream(t, "streams/a", testutil.NewRangeSource(10, 2))
	ctx := context.Background()

	g, err := shard.New(shard.PolicyOff, 3, source(store, "streams/a"))
	require.NoError(t, err)
	defer g.Close()
	assert.Equal(t, shard.PolicyOff, g.Policy())

	// Every consumer sees the complete stream in committed order.
	for _, c := range g.Consumers() {
		got, err := drainConsumer(t, ctx, c)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got, "consumer %d", c.Index())
	}
}

func TestDynamicPolicyPartitionsExactlyOnce(t *testing.T) {
	store := sealedStream(t, "streams/a", testutil.NewRangeSource(30, 3))
	ctx := context.Background()

	g, err := shard.New(shard.PolicyDynamic, 3, source(store, "streams/a"))
	require.NoError(t, err)
	defer g.Close()

	var (
		mu  sync.Mutex
		all []int64
		wg  sync.WaitGroup
	)
	for _, c := range g.Consumers() {
		wg.Add(1)
		go func(c *shard.Consumer) {
			defer wg.Done()
			got, err := drainConsumer(t, ctx, c)
			assert.ErrorIs(t, err, io.EOF)
			mu.Lock()
			all = append(all, got...)
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	// Union of the partitions is the whole stream, with no duplicates.
	require.Len(t, all, 30)
	seen := make(map[int64]bool, len(all))
	for _, v := range all {
		assert.False(t, seen[v], "element %d delivered twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, 30)
}

func TestDynamicPolicyPreservesPerConsumerOrder(t *testing.T) {
	store := sealedStream(t, "streams/a", testutil.NewRangeSource(20, 4))
	ctx := context.Background()

	g, err := shard.New(shard.PolicyDynamic, 2, source(store, "streams/a"))
	require.NoError(t, err)
	defer g.Close()

	// A single consumer pulling alone receives elements in stream order
	// even though delivery is dynamic.
	c := g.Consumers()[0]
	var prev int64 = -1
	for i := 0; i < 10; i++ {
		el, err := c.Next(ctx)
		require.NoError(t, err)
		v, err := testutil.ParseInt64Element(el)
		require.NoError(t, err)
		assert.Greater(t, v, prev)
		prev = v
	}
}

func TestDynamicPolicySurfacesFailure(t *testing.T) {
	src := testutil.NewRangeSource(10, 2).Poisoned(3)
	store, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, testutil.Materialize(ctx, store, "streams/bad", src, snapshot.DefaultOptions(), 1))

	g, err := shard.New(shard.PolicyDynamic, 2, source(store, "streams/bad"))
	require.NoError(t, err)
	defer g.Close()

	// Every consumer observes the save failure, not just the one whose
	// pull hit it.
	for _, c := range g.Consumers() {
		_, err := drainConsumer(t, ctx, c)
		assert.ErrorIs(t, err, snaperrors.ErrStreamFailed)
	}
}

func TestGroupClose(t *testing.T) {
	store := sealedStream(t, "streams/a", testutil.NewRangeSource(10, 2))
	ctx := context.Background()

	g, err := shard.New(shard.PolicyDynamic, 2, source(store, "streams/a"))
	require.NoError(t, err)
	g.Close()

	_, err = g.Consumers()[0].Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGroupValidation(t *testing.T) {
	store := sealedStream(t, "streams/a", testutil.NewRangeSource(2, 1))

	_, err := shard.New(shard.PolicyOff, 0, source(store, "streams/a"))
	assert.ErrorIs(t, err, snaperrors.ErrInvalidConfig)

	_, err = shard.New(shard.Policy("HASH"), 2, source(store, "streams/a"))
	assert.ErrorIs(t, err, snaperrors.ErrInvalidConfig)

	_, err = shard.New(shard.PolicyOff, 2, nil)
	assert.ErrorIs(t, err, snaperrors.ErrInvalidConfig)
}

package replay_test

import (
	"context"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/snapstream/chunkstore"
	"github.com/c360/snapstream/chunkstore/fsstore"
	snaperrors "github.com/c360/snapstream/errors"
	"github.com/c360/snapstream/replay"
	"github.com/c360/snapstream/snapshot"
	"github.com/c360/snapstream/testutil"
)

// sealedStream materializes 0..n-1 with one chunk per element and returns
// the store it lives in.
func sealedStream(t *testing.T, root string, n int64) chunkstore.Store {
	t.Helper()
	store, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	src := testutil.NewRangeSource(n, 2)
	opts := snapshot.Options{MaxChunkSizeBytes: 1}
	require.NoError(t, testutil.Materialize(context.Background(), store, root, src, opts, 1))
	return store
}

func newOrchestrator(store chunkstore.Store, root string, opts ...replay.Option) *replay.Orchestrator {
	opts = append([]replay.Option{replay.WithReaderConfig(testutil.FastReaderConfig())}, opts...)
	return replay.New(store, root, opts...)
}

func drain(t *testing.T, ctx context.Context, o *replay.Orchestrator) []int64 {
	t.Helper()
	var out []int64
	for {
		el, err := o.Next(ctx)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		v, err := testutil.ParseInt64Element(el)
		require.NoError(t, err)
		out = append(out, v)
	}
}

func take(t *testing.T, ctx context.Context, o *replay.Orchestrator, n int) []int64 {
	t.Helper()
	out := make([]int64, 0, n)
	for len(out) < n {
		el, err := o.Next(ctx)
		require.NoError(t, err)
		v, err := testutil.ParseInt64Element(el)
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestSingleEpoch(t *testing.T) {
	store := sealedStream(t, "streams/a", 10)
	ctx := context.Background()

	o := newOrchestrator(store, "streams/a")
	got := drain(t, ctx, o)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)

	_, err := o.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRepeatedEpochsIdenticalOrder(t *testing.T) {
	store := sealedStream(t, "streams/a", 8)
	ctx := context.Background()

	o := newOrchestrator(store, "streams/a", replay.WithRepeats(3))
	got := drain(t, ctx, o)
	require.Len(t, got, 24)

	first := got[:8]
	for epoch := 1; epoch < 3; epoch++ {
		if diff := cmp.Diff(first, got[epoch*8:(epoch+1)*8]); diff != "" {
			t.Errorf("epoch %d order mismatch (-first +epoch):\n%s", epoch, diff)
		}
	}
}

func TestZeroRepeatsIsEmpty(t *testing.T) {
	store := sealedStream(t, "streams/a", 4)
	o := newOrchestrator(store, "streams/a", replay.WithRepeats(0))
	_, err := o.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnboundedRepeatsWrapAround(t *testing.T) {
	store := sealedStream(t, "streams/a", 5)
	ctx := context.Background()

	o := newOrchestrator(store, "streams/a", replay.WithRepeats(replay.Unbounded))
	got := take(t, ctx, o, 13)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 0, 1, 2, 3, 4, 0, 1, 2}, got)
}

func TestCheckpointResume(t *testing.T) {
	store := sealedStream(t, "streams/a", 10)
	ctx := context.Background()

	o := newOrchestrator(store, "streams/a", replay.WithRepeats(2))
	head := take(t, ctx, o, 4)
	cp := o.Checkpoint()
	assert.Equal(t, int64(0), cp.Epoch)
	assert.Equal(t, int64(4), cp.Chunk)

	// The token survives a round-trip through its wire form.
	raw, err := cp.Marshal()
	require.NoError(t, err)
	parsed, err := snapshot.ParseCheckpoint(raw)
	require.NoError(t, err)

	// A fresh orchestrator resumes exactly where the first one stopped.
	resumed := newOrchestrator(store, "streams/a", replay.WithRepeats(2))
	require.NoError(t, resumed.Restore(parsed))
	tail := drain(t, ctx, resumed)

	got := append(head, tail...)
	require.Len(t, got, 20)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got[:10])
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got[10:])
}

func TestRestoreCompletedReplay(t *testing.T) {
	store := sealedStream(t, "streams/a", 4)
	o := newOrchestrator(store, "streams/a", replay.WithRepeats(2))

	require.NoError(t, o.Restore(snapshot.Checkpoint{Epoch: 2}))
	_, err := o.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	err = o.Restore(snapshot.Checkpoint{Epoch: -1})
	assert.ErrorIs(t, err, snaperrors.ErrInvalidConfig)
}

func TestCardinality(t *testing.T) {
	store := sealedStream(t, "streams/a", 10)
	ctx := context.Background()

	// 10 elements, one per chunk.
	o := newOrchestrator(store, "streams/a", replay.WithRepeats(3))
	card, err := o.Cardinality(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Cardinality(30), card)

	o = newOrchestrator(store, "streams/a", replay.WithRepeats(replay.Unbounded))
	card, err = o.Cardinality(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot.CardinalityInfinite, card)
}

func TestCardinalityEmptyStream(t *testing.T) {
	store, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, testutil.Materialize(ctx, store, "streams/empty",
		testutil.NewRangeSource(0, 1), snapshot.DefaultOptions(), 1))

	// Repeating nothing forever is still nothing.
	o := newOrchestrator(store, "streams/empty", replay.WithRepeats(replay.Unbounded))
	card, err := o.Cardinality(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Cardinality(0), card)

	_, err = o.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

package reader_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/snapstream/chunkstore"
	"github.com/c360/snapstream/chunkstore/fsstore"
	snaperrors "github.com/c360/snapstream/errors"
	"github.com/c360/snapstream/reader"
	"github.com/c360/snapstream/snapshot"
	"github.com/c360/snapstream/testutil"
)

func newStore(t *testing.T) chunkstore.Store {
	t.Helper()
	store, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	return store
}

func fastCursor(store chunkstore.Store, root string) *reader.Cursor {
	return reader.Open(store, root, reader.WithConfig(testutil.FastReaderConfig()))
}

// drain reads the cursor to io.EOF and returns the decoded elements.
func drain(t *testing.T, ctx context.Context, c *reader.Cursor) []int64 {
	t.Helper()
	var out []int64
	for {
		el, err := c.Next(ctx)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		v, err := testutil.ParseInt64Element(el)
		require.NoError(t, err)
		out = append(out, v)
	}
}

func TestCursorReadsSealedStream(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	root := "streams/sealed"

	src := testutil.NewRangeSource(12, 3)
	opts := snapshot.Options{MaxChunkSizeBytes: 1}
	require.NoError(t, testutil.Materialize(ctx, store, root, src, opts, 1))

	got := drain(t, ctx, fastCursor(store, root))
	require.Len(t, got, 12)
	for i, v := range got {
		assert.Equal(t, int64(i), v)
	}

	// EOF is sticky.
	c := fastCursor(store, root)
	drain(t, ctx, c)
	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCursorTailsConcurrentSave(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	root := "streams/tail"

	src := testutil.NewRangeSource(50, 5)
	opts := snapshot.Options{MaxChunkSizeBytes: 1}

	saveErr := make(chan error, 1)
	go func() {
		saveErr <- testutil.Materialize(ctx, store, root, src, opts, 2)
	}()

	got := drain(t, ctx, fastCursor(store, root))
	require.NoError(t, <-saveErr)

	seen := make(map[int64]bool, len(got))
	for _, v := range got {
		assert.False(t, seen[v], "element %d delivered twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, 50)
}

func TestCursorWaitsForSaveToBegin(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	root := "streams/early"

	// The cursor opens against an empty root; the save starts later.
	c := fastCursor(store, root)
	go func() {
		time.Sleep(50 * time.Millisecond)
		src := testutil.NewRangeSource(6, 2)
		_ = testutil.Materialize(ctx, store, root, src, snapshot.DefaultOptions(), 1)
	}()

	got := drain(t, ctx, c)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, got)
}

func TestCursorSurfacesSaveFailure(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	root := "streams/poisoned"

	src := testutil.NewRangeSource(10, 2).Poisoned(5)
	require.NoError(t, testutil.Materialize(ctx, store, root, src, snapshot.DefaultOptions(), 1))

	c := fastCursor(store, root)
	var err error
	for {
		_, err = c.Next(ctx)
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, snaperrors.ErrStreamFailed)
	assert.True(t, snaperrors.IsFatal(err))
	assert.Contains(t, err.Error(), "invalid value 5")
}

func TestCursorDetectsChunkGap(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	root := "streams/gap"

	// Sealed metadata promises two chunks but only chunk 0 exists.
	data, err := snapshot.EncodeChunk([][]byte{testutil.Int64Element(0)}, snapshot.CompressionNone)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, snapshot.ChunkKey(root, 0), data))
	now := time.Now().UTC()
	require.NoError(t, snapshot.WriteMetadata(ctx, store, root, &snapshot.Metadata{
		RunID:     "run",
		State:     snapshot.StateDone,
		NumChunks: 2,
		CreatedAt: now,
		SealedAt:  &now,
	}))

	c := fastCursor(store, root)
	_, err = c.Next(ctx)
	require.NoError(t, err)
	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, snaperrors.ErrChunkGap)
}

func TestOpenAtResumesMidChunk(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	root := "streams/resume"

	// One split, one chunk of ten elements.
	src := testutil.NewRangeSource(10, 10)
	require.NoError(t, testutil.Materialize(ctx, store, root, src, snapshot.DefaultOptions(), 1))

	c := reader.OpenAt(store, root, 0, 4, reader.WithConfig(testutil.FastReaderConfig()))
	got := drain(t, ctx, c)
	assert.Equal(t, []int64{4, 5, 6, 7, 8, 9}, got)
}

func TestPositionTracksConsumption(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	root := "streams/pos"

	src := testutil.NewRangeSource(4, 2)
	opts := snapshot.Options{MaxChunkSizeBytes: 1}
	require.NoError(t, testutil.Materialize(ctx, store, root, src, opts, 1))

	c := fastCursor(store, root)
	chunk, offset := c.Position()
	assert.Equal(t, int64(0), chunk)
	assert.Equal(t, int64(0), offset)

	_, err := c.Next(ctx)
	require.NoError(t, err)
	// Per-element chunks: chunk 0 is fully consumed, position names chunk 1.
	chunk, offset = c.Position()
	assert.Equal(t, int64(1), chunk)
	assert.Equal(t, int64(0), offset)
}

func TestListChunksSealedStream(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	root := "streams/list"

	src := testutil.NewRangeSource(6, 2)
	opts := snapshot.Options{MaxChunkSizeBytes: 1}
	require.NoError(t, testutil.Materialize(ctx, store, root, src, opts, 1))

	refs, err := reader.ListChunks(ctx, store, root)
	require.NoError(t, err)
	require.Len(t, refs, 6)
	for i, ref := range refs {
		assert.Equal(t, int64(i), ref.Number)
	}

	described, err := reader.DescribeChunk(ctx, store, refs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), described.Elements)
	assert.Positive(t, described.Bytes)
}

func TestChunkCardinality(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// No stream yet.
	card, err := reader.ChunkCardinality(ctx, store, "streams/none")
	require.NoError(t, err)
	assert.Equal(t, snapshot.CardinalityUnknown, card)

	// Streaming: the count is not knowable yet.
	require.NoError(t, snapshot.WriteMetadata(ctx, store, "streams/live", &snapshot.Metadata{
		RunID: "run", State: snapshot.StateStreaming, CreatedAt: time.Now().UTC(),
	}))
	card, err = reader.ChunkCardinality(ctx, store, "streams/live")
	require.NoError(t, err)
	assert.Equal(t, snapshot.CardinalityUnknown, card)

	// Sealed: exact.
	src := testutil.NewRangeSource(8, 2)
	opts := snapshot.Options{MaxChunkSizeBytes: 1}
	require.NoError(t, testutil.Materialize(ctx, store, "streams/done", src, opts, 1))
	card, err = reader.ChunkCardinality(ctx, store, "streams/done")
	require.NoError(t, err)
	assert.Equal(t, snapshot.Cardinality(8), card)

	// Failed: unknown, with the persisted cause.
	psrc := testutil.NewRangeSource(4, 2).Poisoned(1)
	require.NoError(t, testutil.Materialize(ctx, store, "streams/bad", psrc, snapshot.DefaultOptions(), 1))
	card, err = reader.ChunkCardinality(ctx, store, "streams/bad")
	assert.Equal(t, snapshot.CardinalityUnknown, card)
	assert.ErrorIs(t, err, snaperrors.ErrStreamFailed)
}

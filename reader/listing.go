package reader

import (
	"context"
	"fmt"

	"github.com/c360/snapstream/chunkstore"
	snaperrors "github.com/c360/snapstream/errors"
	"github.com/c360/snapstream/pkg/retry"
	"github.com/c360/snapstream/snapshot"
)

// ListChunks is the low-level chunk-listing primitive: it returns the
// committed chunks of the stream at root in chunk-number order. Usable
// directly for diagnostics and cardinality queries; the listing reflects
// a moment in time and grows while the stream is STREAMING.
func ListChunks(ctx context.Context, store chunkstore.Store, root string) ([]snapshot.ChunkRef, error) {
	keys, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() ([]string, error) {
		return store.List(ctx, snapshot.ChunkPrefix(root))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", snaperrors.ErrStorageUnavailable, err)
	}

	refs := make([]snapshot.ChunkRef, 0, len(keys))
	for _, key := range keys {
		n, err := snapshot.ParseChunkNumber(key)
		if err != nil {
			return nil, snaperrors.WrapFatal(err, "reader", "ListChunks",
				fmt.Sprintf("foreign key %q in chunk namespace", key))
		}
		refs = append(refs, snapshot.ChunkRef{Key: key, Number: n})
	}
	return refs, nil
}

// DescribeChunk fills in the element and byte counts of a listed chunk by
// reading its self-describing header.
func DescribeChunk(ctx context.Context, store chunkstore.Store, ref snapshot.ChunkRef) (snapshot.ChunkRef, error) {
	data, err := store.Get(ctx, ref.Key)
	if err != nil {
		return ref, err
	}
	count, err := snapshot.ChunkElementCount(data)
	if err != nil {
		return ref, err
	}
	ref.Elements = count
	ref.Bytes = int64(len(data))
	return ref, nil
}

// ChunkCardinality resolves the cardinality of the raw chunk set at root:
// CardinalityUnknown while the stream is STREAMING (or before any save has
// begun), the sealed chunk count once DONE. Callers must re-poll an
// unknown result; sealing is asynchronous relative to them. A failed
// stream surfaces its persisted cause.
func ChunkCardinality(ctx context.Context, store chunkstore.Store, root string) (snapshot.Cardinality, error) {
	meta, err := snapshot.ReadMetadata(ctx, store, root)
	if err != nil {
		if snaperrors.Is(err, snaperrors.ErrKeyNotFound) {
			return snapshot.CardinalityUnknown, nil
		}
		return snapshot.CardinalityUnknown, err
	}

	switch meta.State {
	case snapshot.StateDone:
		return snapshot.Cardinality(meta.NumChunks), nil
	case snapshot.StateFailed:
		return snapshot.CardinalityUnknown, meta.FailureError()
	default:
		return snapshot.CardinalityUnknown, nil
	}
}

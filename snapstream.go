package snapstream

import (
	"context"

	"github.com/c360/snapstream/chunkstore"
	"github.com/c360/snapstream/dispatcher"
	"github.com/c360/snapstream/pkg/fleet"
	"github.com/c360/snapstream/reader"
	"github.com/c360/snapstream/replay"
	"github.com/c360/snapstream/shard"
	"github.com/c360/snapstream/snapshot"
	"github.com/c360/snapstream/writer"
)

// SaveHandle is a started save: a dispatcher serving one stream. The
// handle owns the dispatcher; call Close once the save is sealed or
// abandoned. Multiple saves may instead share a single
// dispatcher.Dispatcher directly.
type SaveHandle struct {
	Dispatcher *dispatcher.Dispatcher
	Stream     dispatcher.StreamHandle
}

// Close releases the dispatcher owned by the handle.
func (h *SaveHandle) Close() { h.Dispatcher.Close() }

// Save starts materializing the provider's splits under root. It
// returns as soon as the stream is registered; workers started with
// Write perform the actual writing, concurrently with any readers.
func Save(ctx context.Context, store chunkstore.Store, root string, provider snapshot.SplitProvider, opts snapshot.Options, dopts ...dispatcher.Option) (*SaveHandle, error) {
	d, err := dispatcher.New(store, dispatcher.DefaultConfig(), dopts...)
	if err != nil {
		return nil, err
	}
	handle, err := d.BeginStream(ctx, root, provider, opts)
	if err != nil {
		d.Close()
		return nil, err
	}
	return &SaveHandle{Dispatcher: d, Stream: handle}, nil
}

// Write starts a fleet of size writer workers draining the save's
// splits through pipeline. The returned fleet is already running; Wait
// blocks until the stream is sealed, fails, or ctx is cancelled.
func Write(ctx context.Context, size int, save *SaveHandle, store chunkstore.Store, pipeline snapshot.Pipeline, opts snapshot.Options) (*fleet.Fleet, error) {
	f, err := writer.NewFleet(size, save.Stream.Root, save.Dispatcher, store, pipeline, opts, writer.DefaultConfig(), nil)
	if err != nil {
		return nil, err
	}
	if err := f.Start(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Load opens a single-epoch replay of the snapshot at root. Reading may
// begin before the save has been sealed, or even started; Next blocks
// until elements are available.
func Load(ctx context.Context, store chunkstore.Store, root string, opts ...replay.Option) (*replay.Orchestrator, error) {
	return replay.New(store, root, opts...), nil
}

// LoadRepeated opens a replay that iterates the snapshot repeats times;
// replay.Unbounded repeats forever.
func LoadRepeated(ctx context.Context, store chunkstore.Store, root string, repeats int64, opts ...replay.Option) (*replay.Orchestrator, error) {
	opts = append(opts, replay.WithRepeats(repeats))
	return replay.New(store, root, opts...), nil
}

// Distribute fans a replay of the snapshot at root across a consumer
// group of the given size under policy.
func Distribute(store chunkstore.Store, root string, policy shard.Policy, size int, opts ...replay.Option) (*shard.Group, error) {
	return shard.New(policy, size, func() (*replay.Orchestrator, error) {
		return replay.New(store, root, opts...), nil
	})
}

// ListChunks returns the committed chunks of the snapshot at root, in
// chunk-number order.
func ListChunks(ctx context.Context, store chunkstore.Store, root string) ([]snapshot.ChunkRef, error) {
	return reader.ListChunks(ctx, store, root)
}

// ChunkCardinality reports the chunk count of the snapshot at root:
// the exact count once sealed, CardinalityUnknown while streaming.
func ChunkCardinality(ctx context.Context, store chunkstore.Store, root string) (snapshot.Cardinality, error) {
	return reader.ChunkCardinality(ctx, store, root)
}

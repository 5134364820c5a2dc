// Package snapshot defines the shared data model of the distributed
// snapshot protocol: the stream metadata record, the chunk namespace
// layout, the chunk file codec, and the split/pipeline interfaces that
// connect the dispatcher, writer workers, and readers.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/snapstream/chunkstore"
	snaperrors "github.com/c360/snapstream/errors"
)

// State is the lifecycle state of a stream.
type State string

const (
	// StateStreaming means the stream is registered and chunks may still
	// be committed.
	StateStreaming State = "STREAMING"
	// StateDone means the stream is sealed; its chunk set is final.
	StateDone State = "DONE"
	// StateFailed means the stream terminated with a persisted cause and
	// will never seal.
	StateFailed State = "FAILED"
)

// Metadata is the stream metadata record persisted alongside chunks. It
// carries everything a reader started after the fact needs to reconstruct
// ordering without contacting the original dispatcher.
type Metadata struct {
	// RunID uniquely identifies the save run that produced this stream.
	RunID string `json:"run_id"`

	// State is the stream lifecycle state. Terminal states are immutable.
	State State `json:"state"`

	// Compression is the codec chunks were encoded with ("", "gzip", "lz4").
	Compression string `json:"compression,omitempty"`

	// NumChunks is the sealed total chunk count. Only meaningful once
	// State is StateDone; chunk numbers 0..NumChunks-1 are then contiguous.
	NumChunks int64 `json:"num_chunks,omitempty"`

	// NumElements is the sealed total element count across all chunks.
	NumElements int64 `json:"num_elements,omitempty"`

	// ErrorMessage is the persisted failure cause when State is StateFailed.
	ErrorMessage string `json:"error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	SealedAt  *time.Time `json:"sealed_at,omitempty"`
}

// Terminal reports whether the stream has reached an immutable state.
func (m *Metadata) Terminal() bool {
	return m.State == StateDone || m.State == StateFailed
}

// FailureError returns the persisted failure cause as a fatal error, or nil
// if the stream has not failed.
func (m *Metadata) FailureError() error {
	if m.State != StateFailed {
		return nil
	}
	return snaperrors.WrapFatal(snaperrors.ErrStreamFailed, "snapshot", "read",
		fmt.Sprintf("stream failed during save: %s", m.ErrorMessage))
}

// ReadMetadata fetches and decodes the stream metadata record at root.
// Returns errors.ErrKeyNotFound if no stream has been registered there yet.
func ReadMetadata(ctx context.Context, store chunkstore.Store, root string) (*Metadata, error) {
	data, err := store.Get(ctx, MetadataKey(root))
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, snaperrors.WrapFatal(err, "snapshot", "ReadMetadata",
			fmt.Sprintf("corrupt metadata record at %q", root))
	}
	return &m, nil
}

// WriteMetadata atomically publishes the stream metadata record at root.
// This is the single linearization point readers rely on: publishing a
// StateDone record with the final chunk count is what seals a stream.
func WriteMetadata(ctx context.Context, store chunkstore.Store, root string, m *Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("snapshot: marshal metadata: %w", err)
	}
	return store.Put(ctx, MetadataKey(root), data)
}

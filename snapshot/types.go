package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
)

// Split is an opaque, re-assignable unit of pipeline work. Index increases
// monotonically in hand-out order; Payload carries whatever the split
// provider needs to re-enumerate the work on a different worker.
type Split struct {
	Index   int64  `json:"index"`
	Payload []byte `json:"payload,omitempty"`
}

// SplitProvider enumerates pipeline work into splits on demand. The
// dispatcher owns the provider; no other code touches it.
type SplitProvider interface {
	// Next returns the next split. ok is false once the provider is
	// exhausted; exhaustion is permanent, and Next must keep returning
	// ok=false when called again after reporting it.
	Next(ctx context.Context) (split Split, ok bool, err error)
}

// Pipeline executes the user's data-generating computation for one split.
// Element payload encoding is the caller's concern; the protocol treats
// elements as opaque byte slices.
type Pipeline interface {
	Open(ctx context.Context, split Split) (Iterator, error)
}

// Iterator produces the elements of one split in order.
type Iterator interface {
	// Next returns the next element, or io.EOF once the split is
	// exhausted. Any other error is a data-level pipeline failure.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// ChunkRef identifies one chunk. Staged refs (reported by workers before
// commit) carry the staging key; committed refs carry the final key and
// the dispatcher-assigned number.
type ChunkRef struct {
	Key      string `json:"key"`
	Number   int64  `json:"number"`
	Elements int64  `json:"elements"`
	Bytes    int64  `json:"bytes"`
}

// Checkpoint captures a replay position: the chunk currently being
// consumed, how many of its elements have been delivered, and how many
// full epochs completed before it. Valid as long as the stream's chunk
// ordering is unchanged, which the protocol guarantees forever once a
// chunk is committed.
type Checkpoint struct {
	Epoch  int64 `json:"epoch"`
	Chunk  int64 `json:"chunk"`
	Offset int64 `json:"offset"`
}

// Marshal serializes the checkpoint token.
func (c Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// ParseCheckpoint deserializes a checkpoint token.
func ParseCheckpoint(data []byte) (Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("snapshot: parse checkpoint: %w", err)
	}
	return c, nil
}

// Cardinality is a lazily-resolving count of the raw chunk set.
type Cardinality int64

const (
	// CardinalityUnknown means the stream is still streaming and the chunk
	// count is not final. Callers must re-poll rather than cache this.
	CardinalityUnknown Cardinality = -2
	// CardinalityInfinite is the cardinality of an unboundedly repeated view.
	CardinalityInfinite Cardinality = -1
)

func (c Cardinality) String() string {
	switch c {
	case CardinalityUnknown:
		return "unknown"
	case CardinalityInfinite:
		return "infinite"
	default:
		return fmt.Sprintf("%d", int64(c))
	}
}

// Repeated returns the cardinality of this chunk set repeated n times.
// n < 0 means unbounded repetition.
func (c Cardinality) Repeated(n int64) Cardinality {
	switch {
	case c == CardinalityUnknown:
		return CardinalityUnknown
	case c == CardinalityInfinite:
		return CardinalityInfinite
	case c == 0:
		return 0
	case n < 0:
		return CardinalityInfinite
	default:
		return Cardinality(int64(c) * n)
	}
}

package snapshot

import (
	"fmt"

	snaperrors "github.com/c360/snapstream/errors"
)

// DefaultMaxChunkSizeBytes bounds the serialized size of one chunk. The
// threshold is a throughput/latency knob only; it never changes which
// elements are produced, just how they are grouped.
const DefaultMaxChunkSizeBytes int64 = 2 << 20 // 2MB

// Options configures a save run.
type Options struct {
	// Compression selects the chunk codec: "", "gzip" or "lz4".
	Compression string `json:"compression"`

	// MaxChunkSizeBytes flushes a chunk once its buffered elements reach
	// this many serialized bytes. A chunk always holds at least one
	// element, so a single oversized element still fits.
	MaxChunkSizeBytes int64 `json:"max_chunk_size_bytes"`
}

// DefaultOptions returns the default save options.
func DefaultOptions() Options {
	return Options{
		Compression:       CompressionNone,
		MaxChunkSizeBytes: DefaultMaxChunkSizeBytes,
	}
}

// Validate checks the options, applying defaults for zero values.
func (o *Options) Validate() error {
	if o.MaxChunkSizeBytes == 0 {
		o.MaxChunkSizeBytes = DefaultMaxChunkSizeBytes
	}
	if o.MaxChunkSizeBytes < 0 {
		return fmt.Errorf("snapshot: max_chunk_size_bytes must be positive, got %d: %w",
			o.MaxChunkSizeBytes, snaperrors.ErrInvalidConfig)
	}
	if !ValidCompression(o.Compression) {
		return fmt.Errorf("snapshot: unknown compression %q: %w", o.Compression, snaperrors.ErrInvalidConfig)
	}
	return nil
}

// Package reader implements the chunk reader: it discovers committed
// chunks for a stream, tails an in-progress stream until it converges with
// the writers, and produces elements in strictly increasing chunk-number
// order.
package reader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/snapstream/chunkstore"
	snaperrors "github.com/c360/snapstream/errors"
	"github.com/c360/snapstream/metric"
	"github.com/c360/snapstream/pkg/retry"
	"github.com/c360/snapstream/snapshot"
)

// Config holds reader tuning knobs.
type Config struct {
	// MinPollInterval caps how frequently a tailing reader hits the store.
	MinPollInterval time.Duration

	// MaxPollInterval bounds the exponential backoff between polls while
	// waiting for the next chunk to appear.
	MaxPollInterval time.Duration

	// Retry configures store I/O retries for reads.
	Retry retry.Config
}

// DefaultConfig returns the default reader configuration.
func DefaultConfig() Config {
	return Config{
		MinPollInterval: 20 * time.Millisecond,
		MaxPollInterval: time.Second,
		Retry:           retry.DefaultConfig(),
	}
}

func (c *Config) applyDefaults() {
	if c.MinPollInterval <= 0 {
		c.MinPollInterval = 20 * time.Millisecond
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = time.Second
	}
}

// Cursor reads one stream's elements in order. It may be opened before the
// stream exists: it then waits for a save to begin and converges with the
// writers. A cursor is not safe for concurrent use.
type Cursor struct {
	store   chunkstore.Store
	root    string
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
	limiter *rate.Limiter

	meta *snapshot.Metadata

	next    int64 // next chunk number to load
	current [][]byte
	curNum  int64
	offset  int64
	skip    int64 // pending intra-chunk offset from a checkpoint restore
	done    bool
}

// Option configures a Cursor.
type Option func(*Cursor)

// WithConfig overrides the reader configuration.
func WithConfig(cfg Config) Option {
	return func(c *Cursor) { c.cfg = cfg }
}

// WithLogger sets the cursor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cursor) { c.logger = logger }
}

// WithMetrics attaches core protocol metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Cursor) { c.metrics = m }
}

// Open creates a cursor at the start of the stream rooted at root.
func Open(store chunkstore.Store, root string, opts ...Option) *Cursor {
	c := &Cursor{
		store:  store,
		root:   root,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg.applyDefaults()
	c.limiter = rate.NewLimiter(rate.Every(c.cfg.MinPollInterval), 1)
	return c
}

// OpenAt creates a cursor positioned at the given chunk number and
// intra-chunk element offset, as recorded by a checkpoint.
func OpenAt(store chunkstore.Store, root string, chunk, offset int64, opts ...Option) *Cursor {
	c := Open(store, root, opts...)
	c.next = chunk
	c.skip = offset
	return c
}

// Position returns the cursor's replay position: the chunk currently
// being consumed and the number of its elements already delivered. When
// the cursor sits between chunks the position names the next chunk at
// offset zero.
func (c *Cursor) Position() (chunk, offset int64) {
	if c.current != nil && c.offset < int64(len(c.current)) {
		return c.curNum, c.offset
	}
	return c.next, 0
}

// Next returns the next element in strictly increasing chunk-number
// order, and write order within a chunk. While the stream is still being
// written and the next chunk has not appeared, Next suspends with bounded
// backoff rather than failing. It returns io.EOF once the stream is
// sealed and fully consumed, and surfaces a failed stream's persisted
// cause as a fatal error.
func (c *Cursor) Next(ctx context.Context) ([]byte, error) {
	attempt := 1
	for {
		if c.done {
			return nil, io.EOF
		}
		if c.current != nil && c.offset < int64(len(c.current)) {
			el := c.current[c.offset]
			c.offset++
			return el, nil
		}

		loaded, err := c.loadChunk(ctx)
		if err != nil {
			return nil, err
		}
		if loaded {
			attempt = 1
			continue
		}

		// The next chunk is not there yet. Decide between genuine end,
		// failure, and awaiting a concurrent writer.
		if err := c.refreshMetadata(ctx); err != nil {
			return nil, err
		}
		if c.meta != nil {
			switch c.meta.State {
			case snapshot.StateFailed:
				return nil, c.meta.FailureError()
			case snapshot.StateDone:
				if c.next >= c.meta.NumChunks {
					c.done = true
					return nil, io.EOF
				}
				// Sealed metadata promises contiguous chunks; a hole here
				// is an integrity violation, not something to wait out.
				return nil, snaperrors.WrapFatal(snaperrors.ErrChunkGap, "reader", "Next",
					fmt.Sprintf("chunk %d missing from stream sealed at %d chunks", c.next, c.meta.NumChunks))
			}
		}

		// AWAIT: suspend with bounded backoff, re-polling until the chunk
		// or a terminal state appears.
		if c.metrics != nil {
			c.metrics.ReaderAwaits.WithLabelValues(c.root).Inc()
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		delay := c.cfg.Retry.Delay(attempt)
		if delay > c.cfg.MaxPollInterval {
			delay = c.cfg.MaxPollInterval
		}
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil, err
		}
		attempt++
	}
}

// loadChunk tries to fetch and decode chunk number c.next. It returns
// false without error when the chunk has not been committed yet.
func (c *Cursor) loadChunk(ctx context.Context) (bool, error) {
	key := snapshot.ChunkKey(c.root, c.next)
	data, err := retry.DoWithResult(ctx, c.cfg.Retry, func() ([]byte, error) {
		b, err := c.store.Get(ctx, key)
		if snaperrors.Is(err, snaperrors.ErrKeyNotFound) {
			return nil, retry.NonRetryable(err)
		}
		return b, err
	})
	if err != nil {
		if snaperrors.Is(err, snaperrors.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", snaperrors.ErrStorageUnavailable, err)
	}

	// Chunks are only committed after the metadata record exists, so the
	// codec is always known by the time there is something to decode.
	if c.meta == nil {
		if err := c.refreshMetadata(ctx); err != nil {
			return false, err
		}
		if c.meta == nil {
			return false, snaperrors.WrapFatal(snaperrors.ErrChunkCorrupted, "reader", "loadChunk",
				fmt.Sprintf("chunk %d exists but stream %q has no metadata record", c.next, c.root))
		}
	}

	elements, err := snapshot.DecodeChunk(data, c.meta.Compression)
	if err != nil {
		return false, err
	}

	c.current = elements
	c.curNum = c.next
	c.offset = 0
	c.next++
	if c.skip > 0 {
		if c.skip > int64(len(elements)) {
			return false, snaperrors.WrapFatal(snaperrors.ErrEndOfCheckpoint, "reader", "loadChunk",
				fmt.Sprintf("checkpoint offset %d exceeds %d elements in chunk %d", c.skip, len(elements), c.curNum))
		}
		c.offset = c.skip
		c.skip = 0
	}
	if c.metrics != nil {
		c.metrics.ChunksRead.WithLabelValues(c.root).Inc()
	}
	c.logger.Debug("Loaded chunk", "root", c.root, "chunk", c.curNum, "elements", len(elements))
	return true, nil
}

// refreshMetadata re-reads the stream metadata record unless a terminal
// record is already cached. Terminal states are immutable, so they are
// safe to cache; STREAMING is not, since sealing is asynchronous.
func (c *Cursor) refreshMetadata(ctx context.Context) error {
	if c.meta != nil && c.meta.Terminal() {
		return nil
	}

	meta, err := retry.DoWithResult(ctx, c.cfg.Retry, func() (*snapshot.Metadata, error) {
		m, err := snapshot.ReadMetadata(ctx, c.store, c.root)
		if snaperrors.Is(err, snaperrors.ErrKeyNotFound) {
			return nil, retry.NonRetryable(err)
		}
		return m, err
	})
	if err != nil {
		if snaperrors.Is(err, snaperrors.ErrKeyNotFound) {
			// No save has begun yet; keep tailing.
			return nil
		}
		return fmt.Errorf("%w: %w", snaperrors.ErrStorageUnavailable, err)
	}
	c.meta = meta
	return nil
}

// Package replay presents a stream's chunk sequence as a restartable,
// optionally repeating element stream with epoch semantics and
// checkpoint/resume.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/c360/snapstream/chunkstore"
	snaperrors "github.com/c360/snapstream/errors"
	"github.com/c360/snapstream/metric"
	"github.com/c360/snapstream/reader"
	"github.com/c360/snapstream/snapshot"
)

// Unbounded requests infinite repetition of the stream.
const Unbounded int64 = -1

// Orchestrator replays a stream for a configured number of epochs.
//
// A single epoch produces every element in chunk order exactly once; if
// the stream is not sealed when the cursor catches up, the epoch keeps
// tailing rather than terminating. Epoch-to-epoch order is identical once
// the stream is sealed. An epoch that overlapped with writing reflects
// whatever chunks existed as it passed them, so callers must not assume
// the first epoch matches later ones unless replay started after sealing.
//
// An Orchestrator is not safe for concurrent use.
type Orchestrator struct {
	store   chunkstore.Store
	root    string
	repeats int64
	rdCfg   reader.Config
	logger  *slog.Logger
	metrics *metric.Metrics

	epoch         int64
	epochElements int64
	cursor        *reader.Cursor
	resumed       bool // current epoch started mid-stream via Restore
	finished      bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRepeats sets the epoch count; Unbounded repeats forever.
func WithRepeats(n int64) Option {
	return func(o *Orchestrator) { o.repeats = n }
}

// WithReaderConfig overrides the underlying cursor configuration.
func WithReaderConfig(cfg reader.Config) Option {
	return func(o *Orchestrator) { o.rdCfg = cfg }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics attaches core protocol metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates a single-epoch orchestrator for the stream at root unless
// WithRepeats says otherwise.
func New(store chunkstore.Store, root string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		root:    root,
		repeats: 1,
		rdCfg:   reader.DefaultConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) cursorOptions() []reader.Option {
	opts := []reader.Option{reader.WithConfig(o.rdCfg), reader.WithLogger(o.logger)}
	if o.metrics != nil {
		opts = append(opts, reader.WithMetrics(o.metrics))
	}
	return opts
}

// Next returns the next element of the replay, or io.EOF once all
// configured epochs are consumed. With zero repeats the replay is empty.
func (o *Orchestrator) Next(ctx context.Context) ([]byte, error) {
	for {
		if o.finished || o.repeats == 0 {
			return nil, io.EOF
		}
		if o.cursor == nil {
			o.cursor = reader.Open(o.store, o.root, o.cursorOptions()...)
		}

		el, err := o.cursor.Next(ctx)
		if err == nil {
			o.epochElements++
			return el, nil
		}
		if !errors.Is(err, io.EOF) {
			return nil, err
		}

		// Epoch complete. Restart the cursor from the beginning unless
		// the configured epochs are all consumed. A full epoch with no
		// elements means the stream sealed empty; repeating it yields
		// nothing, so the replay ends regardless of the repeat count. A
		// resumed epoch is exempt: its checkpoint may sit at the very end.
		emptyStream := o.epochElements == 0 && !o.resumed
		o.epoch++
		o.cursor = nil
		o.resumed = false
		if o.metrics != nil {
			o.metrics.EpochsCompleted.WithLabelValues(o.root).Inc()
		}
		o.logger.Debug("Replay epoch complete", "root", o.root, "epoch", o.epoch, "elements", o.epochElements)
		if emptyStream || (o.repeats != Unbounded && o.epoch >= o.repeats) {
			o.finished = true
		}
		o.epochElements = 0
	}
}

// Checkpoint captures the replay position for later resumption. The token
// stays valid because a committed chunk's number and contents never change.
func (o *Orchestrator) Checkpoint() snapshot.Checkpoint {
	cp := snapshot.Checkpoint{Epoch: o.epoch}
	if o.cursor != nil {
		cp.Chunk, cp.Offset = o.cursor.Position()
	}
	return cp
}

// Restore repositions the orchestrator at a previously captured
// checkpoint: the current epoch resumes from the recorded chunk and
// intra-chunk offset, and the completed-epoch count is restored.
func (o *Orchestrator) Restore(cp snapshot.Checkpoint) error {
	if cp.Epoch < 0 || cp.Chunk < 0 || cp.Offset < 0 {
		return fmt.Errorf("replay: negative checkpoint field: %w", snaperrors.ErrInvalidConfig)
	}
	o.epoch = cp.Epoch
	o.epochElements = 0
	o.resumed = true
	o.finished = o.repeats != Unbounded && o.epoch >= o.repeats
	o.cursor = reader.OpenAt(o.store, o.root, cp.Chunk, cp.Offset, o.cursorOptions()...)
	return nil
}

// Cardinality resolves the cardinality of this replay's view: the raw
// chunk cardinality scaled by the configured repeats.
func (o *Orchestrator) Cardinality(ctx context.Context) (snapshot.Cardinality, error) {
	card, err := reader.ChunkCardinality(ctx, o.store, o.root)
	if err != nil {
		return card, err
	}
	return card.Repeated(o.repeats), nil
}

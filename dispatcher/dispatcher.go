// Package dispatcher implements the snapshot coordinator: it owns the
// split provider, hands splits to writer workers on pull, assigns chunk
// numbers at commit time, and seals or fails the stream.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/snapstream/chunkstore"
	snaperrors "github.com/c360/snapstream/errors"
	"github.com/c360/snapstream/metric"
	"github.com/c360/snapstream/pkg/retry"
	"github.com/c360/snapstream/snapshot"
)

// Config holds dispatcher tuning knobs.
type Config struct {
	// LeaseDuration is how long a worker may hold a split without
	// acknowledging it before the split returns to the pool.
	LeaseDuration time.Duration

	// SweepInterval is how often expired leases are collected.
	SweepInterval time.Duration

	// Retry configures store I/O retries for chunk commit and sealing.
	Retry retry.Config
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		LeaseDuration: 30 * time.Second,
		SweepInterval: time.Second,
		Retry:         retry.DefaultConfig(),
	}
}

func (c *Config) validate() error {
	if c.LeaseDuration == 0 {
		c.LeaseDuration = 30 * time.Second
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Second
	}
	if c.LeaseDuration < 0 || c.SweepInterval < 0 {
		return fmt.Errorf("dispatcher: negative lease or sweep interval: %w", snaperrors.ErrInvalidConfig)
	}
	return nil
}

// StreamHandle identifies a registered stream.
type StreamHandle struct {
	Root  string
	RunID string
}

type assignment struct {
	split      snapshot.Split
	workerID   string
	generation int64
	deadline   time.Time
}

type stream struct {
	root  string
	runID string
	opts  snapshot.Options

	// provider is called outside the dispatcher lock, under providerMu,
	// so a slow provider cannot stall heartbeats, completions, or the
	// lease sweep. providerMu is always taken before d.mu, never after.
	provider   snapshot.SplitProvider
	providerMu sync.Mutex

	state     snapshot.State
	exhausted bool

	nextSplit   int64 // split cursor, dispatcher-owned
	nextChunk   int64 // chunk number cursor, assigned at commit time
	numElements int64

	pending     []snapshot.Split // reissuable after lease expiry
	assigned    map[int64]*assignment
	done        map[int64]bool
	committed   map[int64]int // chunks of a split committed by a partial acknowledgment
	generations map[int64]int64

	// wake is closed and replaced whenever state changes that waiters
	// care about: new pending splits, sealing, failure.
	wake chan struct{}
}

func (s *stream) broadcast() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// Dispatcher coordinates any number of independent streams. Streams under
// different roots share nothing but this process.
type Dispatcher struct {
	store   chunkstore.Store
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics attaches core protocol metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a dispatcher over the given chunk store and starts its lease
// sweeper. Call Close to stop it.
func New(store chunkstore.Store, cfg Config, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("dispatcher: nil store: %w", snaperrors.ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		store:     store,
		cfg:       cfg,
		logger:    slog.Default(),
		streams:   make(map[string]*stream),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.sweepLoop()
	return d, nil
}

// Close stops the lease sweeper. Streams that have not sealed remain
// STREAMING in the store; a later dispatcher cannot resume them, so Close
// is intended for shutdown after sealing or failure.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.sweepStop)
	<-d.sweepDone
}

// BeginStream registers a new stream at root: it persists the STREAMING
// metadata record and takes ownership of the split provider. It returns
// once the stream is registered, not once it is sealed; callers observe
// completion through stream state or tailing reads.
func (d *Dispatcher) BeginStream(ctx context.Context, root string, provider snapshot.SplitProvider, opts snapshot.Options) (StreamHandle, error) {
	if provider == nil {
		return StreamHandle{}, fmt.Errorf("dispatcher: nil split provider: %w", snaperrors.ErrInvalidConfig)
	}
	if err := opts.Validate(); err != nil {
		return StreamHandle{}, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return StreamHandle{}, snaperrors.ErrClosed
	}
	if _, exists := d.streams[root]; exists {
		d.mu.Unlock()
		return StreamHandle{}, fmt.Errorf("dispatcher: stream already registered at %q: %w", root, snaperrors.ErrInvalidConfig)
	}

	s := &stream{
		root:        root,
		runID:       uuid.NewString(),
		opts:        opts,
		provider:    provider,
		state:       snapshot.StateStreaming,
		assigned:    make(map[int64]*assignment),
		done:        make(map[int64]bool),
		committed:   make(map[int64]int),
		generations: make(map[int64]int64),
		wake:        make(chan struct{}),
	}
	d.streams[root] = s
	d.mu.Unlock()

	meta := &snapshot.Metadata{
		RunID:       s.runID,
		State:       snapshot.StateStreaming,
		Compression: opts.Compression,
		CreatedAt:   time.Now().UTC(),
	}
	err := retry.Do(ctx, d.cfg.Retry, func() error {
		return snapshot.WriteMetadata(ctx, d.store, root, meta)
	})
	if err != nil {
		d.mu.Lock()
		delete(d.streams, root)
		d.mu.Unlock()
		return StreamHandle{}, snaperrors.Wrap(err, "dispatcher", "BeginStream", "metadata write")
	}

	if d.metrics != nil {
		d.metrics.StreamsActive.Inc()
	}
	d.logger.Info("Stream registered", "root", root, "run_id", s.runID, "compression", opts.Compression)
	return StreamHandle{Root: root, RunID: s.runID}, nil
}

// GetSplit hands out the next split to a worker, registering the worker by
// its ID as a side effect. It blocks while splits may still appear (an
// expired lease can return one) and returns ok=false once the stream is
// exhausted and the caller should stop. Split indexes are assigned here,
// from a cursor only the dispatcher touches.
func (d *Dispatcher) GetSplit(ctx context.Context, root, workerID string) (snapshot.Split, bool, error) {
	for {
		d.mu.Lock()
		s, err := d.streamLocked(root)
		if err != nil {
			d.mu.Unlock()
			return snapshot.Split{}, false, err
		}

		switch {
		case s.state == snapshot.StateFailed:
			d.mu.Unlock()
			return snapshot.Split{}, false, snaperrors.ErrStreamFailed

		case s.state == snapshot.StateDone:
			d.mu.Unlock()
			return snapshot.Split{}, false, nil

		case len(s.pending) > 0:
			split := s.pending[0]
			s.pending = s.pending[1:]
			d.assignLocked(s, split, workerID)
			d.mu.Unlock()
			return split, true, nil

		case !s.exhausted:
			// Fetch outside the dispatcher lock. providerMu serializes
			// fetches and is held across the re-lock so split indexes are
			// assigned in provider order. A provider that already reported
			// exhaustion may be asked again by a racing worker and must
			// keep answering ok=false.
			d.mu.Unlock()
			s.providerMu.Lock()
			split, ok, perr := s.provider.Next(ctx)
			d.mu.Lock()
			if perr != nil {
				s.providerMu.Unlock()
				d.mu.Unlock()
				return snapshot.Split{}, false, snaperrors.Wrap(perr, "dispatcher", "GetSplit", "split provider")
			}
			if s.state == snapshot.StateFailed {
				s.providerMu.Unlock()
				d.mu.Unlock()
				return snapshot.Split{}, false, snaperrors.ErrStreamFailed
			}
			if !ok {
				s.exhausted = true
				s.providerMu.Unlock()
				d.logger.Debug("Split provider exhausted", "root", root, "splits", s.nextSplit)
				if sealErr := d.maybeSealLocked(ctx, s); sealErr != nil {
					d.mu.Unlock()
					return snapshot.Split{}, false, sealErr
				}
				d.mu.Unlock()
				continue
			}
			split.Index = s.nextSplit
			s.nextSplit++
			d.assignLocked(s, split, workerID)
			s.providerMu.Unlock()
			d.mu.Unlock()
			return split, true, nil

		case len(s.assigned) == 0:
			// Exhausted with nothing in flight. Sealing normally already
			// happened on the completion path; re-attempt it here so a
			// seal write that failed there is retried on later pulls
			// rather than leaving the stream STREAMING forever.
			if sealErr := d.maybeSealLocked(ctx, s); sealErr != nil {
				d.mu.Unlock()
				return snapshot.Split{}, false, sealErr
			}
			d.mu.Unlock()
			return snapshot.Split{}, false, nil

		default:
			// Exhausted but splits are in flight: one may come back via
			// lease expiry. Wait for a state change.
			wake := s.wake
			d.mu.Unlock()
			select {
			case <-ctx.Done():
				return snapshot.Split{}, false, ctx.Err()
			case <-wake:
			}
		}
	}
}

// ReportSplitDone acknowledges a completed split and commits its staged
// chunks. Chunk numbers are assigned here, in acknowledgment order, so the
// global chunk order is independent of worker completion timing. Duplicate
// completions are ignored: only the first acknowledgment's chunks are
// committed.
func (d *Dispatcher) ReportSplitDone(ctx context.Context, root, workerID string, splitIndex int64, chunks []snapshot.ChunkRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.streamLocked(root)
	if err != nil {
		return err
	}
	if s.state == snapshot.StateFailed {
		return snaperrors.ErrStreamFailed
	}
	if s.done[splitIndex] {
		d.logger.Debug("Ignoring duplicate split completion", "root", root, "split", splitIndex, "worker", workerID)
		return nil
	}
	if splitIndex < 0 || splitIndex >= s.nextSplit {
		return fmt.Errorf("dispatcher: split %d: %w", splitIndex, snaperrors.ErrSplitNotIssued)
	}

	// Commit staged chunks in report order. Renames are serialized under
	// the dispatcher lock so committed numbers become visible in
	// increasing order. A partially committed acknowledgment records its
	// progress: if the commit fails midway, the split stays open and the
	// next acknowledgment (same worker retrying, or a re-execution after
	// lease expiry) resumes past the chunks already committed instead of
	// committing their elements twice. Split execution is deterministic,
	// so chunk i of a re-execution carries the same elements as chunk i
	// of the original run.
	for i, ref := range chunks {
		if i < s.committed[splitIndex] {
			continue
		}
		n := s.nextChunk
		commitErr := retry.Do(ctx, d.cfg.Retry, func() error {
			return d.store.Rename(ctx, ref.Key, snapshot.ChunkKey(root, n))
		})
		if commitErr != nil {
			return snaperrors.Wrap(commitErr, "dispatcher", "ReportSplitDone", "chunk commit")
		}
		s.nextChunk++
		s.committed[splitIndex] = i + 1
		s.numElements += ref.Elements
		if d.metrics != nil {
			d.metrics.ChunksCommitted.WithLabelValues(root).Inc()
			d.metrics.BytesWritten.WithLabelValues(root).Add(float64(ref.Bytes))
		}
	}

	s.done[splitIndex] = true
	delete(s.committed, splitIndex)
	delete(s.assigned, splitIndex)
	// The split may be sitting in the pool after a lease expiry; a
	// completed split must never be issued again.
	for i, p := range s.pending {
		if p.Index == splitIndex {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	if d.metrics != nil {
		d.metrics.SplitsCompleted.WithLabelValues(root).Inc()
	}
	d.logger.Debug("Split completed", "root", root, "split", splitIndex, "worker", workerID, "chunks", len(chunks))

	s.broadcast()
	return d.maybeSealLocked(ctx, s)
}

// ReportSplitFailed transitions the stream to FAILED and persists the
// cause. The dispatcher stops issuing splits; in-flight workers abort on
// their next contact. Readers observe the cause from the metadata record.
func (d *Dispatcher) ReportSplitFailed(ctx context.Context, root string, splitIndex int64, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.streamLocked(root)
	if err != nil {
		return err
	}
	if s.state != snapshot.StateStreaming {
		// Terminal states are immutable; a late failure report for a
		// sealed or already-failed stream changes nothing.
		d.logger.Debug("Ignoring failure report in terminal state",
			"root", root, "split", splitIndex, "state", s.state)
		return nil
	}

	s.state = snapshot.StateFailed
	msg := "unknown cause"
	if cause != nil {
		msg = cause.Error()
	}

	meta := &snapshot.Metadata{
		RunID:        s.runID,
		State:        snapshot.StateFailed,
		Compression:  s.opts.Compression,
		ErrorMessage: msg,
		CreatedAt:    time.Now().UTC(),
	}
	if err := retry.Do(ctx, d.cfg.Retry, func() error {
		return snapshot.WriteMetadata(ctx, d.store, root, meta)
	}); err != nil {
		return snaperrors.Wrap(err, "dispatcher", "ReportSplitFailed", "metadata write")
	}

	if d.metrics != nil {
		d.metrics.StreamsActive.Dec()
		d.metrics.StreamsFailed.Inc()
	}
	d.logger.Error("Stream failed", "root", root, "split", splitIndex, "cause", msg)
	s.broadcast()
	return nil
}

// Heartbeat renews a worker's lease on a split. Renewal is a no-op when
// the worker no longer holds the split; the completion race is resolved by
// first-acknowledgment-wins in ReportSplitDone.
func (d *Dispatcher) Heartbeat(ctx context.Context, root, workerID string, splitIndex int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.streamLocked(root)
	if err != nil {
		return err
	}
	if s.state == snapshot.StateFailed {
		return snaperrors.ErrStreamFailed
	}

	if a, ok := s.assigned[splitIndex]; ok && a.workerID == workerID {
		a.deadline = time.Now().Add(d.cfg.LeaseDuration)
	}
	return nil
}

// StreamState returns the in-memory state of a registered stream.
func (d *Dispatcher) StreamState(root string) (snapshot.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.streamLocked(root)
	if err != nil {
		return "", err
	}
	return s.state, nil
}

func (d *Dispatcher) streamLocked(root string) (*stream, error) {
	s, ok := d.streams[root]
	if !ok {
		return nil, fmt.Errorf("dispatcher: %q: %w", root, snaperrors.ErrUnknownStream)
	}
	return s, nil
}

func (d *Dispatcher) assignLocked(s *stream, split snapshot.Split, workerID string) {
	s.generations[split.Index]++
	s.assigned[split.Index] = &assignment{
		split:      split,
		workerID:   workerID,
		generation: s.generations[split.Index],
		deadline:   time.Now().Add(d.cfg.LeaseDuration),
	}
	if d.metrics != nil {
		d.metrics.SplitsAssigned.WithLabelValues(s.root).Inc()
	}
	d.logger.Debug("Assigned split", "root", s.root, "split", split.Index,
		"worker", workerID, "generation", s.generations[split.Index])
}

// maybeSealLocked seals the stream once the provider is exhausted and
// every issued split has been acknowledged. The sealed metadata write is
// the single linearization point readers rely on for deterministic order
// after completion.
func (d *Dispatcher) maybeSealLocked(ctx context.Context, s *stream) error {
	if s.state != snapshot.StateStreaming || !s.exhausted ||
		len(s.assigned) > 0 || len(s.pending) > 0 {
		return nil
	}

	now := time.Now().UTC()
	meta := &snapshot.Metadata{
		RunID:       s.runID,
		State:       snapshot.StateDone,
		Compression: s.opts.Compression,
		NumChunks:   s.nextChunk,
		NumElements: s.numElements,
		CreatedAt:   now,
		SealedAt:    &now,
	}
	if err := retry.Do(ctx, d.cfg.Retry, func() error {
		return snapshot.WriteMetadata(ctx, d.store, s.root, meta)
	}); err != nil {
		return snaperrors.Wrap(err, "dispatcher", "Seal", "metadata write")
	}

	s.state = snapshot.StateDone
	if d.metrics != nil {
		d.metrics.StreamsActive.Dec()
		d.metrics.StreamsSealed.Inc()
	}
	d.logger.Info("Stream sealed", "root", s.root, "chunks", s.nextChunk, "elements", s.numElements)
	s.broadcast()
	return nil
}

func (d *Dispatcher) sweepLoop() {
	defer close(d.sweepDone)

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.sweepStop:
			return
		case <-ticker.C:
			d.sweepExpiredLeases()
		}
	}
}

// sweepExpiredLeases returns splits with expired leases to the pool so a
// different worker can pick them up. The original worker may still finish;
// whichever acknowledgment arrives first wins the commit. The sweep also
// retries the seal of any exhausted, idle stream whose sealing write
// failed earlier, so sealing does not depend on another worker pull.
func (d *Dispatcher) sweepExpiredLeases() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for _, s := range d.streams {
		if s.state != snapshot.StateStreaming {
			continue
		}
		expired := false
		for idx, a := range s.assigned {
			if now.Before(a.deadline) {
				continue
			}
			delete(s.assigned, idx)
			s.pending = append(s.pending, a.split)
			expired = true
			if d.metrics != nil {
				d.metrics.SplitsReassigned.WithLabelValues(s.root).Inc()
			}
			d.logger.Warn("Split lease expired, returning to pool",
				"root", s.root, "split", idx, "worker", a.workerID, "generation", a.generation)
		}
		if expired {
			s.broadcast()
		}
		if err := d.maybeSealLocked(context.Background(), s); err != nil {
			d.logger.Warn("Seal retry failed", "root", s.root, "error", err)
		}
	}
}

// Package writer implements the writer worker: it pulls splits from the
// coordinator, executes the pipeline locally, serializes elements into
// size-bounded chunks, and stages them in the chunk store for commit.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/snapstream/chunkstore"
	snaperrors "github.com/c360/snapstream/errors"
	"github.com/c360/snapstream/pkg/retry"
	"github.com/c360/snapstream/snapshot"
)

// Coordinator is the writer's view of the dispatcher. In a deployment the
// calls cross a process boundary; the protocol only assumes they reach the
// single coordinator owning the stream.
type Coordinator interface {
	GetSplit(ctx context.Context, root, workerID string) (snapshot.Split, bool, error)
	ReportSplitDone(ctx context.Context, root, workerID string, splitIndex int64, chunks []snapshot.ChunkRef) error
	ReportSplitFailed(ctx context.Context, root string, splitIndex int64, cause error) error
	Heartbeat(ctx context.Context, root, workerID string, splitIndex int64) error
}

// Config holds writer worker tuning knobs.
type Config struct {
	// HeartbeatInterval is how often a worker renews its split lease.
	// Keep it well under the dispatcher's lease duration.
	HeartbeatInterval time.Duration

	// Retry configures store I/O retries for staged chunk publishes.
	Retry retry.Config
}

// DefaultConfig returns the default writer configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		Retry:             retry.DefaultConfig(),
	}
}

// Worker executes splits for one stream.
type Worker struct {
	id       string
	root     string
	coord    Coordinator
	store    chunkstore.Store
	pipeline snapshot.Pipeline
	opts     snapshot.Options
	cfg      Config
	logger   *slog.Logger
}

// NewWorker creates a writer worker for the stream at root.
func NewWorker(id, root string, coord Coordinator, store chunkstore.Store, pipeline snapshot.Pipeline, opts snapshot.Options, cfg Config, logger *slog.Logger) (*Worker, error) {
	if coord == nil || store == nil || pipeline == nil {
		return nil, fmt.Errorf("writer: nil dependency: %w", snaperrors.ErrInvalidConfig)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if id == "" {
		id = "worker-" + uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:       id,
		root:     root,
		coord:    coord,
		store:    store,
		pipeline: pipeline,
		opts:     opts,
		cfg:      cfg,
		logger:   logger.With("worker", id, "root", root),
	}, nil
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.id }

// Run pulls and executes splits until the stream is exhausted, the stream
// fails, or ctx is cancelled. A data-level pipeline failure is reported to
// the coordinator and ends the run without error: the failure reaches
// consumers through the stream's persisted metadata, not through this
// return value.
func (w *Worker) Run(ctx context.Context) error {
	for {
		split, ok, err := w.coord.GetSplit(ctx, w.root, w.id)
		if err != nil {
			if snaperrors.Is(err, snaperrors.ErrStreamFailed) {
				w.logger.Debug("Stream failed, worker stopping")
				return nil
			}
			return snaperrors.Wrap(err, "writer", "Run", "split pull")
		}
		if !ok {
			w.logger.Debug("No more splits, worker stopping")
			return nil
		}

		if err := w.runSplit(ctx, split); err != nil {
			return err
		}
	}
}

func (w *Worker) runSplit(ctx context.Context, split snapshot.Split) error {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx, split.Index)

	it, err := w.pipeline.Open(ctx, split)
	if err != nil {
		return w.failSplit(ctx, split.Index, err)
	}
	defer it.Close()

	var (
		buffered      [][]byte
		bufferedBytes int64
		refs          []snapshot.ChunkRef
	)

	flush := func() error {
		if len(buffered) == 0 {
			return nil
		}
		ref, err := w.stageChunk(ctx, split.Index, buffered)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
		buffered = nil
		bufferedBytes = 0
		return nil
	}

	for {
		el, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Data-level failure: persist the cause via the coordinator
			// and do not retry locally.
			return w.failSplit(ctx, split.Index, err)
		}

		buffered = append(buffered, el)
		bufferedBytes += int64(len(el))
		if bufferedBytes >= w.opts.MaxChunkSizeBytes {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if err := w.coord.ReportSplitDone(ctx, w.root, w.id, split.Index, refs); err != nil {
		if snaperrors.Is(err, snaperrors.ErrStreamFailed) {
			return nil
		}
		return snaperrors.Wrap(err, "writer", "runSplit", "split acknowledgment")
	}
	w.logger.Debug("Split done", "split", split.Index, "chunks", len(refs))
	return nil
}

// stageChunk encodes buffered elements and atomically publishes them under
// a staging key. The chunk stays invisible to readers until the
// coordinator commits it under a numbered key.
func (w *Worker) stageChunk(ctx context.Context, splitIndex int64, elements [][]byte) (snapshot.ChunkRef, error) {
	data, err := snapshot.EncodeChunk(elements, w.opts.Compression)
	if err != nil {
		return snapshot.ChunkRef{}, err
	}

	key := snapshot.StagingKey(w.root, splitIndex, uuid.NewString())
	err = retry.Do(ctx, w.cfg.Retry, func() error {
		return w.store.Put(ctx, key, data)
	})
	if err != nil {
		return snapshot.ChunkRef{}, fmt.Errorf("%w: %w", snaperrors.ErrStorageUnavailable, err)
	}

	w.logger.Debug("Staged chunk", "split", splitIndex, "elements", len(elements), "bytes", len(data))
	return snapshot.ChunkRef{
		Key:      key,
		Elements: int64(len(elements)),
		Bytes:    int64(len(data)),
	}, nil
}

func (w *Worker) failSplit(ctx context.Context, splitIndex int64, cause error) error {
	w.logger.Error("Split execution failed", "split", splitIndex, "cause", cause)
	if err := w.coord.ReportSplitFailed(ctx, w.root, splitIndex, cause); err != nil &&
		!snaperrors.Is(err, snaperrors.ErrStreamFailed) {
		return snaperrors.Wrap(err, "writer", "failSplit", "failure report")
	}
	return nil
}

func (w *Worker) heartbeatLoop(ctx context.Context, splitIndex int64) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.coord.Heartbeat(ctx, w.root, w.id, splitIndex); err != nil {
				if !snaperrors.Is(err, context.Canceled) {
					w.logger.Debug("Heartbeat failed", "split", splitIndex, "error", err)
				}
				return
			}
		}
	}
}

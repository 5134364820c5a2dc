// Package fleet provides a fixed-size group of long-running workers with
// lifecycle management and metrics.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	snaperrors "github.com/c360/snapstream/errors"
)

// RunFunc is a single worker's main loop. It receives the worker's ordinal
// (0..size-1) and should return when its work is exhausted or ctx is done.
type RunFunc func(ctx context.Context, worker int) error

// Fleet runs a fixed number of workers concurrently and waits for them.
// Unlike a task pool, each worker owns its own pull loop; the fleet only
// manages lifecycle and failure propagation.
type Fleet struct {
	size int
	run  RunFunc

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	group       *errgroup.Group

	// Statistics (atomic)
	active   int64
	finished int64
	failed   int64

	metrics *Metrics
}

// Metrics holds Prometheus metrics for fleet monitoring
type Metrics struct {
	Active   prometheus.Gauge
	Finished prometheus.Counter
	Failed   prometheus.Counter
}

// Option configures a Fleet
type Option func(*Fleet)

// WithMetrics attaches previously registered metrics to the fleet
func WithMetrics(m *Metrics) Option {
	return func(f *Fleet) { f.metrics = m }
}

// New creates a fleet of size workers running fn
func New(size int, fn RunFunc, opts ...Option) (*Fleet, error) {
	if size <= 0 {
		return nil, fmt.Errorf("fleet: size must be positive, got %d: %w", size, snaperrors.ErrInvalidConfig)
	}
	if fn == nil {
		return nil, fmt.Errorf("fleet: nil run function: %w", snaperrors.ErrInvalidConfig)
	}
	f := &Fleet{size: size, run: fn}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Start launches all workers. It returns immediately; use Wait to join.
func (f *Fleet) Start(ctx context.Context) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if f.started {
		return snaperrors.ErrAlreadyStarted
	}
	f.started = true

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < f.size; i++ {
		worker := i
		atomic.AddInt64(&f.active, 1)
		if f.metrics != nil {
			f.metrics.Active.Inc()
		}
		f.group.Go(func() error {
			defer func() {
				atomic.AddInt64(&f.active, -1)
				atomic.AddInt64(&f.finished, 1)
				if f.metrics != nil {
					f.metrics.Active.Dec()
					f.metrics.Finished.Inc()
				}
			}()
			if err := f.run(ctx, worker); err != nil {
				atomic.AddInt64(&f.failed, 1)
				if f.metrics != nil {
					f.metrics.Failed.Inc()
				}
				return fmt.Errorf("fleet: worker %d: %w", worker, err)
			}
			return nil
		})
	}
	return nil
}

// Wait blocks until all workers have returned. The first worker error
// cancels the remaining workers and is returned.
func (f *Fleet) Wait() error {
	f.lifecycleMu.Lock()
	if !f.started {
		f.lifecycleMu.Unlock()
		return snaperrors.ErrNotStarted
	}
	group := f.group
	f.lifecycleMu.Unlock()

	return group.Wait()
}

// Stop cancels all workers and waits for them to return
func (f *Fleet) Stop() error {
	f.lifecycleMu.Lock()
	if !f.started {
		f.lifecycleMu.Unlock()
		return snaperrors.ErrNotStarted
	}
	if f.stopped {
		f.lifecycleMu.Unlock()
		return nil
	}
	f.stopped = true
	cancel := f.cancel
	f.lifecycleMu.Unlock()

	cancel()
	return f.Wait()
}

// Stats returns a point-in-time snapshot of worker counters
func (f *Fleet) Stats() (active, finished, failed int64) {
	return atomic.LoadInt64(&f.active), atomic.LoadInt64(&f.finished), atomic.LoadInt64(&f.failed)
}

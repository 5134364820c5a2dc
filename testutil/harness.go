package testutil

import (
	"context"
	"time"

	"github.com/c360/snapstream/chunkstore"
	"github.com/c360/snapstream/dispatcher"
	"github.com/c360/snapstream/pkg/retry"
	"github.com/c360/snapstream/reader"
	"github.com/c360/snapstream/snapshot"
	"github.com/c360/snapstream/writer"
)

// Source is both faces of a materializable computation: it yields splits
// and opens iterators over them.
type Source interface {
	snapshot.SplitProvider
	snapshot.Pipeline
}

// FastDispatcherConfig returns a dispatcher configuration with test-scale
// sweep and retry timings.
func FastDispatcherConfig() dispatcher.Config {
	cfg := dispatcher.DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.Retry = fastRetry()
	return cfg
}

// FastWriterConfig returns a writer configuration with test-scale timings.
func FastWriterConfig() writer.Config {
	cfg := writer.DefaultConfig()
	cfg.HeartbeatInterval = 100 * time.Millisecond
	cfg.Retry = fastRetry()
	return cfg
}

// FastReaderConfig returns a reader configuration that polls aggressively
// so tailing tests converge quickly.
func FastReaderConfig() reader.Config {
	return reader.Config{
		MinPollInterval: time.Millisecond,
		MaxPollInterval: 10 * time.Millisecond,
		Retry:           fastRetry(),
	}
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// Materialize runs a complete save of src under root: it stands up a
// dispatcher, drives the given number of writer workers to completion,
// and tears everything down. On return the stream at root is sealed, or
// failed if the source poisoned an element.
func Materialize(ctx context.Context, store chunkstore.Store, root string, src Source, opts snapshot.Options, workers int) error {
	d, err := dispatcher.New(store, FastDispatcherConfig())
	if err != nil {
		return err
	}
	defer d.Close()

	if _, err := d.BeginStream(ctx, root, src, opts); err != nil {
		return err
	}

	f, err := writer.NewFleet(workers, root, d, store, src, opts, FastWriterConfig(), nil)
	if err != nil {
		return err
	}
	if err := f.Start(ctx); err != nil {
		return err
	}
	return f.Wait()
}

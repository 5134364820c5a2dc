package fleet

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	snaperrors "github.com/c360/snapstream/errors"
)

func TestNewValidation(t *testing.T) {
	_, err := New(0, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, err, snaperrors.ErrInvalidConfig)

	_, err = New(3, nil)
	assert.ErrorIs(t, err, snaperrors.ErrInvalidConfig)
}

func TestAllWorkersRun(t *testing.T) {
	var ran int64
	f, err := New(5, func(ctx context.Context, worker int) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	require.NoError(t, f.Wait())

	assert.Equal(t, int64(5), atomic.LoadInt64(&ran))
	active, finished, failed := f.Stats()
	assert.Equal(t, int64(0), active)
	assert.Equal(t, int64(5), finished)
	assert.Equal(t, int64(0), failed)
}

func TestWorkerErrorCancelsSiblings(t *testing.T) {
	boom := errors.New("worker exploded")
	f, err := New(3, func(ctx context.Context, worker int) error {
		if worker == 0 {
			return boom
		}
		<-ctx.Done()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))

	err = f.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestDoubleStart(t *testing.T) {
	f, err := New(1, func(ctx context.Context, worker int) error { return nil })
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	assert.ErrorIs(t, f.Start(context.Background()), snaperrors.ErrAlreadyStarted)
	require.NoError(t, f.Wait())
}

func TestStopCancelsWorkers(t *testing.T) {
	f, err := New(2, func(ctx context.Context, worker int) error {
		<-ctx.Done()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- f.Stop() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestWaitBeforeStart(t *testing.T) {
	f, err := New(1, func(ctx context.Context, worker int) error { return nil })
	require.NoError(t, err)
	assert.ErrorIs(t, f.Wait(), snaperrors.ErrNotStarted)
	assert.ErrorIs(t, f.Stop(), snaperrors.ErrNotStarted)
}

package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		fatal     bool
	}{
		{"nil", nil, false, false, false},
		{"storage unavailable", ErrStorageUnavailable, true, false, false},
		{"stream failed", ErrStreamFailed, false, false, true},
		{"chunk gap", ErrChunkGap, false, false, true},
		{"checksum", ErrChecksumFailed, false, false, true},
		{"invalid config", ErrInvalidConfig, false, true, false},
		{"wrapped stream failed", fmt.Errorf("reading: %w", ErrStreamFailed), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.invalid, IsInvalid(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestClassifiedErrorOverridesSentinels(t *testing.T) {
	err := WrapFatal(ErrStorageUnavailable, "reader", "next", "store gave up")
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, ErrorFatal, Classify(err))

	// Unwrap still reaches the sentinel.
	assert.True(t, Is(err, ErrStorageUnavailable))
}

func TestWrapFormatsContext(t *testing.T) {
	base := New("boom")
	err := Wrap(base, "dispatcher", "Seal", "metadata write")
	require.Error(t, err)
	assert.Equal(t, "dispatcher.Seal: metadata write failed: boom", err.Error())
	assert.True(t, Is(err, base))

	assert.NoError(t, Wrap(nil, "a", "b", "c"))
}

func TestClassifiedErrorMessage(t *testing.T) {
	err := WrapInvalid(New("bad value"), "writer", "run", "")
	assert.Equal(t, "bad value", err.Error())

	err = WrapInvalid(New("bad value"), "writer", "run", "pipeline produced bad value")
	assert.Equal(t, "pipeline produced bad value", err.Error())

	var ce *ClassifiedError
	require.True(t, As(err, &ce))
	assert.Equal(t, "writer", ce.Component)
	assert.Equal(t, "run", ce.Operation)
}

func TestClassifyDefaultsToTransient(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(New("some network blip")))
}

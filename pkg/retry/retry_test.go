package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = Policy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
	Multiplier:      2.0,
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy, func() error {
		attempts++
		if attempts < 3 {
			return &StatusError{Code: 503}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy, func() error {
		attempts++
		return &StatusError{Code: 500}
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy, func() error {
		attempts++
		return &StatusError{Code: 400, Body: "bad request"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Do(ctx, fastPolicy, func() error {
		attempts++
		cancel()
		return &StatusError{Code: 503}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, Retryable(&StatusError{Code: 429}))
	assert.True(t, Retryable(&StatusError{Code: 408}))
	assert.True(t, Retryable(&StatusError{Code: 500}))
	assert.True(t, Retryable(&StatusError{Code: 503}))
	assert.False(t, Retryable(&StatusError{Code: 400}))
	assert.False(t, Retryable(&StatusError{Code: 401}))
	assert.False(t, Retryable(&StatusError{Code: 404}))

	// unknown error shapes are treated as transient
	assert.True(t, Retryable(errors.New("connection reset")))
	assert.True(t, Retryable(context.DeadlineExceeded))
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, MinBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Transient(errors.New("503 service unavailable"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtCeilingAndReturnsOriginalError(t *testing.T) {
	original := errors.New("429 too many requests")
	calls := 0
	var waits []time.Duration
	p := fastPolicy(5)
	p.OnRetry = func(attempt int, err error, wait time.Duration) { waits = append(waits, wait) }

	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, Transient(original)
	})

	assert.Equal(t, 5, calls)
	assert.Same(t, original, err)
	assert.False(t, IsTransient(err))
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	permanent := errors.New("400 invalid input")
	calls := 0

	_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, permanent)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, MinBackoff: time.Hour, MaxBackoff: time.Hour}
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
		return 0, Transient(errors.New("timeout"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransientMarkerSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("embed batch: %w", Transient(errors.New("connection reset")))
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.Nil(t, Transient(nil))
}

func TestBackoff(t *testing.T) {
	p := Policy{MinBackoff: time.Second, MaxBackoff: 10 * time.Second}
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(5))
	assert.Equal(t, 10*time.Second, p.Backoff(30))
}

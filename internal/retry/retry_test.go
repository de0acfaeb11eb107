package retry

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayFormulaCapsAtMaxDelay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: false}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, time.Second, p.Delay(10)) // would be 100ms*1024, capped
}

func TestDelaySaturatesAtHighAttempt(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Hour, Jitter: false}
	d32 := p.Delay(32)
	d64 := p.Delay(64)
	assert.Equal(t, d32, d64) // saturates, doesn't overflow or keep growing
}

func TestDelayWithJitterStaysWithinBounds(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: true}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond+50*time.Millisecond)
	}
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	e := New(Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})
	attempts := 0
	err := e.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &url.Error{Op: "Get", URL: "http://x", Err: errors.New("boom")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRunDoesNotRetryBuilderError(t *testing.T) {
	e := New(Policy{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})
	attempts := 0
	builderErr := &url.Error{Op: "parse", URL: "://bad", Err: errors.New("bad url")}
	err := e.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		return builderErr
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRunSurfacesCancelledImmediately(t *testing.T) {
	e := New(Policy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := e.Run(ctx, func(ctx context.Context) error {
		return errors.New("network down")
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

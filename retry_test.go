package vigil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryer(attempts int) *Retryer {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	return NewRetryer(cfg)
}

func TestRetryerSuccess(t *testing.T) {
	calls := 0
	res := fastRetryer(3).Do(context.Background(), func() error {
		calls++
		return nil
	})
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.LastErr)
	assert.Equal(t, 1, calls)
}

func TestRetryerTransientThenSuccess(t *testing.T) {
	calls := 0
	res := fastRetryer(5).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})
	assert.Equal(t, 3, res.Attempts)
	assert.NoError(t, res.LastErr)
}

func TestRetryerStopsOnPermanentError(t *testing.T) {
	calls := 0
	res := fastRetryer(5).Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("read models/x.vgl: %w", os.ErrNotExist)
	})
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, calls)
	assert.True(t, IsNotExist(res.LastErr))
}

func TestRetryerExhausts(t *testing.T) {
	boom := errors.New("503 service unavailable")
	res := fastRetryer(3).Do(context.Background(), func() error { return boom })
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, boom, res.LastErr)
}

func TestRetryerContextCancellation(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 10
	cfg.InitialBackoff = time.Hour
	r := NewRetryer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Do(ctx, func() error { return errors.New("timeout") })
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.LastErr, context.Canceled)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, res := DoWithResult(context.Background(), fastRetryer(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("too many requests")
		}
		return "ok", nil
	})
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, res.Attempts)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Connection Reset by peer"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("HTTP 502"), true},
		{errors.New("invalid argument"), false},
		{context.DeadlineExceeded, false},
		{fmt.Errorf("wrapped: %w", context.Canceled), false},
		{os.ErrNotExist, false},
		{fmt.Errorf("%w: timeout while reading", ErrModelCorrupt), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsRetryable(tc.err), "%v", tc.err)
	}
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	assert.Equal(t, boom, cb.Execute(func() error { return boom }))
	assert.Equal(t, "closed", cb.State())
	assert.Equal(t, boom, cb.Execute(func() error { return boom }))
	assert.Equal(t, "open", cb.State())
	assert.Equal(t, 2, cb.Failures())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	// After the reset timeout one probe is let through; a failure reopens.
	now = now.Add(2 * time.Minute)
	require.Equal(t, boom, cb.Execute(func() error { return boom }))
	assert.Equal(t, "open", cb.State())

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, "closed", cb.State())
	assert.Equal(t, 0, cb.Failures())
}

package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeRL struct {
	allowed bool
	err     error
	keys    []string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.keys = append(r.keys, key)
	return r.allowed, 1, r.err
}

func TestGuard_Do_Success(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	g := NewGuard(GuardConfig{Carrier: "ups", Timeout: time.Second}, WithMetrics(m))

	calls := 0
	err := g.Do(context.Background(), "track", func(ctx context.Context) error {
		calls++
		_, ok := ctx.Deadline()
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("ups", "track", "success")))
}

func TestGuard_Do_FailFastWhenOpen(t *testing.T) {
	g := NewGuard(GuardConfig{Carrier: "fedex", Timeout: time.Second})

	var vendorCalls atomic.Int32
	failing := func(ctx context.Context) error {
		vendorCalls.Add(1)
		return &models.APIError{CarrierCode: "fedex", StatusCode: 503, Message: "unavailable"}
	}

	require.Error(t, g.Do(context.Background(), "track", failing))
	require.Equal(t, StateOpen, g.State())

	err := g.Do(context.Background(), "track", failing)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, int32(1), vendorCalls.Load())
}

func TestGuard_Do_OpenBreakerDoesNotWaitForSlot(t *testing.T) {
	g := NewGuard(GuardConfig{Carrier: "fedex", Timeout: 5 * time.Second, MaxConcurrent: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	inFlight := make(chan error, 1)
	go func() {
		inFlight <- g.Do(context.Background(), "track", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	boom := errors.New("boom")
	require.ErrorIs(t, g.Breaker().Execute(func() error { return boom }), boom)
	require.Equal(t, StateOpen, g.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	err := g.Do(ctx, "track", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Less(t, time.Since(start), 500*time.Millisecond)

	close(release)
	require.NoError(t, <-inFlight)
}

func TestGuard_Do_SlotTimeoutNotCounted(t *testing.T) {
	g := NewGuard(GuardConfig{Carrier: "ups", Timeout: 5 * time.Second, MaxConcurrent: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	inFlight := make(chan error, 1)
	go func() {
		inFlight <- g.Do(context.Background(), "track", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := g.Do(ctx, "track", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, StateClosed, g.State())
	_, fail := g.Breaker().Counts()
	require.Zero(t, fail)

	close(release)
	require.NoError(t, <-inFlight)
}

func TestGuard_Do_NotFoundDoesNotTrip(t *testing.T) {
	g := NewGuard(GuardConfig{Carrier: "ups", Timeout: time.Second})

	for i := 0; i < 3; i++ {
		err := g.Do(context.Background(), "track", func(ctx context.Context) error {
			return models.NewNotFoundError("ups", "1Z", "")
		})
		require.Error(t, err)
	}
	require.Equal(t, StateClosed, g.State())
}

func TestGuard_Do_Timeout(t *testing.T) {
	g := NewGuard(GuardConfig{Carrier: "maersk", Timeout: 20 * time.Millisecond})

	err := g.Do(context.Background(), "track", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrCallTimeout)
	require.Equal(t, StateOpen, g.State())
}

func TestGuard_SetTimeout(t *testing.T) {
	g := NewGuard(GuardConfig{Carrier: "maersk", Timeout: 10 * time.Second})
	g.SetTimeout(20 * time.Millisecond)
	g.SetTimeout(0)
	require.Equal(t, 20*time.Millisecond, g.Timeout())

	err := g.Do(context.Background(), "track", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrCallTimeout)
}

func TestGuard_Do_CallerCancelNotCounted(t *testing.T) {
	g := NewGuard(GuardConfig{Carrier: "maersk", Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	err := g.Do(ctx, "track", func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateClosed, g.State())
}

func TestGuard_Do_RateLimited(t *testing.T) {
	rl := &fakeRL{allowed: false}
	g := NewGuard(GuardConfig{Carrier: "ups", RateLimitPerMinute: 5}, WithRateLimiter(rl))

	called := false
	err := g.Do(context.Background(), "track", func(ctx context.Context) error {
		called = true
		return nil
	})
	var rlErr *models.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	require.True(t, rlErr.Local)
	require.LessOrEqual(t, rlErr.RetryAfter, time.Minute)
	require.False(t, called)
	require.Len(t, rl.keys, 1)
	require.Contains(t, rl.keys[0], "rl:carrier:ups:")
}

func TestGuard_Do_RateLimiterDownFailsOpen(t *testing.T) {
	rl := &fakeRL{err: errors.New("redis down")}
	g := NewGuard(GuardConfig{Carrier: "ups", RateLimitPerMinute: 5}, WithRateLimiter(rl))

	require.NoError(t, g.Do(context.Background(), "track", func(ctx context.Context) error { return nil }))
}

func TestGuard_StateListener(t *testing.T) {
	var got []State
	g := NewGuard(GuardConfig{Carrier: "ups"}, WithGuardStateListener(func(name string, from, to State) {
		require.Equal(t, "ups", name)
		got = append(got, to)
	}))
	_ = g.Do(context.Background(), "track", func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, []State{StateOpen}, got)
}

func TestCountsAsFailure(t *testing.T) {
	require.False(t, CountsAsFailure(nil))
	require.False(t, CountsAsFailure(models.NewNotFoundError("ups", "1Z", "")))
	require.False(t, CountsAsFailure(&models.ValidationError{}))
	require.False(t, CountsAsFailure(&models.RateLimitError{}))
	require.False(t, CountsAsFailure(context.Canceled))
	require.True(t, CountsAsFailure(&models.APIError{StatusCode: 500}))
	require.True(t, CountsAsFailure(ErrCallTimeout))
}

func TestNewMetrics_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m1 := NewMetrics(reg)
	m2 := NewMetrics(reg)
	m1.observe("ups", "track", "success", time.Millisecond)
	m2.observe("ups", "track", "success", time.Millisecond)
	require.Equal(t, 2.0, testutil.ToFloat64(m1.calls.WithLabelValues("ups", "track", "success")))
}

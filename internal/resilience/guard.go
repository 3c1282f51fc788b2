package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type GuardConfig struct {
	Carrier            string
	Timeout            time.Duration
	MaxConcurrent      int64
	RateLimitPerMinute int
	Breaker            BreakerConfig
}

// Guard wraps every vendor call of one adapter:
// rate limit -> circuit breaker -> bulkhead -> timeout -> span/metrics.
type Guard struct {
	carrier   string
	timeout   atomic.Int64
	rlLimit   int64
	rl        RateLimiter
	sem       *semaphore.Weighted
	breaker   *Breaker
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time
	onStateFn []StateChangeFunc
}

type GuardOption func(*Guard)

func WithRateLimiter(rl RateLimiter) GuardOption {
	return func(g *Guard) { g.rl = rl }
}

func WithMetrics(m *Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

func WithGuardStateListener(f StateChangeFunc) GuardOption {
	return func(g *Guard) { g.onStateFn = append(g.onStateFn, f) }
}

func NewGuard(cfg GuardConfig, opts ...GuardOption) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = cfg.Carrier
	}

	g := &Guard{
		carrier: cfg.Carrier,
		rlLimit: int64(cfg.RateLimitPerMinute),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		tracer:  otel.Tracer("github.com/BearBump/CarrierGate/internal/resilience"),
		now:     time.Now,
	}
	g.timeout.Store(int64(cfg.Timeout))
	for _, o := range opts {
		o(g)
	}

	bopts := []BreakerOption{
		WithClock(g.now),
		WithFailureFilter(CountsAsFailure),
		WithStateListener(func(name string, from, to State) {
			slog.Warn("circuit breaker state changed", "carrier", name, "from", from.String(), "to", to.String())
			g.metrics.setState(name, to)
		}),
	}
	for _, f := range g.onStateFn {
		bopts = append(bopts, WithStateListener(f))
	}
	g.breaker = NewBreaker(cfg.Breaker, bopts...)
	g.metrics.setState(g.carrier, StateClosed)
	return g
}

func (g *Guard) Breaker() *Breaker { return g.breaker }

func (g *Guard) State() State { return g.breaker.State() }

func (g *Guard) Timeout() time.Duration { return time.Duration(g.timeout.Load()) }

// SetTimeout меняет таймаут вызова на лету (UpdateConfig адаптера). Непозитивное значение игнорируется.
func (g *Guard) SetTimeout(d time.Duration) {
	if d > 0 {
		g.timeout.Store(int64(d))
	}
}

// Do runs fn as one vendor call named op.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := g.checkRateLimit(ctx); err != nil {
		g.metrics.observe(g.carrier, op, "rate_limited", 0)
		return err
	}

	done, err := g.breaker.Allow()
	if err != nil {
		g.metrics.observe(g.carrier, op, "rejected", 0)
		return errors.Wrapf(err, "carrier %s", g.carrier)
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		done(ErrNotCalled)
		return errors.Wrap(err, "acquire carrier slot")
	}
	defer g.sem.Release(1)

	timeout := g.Timeout()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callCtx, span := g.tracer.Start(callCtx, "carrier."+op, trace.WithAttributes(
		attribute.String("carrier.code", g.carrier),
	))
	defer span.End()

	start := g.now()
	err = fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = errors.Wrapf(ErrCallTimeout, "%s %s after %s: %v", g.carrier, op, timeout, err)
	}
	done(err)

	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	g.metrics.observe(g.carrier, op, outcome, g.now().Sub(start))
	return err
}

func (g *Guard) checkRateLimit(ctx context.Context) error {
	if g.rl == nil || g.rlLimit <= 0 {
		return nil
	}
	now := g.now().UTC()
	key := fmt.Sprintf("rl:carrier:%s:%s", g.carrier, now.Format("200601021504"))
	allowed, n, err := g.rl.Allow(ctx, key, g.rlLimit, 70*time.Second)
	if err != nil {
		// лимитер недоступен — не блокируем трекинг
		slog.Warn("rate limiter unavailable", "carrier", g.carrier, "error", err.Error())
		return nil
	}
	if !allowed {
		slog.Warn("rate limit exceeded", "carrier", g.carrier, "count", n)
		return &models.RateLimitError{
			CarrierCode: g.carrier,
			RetryAfter:  now.Truncate(time.Minute).Add(time.Minute).Sub(now),
			Local:       true,
		}
	}
	return nil
}

// CountsAsFailure: "not found", bad adapter output, throttling and caller cancellation
// say nothing about vendor health.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *models.APIError
	if errors.As(err, &apiErr) && apiErr.NotFound() {
		return false
	}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return false
	}
	var rlErr *models.RateLimitError
	if errors.As(err, &rlErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

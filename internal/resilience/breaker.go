package resilience

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrCallTimeout = errors.New("carrier call timed out")

	// ErrNotCalled возвращает резерв Allow без учёта в окне: вызов так и не дошёл до перевозчика.
	ErrNotCalled = errors.New("call was not made")
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	Name string

	// ErrorThresholdPercentage: breaker opens when failures/calls in the window reach it. Default 50.
	ErrorThresholdPercentage float64
	// RollingWindow split into Buckets. Defaults: 10s, 10 buckets.
	RollingWindow time.Duration
	Buckets       int
	// ResetTimeout: how long the breaker stays open before a half-open trial. Default 30s.
	ResetTimeout time.Duration
	// VolumeThreshold: minimum calls in the window before the ratio is evaluated. Default 1.
	VolumeThreshold int
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                     name,
		ErrorThresholdPercentage: 50,
		RollingWindow:            10 * time.Second,
		Buckets:                  10,
		ResetTimeout:             30 * time.Second,
		VolumeThreshold:          1,
	}
}

type StateChangeFunc func(name string, from, to State)

type bucket struct {
	epoch     int64
	successes int
	failures  int
}

// Breaker: явная машина состояний closed -> open -> half-open -> closed|open
// со счётчиками в кольце бакетов фиксированного размера.
type Breaker struct {
	cfg       BreakerConfig
	bucketDur time.Duration
	isFailure func(error) bool
	now       func() time.Time

	mu        sync.Mutex
	state     State
	openedAt  time.Time
	trial     bool
	buckets   []bucket
	listeners []StateChangeFunc
}

type BreakerOption func(*Breaker)

func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithFailureFilter decides which errors count against the breaker.
func WithFailureFilter(f func(error) bool) BreakerOption {
	return func(b *Breaker) { b.isFailure = f }
}

func WithStateListener(f StateChangeFunc) BreakerOption {
	return func(b *Breaker) { b.listeners = append(b.listeners, f) }
}

func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	def := DefaultBreakerConfig(cfg.Name)
	if cfg.ErrorThresholdPercentage <= 0 {
		cfg.ErrorThresholdPercentage = def.ErrorThresholdPercentage
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = def.RollingWindow
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = def.Buckets
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = def.VolumeThreshold
	}

	b := &Breaker{
		cfg:       cfg,
		bucketDur: cfg.RollingWindow / time.Duration(cfg.Buckets),
		isFailure: func(err error) bool { return err != nil },
		now:       time.Now,
		buckets:   make([]bucket, cfg.Buckets),
	}
	if b.bucketDur <= 0 {
		b.bucketDur = time.Millisecond
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.cfg.Name }

// OnStateChange registers an observer for transitions.
func (b *Breaker) OnStateChange(f StateChangeFunc) {
	b.mu.Lock()
	b.listeners = append(b.listeners, f)
	b.mu.Unlock()
}

// State returns the current state, moving open -> half-open when the reset timeout is over.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to, changed := b.advanceLocked(b.now())
	st := b.state
	ls := b.listeners
	b.mu.Unlock()
	if changed {
		b.notify(ls, from, to)
	}
	return st
}

// Counts returns successes and failures inside the rolling window.
func (b *Breaker) Counts() (successes, failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.countsLocked(b.now())
}

// Allow reserves a call. The returned done func must be called with the call result,
// or with ErrNotCalled if the call was abandoned before reaching the vendor.
func (b *Breaker) Allow() (func(error), error) {
	now := b.now()

	b.mu.Lock()
	from, to, changed := b.advanceLocked(now)
	ls := b.listeners

	var trial bool
	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		if changed {
			b.notify(ls, from, to)
		}
		return nil, ErrCircuitOpen
	case StateHalfOpen:
		if b.trial {
			b.mu.Unlock()
			if changed {
				b.notify(ls, from, to)
			}
			return nil, ErrCircuitOpen
		}
		b.trial = true
		trial = true
	}
	b.mu.Unlock()
	if changed {
		b.notify(ls, from, to)
	}

	var once sync.Once
	return func(err error) {
		once.Do(func() { b.record(trial, err) })
	}, nil
}

// Execute runs fn if the breaker admits it and records the result.
func (b *Breaker) Execute(fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn()
	done(err)
	return err
}

func (b *Breaker) record(trial bool, err error) {
	if errors.Is(err, ErrNotCalled) {
		if trial {
			b.mu.Lock()
			b.trial = false
			b.mu.Unlock()
		}
		return
	}
	now := b.now()
	failed := err != nil && b.isFailure(err)

	b.mu.Lock()
	var (
		from, to State
		changed  bool
	)
	if trial {
		b.trial = false
		if failed {
			from, to, changed = b.transitionLocked(StateOpen, now)
		} else {
			from, to, changed = b.transitionLocked(StateClosed, now)
		}
	} else if b.state == StateClosed {
		bk := b.bucketLocked(now)
		if failed {
			bk.failures++
		} else {
			bk.successes++
		}
		ok, fail := b.countsLocked(now)
		total := ok + fail
		if failed && total >= b.cfg.VolumeThreshold &&
			float64(fail)*100/float64(total) >= b.cfg.ErrorThresholdPercentage {
			from, to, changed = b.transitionLocked(StateOpen, now)
		}
	}
	ls := b.listeners
	b.mu.Unlock()

	if changed {
		b.notify(ls, from, to)
	}
}

func (b *Breaker) advanceLocked(now time.Time) (State, State, bool) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return b.transitionLocked(StateHalfOpen, now)
	}
	return b.state, b.state, false
}

func (b *Breaker) transitionLocked(to State, now time.Time) (State, State, bool) {
	from := b.state
	if from == to {
		return from, to, false
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = now
	case StateClosed:
		for i := range b.buckets {
			b.buckets[i] = bucket{}
		}
	}
	return from, to, true
}

func (b *Breaker) bucketLocked(now time.Time) *bucket {
	epoch := now.UnixNano() / int64(b.bucketDur)
	bk := &b.buckets[int(epoch%int64(len(b.buckets)))]
	if bk.epoch != epoch {
		*bk = bucket{epoch: epoch}
	}
	return bk
}

func (b *Breaker) countsLocked(now time.Time) (successes, failures int) {
	epoch := now.UnixNano() / int64(b.bucketDur)
	oldest := epoch - int64(len(b.buckets)) + 1
	for _, bk := range b.buckets {
		if bk.epoch >= oldest && bk.epoch <= epoch {
			successes += bk.successes
			failures += bk.failures
		}
	}
	return successes, failures
}

func (b *Breaker) notify(ls []StateChangeFunc, from, to State) {
	for _, f := range ls {
		f(b.cfg.Name, from, to)
	}
}

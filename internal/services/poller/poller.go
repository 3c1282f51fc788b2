package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/CarrierGate/internal/broker/messages"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

type Repository interface {
	ClaimRefreshCandidates(ctx context.Context, checkedBefore time.Time, limit int) ([]*models.TrackingEvent, error)
}

// Tracker реализуется trackings.Service: трекает, сохраняет и публикует tracking.updated.
type Tracker interface {
	TrackShipment(ctx context.Context, trackingNumber, carrierCode string) (*models.TrackingResponse, error)
}

type failState struct {
	count int
	until time.Time
}

// Poller периодически перепроверяет недоставленные отправления.
type Poller struct {
	repo    Repository
	tracker Tracker
	planner *Planner
	now     func() time.Time

	pollInterval time.Duration
	batchSize    int
	concurrency  int64

	triggerCh chan struct{}

	failMu sync.Mutex
	fails  map[string]failState

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalSkipped        atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, tracker Tracker) *Poller {
	return &Poller{
		repo:              repo,
		tracker:           tracker,
		planner:           DefaultPlanner(),
		now:               func() time.Time { return time.Now().UTC() },
		pollInterval:      time.Minute,
		batchSize:         100,
		concurrency:       10,
		triggerCh:         make(chan struct{}, 1),
		fails:             make(map[string]failState),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = int64(concurrency)
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

func (p *Poller) withClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalSkipped   int64      `json:"totalSkipped"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	BackingOff     int        `json:"backingOff"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalSkipped:   p.totalSkipped.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.failMu.Lock()
	st.BackingOff = len(p.fails)
	p.failMu.Unlock()
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	now := p.now()
	p.lastCycleUnixNano.Store(now.UnixNano())

	items, err := p.repo.ClaimRefreshCandidates(ctx, p.planner.CheckedBefore(now), p.batchSize)
	if err != nil {
		slog.Error("claim refresh candidates", "error", err.Error())
		p.setLastError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	sem := semaphore.NewWeighted(p.concurrency)
	var wg sync.WaitGroup
	for _, e := range items {
		e := e
		if p.backingOff(e, now) {
			p.totalSkipped.Add(1)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		p.inFlight.Add(1)
		go func() {
			defer func() {
				p.inFlight.Add(-1)
				sem.Release(1)
				wg.Done()
			}()
			if err := p.processOne(ctx, e); err != nil {
				p.totalErrors.Add(1)
				p.setLastError(err)
				slog.Error("refresh tracking",
					"carrier", e.CarrierCode, "tracking_number", e.TrackingNumber, "error", err.Error())
			}
			p.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (p *Poller) processOne(ctx context.Context, e *models.TrackingEvent) error {
	key := messages.Key(e.CarrierCode, e.TrackingNumber)

	resp, err := p.tracker.TrackShipment(ctx, e.TrackingNumber, e.CarrierCode)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		d := p.recordFailure(key, p.now())
		return errors.Wrapf(err, "next attempt not before %s", d)
	}

	p.failMu.Lock()
	delete(p.fails, key)
	p.failMu.Unlock()

	if resp.CurrentStatus != e.Status {
		slog.Info("shipment status changed",
			"carrier", resp.CarrierCode, "tracking_number", resp.TrackingNumber,
			"from", string(e.Status), "to", string(resp.CurrentStatus))
	}
	return nil
}

func (p *Poller) backingOff(e *models.TrackingEvent, now time.Time) bool {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	st, ok := p.fails[messages.Key(e.CarrierCode, e.TrackingNumber)]
	return ok && now.Before(st.until)
}

func (p *Poller) recordFailure(key string, now time.Time) time.Duration {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	st := p.fails[key]
	st.count++
	d := p.planner.BackoffDelay(st.count)
	st.until = now.Add(d)
	p.fails[key] = st
	return d
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

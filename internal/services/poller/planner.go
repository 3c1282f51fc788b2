package poller

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	// Latest-событие считается устаревшим через случайное время из [RefreshMinAge, RefreshMaxAge].
	RefreshMinAge time.Duration // default: 30 minutes
	RefreshMaxAge time.Duration // default: 30 minutes

	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		RefreshMinAge: 30 * time.Minute,
		RefreshMaxAge: 30 * time.Minute,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.RefreshMinAge <= 0 {
		cfg.RefreshMinAge = def.RefreshMinAge
	}
	if cfg.RefreshMaxAge < cfg.RefreshMinAge {
		cfg.RefreshMaxAge = cfg.RefreshMinAge
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// RefreshAge is how old last_checked_at must be for the next cycle to pick a shipment up.
func (p *Planner) RefreshAge() time.Duration {
	min := p.cfg.RefreshMinAge
	max := p.cfg.RefreshMaxAge
	if max == min {
		return min
	}
	secMin := int(min.Seconds())
	secMax := int(max.Seconds())
	if secMax < secMin {
		secMax = secMin
	}
	return time.Duration(secMin+p.r.Intn(secMax-secMin+1)) * time.Second
}

// CheckedBefore возвращает границу для ClaimRefreshCandidates.
func (p *Planner) CheckedBefore(now time.Time) time.Time {
	return now.Add(-p.RefreshAge())
}

func (p *Planner) BackoffDelay(failCount int) time.Duration {
	switch {
	case failCount <= 1:
		return p.cfg.Backoff1
	case failCount == 2:
		return p.cfg.Backoff2
	case failCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}

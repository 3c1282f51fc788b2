package registry

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/BearBump/CarrierGate/internal/integrations/carrier"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/resilience"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownCarrier = errors.New("unknown or inactive carrier")

// CarrierKeyStore: источник CarrierKey (таблица carrier_keys).
type CarrierKeyStore interface {
	ListCarrierKeys(ctx context.Context, activeOnly bool) ([]*models.CarrierKey, error)
	GetCarrierKey(ctx context.Context, carrierCode string) (*models.CarrierKey, error)
	TouchCarrierKey(ctx context.Context, carrierCode string) error
}

type CarrierHealth struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Healthy      bool      `json:"healthy"`
	Error        string    `json:"error,omitempty"`
	CheckedAt    time.Time `json:"checkedAt"`
	BreakerState string    `json:"breakerState,omitempty"`
}

type Registry struct {
	store    CarrierKeyStore
	builders map[string]Builder
	guards   GuardFactory
	defaults []*models.CarrierKey
	now      func() time.Time

	mu       sync.RWMutex
	adapters map[string]carrier.Adapter
	keys     map[string]*models.CarrierKey
	order    []string
	// persisted: в carrier_keys есть хоть одна запись, встроенные правила детекта не нужны
	persisted bool

	reMu    sync.Mutex
	reCache map[string]*regexp.Regexp
}

type Option func(*Registry)

// WithDefaults replaces the built-in fallback carrier list (e.g. with the config seed).
func WithDefaults(keys []*models.CarrierKey) Option {
	return func(r *Registry) {
		if len(keys) > 0 {
			r.defaults = keys
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(store CarrierKeyStore, builders map[string]Builder, guards GuardFactory, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		builders: builders,
		guards:   guards,
		defaults: DefaultKeys(),
		now:      time.Now,
		adapters: map[string]carrier.Adapter{},
		keys:     map[string]*models.CarrierKey{},
		reCache:  map[string]*regexp.Regexp{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load builds one adapter per usable CarrierKey. Falls back to the usable defaults when the
// store is unreachable or empty. Inactive or expired keys never get an adapter.
func (r *Registry) Load(ctx context.Context) error {
	all, err := r.storedKeys(ctx)
	if err != nil {
		slog.Warn("carrier keys unavailable, using defaults", "error", err.Error())
	}
	persisted := len(all) > 0
	now := r.now()
	keys := usable(all, now)
	if !persisted {
		keys = usable(r.defaults, now)
	}

	adapters := make(map[string]carrier.Adapter, len(keys))
	byCode := make(map[string]*models.CarrierKey, len(keys))
	order := make([]string, 0, len(keys))
	for _, k := range keys {
		a, err := r.build(k)
		if err != nil {
			slog.Error("build carrier adapter", "carrier", k.CarrierCode, "type", k.CarrierType, "error", err.Error())
			continue
		}
		if _, dup := adapters[k.CarrierCode]; !dup {
			order = append(order, k.CarrierCode)
		}
		adapters[k.CarrierCode] = a
		byCode[k.CarrierCode] = k
	}

	r.mu.Lock()
	r.adapters = adapters
	r.keys = byCode
	r.order = order
	r.persisted = persisted
	r.mu.Unlock()

	slog.Info("carrier adapters loaded", "carriers", order)
	if len(keys) == 0 {
		slog.Warn("no active carriers configured")
		return nil
	}
	if len(order) == 0 {
		return errors.New("no carrier adapters could be built")
	}
	return nil
}

// storedKeys returns every persisted key, active or not.
func (r *Registry) storedKeys(ctx context.Context) ([]*models.CarrierKey, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.ListCarrierKeys(ctx, false)
}

func usable(keys []*models.CarrierKey, now time.Time) []*models.CarrierKey {
	out := make([]*models.CarrierKey, 0, len(keys))
	for _, k := range keys {
		if k.Usable(now) {
			out = append(out, k)
		}
	}
	return out
}

func (r *Registry) build(k *models.CarrierKey) (carrier.Adapter, error) {
	b, ok := r.builders[k.CarrierType]
	if !ok {
		return nil, errors.Errorf("no builder for carrier type %q", k.CarrierType)
	}
	var g *resilience.Guard
	if r.guards != nil {
		g = r.guards(k)
	}
	a, err := b(k, g)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s", k.CarrierCode)
	}
	return a, nil
}

func (r *Registry) Adapter(code string) (carrier.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[code]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCarrier, "carrier %q", code)
	}
	return a, nil
}

// KeyID returns the persisted CarrierKey id behind the adapter, nil for built-in defaults.
func (r *Registry) KeyID(code string) *uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[code]
	if !ok || k.ID == 0 {
		return nil
	}
	id := k.ID
	return &id
}

// Codes returns loaded carrier codes in registration order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) snapshot() ([]string, map[string]carrier.Adapter, map[string]*models.CarrierKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order := make([]string, len(r.order))
	copy(order, r.order)
	adapters := make(map[string]carrier.Adapter, len(r.adapters))
	for k, v := range r.adapters {
		adapters[k] = v
	}
	keys := make(map[string]*models.CarrierKey, len(r.keys))
	for k, v := range r.keys {
		keys[k] = v
	}
	return order, adapters, keys, r.persisted
}

// DetectCarrier returns the first active carrier whose grammar matches n, in registration
// order: persisted trackingNumberPattern, then adapter patterns, then the built-in rules
// (only while carrier_keys is empty). Only codes with a loaded adapter are returned.
// Numbers matching several carriers are not disambiguated.
func (r *Registry) DetectCarrier(ctx context.Context, trackingNumber string) (string, bool) {
	n := carrier.NormalizeTrackingNumber(trackingNumber)
	if n == "" {
		return "", false
	}

	order, adapters, cached, persisted := r.snapshot()
	all, err := r.storedKeys(ctx)
	if err != nil {
		slog.Warn("detect carrier: store unavailable", "error", err.Error())
	} else if len(all) > 0 {
		persisted = true
	}
	keys := usable(all, r.now())
	if err != nil || len(keys) == 0 {
		keys = keys[:0]
		for _, code := range order {
			keys = append(keys, cached[code])
		}
	}

	for _, k := range keys {
		if k == nil || k.TrackingNumberPattern == "" {
			continue
		}
		if _, ok := adapters[k.CarrierCode]; !ok {
			continue
		}
		re, err := r.compile(k.TrackingNumberPattern)
		if err != nil {
			slog.Warn("bad tracking number pattern", "carrier", k.CarrierCode, "error", err.Error())
			continue
		}
		if re.MatchString(n) {
			return k.CarrierCode, true
		}
	}

	for _, code := range order {
		if a := adapters[code]; a != nil && a.IsTrackingNumberValid(n) {
			return code, true
		}
	}

	if persisted {
		return "", false
	}
	for _, rule := range fallbackRules {
		if _, ok := adapters[rule.code]; !ok {
			continue
		}
		for _, p := range rule.patterns {
			re, err := r.compile(p)
			if err == nil && re.MatchString(n) {
				return rule.code, true
			}
		}
	}
	return "", false
}

func (r *Registry) compile(expr string) (*regexp.Regexp, error) {
	r.reMu.Lock()
	defer r.reMu.Unlock()
	if re, ok := r.reCache[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	r.reCache[expr] = re
	return re, nil
}

func (r *Registry) AvailableCarriers(ctx context.Context) []string {
	all, err := r.storedKeys(ctx)
	if err != nil {
		slog.Warn("list carriers: store unavailable", "error", err.Error())
	}
	if len(all) == 0 {
		all = r.defaults
	}
	keys := usable(all, r.now())
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.CarrierCode)
	}
	return out
}

func (r *Registry) AvailableCarriersDetailed(ctx context.Context) []models.CarrierInfo {
	var keys []*models.CarrierKey
	if r.store != nil {
		all, err := r.store.ListCarrierKeys(ctx, false)
		if err != nil {
			slog.Warn("list carriers: store unavailable", "error", err.Error())
		}
		keys = all
	}
	if len(keys) == 0 {
		keys = r.defaults
	}

	now := r.now()
	out := make([]models.CarrierInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, models.CarrierInfo{
			Code:   k.CarrierCode,
			Name:   k.CarrierName,
			Type:   k.CarrierType,
			Active: k.Usable(now),
		})
	}
	return out
}

// HealthStatus checks every loaded adapter concurrently. Never fails.
func (r *Registry) HealthStatus(ctx context.Context) []CarrierHealth {
	order, adapters, _, _ := r.snapshot()
	out := make([]CarrierHealth, len(order))

	var g errgroup.Group
	for i, code := range order {
		i := i
		a := adapters[code]
		g.Go(func() error {
			out[i] = checkOne(ctx, a, r.now)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func checkOne(ctx context.Context, a carrier.Adapter, now func() time.Time) (h CarrierHealth) {
	h = CarrierHealth{Code: a.CarrierCode(), Name: a.CarrierName()}
	if gp, ok := a.(interface{ Guard() *resilience.Guard }); ok && gp.Guard() != nil {
		h.BreakerState = gp.Guard().State().String()
	}
	defer func() {
		if p := recover(); p != nil {
			h.Healthy = false
			h.Error = fmt.Sprintf("health check panic: %v", p)
		}
		h.CheckedAt = now().UTC()
	}()

	h.Healthy = a.HealthCheck(ctx)
	if !h.Healthy {
		h.Error = "health check failed"
	}
	return h
}

// RefreshAdapter rebuilds one adapter from its current persisted config; the new instance
// starts with a closed breaker. An inactive or missing key evicts the adapter.
func (r *Registry) RefreshAdapter(ctx context.Context, code string) bool {
	if r.store == nil {
		return false
	}
	k, err := r.store.GetCarrierKey(ctx, code)
	if err != nil {
		slog.Error("refresh carrier adapter", "carrier", code, "error", err.Error())
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !k.Usable(r.now()) {
		r.evictLocked(code)
		slog.Warn("carrier key not usable, adapter evicted", "carrier", code)
		return false
	}

	a, err := r.build(k)
	if err != nil {
		slog.Error("refresh carrier adapter", "carrier", code, "error", err.Error())
		return false
	}
	if _, ok := r.adapters[code]; !ok {
		r.order = append(r.order, code)
	}
	r.adapters[code] = a
	r.keys[code] = k
	slog.Info("carrier adapter refreshed", "carrier", code)
	return true
}

func (r *Registry) evictLocked(code string) {
	delete(r.adapters, code)
	delete(r.keys, code)
	for i, c := range r.order {
		if c == code {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// MarkUsed bumps usage counters on the CarrierKey; failures are only logged.
func (r *Registry) MarkUsed(ctx context.Context, code string) {
	if r.store == nil {
		return
	}
	if err := r.store.TouchCarrierKey(ctx, code); err != nil {
		slog.Warn("mark carrier key used", "carrier", code, "error", err.Error())
	}
}

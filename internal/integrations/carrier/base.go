package carrier

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/resilience"
	"github.com/pkg/errors"
)

// Base carries what every adapter shares: identity, config, patterns, HTTP client and Guard.
type Base struct {
	code     string
	name     string
	patterns []*regexp.Regexp
	guard    *resilience.Guard

	mu    sync.RWMutex
	cfg   models.CarrierConfig
	httpc *http.Client
}

func NewBase(code, name string, cfg models.CarrierConfig, patterns []*regexp.Regexp, guard *resilience.Guard) *Base {
	return &Base{
		code:     code,
		name:     name,
		patterns: patterns,
		guard:    guard,
		httpc:    NewHTTPClient(cfg.Timeout()),
		cfg:      cfg.Merge(models.CarrierConfig{}),
	}
}

func (b *Base) CarrierCode() string { return b.code }
func (b *Base) CarrierName() string { return b.name }

func (b *Base) Config() models.CarrierConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Merge(models.CarrierConfig{})
}

// UpdateConfig applies patch. A new timeout replaces the HTTP client and the guard's call timeout.
func (b *Base) UpdateConfig(patch models.CarrierConfig) {
	b.mu.Lock()
	prev := b.cfg.Timeout()
	b.cfg = b.cfg.Merge(patch)
	timeout := b.cfg.Timeout()
	if timeout != prev {
		b.httpc = NewHTTPClient(timeout)
	}
	b.mu.Unlock()

	if timeout != prev && b.guard != nil {
		b.guard.SetTimeout(timeout)
	}
}

func (b *Base) TrackingNumberPatterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(b.patterns))
	copy(out, b.patterns)
	return out
}

func (b *Base) IsTrackingNumberValid(trackingNumber string) bool {
	n := NormalizeTrackingNumber(trackingNumber)
	if n == "" {
		return false
	}
	for _, p := range b.patterns {
		if p.MatchString(n) {
			return true
		}
	}
	return false
}

func (b *Base) HTTPClient() *http.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.httpc
}

func (b *Base) Guard() *resilience.Guard { return b.guard }

// Call routes one vendor call through the Guard.
func (b *Base) Call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if b.guard == nil {
		return fn(ctx)
	}
	return b.guard.Do(ctx, op, fn)
}

// Finalize fills the fields every adapter sets the same way, sorts events newest-first
// and validates the result.
func (b *Base) Finalize(trackingNumber string, resp *models.TrackingResponse) (*models.TrackingResponse, error) {
	if resp == nil || len(resp.Events) == 0 {
		return nil, models.NewNotFoundError(b.code, trackingNumber, "no tracking events")
	}
	resp.TrackingNumber = trackingNumber
	resp.CarrierCode = b.code
	resp.CarrierName = b.name
	resp.LastUpdated = time.Now().UTC()

	models.SortNewestFirst(resp.Events)
	resp.CurrentStatus = resp.Events[0].Status
	if resp.CurrentStatus == models.TrackingStatusDelivered {
		resp.IsDelivered = true
	}

	if err := models.ValidateResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// NormalizeTrackingNumber убирает пробелы/дефисы и приводит к верхнему регистру.
func NormalizeTrackingNumber(n string) string {
	n = strings.TrimSpace(n)
	n = strings.NewReplacer(" ", "", "-", "").Replace(n)
	return strings.ToUpper(n)
}

// MustPatterns compiles adapter-owned tracking number grammars.
func MustPatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// AsAPIError is errors.As for *models.APIError.
func AsAPIError(err error) (*models.APIError, bool) {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

package trackings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/CarrierGate/internal/broker/messages"
	"github.com/BearBump/CarrierGate/internal/cache"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier/registry"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/storage/pgtracking"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var (
	ErrCarrierUndetectable = errors.New("carrier undetectable")
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = pgtracking.ErrNotFound
)

const (
	DefaultBatchConcurrency = 5
	DefaultMaxBatchSize     = 100
	maxTrackingNumberLen    = 64
)

type Repository interface {
	SaveTrackingResponse(ctx context.Context, resp *models.TrackingResponse, carrierKeyID *uint64) error
	ListTrackingHistory(ctx context.Context, trackingNumber, carrierCode string, limit, offset int) ([]*models.TrackingEvent, error)
	GetLatestEvent(ctx context.Context, trackingNumber, carrierCode string) (*models.TrackingEvent, error)
	Ping(ctx context.Context) error
}

// Carriers: реестр адаптеров (registry.Registry).
type Carriers interface {
	Adapter(code string) (carrier.Adapter, error)
	DetectCarrier(ctx context.Context, trackingNumber string) (string, bool)
	AvailableCarriersDetailed(ctx context.Context) []models.CarrierInfo
	HealthStatus(ctx context.Context) []registry.CarrierHealth
	RefreshAdapter(ctx context.Context, code string) bool
	MarkUsed(ctx context.Context, code string)
	KeyID(code string) *uint64
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type Config struct {
	LatestTTL        time.Duration
	BatchConcurrency int
	MaxBatchSize     int
	UpdatedTopic     string
}

type Service struct {
	repo      Repository
	carriers  Carriers
	cache     cache.BytesCache
	publisher Publisher
	cfg       Config
}

// New: cache and publisher may be nil.
func New(repo Repository, carriers Carriers, c cache.BytesCache, pub Publisher, cfg Config) *Service {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultBatchConcurrency
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	return &Service{repo: repo, carriers: carriers, cache: c, publisher: pub, cfg: cfg}
}

type BatchRequest struct {
	TrackingNumbers []string `json:"trackingNumbers"`
	CarrierCode     string   `json:"carrierCode,omitempty"`
}

type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type HealthStatus struct {
	Status    string                   `json:"status"`
	Carriers  []registry.CarrierHealth `json:"carriers"`
	Datastore ComponentHealth          `json:"datastore"`
	Cache     *ComponentHealth         `json:"cache,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
)

func normalizeInput(trackingNumber, carrierCode string) (string, string, error) {
	n := carrier.NormalizeTrackingNumber(trackingNumber)
	if n == "" {
		return "", "", errors.Wrap(ErrInvalidInput, "trackingNumber is required")
	}
	if len(n) > maxTrackingNumberLen {
		return "", "", errors.Wrapf(ErrInvalidInput, "trackingNumber is longer than %d", maxTrackingNumberLen)
	}
	return n, strings.ToLower(strings.TrimSpace(carrierCode)), nil
}

// TrackShipment resolves the adapter (explicit code or detection), tracks, persists the events
// and announces the update.
func (s *Service) TrackShipment(ctx context.Context, trackingNumber, carrierCode string) (*models.TrackingResponse, error) {
	n, code, err := normalizeInput(trackingNumber, carrierCode)
	if err != nil {
		return nil, err
	}

	if code == "" {
		detected, ok := s.carriers.DetectCarrier(ctx, n)
		if !ok {
			return nil, errors.Wrapf(ErrCarrierUndetectable, "tracking number %s", n)
		}
		code = detected
	}

	adapter, err := s.carriers.Adapter(code)
	if err != nil {
		return nil, err
	}

	resp, err := adapter.Track(ctx, n)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveTrackingResponse(ctx, resp, s.carriers.KeyID(code)); err != nil {
		return nil, errors.Wrap(err, "save tracking response")
	}

	s.invalidateLatest(ctx, resp.TrackingNumber, resp.CarrierCode)
	s.publishUpdated(ctx, resp)
	s.carriers.MarkUsed(ctx, code)

	slog.Info("shipment tracked",
		"carrier", resp.CarrierCode, "tracking_number", resp.TrackingNumber,
		"status", string(resp.CurrentStatus), "events", len(resp.Events))
	return resp, nil
}

// TrackBatchShipments returns exactly one result per input number, in input order.
func (s *Service) TrackBatchShipments(ctx context.Context, req BatchRequest) ([]models.BatchResult, error) {
	if len(req.TrackingNumbers) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "trackingNumbers is empty")
	}
	if len(req.TrackingNumbers) > s.cfg.MaxBatchSize {
		return nil, errors.Wrapf(ErrInvalidInput, "too many tracking numbers (max %d)", s.cfg.MaxBatchSize)
	}

	results := make([]models.BatchResult, len(req.TrackingNumbers))
	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, n := range req.TrackingNumbers {
		i, n := i, n
		g.Go(func() error {
			resp, err := s.TrackShipment(ctx, n, req.CarrierCode)
			if err != nil {
				slog.Warn("batch item failed", "tracking_number", n, "error", err.Error())
				results[i] = models.BatchResult{TrackingNumber: n, Status: models.BatchStatusError, Error: err.Error()}
				return nil
			}
			results[i] = models.BatchResult{TrackingNumber: n, Status: models.BatchStatusOK, Response: resp}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (s *Service) GetTrackingHistory(ctx context.Context, trackingNumber, carrierCode string, limit, offset int) ([]*models.TrackingEvent, error) {
	n, code, err := normalizeInput(trackingNumber, carrierCode)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTrackingHistory(ctx, n, code, limit, offset)
}

// GetLatestStatus is cache-aside over the is_latest row.
func (s *Service) GetLatestStatus(ctx context.Context, trackingNumber, carrierCode string) (*models.TrackingEvent, error) {
	n, code, err := normalizeInput(trackingNumber, carrierCode)
	if err != nil {
		return nil, err
	}

	key := latestKey(n, code)
	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("latest status cache get failed", "key", key, "error", err.Error())
		} else if ok {
			var e models.TrackingEvent
			if json.Unmarshal(b, &e) == nil && e.TrackingNumber != "" {
				return &e, nil
			}
		}
	}

	e, err := s.repo.GetLatestEvent(ctx, n, code)
	if err != nil {
		return nil, err
	}

	if s.cacheEnabled() {
		b, _ := json.Marshal(e)
		if err := s.cache.Set(ctx, key, b, s.cfg.LatestTTL); err != nil {
			slog.Warn("latest status cache set failed", "key", key, "error", err.Error())
		}
	}
	return e, nil
}

// GetHealthStatus never fails. Healthy iff the datastore answers and every carrier is healthy;
// cache reachability is reported only.
func (s *Service) GetHealthStatus(ctx context.Context) HealthStatus {
	hs := HealthStatus{
		Carriers:  s.carriers.HealthStatus(ctx),
		Datastore: ComponentHealth{Healthy: true},
		Timestamp: time.Now().UTC(),
	}
	if err := s.repo.Ping(ctx); err != nil {
		hs.Datastore = ComponentHealth{Healthy: false, Error: err.Error()}
	}
	if p, ok := s.cache.(interface{ Ping(context.Context) error }); ok && s.cache != nil {
		ch := ComponentHealth{Healthy: true}
		if err := p.Ping(ctx); err != nil {
			ch = ComponentHealth{Healthy: false, Error: err.Error()}
		}
		hs.Cache = &ch
	}

	hs.Status = HealthStatusHealthy
	if !hs.Datastore.Healthy {
		hs.Status = HealthStatusUnhealthy
	}
	for _, c := range hs.Carriers {
		if !c.Healthy {
			hs.Status = HealthStatusUnhealthy
		}
	}
	return hs
}

func (s *Service) AvailableCarriers(ctx context.Context) []models.CarrierInfo {
	return s.carriers.AvailableCarriersDetailed(ctx)
}

func (s *Service) RefreshCarrier(ctx context.Context, code string) bool {
	return s.carriers.RefreshAdapter(ctx, strings.ToLower(strings.TrimSpace(code)))
}

// ApplyTrackingRequest handles one tracking.requested message. Requests that can never succeed
// are logged and dropped; transient failures are returned so the message is redelivered.
func (s *Service) ApplyTrackingRequest(ctx context.Context, msg messages.TrackingRequested) error {
	_, err := s.TrackShipment(ctx, msg.TrackingNumber, msg.CarrierCode)
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		slog.Warn("tracking request dropped",
			"request_id", msg.RequestID, "tracking_number", msg.TrackingNumber, "error", err.Error())
		return nil
	}
	return err
}

// IsPermanent reports errors that retrying the same request will not fix.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrCarrierUndetectable) || errors.Is(err, registry.ErrUnknownCarrier) {
		return true
	}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return true
	}
	if apiErr, ok := carrier.AsAPIError(err); ok {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429
	}
	return false
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cfg.LatestTTL > 0
}

func (s *Service) invalidateLatest(ctx context.Context, n, code string) {
	if !s.cacheEnabled() {
		return
	}
	for _, key := range []string{latestKey(n, code), latestKey(n, "")} {
		if err := s.cache.Delete(ctx, key); err != nil {
			slog.Warn("latest status cache delete failed", "key", key, "error", err.Error())
		}
	}
}

func (s *Service) publishUpdated(ctx context.Context, resp *models.TrackingResponse) {
	if s.publisher == nil || s.cfg.UpdatedTopic == "" {
		return
	}
	msg := messages.NewTrackingUpdated(resp)
	if err := s.publisher.PublishJSON(ctx, s.cfg.UpdatedTopic, messages.Key(resp.CarrierCode, resp.TrackingNumber), msg); err != nil {
		slog.Error("publish tracking.updated failed",
			"carrier", resp.CarrierCode, "tracking_number", resp.TrackingNumber, "error", err.Error())
	}
}

func latestKey(n, code string) string {
	if code == "" {
		code = "any"
	}
	return fmt.Sprintf("tracking:%s:%s:latest", code, n)
}

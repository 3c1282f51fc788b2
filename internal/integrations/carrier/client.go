package carrier

import (
	"context"
	"regexp"

	"github.com/BearBump/CarrierGate/internal/models"
)

// Adapter: единый контракт трекинга поверх API конкретного перевозчика.
type Adapter interface {
	CarrierCode() string
	CarrierName() string

	Track(ctx context.Context, trackingNumber string) (*models.TrackingResponse, error)
	// TrackBatch is best effort: failed numbers are logged and left out of the result.
	TrackBatch(ctx context.Context, trackingNumbers []string) ([]*models.TrackingResponse, error)

	IsTrackingNumberValid(trackingNumber string) bool
	TrackingNumberPatterns() []*regexp.Regexp

	// HealthCheck never fails: any problem is reported as false.
	HealthCheck(ctx context.Context) bool

	Config() models.CarrierConfig
	UpdateConfig(patch models.CarrierConfig)
}

package trackings

import (
	"context"
	"net/http"
	"testing"

	"github.com/BearBump/CarrierGate/internal/cache/rediscache"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier/registry"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid input", errors.Wrap(ErrInvalidInput, "x"), true},
		{"undetectable", ErrCarrierUndetectable, true},
		{"unknown carrier", errors.Wrap(registry.ErrUnknownCarrier, "dhl"), true},
		{"validation", &models.ValidationError{CarrierCode: "ups"}, true},
		{"not found", models.NewNotFoundError("ups", "1Z", ""), true},
		{"unauthorized", &models.APIError{StatusCode: http.StatusUnauthorized}, true},
		{"vendor throttled", &models.APIError{StatusCode: http.StatusTooManyRequests}, false},
		{"rate limit", &models.RateLimitError{CarrierCode: "ups", Local: true}, false},
		{"vendor 5xx", &models.APIError{StatusCode: http.StatusBadGateway}, false},
		{"db", errors.New("conn reset"), false},
		{"canceled", context.Canceled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsPermanent(tc.err))
		})
	}
}

func TestLatestKey(t *testing.T) {
	require.Equal(t, "tracking:ups:1Z999:latest", latestKey("1Z999", "ups"))
	require.Equal(t, "tracking:any:1Z999:latest", latestKey("1Z999", ""))
}

func TestNew_Defaults(t *testing.T) {
	svc := New(nil, nil, nil, nil, Config{})
	require.Equal(t, DefaultBatchConcurrency, svc.cfg.BatchConcurrency)
	require.Equal(t, DefaultMaxBatchSize, svc.cfg.MaxBatchSize)
	require.False(t, svc.cacheEnabled())
}

type pingRepo struct {
	Repository
	err error
}

func (r pingRepo) Ping(ctx context.Context) error { return r.err }

type staticCarriers struct {
	Carriers
	health []registry.CarrierHealth
}

func (c staticCarriers) HealthStatus(ctx context.Context) []registry.CarrierHealth { return c.health }

func TestGetHealthStatus_CacheReportedNotCounted(t *testing.T) {
	mr := miniredis.RunT(t)
	c := rediscache.New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	svc := New(pingRepo{}, staticCarriers{health: []registry.CarrierHealth{{Code: "ups", Healthy: true}}}, c, nil, Config{})

	hs := svc.GetHealthStatus(context.Background())
	require.Equal(t, HealthStatusHealthy, hs.Status)
	require.NotNil(t, hs.Cache)
	require.True(t, hs.Cache.Healthy)

	mr.Close()
	hs = svc.GetHealthStatus(context.Background())
	require.False(t, hs.Cache.Healthy)
	require.NotEmpty(t, hs.Cache.Error)
	require.Equal(t, HealthStatusHealthy, hs.Status)
}

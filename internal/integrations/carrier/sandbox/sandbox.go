package sandbox

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/CarrierGate/internal/integrations/carrier"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/resilience"
)

const DefaultName = "Sandbox Carrier"

var Patterns = []string{`^SBX\d{6,}$`}

// Client: детерминированный "перевозчик" для локального запуска и e2e-тестов.
// Ответ зависит только от трек-номера: часть треков доставлена, на ...404 не найден, на ...503 сбой вендора.
type Client struct {
	*carrier.Base
	epoch time.Time
}

var _ carrier.Adapter = (*Client)(nil)

func New(code, name string, cfg models.CarrierConfig, guard *resilience.Guard) *Client {
	if name == "" {
		name = DefaultName
	}
	return &Client{
		Base:  carrier.NewBase(code, name, cfg, carrier.MustPatterns(Patterns...), guard),
		epoch: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var stages = []struct {
	status models.TrackingStatus
	desc   string
	city   string
}{
	{models.TrackingStatusPending, "shipment information received", "Berlin"},
	{models.TrackingStatusInTransit, "picked up", "Berlin"},
	{models.TrackingStatusInTransit, "departed sort facility", "Leipzig"},
	{models.TrackingStatusOutForDelivery, "out for delivery", "Munich"},
	{models.TrackingStatusDelivered, "delivered", "Munich"},
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (*models.TrackingResponse, error) {
	n := carrier.NormalizeTrackingNumber(trackingNumber)
	var out *models.TrackingResponse
	err := c.Call(ctx, "track", func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := c.track(n)
		out = resp
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) track(n string) (*models.TrackingResponse, error) {
	switch {
	case strings.HasSuffix(n, "404"):
		return nil, models.NewNotFoundError(c.CarrierCode(), n, "")
	case strings.HasSuffix(n, "503"):
		return nil, &models.APIError{CarrierCode: c.CarrierCode(), TrackingNumber: n, StatusCode: http.StatusServiceUnavailable, Message: "sandbox outage"}
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(c.CarrierCode()))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(n))
	v := h.Sum32()

	// 20% треков доставлены, остальные застряли на случайном этапе
	last := int(v % uint32(len(stages)-1))
	if v%5 == 0 {
		last = len(stages) - 1
	}

	start := c.epoch.Add(time.Duration(v%720) * time.Hour)
	resp := &models.TrackingResponse{
		Origin:      &models.Location{City: stages[0].city, Country: "DE"},
		Destination: &models.Location{City: stages[len(stages)-1].city, Country: "DE"},
	}
	for i := 0; i <= last; i++ {
		s := stages[i]
		resp.Events = append(resp.Events, models.TrackingEventData{
			Status:          s.status,
			Description:     s.desc,
			Location:        &models.Location{City: s.city, Country: "DE"},
			Timestamp:       start.Add(time.Duration(i*6) * time.Hour),
			ExternalEventID: fmt.Sprintf("SBX-%d", i),
		})
	}
	if last == len(stages)-1 {
		resp.ActualDelivery = start.Add(time.Duration(last*6) * time.Hour).Format(time.RFC3339)
	} else {
		resp.EstimatedDelivery = start.Add(time.Duration((len(stages)-1)*6) * time.Hour).Format(time.RFC3339)
	}
	return c.Finalize(n, resp)
}

func (c *Client) TrackBatch(ctx context.Context, trackingNumbers []string) ([]*models.TrackingResponse, error) {
	return carrier.TrackBatch(ctx, c, trackingNumbers, carrier.DefaultBatchConcurrency)
}

func (c *Client) HealthCheck(ctx context.Context) bool {
	return ctx.Err() == nil
}

package fedex

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BearBump/CarrierGate/internal/integrations/carrier"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/resilience"
	"github.com/google/uuid"
)

const (
	DefaultName    = "FedEx"
	DefaultBaseURL = "https://apis.fedex.com"

	trackPath  = "/track/v1/trackingnumbers"
	healthPath = "/health"

	notFoundCode = "TRACKING.TRACKINGNUMBER.NOTFOUND"

	// MaxBatchPerRequest: лимит trackingInfo в одном запросе Track API.
	MaxBatchPerRequest = 30
)

// Patterns: Express 12, Ground 15, SmartPost/Ground 20/22, Ground с префиксом 96.
var Patterns = []string{
	`^\d{12}$`,
	`^\d{14}$`,
	`^\d{15}$`,
	`^\d{20}$`,
	`^96\d{20}$`,
	`^\d{22}$`,
}

type Client struct {
	*carrier.Base
}

var _ carrier.Adapter = (*Client)(nil)

func New(code, name string, cfg models.CarrierConfig, guard *resilience.Guard) *Client {
	if name == "" {
		name = DefaultName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Client{Base: carrier.NewBase(code, name, cfg, carrier.MustPatterns(Patterns...), guard)}
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (*models.TrackingResponse, error) {
	n := carrier.NormalizeTrackingNumber(trackingNumber)
	var out *models.TrackingResponse
	err := c.Call(ctx, "track", func(ctx context.Context) error {
		resp, err := c.track(ctx, n)
		out = resp
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TrackBatch sends up to MaxBatchPerRequest numbers per vendor request. Numbers the vendor
// does not know, and chunks that fail, are logged and dropped; survivors keep input order.
func (c *Client) TrackBatch(ctx context.Context, trackingNumbers []string) ([]*models.TrackingResponse, error) {
	out := make([]*models.TrackingResponse, 0, len(trackingNumbers))
	for start := 0; start < len(trackingNumbers); start += MaxBatchPerRequest {
		end := min(start+MaxBatchPerRequest, len(trackingNumbers))
		chunk := make([]string, 0, end-start)
		for _, n := range trackingNumbers[start:end] {
			chunk = append(chunk, carrier.NormalizeTrackingNumber(n))
		}

		var env trackEnvelope
		err := c.Call(ctx, "track_batch", func(ctx context.Context) error {
			var err error
			env, _, err = c.requestTrack(ctx, chunk, "")
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			slog.Warn("fedex batch chunk failed", "size", len(chunk), "error", err.Error())
			continue
		}

		for _, n := range chunk {
			res, msg, ok := findResult(env, n)
			if !ok {
				slog.Warn("batch tracking item not found", "carrier", c.CarrierCode(), "tracking_number", n, "message", msg)
				continue
			}
			resp := mapTrackResult(res)
			if raw, err := json.Marshal(res); err == nil {
				resp.RawData = raw
			}
			resp, err := c.Finalize(n, resp)
			if err != nil {
				slog.Warn("batch tracking item invalid", "carrier", c.CarrierCode(), "tracking_number", n, "error", err.Error())
				continue
			}
			out = append(out, resp)
		}
	}
	return out, nil
}

func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.Config().Timeout())
	defer cancel()

	u, err := carrier.JoinURL(c.Config().BaseURL, healthPath, nil)
	if err != nil {
		return false
	}
	_, err = c.DoJSON(ctx, carrier.Request{Method: http.MethodGet, URL: u, Header: c.authHeader()}, nil)
	return err == nil
}

func (c *Client) authHeader() http.Header {
	cfg := c.Config()
	h := http.Header{
		"X-API-Key":        []string{cfg.APIKey},
		"X-API-Secret":     []string{cfg.APISecret},
		"X-Customer-Trans": []string{uuid.NewString()},
	}
	if acc := cfg.ExtraValue("accountNumber", ""); acc != "" {
		h.Set("X-Account-Number", acc)
	}
	return h
}

func (c *Client) requestTrack(ctx context.Context, numbers []string, errNumber string) (trackEnvelope, []byte, error) {
	var env trackEnvelope
	u, err := carrier.JoinURL(c.Config().BaseURL, trackPath, nil)
	if err != nil {
		return env, nil, err
	}

	body := trackRequest{IncludeDetailedScans: true, TrackingInfo: make([]trackingInfoIn, len(numbers))}
	for i, n := range numbers {
		body.TrackingInfo[i].TrackingNumberInfo.TrackingNumber = n
	}

	raw, err := c.DoJSON(ctx, carrier.Request{
		Method:         http.MethodPost,
		URL:            u,
		Header:         c.authHeader(),
		JSON:           body,
		TrackingNumber: errNumber,
	}, &env)
	return env, raw, err
}

func (c *Client) track(ctx context.Context, n string) (*models.TrackingResponse, error) {
	env, raw, err := c.requestTrack(ctx, []string{n}, n)
	if err != nil {
		return nil, err
	}

	res, msg, ok := findResult(env, n)
	if !ok {
		return nil, models.NewNotFoundError(c.CarrierCode(), n, msg)
	}
	resp := mapTrackResult(res)
	resp.RawData = json.RawMessage(raw)
	return c.Finalize(n, resp)
}

func findResult(env trackEnvelope, n string) (trackResultDTO, string, bool) {
	msg := ""
	for _, ctr := range env.Output.CompleteTrackResults {
		if ctr.TrackingNumber != "" && !strings.EqualFold(ctr.TrackingNumber, n) {
			continue
		}
		for _, r := range ctr.TrackResults {
			if r.Error != nil && r.Error.Code != "" {
				if msg == "" {
					msg = r.Error.Message
				}
				if r.Error.Code == notFoundCode || len(r.ScanEvents) == 0 {
					continue
				}
			}
			return r, "", true
		}
	}
	return trackResultDTO{}, msg, false
}

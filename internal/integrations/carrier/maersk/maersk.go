package maersk

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/CarrierGate/internal/cache"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier/oauth"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/resilience"
	"github.com/pkg/errors"
)

const (
	DefaultName    = "Maersk"
	DefaultBaseURL = "https://api.maersk.com"

	tokenPath  = "/customer-identity/oauth/v2/access_token"
	eventsPath = "/track-and-trace-private/events"
)

// Patterns: контейнеры с префиксами Maersk, любой ISO 6346 контейнер, букинг из 9 цифр.
var Patterns = []string{
	`^(MAEU|MSKU|MRKU|MRSU|SEAU|SUDU|MCPU)\d{7}$`,
	`^[A-Z]{4}\d{7}$`,
	`^\d{9}$`,
}

type Client struct {
	*carrier.Base
	tokens *oauth.TokenSource
}

var _ carrier.Adapter = (*Client)(nil)

func New(code, name string, cfg models.CarrierConfig, guard *resilience.Guard, tokenCache cache.BytesCache) *Client {
	if name == "" {
		name = DefaultName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	c := &Client{Base: carrier.NewBase(code, name, cfg, carrier.MustPatterns(Patterns...), guard)}
	c.tokens = oauth.NewTokenSource(code+":"+cfg.APIKey, c.fetchToken, tokenCache)
	return c
}

func (c *Client) UpdateConfig(patch models.CarrierConfig) {
	c.Base.UpdateConfig(patch)
	if patch.APIKey != "" || patch.APISecret != "" || patch.BaseURL != "" {
		c.tokens.Invalidate(context.Background())
	}
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

func (c *Client) TrackBatch(ctx context.Context, trackingNumbers []string) ([]*models.TrackingResponse, error) {
	return carrier.TrackBatch(ctx, c, trackingNumbers, carrier.DefaultBatchConcurrency)
}

func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.Config().Timeout())
	defer cancel()
	_, err := c.fetchToken(ctx)
	return err == nil
}

func (c *Client) track(ctx context.Context, n string) (*models.TrackingResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	cfg := c.Config()
	// 9 цифр — это номер букинга, остальное — номер контейнера
	param := "equipmentReference"
	if len(n) == 9 && isDigits(n) {
		param = "carrierBookingReference"
	}
	u, err := carrier.JoinURL(cfg.BaseURL, eventsPath, url.Values{param: []string{n}})
	if err != nil {
		return nil, err
	}

	raw, err := c.DoJSON(ctx, carrier.Request{
		Method: http.MethodGet,
		URL:    u,
		Header: http.Header{
			"Consumer-Key":  []string{cfg.APIKey},
			"Authorization": []string{carrier.Bearer(token)},
		},
		TrackingNumber: n,
	}, nil)
	if err != nil {
		if apiErr, ok := carrier.AsAPIError(err); ok && apiErr.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate(ctx)
		}
		return nil, err
	}

	events, err := decodeEvents(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode maersk events")
	}
	if len(events) == 0 {
		return nil, models.NewNotFoundError(c.CarrierCode(), n, "no events")
	}

	resp := mapEvents(events)
	resp.RawData = json.RawMessage(raw)
	return c.Finalize(n, resp)
}

// decodeEvents accepts both a bare DCSA array and the {"events": [...]} envelope.
func decodeEvents(raw []byte) ([]eventDTO, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var out []eventDTO
		err := json.Unmarshal(raw, &out)
		return out, err
	}
	var env eventsEnvelope
	err := json.Unmarshal(raw, &env)
	return env.Events, err
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (c *Client) fetchToken(ctx context.Context) (oauth.Token, error) {
	cfg := c.Config()
	u, err := carrier.JoinURL(cfg.ExtraValue("tokenUrl", cfg.BaseURL), tokenPath, nil)
	if err != nil {
		return oauth.Token{}, err
	}

	var tr oauth.Response
	if _, err := c.DoJSON(ctx, carrier.Request{
		Method: http.MethodPost,
		URL:    u,
		Header: http.Header{"Consumer-Key": []string{cfg.APIKey}},
		Form: url.Values{
			"grant_type":    []string{"client_credentials"},
			"client_id":     []string{cfg.APIKey},
			"client_secret": []string{cfg.APISecret},
		},
	}, &tr); err != nil {
		return oauth.Token{}, err
	}
	return tr.Token(time.Now())
}

package ups

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/CarrierGate/internal/cache"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier/oauth"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/resilience"
	"github.com/google/uuid"
)

const (
	DefaultName    = "UPS"
	DefaultBaseURL = "https://onlinetools.ups.com"

	tokenPath = "/security/v1/oauth/token"
	trackPath = "/api/track/v1/details/"
)

// Patterns: 1Z-номера, UPS Freight (T + 10 цифр), Mail Innovations (26 цифр).
var Patterns = []string{
	`^1Z[0-9A-Z]{15,16}$`,
	`^T\d{10}$`,
	`^\d{26}$`,
}

type Client struct {
	*carrier.Base
	tokens *oauth.TokenSource
}

var _ carrier.Adapter = (*Client)(nil)

// New builds the UPS adapter. tokenCache may be nil; then the token lives only in process.
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

// HealthCheck делает свежий обмен client credentials на токен.
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
	u, err := carrier.JoinURL(cfg.BaseURL, trackPath+url.PathEscape(n), url.Values{
		"locale":          []string{cfg.ExtraValue("locale", "en_US")},
		"returnSignature": []string{"false"},
	})
	if err != nil {
		return nil, err
	}

	var env trackEnvelope
	raw, err := c.DoJSON(ctx, carrier.Request{
		Method: http.MethodGet,
		URL:    u,
		Header: http.Header{
			"Authorization":  []string{carrier.Bearer(token)},
			"transId":        []string{uuid.NewString()},
			"transactionSrc": []string{cfg.ExtraValue("transactionSrc", "carriergate")},
		},
		TrackingNumber: n,
	}, &env)
	if err != nil {
		if apiErr, ok := carrier.AsAPIError(err); ok && apiErr.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate(ctx)
		}
		return nil, err
	}

	pkg, warn, ok := findPackage(env, n)
	if !ok {
		return nil, models.NewNotFoundError(c.CarrierCode(), n, warn)
	}
	resp := mapPackage(pkg)
	resp.RawData = json.RawMessage(raw)
	return c.Finalize(n, resp)
}

func findPackage(env trackEnvelope, n string) (packageDTO, string, bool) {
	warn := ""
	for _, s := range env.TrackResponse.Shipment {
		for _, w := range s.Warnings {
			if warn == "" {
				warn = strings.TrimSpace(w.Message)
			}
		}
		for _, p := range s.Package {
			if p.TrackingNumber == "" || strings.EqualFold(p.TrackingNumber, n) {
				return p, "", true
			}
		}
		if len(s.Package) > 0 {
			return s.Package[0], "", true
		}
	}
	return packageDTO{}, warn, false
}

func (c *Client) fetchToken(ctx context.Context) (oauth.Token, error) {
	cfg := c.Config()
	u, err := carrier.JoinURL(cfg.ExtraValue("tokenUrl", cfg.BaseURL), tokenPath, nil)
	if err != nil {
		return oauth.Token{}, err
	}

	h := http.Header{
		"Authorization": []string{"Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.APIKey+":"+cfg.APISecret))},
	}
	if acc := cfg.ExtraValue("accountNumber", ""); acc != "" {
		h.Set("x-merchant-id", acc)
	}

	var tr oauth.Response
	if _, err := c.DoJSON(ctx, carrier.Request{
		Method: http.MethodPost,
		URL:    u,
		Header: h,
		Form:   url.Values{"grant_type": []string{"client_credentials"}},
	}, &tr); err != nil {
		return oauth.Token{}, err
	}
	return tr.Token(time.Now())
}

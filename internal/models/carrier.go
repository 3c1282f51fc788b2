package models

import "time"

// CarrierConfig is the connection profile an adapter is built from.
type CarrierConfig struct {
	APIKey             string            `json:"apiKey"`
	APISecret          string            `json:"apiSecret,omitempty"`
	BaseURL            string            `json:"baseUrl"`
	TimeoutSeconds     int               `json:"timeout"`
	MaxRetries         int               `json:"maxRetries"`
	RateLimitPerMinute int               `json:"rateLimitPerMinute"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// Timeout returns the per-call timeout, 10s when not configured.
func (c CarrierConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Merge returns c with every non-zero field of patch applied. Extra is merged key by key.
func (c CarrierConfig) Merge(patch CarrierConfig) CarrierConfig {
	out := c
	if patch.APIKey != "" {
		out.APIKey = patch.APIKey
	}
	if patch.APISecret != "" {
		out.APISecret = patch.APISecret
	}
	if patch.BaseURL != "" {
		out.BaseURL = patch.BaseURL
	}
	if patch.TimeoutSeconds > 0 {
		out.TimeoutSeconds = patch.TimeoutSeconds
	}
	if patch.MaxRetries > 0 {
		out.MaxRetries = patch.MaxRetries
	}
	if patch.RateLimitPerMinute > 0 {
		out.RateLimitPerMinute = patch.RateLimitPerMinute
	}
	out.Extra = make(map[string]string, len(c.Extra)+len(patch.Extra))
	for k, v := range c.Extra {
		out.Extra[k] = v
	}
	for k, v := range patch.Extra {
		out.Extra[k] = v
	}
	return out
}

func (c CarrierConfig) ExtraValue(key, def string) string {
	if v, ok := c.Extra[key]; ok && v != "" {
		return v
	}
	return def
}

const (
	CarrierTypeUPS     = "ups"
	CarrierTypeFedEx   = "fedex"
	CarrierTypeMaersk  = "maersk"
	CarrierTypeSandbox = "sandbox"
)

// CarrierKey: запись carrier_keys: креды и настройки перевозчика.
type CarrierKey struct {
	ID                    uint64
	CarrierCode           string
	CarrierName           string
	CarrierType           string
	APIKey                string
	APISecret             string
	BaseURL               string
	TimeoutSeconds        int
	MaxRetries            int
	RateLimitPerMinute    int
	Extra                 map[string]string
	TrackingNumberPattern string
	IsActive              bool
	UsageCount            int64
	LastUsedAt            *time.Time
	ExpiresAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Usable is false for inactive or expired keys.
func (k *CarrierKey) Usable(now time.Time) bool {
	if k == nil || !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}

func (k *CarrierKey) Config() CarrierConfig {
	extra := make(map[string]string, len(k.Extra))
	for key, v := range k.Extra {
		extra[key] = v
	}
	return CarrierConfig{
		APIKey:             k.APIKey,
		APISecret:          k.APISecret,
		BaseURL:            k.BaseURL,
		TimeoutSeconds:     k.TimeoutSeconds,
		MaxRetries:         k.MaxRetries,
		RateLimitPerMinute: k.RateLimitPerMinute,
		Extra:              extra,
	}
}

type CarrierInfo struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

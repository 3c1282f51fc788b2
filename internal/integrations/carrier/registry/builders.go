package registry

import (
	"github.com/BearBump/CarrierGate/internal/cache"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier/fedex"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier/maersk"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier/sandbox"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier/ups"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/resilience"
)

// Builder creates an adapter for one CarrierKey.
type Builder func(key *models.CarrierKey, guard *resilience.Guard) (carrier.Adapter, error)

// GuardFactory creates a fresh Guard (and so a fresh breaker) per adapter instance.
type GuardFactory func(key *models.CarrierKey) *resilience.Guard

// DefaultBuilders maps carrierType to the adapter constructors. tokenCache may be nil.
func DefaultBuilders(tokenCache cache.BytesCache) map[string]Builder {
	return map[string]Builder{
		models.CarrierTypeUPS: func(k *models.CarrierKey, g *resilience.Guard) (carrier.Adapter, error) {
			return ups.New(k.CarrierCode, k.CarrierName, k.Config(), g, tokenCache), nil
		},
		models.CarrierTypeFedEx: func(k *models.CarrierKey, g *resilience.Guard) (carrier.Adapter, error) {
			return fedex.New(k.CarrierCode, k.CarrierName, k.Config(), g), nil
		},
		models.CarrierTypeMaersk: func(k *models.CarrierKey, g *resilience.Guard) (carrier.Adapter, error) {
			return maersk.New(k.CarrierCode, k.CarrierName, k.Config(), g, tokenCache), nil
		},
		models.CarrierTypeSandbox: func(k *models.CarrierKey, g *resilience.Guard) (carrier.Adapter, error) {
			return sandbox.New(k.CarrierCode, k.CarrierName, k.Config(), g), nil
		},
	}
}

// DefaultGuardFactory builds a Guard from the key's timeout and rate limit.
func DefaultGuardFactory(base resilience.GuardConfig, opts ...resilience.GuardOption) GuardFactory {
	return func(k *models.CarrierKey) *resilience.Guard {
		cfg := base
		cfg.Carrier = k.CarrierCode
		cfg.Timeout = k.Config().Timeout()
		cfg.RateLimitPerMinute = k.RateLimitPerMinute
		cfg.Breaker.Name = k.CarrierCode
		return resilience.NewGuard(cfg, opts...)
	}
}

// DefaultKeys is the built-in carrier list used when the store is empty or unreachable.
func DefaultKeys() []*models.CarrierKey {
	return []*models.CarrierKey{
		{CarrierCode: "ups", CarrierName: ups.DefaultName, CarrierType: models.CarrierTypeUPS, BaseURL: ups.DefaultBaseURL, IsActive: true},
		{CarrierCode: "fedex", CarrierName: fedex.DefaultName, CarrierType: models.CarrierTypeFedEx, BaseURL: fedex.DefaultBaseURL, IsActive: true},
		{CarrierCode: "maersk", CarrierName: maersk.DefaultName, CarrierType: models.CarrierTypeMaersk, BaseURL: maersk.DefaultBaseURL, IsActive: true},
	}
}

type fallbackRule struct {
	code     string
	patterns []string
}

// fallbackRules are consulted when neither persisted nor adapter patterns match.
var fallbackRules = []fallbackRule{
	{code: "ups", patterns: ups.Patterns},
	{code: "fedex", patterns: fedex.Patterns},
	{code: "maersk", patterns: maersk.Patterns},
}

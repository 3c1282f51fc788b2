package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/CarrierGate/config"
	"github.com/BearBump/CarrierGate/internal/broker/kafka"
	"github.com/BearBump/CarrierGate/internal/cache"
	"github.com/BearBump/CarrierGate/internal/cache/rediscache"
	"github.com/BearBump/CarrierGate/internal/integrations/carrier/registry"
	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/resilience"
	"github.com/BearBump/CarrierGate/internal/services/trackings"
	"github.com/BearBump/CarrierGate/internal/storage/pgtracking"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultUpdatedTopic   = "tracking.updated"
	DefaultRequestedTopic = "tracking.requested"
	defaultLatestTTL      = 10 * time.Minute
	defaultLoadTimeout    = 30 * time.Second
)

// Store: всё, что от pgtracking нужно сервису, реестру и поллеру.
type Store interface {
	trackings.Repository
	registry.CarrierKeyStore
	InsertCarrierKeyIfAbsent(ctx context.Context, k *models.CarrierKey) (bool, error)
	ClaimRefreshCandidates(ctx context.Context, checkedBefore time.Time, limit int) ([]*models.TrackingEvent, error)
	Close()
}

type Components struct {
	Store     Store
	Cache     cache.BytesCache
	Registry  *registry.Registry
	Producer  *kafka.Producer
	Service   *trackings.Service
	Metrics   *resilience.Metrics
	Topics    Topics
	closers   []func()
	redisConn *redis.Client
}

type Topics struct {
	Updated   string
	Requested string
}

func TopicsFrom(cfg *config.Config) Topics {
	t := Topics{Updated: cfg.Kafka.TrackingUpdatedTopicName, Requested: cfg.Kafka.TrackingRequestedTopicName}
	if t.Updated == "" {
		t.Updated = DefaultUpdatedTopic
	}
	if t.Requested == "" {
		t.Requested = DefaultRequestedTopic
	}
	return t
}

type Options struct {
	// OpenStore defaults to pgtracking with retries.
	OpenStore func(ctx context.Context, cfg *config.Config) (Store, error)
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Build собирает зависимости сервиса. Redis и Kafka опциональны: без них нет кэша,
// общего rate limit и публикации tracking.updated.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Components, error) {
	if opts.OpenStore == nil {
		opts.OpenStore = func(ctx context.Context, cfg *config.Config) (Store, error) {
			return OpenPostgresWithRetry(ctx, cfg.Database.ConnString(), 60*time.Second)
		}
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	c := &Components{Topics: TopicsFrom(cfg)}

	st, err := opts.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Store = st
	c.closers = append(c.closers, st.Close)

	var rl resilience.RateLimiter
	var tokenCache cache.BytesCache
	if addr := cfg.Redis.Addr(); addr != "" {
		c.redisConn = redis.NewClient(&redis.Options{Addr: addr})
		rc := rediscache.NewFromClient(c.redisConn)
		c.Cache = rc
		rl = rediscache.NewRateLimiterFromClient(c.redisConn)
		if cfg.CarrierGate.TokenCacheShared() {
			tokenCache = rc
		}
		c.closers = append(c.closers, func() { _ = c.redisConn.Close() })
	}

	seed := cfg.CarrierKeys()
	SeedCarrierKeys(ctx, st, seed)

	c.Metrics = resilience.NewMetrics(opts.Registerer)
	guardOpts := []resilience.GuardOption{resilience.WithMetrics(c.Metrics)}
	if rl != nil {
		guardOpts = append(guardOpts, resilience.WithRateLimiter(rl))
	}
	c.Registry = registry.New(st,
		registry.DefaultBuilders(tokenCache),
		registry.DefaultGuardFactory(cfg.Resilience.GuardConfig(), guardOpts...),
		registry.WithDefaults(seed),
	)

	loadTimeout := time.Duration(cfg.CarrierGate.RegistryLoadTimeoutSecs) * time.Second
	if loadTimeout <= 0 {
		loadTimeout = defaultLoadTimeout
	}
	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	if err := c.Registry.Load(loadCtx); err != nil {
		c.Close()
		return nil, errors.Wrap(err, "load carrier registry")
	}

	var pub trackings.Publisher
	if brokers := cfg.Kafka.Brokers(); len(brokers) > 0 {
		c.Producer = kafka.NewProducer(brokers)
		pub = c.Producer
		c.closers = append(c.closers, func() { _ = c.Producer.Close() })
	}

	latestTTL := time.Duration(cfg.CarrierGate.LatestStatusTTLSeconds) * time.Second
	if latestTTL <= 0 {
		latestTTL = defaultLatestTTL
	}
	c.Service = trackings.New(st, c.Registry, c.Cache, pub, trackings.Config{
		LatestTTL:        latestTTL,
		BatchConcurrency: cfg.CarrierGate.BatchConcurrency,
		MaxBatchSize:     cfg.CarrierGate.MaxBatchSize,
		UpdatedTopic:     c.Topics.Updated,
	})
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// SeedCarrierKeys inserts config carriers missing from carrier_keys. Existing rows are left as
// edited in the DB. Failures are logged, the registry falls back to defaults.
func SeedCarrierKeys(ctx context.Context, st interface {
	InsertCarrierKeyIfAbsent(ctx context.Context, k *models.CarrierKey) (bool, error)
}, keys []*models.CarrierKey) {
	for _, k := range keys {
		inserted, err := st.InsertCarrierKeyIfAbsent(ctx, k)
		if err != nil {
			slog.Warn("seed carrier key", "carrier", k.CarrierCode, "error", err.Error())
			continue
		}
		if inserted {
			slog.Info("carrier key seeded", "carrier", k.CarrierCode)
		}
	}
}

// OpenPostgresWithRetry ждёт, пока Postgres поднимется (docker compose стартует всё параллельно).
func OpenPostgresWithRetry(ctx context.Context, connString string, wait time.Duration) (*pgtracking.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtracking.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
}

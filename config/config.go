package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/BearBump/CarrierGate/internal/resilience"
	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig     `yaml:"database"`
	Kafka       KafkaConfig        `yaml:"kafka"`
	Redis       RedisConfig        `yaml:"redis"`
	CarrierGate CarrierGateConfig  `yaml:"carriergate"`
	Resilience  ResilienceConfig   `yaml:"resilience"`
	Carriers    []CarrierKeyConfig `yaml:"carriers"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                       string `yaml:"host"`
	Port                       int    `yaml:"port"`
	TrackingUpdatedTopicName   string `yaml:"tracking_updated_topic_name"`
	TrackingRequestedTopicName string `yaml:"tracking_requested_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	if k.Host == "" {
		return nil
	}
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type CarrierGateConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	LatestStatusTTLSeconds  int    `yaml:"latest_status_ttl_seconds"`
	BatchConcurrency        int    `yaml:"batch_concurrency"`
	MaxBatchSize            int    `yaml:"max_batch_size"`
	SharedTokenCache        *bool  `yaml:"shared_token_cache"`
	RegistryLoadTimeoutSecs int    `yaml:"registry_load_timeout_seconds"`

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`

	// Worker scheduling (optional). Defaults: refresh after 30 minutes, backoff 5/15/30/60 minutes.
	WorkerRefreshMinAgeSeconds int `yaml:"worker_refresh_min_age_seconds"`
	WorkerRefreshMaxAgeSeconds int `yaml:"worker_refresh_max_age_seconds"`
	WorkerBackoff1Seconds      int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds      int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds      int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds      int `yaml:"worker_backoff_4_seconds"`
}

// TokenCacheShared: OAuth-токены кладутся в Redis, если он настроен. По умолчанию включено.
func (c CarrierGateConfig) TokenCacheShared() bool {
	return c.SharedTokenCache == nil || *c.SharedTokenCache
}

type ResilienceConfig struct {
	ResetTimeoutSeconds      int     `yaml:"reset_timeout_seconds"`
	RollingWindowSeconds     int     `yaml:"rolling_window_seconds"`
	Buckets                  int     `yaml:"buckets"`
	ErrorThresholdPercentage float64 `yaml:"error_threshold_percentage"`
	VolumeThreshold          int     `yaml:"volume_threshold"`
	MaxConcurrent            int64   `yaml:"max_concurrent"`
}

// GuardConfig накладывает заданные поля на дефолты брейкера; carrier-specific поля заполняет реестр.
func (r ResilienceConfig) GuardConfig() resilience.GuardConfig {
	b := resilience.DefaultBreakerConfig("")
	if r.ResetTimeoutSeconds > 0 {
		b.ResetTimeout = time.Duration(r.ResetTimeoutSeconds) * time.Second
	}
	if r.RollingWindowSeconds > 0 {
		b.RollingWindow = time.Duration(r.RollingWindowSeconds) * time.Second
	}
	if r.Buckets > 0 {
		b.Buckets = r.Buckets
	}
	if r.ErrorThresholdPercentage > 0 {
		b.ErrorThresholdPercentage = r.ErrorThresholdPercentage
	}
	if r.VolumeThreshold > 0 {
		b.VolumeThreshold = r.VolumeThreshold
	}
	return resilience.GuardConfig{MaxConcurrent: r.MaxConcurrent, Breaker: b}
}

type CarrierKeyConfig struct {
	Code                  string            `yaml:"code"`
	Name                  string            `yaml:"name"`
	Type                  string            `yaml:"type"`
	APIKey                string            `yaml:"api_key"`
	APISecret             string            `yaml:"api_secret"`
	BaseURL               string            `yaml:"base_url"`
	TimeoutSeconds        int               `yaml:"timeout_seconds"`
	MaxRetries            int               `yaml:"max_retries"`
	RateLimitPerMinute    int               `yaml:"rate_limit_per_minute"`
	TrackingNumberPattern string            `yaml:"tracking_number_pattern"`
	Extra                 map[string]string `yaml:"extra"`
	Active                *bool             `yaml:"active"`
}

// Key maps a seed entry onto a CarrierKey. Type defaults to the code.
func (c CarrierKeyConfig) Key() *models.CarrierKey {
	code := strings.ToLower(strings.TrimSpace(c.Code))
	typ := strings.ToLower(strings.TrimSpace(c.Type))
	if typ == "" {
		typ = code
	}
	return &models.CarrierKey{
		CarrierCode:           code,
		CarrierName:           c.Name,
		CarrierType:           typ,
		APIKey:                c.APIKey,
		APISecret:             c.APISecret,
		BaseURL:               c.BaseURL,
		TimeoutSeconds:        c.TimeoutSeconds,
		MaxRetries:            c.MaxRetries,
		RateLimitPerMinute:    c.RateLimitPerMinute,
		TrackingNumberPattern: c.TrackingNumberPattern,
		Extra:                 c.Extra,
		IsActive:              c.Active == nil || *c.Active,
	}
}

// CarrierKeys returns the seed list; entries without a code are skipped.
func (c *Config) CarrierKeys() []*models.CarrierKey {
	out := make([]*models.CarrierKey, 0, len(c.Carriers))
	for _, ck := range c.Carriers {
		if strings.TrimSpace(ck.Code) == "" {
			continue
		}
		out = append(out, ck.Key())
	}
	return out
}

// LoadConfig читает YAML; ${VAR} в файле подставляются из окружения (ключи API туда не коммитим).
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var config Config
	err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal YAML")
	}

	return &config, nil
}

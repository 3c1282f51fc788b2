package pgtracking

import (
	"context"
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const carrierKeyColumns = `
  id, carrier_code, carrier_name, carrier_type,
  api_key, api_secret, base_url,
  timeout_seconds, max_retries, rate_limit_per_minute,
  extra, tracking_number_pattern, is_active,
  usage_count, last_used_at, expires_at,
  created_at, updated_at`

func scanCarrierKey(row pgx.Row) (*models.CarrierKey, error) {
	var k models.CarrierKey
	var extra map[string]string
	if err := row.Scan(
		&k.ID, &k.CarrierCode, &k.CarrierName, &k.CarrierType,
		&k.APIKey, &k.APISecret, &k.BaseURL,
		&k.TimeoutSeconds, &k.MaxRetries, &k.RateLimitPerMinute,
		&extra, &k.TrackingNumberPattern, &k.IsActive,
		&k.UsageCount, &k.LastUsedAt, &k.ExpiresAt,
		&k.CreatedAt, &k.UpdatedAt,
	); err != nil {
		return nil, err
	}
	k.Extra = extra
	return &k, nil
}

// ListCarrierKeys returns keys in registration (id) order.
func (s *Storage) ListCarrierKeys(ctx context.Context, activeOnly bool) ([]*models.CarrierKey, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+carrierKeyColumns+`
FROM carrier_keys
WHERE ($1 = false OR is_active)
ORDER BY id ASC
`, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, "select carrier keys")
	}
	defer rows.Close()

	var out []*models.CarrierKey
	for rows.Next() {
		k, err := scanCarrierKey(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan carrier key")
		}
		out = append(out, k)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetCarrierKey(ctx context.Context, carrierCode string) (*models.CarrierKey, error) {
	k, err := scanCarrierKey(s.db.QueryRow(ctx, `
SELECT`+carrierKeyColumns+`
FROM carrier_keys
WHERE carrier_code = $1
`, carrierCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "carrier key %s", carrierCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select carrier key")
	}
	return k, nil
}

// UpsertCarrierKey creates or updates the key by carrier_code. Usage counters are left untouched.
func (s *Storage) UpsertCarrierKey(ctx context.Context, k *models.CarrierKey) (*models.CarrierKey, error) {
	extra := k.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	out, err := scanCarrierKey(s.db.QueryRow(ctx, `
INSERT INTO carrier_keys (
  carrier_code, carrier_name, carrier_type,
  api_key, api_secret, base_url,
  timeout_seconds, max_retries, rate_limit_per_minute,
  extra, tracking_number_pattern, is_active, expires_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (carrier_code) DO UPDATE SET
  carrier_name = EXCLUDED.carrier_name,
  carrier_type = EXCLUDED.carrier_type,
  api_key = EXCLUDED.api_key,
  api_secret = EXCLUDED.api_secret,
  base_url = EXCLUDED.base_url,
  timeout_seconds = EXCLUDED.timeout_seconds,
  max_retries = EXCLUDED.max_retries,
  rate_limit_per_minute = EXCLUDED.rate_limit_per_minute,
  extra = EXCLUDED.extra,
  tracking_number_pattern = EXCLUDED.tracking_number_pattern,
  is_active = EXCLUDED.is_active,
  expires_at = EXCLUDED.expires_at,
  updated_at = now()
RETURNING`+carrierKeyColumns,
		k.CarrierCode, k.CarrierName, k.CarrierType,
		k.APIKey, k.APISecret, k.BaseURL,
		k.TimeoutSeconds, k.MaxRetries, k.RateLimitPerMinute,
		extra, k.TrackingNumberPattern, k.IsActive, k.ExpiresAt,
	))
	if err != nil {
		return nil, errors.Wrap(err, "upsert carrier key")
	}
	return out, nil
}

// InsertCarrierKeyIfAbsent добавляет ключ только если carrier_code ещё не занят:
// правки в БД (ротация ключей, is_active) важнее сида из конфига.
func (s *Storage) InsertCarrierKeyIfAbsent(ctx context.Context, k *models.CarrierKey) (bool, error) {
	extra := k.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	tag, err := s.db.Exec(ctx, `
INSERT INTO carrier_keys (
  carrier_code, carrier_name, carrier_type,
  api_key, api_secret, base_url,
  timeout_seconds, max_retries, rate_limit_per_minute,
  extra, tracking_number_pattern, is_active, expires_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (carrier_code) DO NOTHING
`,
		k.CarrierCode, k.CarrierName, k.CarrierType,
		k.APIKey, k.APISecret, k.BaseURL,
		k.TimeoutSeconds, k.MaxRetries, k.RateLimitPerMinute,
		extra, k.TrackingNumberPattern, k.IsActive, k.ExpiresAt,
	)
	if err != nil {
		return false, errors.Wrap(err, "insert carrier key")
	}
	return tag.RowsAffected() == 1, nil
}

// TouchCarrierKey: usage_count+1, last_used_at=now.
func (s *Storage) TouchCarrierKey(ctx context.Context, carrierCode string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE carrier_keys
SET usage_count = usage_count + 1, last_used_at = $2
WHERE carrier_code = $1
`, carrierCode, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "touch carrier key")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "carrier key %s", carrierCode)
	}
	return nil
}

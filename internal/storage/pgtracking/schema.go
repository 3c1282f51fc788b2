package pgtracking

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS carrier_keys (
  id BIGSERIAL PRIMARY KEY,
  carrier_code TEXT NOT NULL UNIQUE,
  carrier_name TEXT NOT NULL DEFAULT '',
  carrier_type TEXT NOT NULL,
  api_key TEXT NOT NULL DEFAULT '',
  api_secret TEXT NOT NULL DEFAULT '',
  base_url TEXT NOT NULL DEFAULT '',
  timeout_seconds INT NOT NULL DEFAULT 10,
  max_retries INT NOT NULL DEFAULT 0,
  rate_limit_per_minute INT NOT NULL DEFAULT 0,
  extra JSONB NOT NULL DEFAULT '{}'::jsonb,
  tracking_number_pattern TEXT NOT NULL DEFAULT '',
  is_active BOOLEAN NOT NULL DEFAULT true,
  usage_count BIGINT NOT NULL DEFAULT 0,
  last_used_at TIMESTAMPTZ NULL,
  expires_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS tracking_events (
  id BIGSERIAL PRIMARY KEY,
  tracking_number TEXT NOT NULL,
  carrier_code TEXT NOT NULL,
  carrier_key_id BIGINT NULL REFERENCES carrier_keys(id) ON DELETE SET NULL,
  status TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  event_timestamp TIMESTAMPTZ NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  latitude DOUBLE PRECISION NULL,
  longitude DOUBLE PRECISION NULL,
  external_event_id TEXT NOT NULL DEFAULT '',
  is_latest BOOLEAN NOT NULL DEFAULT false,
  metadata JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_checked_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_number_carrier ON tracking_events(tracking_number, carrier_code)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_history ON tracking_events(tracking_number, carrier_code, event_timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_latest_checked ON tracking_events(is_latest, last_checked_at)`,
		// Не больше одного latest на (номер, перевозчик).
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_latest ON tracking_events(tracking_number, carrier_code) WHERE is_latest`,
		// Дедупликация повторных сканов.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_dedup ON tracking_events(tracking_number, carrier_code, status, event_timestamp, external_event_id, description)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

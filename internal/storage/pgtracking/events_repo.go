package pgtracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/CarrierGate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const eventColumns = `
  id, tracking_number, carrier_code, carrier_key_id,
  status, description, event_timestamp,
  location, latitude, longitude, external_event_id,
  is_latest, metadata, created_at, last_checked_at`

func scanEvent(row pgx.Row) (*models.TrackingEvent, error) {
	var e models.TrackingEvent
	var metadata map[string]any
	if err := row.Scan(
		&e.ID, &e.TrackingNumber, &e.CarrierCode, &e.CarrierKeyID,
		&e.Status, &e.Description, &e.EventTimestamp,
		&e.Location, &e.Latitude, &e.Longitude, &e.ExternalEventID,
		&e.IsLatest, &metadata, &e.CreatedAt, &e.LastCheckedAt,
	); err != nil {
		return nil, err
	}
	e.Metadata = metadata
	return &e, nil
}

type dedupKey struct {
	status      models.TrackingStatus
	ts          time.Time
	externalID  string
	description string
}

// SaveTrackingResponse stores every event of resp in one transaction and moves the latest flag
// to the newest one. Concurrent writers for the same (number, carrier) are serialized by an
// advisory lock, so exactly one row stays latest. Re-saving the same response is a no-op
// apart from last_checked_at.
func (s *Storage) SaveTrackingResponse(ctx context.Context, resp *models.TrackingResponse, carrierKeyID *uint64) error {
	if resp == nil || len(resp.Events) == 0 {
		return errors.New("nothing to save: response has no events")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockKey := resp.CarrierCode + "|" + resp.TrackingNumber
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return errors.Wrap(err, "advisory lock")
	}

	if _, err := tx.Exec(ctx, `
UPDATE tracking_events
SET is_latest = false
WHERE tracking_number = $1 AND carrier_code = $2 AND is_latest
`, resp.TrackingNumber, resp.CarrierCode); err != nil {
		return errors.Wrap(err, "clear latest")
	}

	now := time.Now().UTC()
	seen := make(map[dedupKey]struct{}, len(resp.Events))
	for i, e := range resp.Events {
		k := dedupKey{e.Status, e.Timestamp.UTC(), e.ExternalEventID, e.Description}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		var lat, lon *float64
		if e.Location != nil {
			lat, lon = e.Location.Latitude, e.Location.Longitude
		}

		_, err := tx.Exec(ctx, `
INSERT INTO tracking_events (
  tracking_number, carrier_code, carrier_key_id,
  status, description, event_timestamp,
  location, latitude, longitude, external_event_id,
  is_latest, metadata, created_at, last_checked_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
ON CONFLICT (tracking_number, carrier_code, status, event_timestamp, external_event_id, description)
DO UPDATE SET
  is_latest = EXCLUDED.is_latest,
  carrier_key_id = COALESCE(EXCLUDED.carrier_key_id, tracking_events.carrier_key_id),
  metadata = COALESCE(EXCLUDED.metadata, tracking_events.metadata),
  last_checked_at = EXCLUDED.last_checked_at
`,
			resp.TrackingNumber, resp.CarrierCode, carrierKeyID,
			e.Status, e.Description, e.Timestamp.UTC(),
			e.Location.String(), lat, lon, e.ExternalEventID,
			i == 0, eventMetadata(resp, e, i == 0), now,
		)
		if err != nil {
			return errors.Wrap(err, "upsert tracking event")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func eventMetadata(resp *models.TrackingResponse, e models.TrackingEventData, latest bool) map[string]any {
	m := map[string]any{}
	if len(e.RawData) > 0 && json.Valid(e.RawData) {
		m["raw"] = e.RawData
	}
	if e.Location != nil && e.Location.PostalCode != "" {
		m["postalCode"] = e.Location.PostalCode
	}
	if latest {
		m["carrierName"] = resp.CarrierName
		m["isDelivered"] = resp.IsDelivered
		if resp.EstimatedDelivery != "" {
			m["estimatedDelivery"] = resp.EstimatedDelivery
		}
		if resp.ActualDelivery != "" {
			m["actualDelivery"] = resp.ActualDelivery
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// ListTrackingHistory returns events newest-first. An empty carrierCode matches any carrier.
func (s *Storage) ListTrackingHistory(ctx context.Context, trackingNumber, carrierCode string, limit, offset int) ([]*models.TrackingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT`+eventColumns+`
FROM tracking_events
WHERE tracking_number = $1
  AND ($2 = '' OR carrier_code = $2)
ORDER BY event_timestamp DESC, id DESC
LIMIT $3 OFFSET $4
`, trackingNumber, carrierCode, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	out := []*models.TrackingEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// GetLatestEvent returns the is_latest row; without carrierCode the most recent across carriers.
func (s *Storage) GetLatestEvent(ctx context.Context, trackingNumber, carrierCode string) (*models.TrackingEvent, error) {
	e, err := scanEvent(s.db.QueryRow(ctx, `
SELECT`+eventColumns+`
FROM tracking_events
WHERE tracking_number = $1
  AND ($2 = '' OR carrier_code = $2)
  AND is_latest
ORDER BY event_timestamp DESC, id DESC
LIMIT 1
`, trackingNumber, carrierCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "latest event for %s", trackingNumber)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest event")
	}
	return e, nil
}

// ClaimRefreshCandidates выбирает latest-события с нетерминальным статусом, которые давно не
// проверялись, и сдвигает им last_checked_at, чтобы параллельный воркер их не взял.
// Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimRefreshCandidates(ctx context.Context, checkedBefore time.Time, limit int) ([]*models.TrackingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	terminal := []string{
		string(models.TrackingStatusDelivered),
		string(models.TrackingStatusReturned),
		string(models.TrackingStatusCancelled),
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+eventColumns+`
FROM tracking_events
WHERE is_latest
  AND last_checked_at <= $1
  AND status <> ALL($2)
ORDER BY last_checked_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, checkedBefore.UTC(), terminal, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select refresh candidates")
	}

	var picked []*models.TrackingEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan refresh candidate")
		}
		picked = append(picked, e)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	if len(picked) > 0 {
		ids := make([]uint64, 0, len(picked))
		for _, e := range picked {
			ids = append(ids, e.ID)
		}
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `UPDATE tracking_events SET last_checked_at = $2 WHERE id = ANY($1)`, ids, now); err != nil {
			return nil, errors.Wrap(err, "lease refresh candidates")
		}
		for _, e := range picked {
			e.LastCheckedAt = now
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// CountLatest reports how many rows of the pair carry the latest flag.
func (s *Storage) CountLatest(ctx context.Context, trackingNumber, carrierCode string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
SELECT count(*) FROM tracking_events
WHERE tracking_number = $1 AND carrier_code = $2 AND is_latest
`, trackingNumber, carrierCode).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count latest %s/%s", carrierCode, trackingNumber)
	}
	return n, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
)

// Monthly event partitions are created lazily and remembered in-process so
// the common insert path pays no extra round trip. The partition ensure is
// idempotent (CREATE TABLE IF NOT EXISTS), so racing workers are harmless.
var ensuredPartitions sync.Map

// partitionName returns the child table name for an occurrence time.
func partitionName(t time.Time) string {
	return fmt.Sprintf("events_%04d_%02d", t.Year(), int(t.Month()))
}

// EnsureEventPartition creates the monthly partition covering t.
func (s *Store) EnsureEventPartition(ctx context.Context, t time.Time) error {
	name := partitionName(t)
	if _, ok := ensuredPartitions.Load(name); ok {
		return nil
	}
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF events FOR VALUES FROM ('%s') TO ('%s')`,
		name, from.Format("2006-01-02"), to.Format("2006-01-02")))
	if err != nil {
		return translateErr(err, "event partition")
	}
	ensuredPartitions.Store(name, struct{}{})
	return nil
}

// HasEventWithCorrelation reports whether this lead already has an event
// with the given correlation id within the last 24 hours. This is the
// idempotency check: replays inside the window are skipped.
func (s *Store) HasEventWithCorrelation(ctx context.Context, leadID uuid.UUID, correlationID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE lead_id = $1 AND correlation_id = $2
			  AND occurred_at > NOW() - INTERVAL '24 hours'
		)
	`, leadID, correlationID).Scan(&exists)
	if err != nil {
		return false, translateErr(err, "event dedup")
	}
	return exists, nil
}

// InsertEvent appends an event to its monthly partition. Events are
// immutable after insert; only the processing annotations are written later.
func (s *Store) InsertEvent(ctx context.Context, e *domain.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := s.EnsureEventPartition(ctx, e.OccurredAt); err != nil {
		return err
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events
			(id, lead_id, event_type, event_category, source, occurred_at,
			 metadata, correlation_id, campaign_id,
			 utm_source, utm_medium, utm_campaign, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
	`, e.ID, e.LeadID, e.EventType, e.EventCategory, e.Source, e.OccurredAt,
		meta, e.CorrelationID, e.CampaignID,
		e.UTMSource, e.UTMMedium, e.UTMCampaign)
	return translateErr(err, "event")
}

// MarkEventProcessed writes the post-processing annotations.
func (s *Store) MarkEventProcessed(ctx context.Context, id uuid.UUID, occurredAt time.Time, points int, category string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET score_points = $3, score_category = $4, processed_at = NOW()
		WHERE id = $1 AND occurred_at = $2
	`, id, occurredAt, points, category)
	return translateErr(err, "event annotations")
}

// RecentEvents returns a lead's newest events, for the admin projection.
func (s *Store) RecentEvents(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, event_type, event_category, source, occurred_at,
		       metadata, correlation_id, campaign_id,
		       utm_source, utm_medium, utm_campaign,
		       score_points, COALESCE(score_category, ''), processed_at, created_at
		FROM events
		WHERE lead_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, leadID, limit)
	if err != nil {
		return nil, translateErr(err, "events")
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var meta []byte
		if err := rows.Scan(&e.ID, &e.LeadID, &e.EventType, &e.EventCategory, &e.Source,
			&e.OccurredAt, &meta, &e.CorrelationID, &e.CampaignID,
			&e.UTMSource, &e.UTMMedium, &e.UTMCampaign,
			&e.ScorePoints, &e.ScoreCategory, &e.ProcessedAt, &e.CreatedAt); err != nil {
			return nil, translateErr(err, "events")
		}
		if len(meta) > 0 {
			json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

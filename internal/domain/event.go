package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record of one observed interaction. Events are
// range-partitioned by occurrence month and never mutated after insert;
// reprocessing produces new score-history rows, not modified events.
type Event struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	LeadID        uuid.UUID      `json:"lead_id" db:"lead_id"`
	EventType     string         `json:"event_type" db:"event_type"`
	EventCategory string         `json:"event_category" db:"event_category"`
	Source        string         `json:"source" db:"source"`
	OccurredAt    time.Time      `json:"occurred_at" db:"occurred_at"`
	Metadata      map[string]any `json:"metadata" db:"metadata"`
	CorrelationID *string        `json:"correlation_id" db:"correlation_id"`
	CampaignID    *string        `json:"campaign_id" db:"campaign_id"`

	UTMSource   string `json:"utm_source" db:"utm_source"`
	UTMMedium   string `json:"utm_medium" db:"utm_medium"`
	UTMCampaign string `json:"utm_campaign" db:"utm_campaign"`

	// Post-processing annotations written by the event worker.
	ScorePoints   int        `json:"score_points" db:"score_points"`
	ScoreCategory string     `json:"score_category" db:"score_category"`
	ProcessedAt   *time.Time `json:"processed_at" db:"processed_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IngestEvent is the wire shape accepted by the ingestion endpoint.
type IngestEvent struct {
	EventType      string         `json:"event_type"`
	Source         string         `json:"source"`
	OccurredAt     time.Time      `json:"occurred_at"`
	LeadIdentifier LeadIdentifier `json:"lead_identifier"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	CampaignID     string         `json:"campaign_id,omitempty"`
	UTMSource      string         `json:"utm_source,omitempty"`
	UTMMedium      string         `json:"utm_medium,omitempty"`
	UTMCampaign    string         `json:"utm_campaign,omitempty"`
}

// Validate checks the required ingest fields.
func (e *IngestEvent) Validate() []string {
	var problems []string
	if e.EventType == "" {
		problems = append(problems, "event_type is required")
	}
	if e.Source == "" {
		problems = append(problems, "source is required")
	}
	if e.OccurredAt.IsZero() {
		problems = append(problems, "occurred_at is required")
	}
	if e.LeadIdentifier.Empty() {
		problems = append(problems, "lead_identifier must contain at least one identifier")
	}
	return problems
}

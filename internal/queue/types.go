package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue names. Five durable queues back the pipeline; each is consumed by
// its own worker pool with configured concurrency.
const (
	QueueEvents        = "events"
	QueueRouting       = "routing"
	QueueSync          = "sync"
	QueueScheduled     = "scheduled"
	QueueNotifications = "notifications"
)

// Job types carried on the queues.
const (
	JobEventProcess    = "event_process"
	JobRoutingEvaluate = "routing_evaluate"
	JobMocoSync        = "moco_sync"
	JobNotification    = "notification"
	JobScoreDecay      = "score_decay"
	JobDailyDigest     = "daily_digest"
	JobTimeInStage     = "time_in_stage_sweep"
	JobGDPRSweep       = "gdpr_sweep"
	JobPartitionEnsure = "partition_ensure"
)

// Job is the envelope persisted on a queue.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	BatchID     string          `json:"batch_id,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// NewJob builds a job with a fresh id and the default retry budget.
func NewJob(jobType string, payload any) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: 3,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// EventJobPayload is the payload of an event_process job. The raw ingest
// body travels on the queue; durability is deferred to the event worker.
type EventJobPayload struct {
	EventID       uuid.UUID       `json:"event_id"`
	Body          json.RawMessage `json:"body"`
	Source        string          `json:"source"`
	ReceivedAt    time.Time       `json:"received_at"`
	ImportBatchID string          `json:"import_batch_id,omitempty"`
}

// RoutingJobPayload is the payload of a routing_evaluate job. Jobs for the
// same lead are coalesced via the dedup key "route:{lead_id}".
type RoutingJobPayload struct {
	LeadID       uuid.UUID `json:"lead_id"`
	Trigger      string    `json:"trigger"`
	ForcedIntent string    `json:"forced_intent,omitempty"`
	ForcedSlug   string    `json:"forced_pipeline_slug,omitempty"`
}

// RoutingDedupID returns the coalescing job id for a lead's routing jobs.
func RoutingDedupID(leadID uuid.UUID) string {
	return "route:" + leadID.String()
}

// SyncJobPayload is the payload of a moco_sync job.
type SyncJobPayload struct {
	Action string    `json:"action"` // create_customer | create_offer | create_invoice
	LeadID uuid.UUID `json:"lead_id"`
	DealID uuid.UUID `json:"deal_id,omitempty"`
}

// NotificationJobPayload is the payload of a notification job.
type NotificationJobPayload struct {
	Kind    string         `json:"kind"` // hot_lead | routing_conflict | assignment_needed | digest | template
	Channel string         `json:"channel,omitempty"`
	LeadID  uuid.UUID      `json:"lead_id,omitempty"`
	Text    string         `json:"text,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

package worker

import (
	"context"
	"encoding/json"

	"github.com/genomiq/lead-engine/internal/automation"
	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/identity"
	"github.com/genomiq/lead-engine/internal/intent"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/queue"
	"github.com/genomiq/lead-engine/internal/scoring"
	"github.com/genomiq/lead-engine/internal/store"
)

// EventWorker runs the full processing path for one ingested event:
// resolve the lead, persist the event, score it, classify intent, fire
// automations and schedule a routing evaluation.
type EventWorker struct {
	store       *store.Store
	resolver    *identity.Resolver
	scorer      *scoring.Engine
	intents     *intent.Detector
	automations *automation.Engine
	enq         *Enqueuer
}

// NewEventWorker wires the event processing path.
func NewEventWorker(st *store.Store, resolver *identity.Resolver, scorer *scoring.Engine,
	intents *intent.Detector, automations *automation.Engine, enq *Enqueuer) *EventWorker {
	return &EventWorker{
		store:       st,
		resolver:    resolver,
		scorer:      scorer,
		intents:     intents,
		automations: automations,
		enq:         enq,
	}
}

// Handle processes one event_process job.
func (w *EventWorker) Handle(ctx context.Context, job *queue.Job) error {
	var p queue.EventJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "decode event job")
	}

	var in domain.IngestEvent
	if err := json.Unmarshal(p.Body, &in); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "decode ingest body")
	}
	if problems := in.Validate(); len(problems) != 0 {
		return apperr.New(apperr.CodeValidation, "invalid event").WithDetails(problems)
	}

	lead, created, err := w.resolver.Resolve(ctx, in.LeadIdentifier, in.Source, in.UTMCampaign, in.OccurredAt)
	if err != nil {
		return err
	}

	// Correlation replay guard: the same correlation id for the same lead
	// within the dedup window is dropped without side effects.
	if in.CorrelationID != "" {
		seen, err := w.store.HasEventWithCorrelation(ctx, lead.ID, in.CorrelationID)
		if err != nil {
			return err
		}
		if seen {
			logger.Info("duplicate_skipped",
				"lead_id", lead.ID.String(), "correlation_id", in.CorrelationID, "event_type", in.EventType)
			return nil
		}
	}

	if err := w.store.EnsureEventPartition(ctx, in.OccurredAt); err != nil {
		return err
	}

	ev := &domain.Event{
		ID:          p.EventID,
		LeadID:      lead.ID,
		EventType:   in.EventType,
		Source:      in.Source,
		OccurredAt:  in.OccurredAt,
		Metadata:    in.Metadata,
		UTMSource:   in.UTMSource,
		UTMMedium:   in.UTMMedium,
		UTMCampaign: in.UTMCampaign,
	}
	if in.CorrelationID != "" {
		ev.CorrelationID = &in.CorrelationID
	}
	if in.CampaignID != "" {
		ev.CampaignID = &in.CampaignID
	}
	if err := w.store.InsertEvent(ctx, ev); err != nil {
		// A replayed event id means this job already ran to the insert;
		// the remainder of the path is idempotent, so continue.
		if apperr.CodeOf(err) != apperr.CodeConflict {
			return err
		}
	}

	if !created {
		if err := w.store.UpdateAttribution(ctx, lead.ID, in.Source, in.UTMCampaign, in.OccurredAt); err != nil {
			return err
		}
	}

	scoreRes, err := w.scorer.ProcessEvent(ctx, ev, lead)
	if err != nil {
		return err
	}
	intentRes, err := w.intents.ProcessEvent(ctx, ev, lead)
	if err != nil {
		return err
	}

	snap := automation.Snapshot{
		PreTotal:   scoreRes.PreTotal,
		PostTotal:  scoreRes.NewTotal,
		Intent:     intentRes.Calc.Primary,
		Confidence: intentRes.Calc.Confidence,
	}
	if _, err := w.automations.ProcessEvent(ctx, ev, lead, snap); err != nil {
		logger.Warn("automation pass failed", "event_id", ev.ID.String(), "error", err.Error())
	}

	if err := w.enq.EnqueueRouting(ctx, queue.RoutingJobPayload{
		LeadID:  lead.ID,
		Trigger: "event:" + in.EventType,
	}); err != nil {
		return err
	}

	if scoreRes.TierCrossed == domain.TierHot || scoreRes.TierCrossed == domain.TierVeryHot {
		if err := w.enq.Notify(ctx, queue.NotificationJobPayload{
			Kind:   "hot_lead",
			LeadID: lead.ID,
			Data:   map[string]any{"tier": string(scoreRes.TierCrossed)},
		}); err != nil {
			logger.Warn("hot lead notification enqueue failed", "lead_id", lead.ID.String(), "error", err.Error())
		}
	}

	if err := w.store.SetLastActivity(ctx, lead.ID, in.OccurredAt); err != nil {
		return err
	}
	if err := w.store.MarkEventProcessed(ctx, ev.ID, ev.OccurredAt, scoreRes.PointsAdded, string(scoreRes.DominantCategory)); err != nil {
		return err
	}

	logger.Info("event processed",
		"event_id", ev.ID.String(), "lead_id", lead.ID.String(), "type", in.EventType,
		"points", scoreRes.PointsAdded, "total", scoreRes.NewTotal, "lead_created", created)
	return nil
}

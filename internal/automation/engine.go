// Package automation evaluates rule triggers against processed events and
// executes their bounded actions. Rules load once and reload on a TTL or
// an explicit invalidation; score-threshold and intent triggers guard
// against re-firing through the automation_logs idempotency ledger.
package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/queue"
	"github.com/genomiq/lead-engine/internal/rules"
	"github.com/genomiq/lead-engine/internal/store"
)

// Store is the slice of the persistence layer the engine needs.
type Store interface {
	ActiveAutomationRules(ctx context.Context) ([]domain.AutomationRule, error)
	LogAutomationExecution(ctx context.Context, l *domain.AutomationLog) (bool, error)
	MarkAutomationExecuted(ctx context.Context, ruleID uuid.UUID) error

	DealForLead(ctx context.Context, leadID, pipelineID uuid.UUID) (*domain.Deal, error)
	StageBySlug(ctx context.Context, pipelineID uuid.UUID, slug string) (*domain.PipelineStage, error)
	MoveDealStage(ctx context.Context, dealID, stageID uuid.UUID) error
	PickAssignee(ctx context.Context, role domain.TeamRole, region string) (*domain.TeamMember, error)
	IncrementAssigneeLoad(ctx context.Context, memberID uuid.UUID, now time.Time) error
	CreateTask(ctx context.Context, t *domain.Task) error
	UpdateLeadField(ctx context.Context, id uuid.UUID, field, value string) error
	DealsInStageLongerThan(ctx context.Context, stageSlug string, days int) ([]store.StaleDeal, error)
	GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
}

// Enqueuer produces the follow-up jobs automation actions emit.
type Enqueuer interface {
	Notify(ctx context.Context, p queue.NotificationJobPayload) error
	EnqueueRouting(ctx context.Context, p queue.RoutingJobPayload) error
	EnqueueSync(ctx context.Context, p queue.SyncJobPayload) error
}

// Snapshot carries the pre/post state the event worker observed, so
// score-threshold triggers can detect an upward crossing within this
// processing cycle.
type Snapshot struct {
	PreTotal   int
	PostTotal  int
	Intent     *domain.Intent
	Confidence int
}

// Engine evaluates automation rules.
type Engine struct {
	store   Store
	enqueue Enqueuer
	cache   *rules.Cache[domain.AutomationRule]
	clock   func() time.Time
}

// NewEngine builds the automation engine with a rule cache of the given TTL.
func NewEngine(st Store, enq Enqueuer, cacheTTL time.Duration) *Engine {
	return &Engine{
		store:   st,
		enqueue: enq,
		cache:   rules.NewCache(cacheTTL, st.ActiveAutomationRules),
		clock:   time.Now,
	}
}

// SetClock overrides time for tests.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

// InvalidateCache drops the rule snapshot.
func (e *Engine) InvalidateCache() { e.cache.Invalidate() }

// ProcessEvent runs the event-path triggers (event, score_threshold,
// intent_detected) for one processed event. Actions execute serially per
// rule; one failing rule does not stop the rest.
func (e *Engine) ProcessEvent(ctx context.Context, ev *domain.Event, lead *domain.Lead, snap Snapshot) (int, error) {
	ruleset, err := e.cache.Get(ctx)
	if err != nil {
		return 0, err
	}

	executed := 0
	for i := range ruleset {
		rule := &ruleset[i]
		fired, key := e.triggerFires(rule, ev, snap)
		if !fired {
			continue
		}

		// The idempotency row is claimed before execution: a concurrent
		// worker that loses the insert skips the rule.
		first, err := e.store.LogAutomationExecution(ctx, &domain.AutomationLog{
			RuleID:       rule.ID,
			LeadID:       lead.ID,
			ThresholdKey: key,
			TriggerData:  map[string]any{"event_type": ev.EventType, "pre_total": snap.PreTotal, "post_total": snap.PostTotal},
			Success:      true,
		})
		if err != nil {
			logger.Warn("automation: log write failed", "rule", rule.Slug, "error", err.Error())
			continue
		}
		if !first {
			continue
		}

		if err := e.execute(ctx, rule, lead, ev); err != nil {
			logger.Error("automation: action failed",
				"rule", rule.Slug, "action", string(rule.Action), "lead_id", lead.ID.String(), "error", err.Error())
			continue
		}
		if err := e.store.MarkAutomationExecuted(ctx, rule.ID); err != nil {
			logger.Warn("automation: counter update failed", "rule", rule.Slug, "error", err.Error())
		}
		executed++
	}
	return executed, nil
}

// triggerFires decides whether the rule's trigger matches this processing
// cycle and returns the idempotency key scoping re-fire protection.
func (e *Engine) triggerFires(rule *domain.AutomationRule, ev *domain.Event, snap Snapshot) (bool, string) {
	switch rule.Trigger {
	case domain.TriggerEvent:
		cond := domain.RuleConditions{
			EventType: rule.TriggerConfig.EventType,
			Metadata:  rule.TriggerConfig.Metadata,
		}
		// Each matching event fires once; the event id scopes the key.
		return rules.MatchEvent(cond, ev), "event:" + ev.ID.String()

	case domain.TriggerScoreThreshold:
		th := rule.TriggerConfig.Threshold
		crossed := snap.PreTotal < th && snap.PostTotal >= th
		return crossed, fmt.Sprintf("threshold:%d", th)

	case domain.TriggerIntentDetected:
		if snap.Intent == nil || *snap.Intent != rule.TriggerConfig.Intent {
			return false, ""
		}
		if snap.Confidence < rule.TriggerConfig.ConfidenceGTE {
			return false, ""
		}
		// Fires once per (rule, lead): the key carries no variant.
		return true, "intent:" + string(rule.TriggerConfig.Intent)

	default:
		// time_in_stage is evaluated by the daily sweep, not the event path.
		return false, ""
	}
}

// SweepTimeInStage runs the daily time-in-stage pass: for every rule with
// that trigger, find open deals sitting in the configured stage for longer
// than the configured days and execute the action once per deal.
func (e *Engine) SweepTimeInStage(ctx context.Context) (int, error) {
	ruleset, err := e.cache.Get(ctx)
	if err != nil {
		return 0, err
	}

	executed := 0
	for i := range ruleset {
		rule := &ruleset[i]
		if rule.Trigger != domain.TriggerTimeInStage {
			continue
		}
		stale, err := e.store.DealsInStageLongerThan(ctx, rule.TriggerConfig.StageSlug, rule.TriggerConfig.Days)
		if err != nil {
			logger.Warn("automation: stale deal scan failed", "rule", rule.Slug, "error", err.Error())
			continue
		}
		for _, sd := range stale {
			key := fmt.Sprintf("stage:%s:%s", rule.TriggerConfig.StageSlug, sd.Deal.ID)
			first, err := e.store.LogAutomationExecution(ctx, &domain.AutomationLog{
				RuleID:       rule.ID,
				LeadID:       sd.Deal.LeadID,
				ThresholdKey: key,
				TriggerData:  map[string]any{"stage": sd.StageSlug, "days_in": sd.DaysIn},
				Success:      true,
			})
			if err != nil || !first {
				continue
			}
			lead, err := e.store.GetLead(ctx, sd.Deal.LeadID)
			if err != nil {
				continue
			}
			if err := e.execute(ctx, rule, lead, nil); err != nil {
				logger.Error("automation: sweep action failed", "rule", rule.Slug, "deal_id", sd.Deal.ID.String(), "error", err.Error())
				continue
			}
			e.store.MarkAutomationExecuted(ctx, rule.ID)
			executed++
		}
	}
	return executed, nil
}

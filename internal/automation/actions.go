package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/queue"
)

// execute dispatches one rule's action. The event may be nil on the daily
// sweep path.
func (e *Engine) execute(ctx context.Context, rule *domain.AutomationRule, lead *domain.Lead, ev *domain.Event) error {
	cfg := rule.ActionConfig
	switch rule.Action {
	case domain.ActionMoveToStage:
		return e.moveToStage(ctx, cfg, lead)
	case domain.ActionAssignOwner:
		return e.assignOwner(ctx, cfg, lead)
	case domain.ActionSendNotification:
		return e.sendNotification(ctx, cfg, lead)
	case domain.ActionCreateTask:
		return e.createTask(ctx, rule, cfg, lead)
	case domain.ActionSyncMoco:
		return e.syncMoco(ctx, cfg, lead)
	case domain.ActionUpdateField:
		return e.store.UpdateLeadField(ctx, lead.ID, cfg.Field, cfg.Value)
	case domain.ActionRouteToPipeline:
		return e.enqueue.EnqueueRouting(ctx, queue.RoutingJobPayload{
			LeadID:     lead.ID,
			Trigger:    "automation:" + rule.Slug,
			ForcedSlug: cfg.PipelineSlug,
		})
	default:
		return apperr.New(apperr.CodeValidation, "unknown automation action %q", rule.Action)
	}
}

// moveToStage moves the lead's deal to the named stage within its own
// pipeline and resets the stage clock.
func (e *Engine) moveToStage(ctx context.Context, cfg domain.ActionConfig, lead *domain.Lead) error {
	if lead.PipelineID == nil {
		return apperr.New(apperr.CodeNotFound, "lead %s has no pipeline", lead.ID)
	}
	deal, err := e.store.DealForLead(ctx, lead.ID, *lead.PipelineID)
	if err != nil {
		return err
	}
	stage, err := e.store.StageBySlug(ctx, *lead.PipelineID, cfg.StageSlug)
	if err != nil {
		return err
	}
	return e.store.MoveDealStage(ctx, deal.ID, stage.ID)
}

// assignOwner mirrors routing's assignment with a direct role/strategy
// config. The capacity guard applies here too.
func (e *Engine) assignOwner(ctx context.Context, cfg domain.ActionConfig, lead *domain.Lead) error {
	member, err := e.store.PickAssignee(ctx, cfg.Role, cfg.Region)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return e.enqueue.Notify(ctx, queue.NotificationJobPayload{
				Kind:   "assignment_needed",
				LeadID: lead.ID,
			})
		}
		return err
	}
	return e.store.IncrementAssigneeLoad(ctx, member.ID, e.clock())
}

func (e *Engine) sendNotification(ctx context.Context, cfg domain.ActionConfig, lead *domain.Lead) error {
	deal := e.dealFor(ctx, lead)
	return e.enqueue.Notify(ctx, queue.NotificationJobPayload{
		Kind:    "template",
		Channel: cfg.Channel,
		LeadID:  lead.ID,
		Text:    Interpolate(cfg.Template, lead, deal),
	})
}

func (e *Engine) createTask(ctx context.Context, rule *domain.AutomationRule, cfg domain.ActionConfig, lead *domain.Lead) error {
	deal := e.dealFor(ctx, lead)
	due := e.clock().Add(time.Duration(cfg.DueDays) * 24 * time.Hour)
	task := &domain.Task{
		LeadID:       &lead.ID,
		Title:        Interpolate(cfg.TaskTitle, lead, deal),
		TaskType:     cfg.TaskType,
		DueDate:      &due,
		SourceRuleID: &rule.ID,
	}
	if deal != nil {
		task.DealID = &deal.ID
		task.AssignedTo = deal.AssignedTo
	}
	return e.store.CreateTask(ctx, task)
}

func (e *Engine) syncMoco(ctx context.Context, cfg domain.ActionConfig, lead *domain.Lead) error {
	p := queue.SyncJobPayload{Action: cfg.MocoAction, LeadID: lead.ID}
	if deal := e.dealFor(ctx, lead); deal != nil {
		p.DealID = deal.ID
	}
	return e.enqueue.EnqueueSync(ctx, p)
}

// dealFor fetches the lead's deal when routed, nil otherwise.
func (e *Engine) dealFor(ctx context.Context, lead *domain.Lead) *domain.Deal {
	if lead.PipelineID == nil {
		return nil
	}
	deal, err := e.store.DealForLead(ctx, lead.ID, *lead.PipelineID)
	if err != nil {
		return nil
	}
	return deal
}

// Interpolate replaces {lead.*} and {deal.*} placeholders in a template.
// Unknown placeholders are left intact so a typo is visible in the output
// rather than silently dropped.
func Interpolate(template string, lead *domain.Lead, deal *domain.Deal) string {
	if template == "" {
		return ""
	}
	pairs := []string{}
	if lead != nil {
		intent := ""
		if lead.PrimaryIntent != nil {
			intent = string(*lead.PrimaryIntent)
		}
		pairs = append(pairs,
			"{lead.first_name}", lead.FirstName,
			"{lead.last_name}", lead.LastName,
			"{lead.email}", lead.Email,
			"{lead.job_title}", lead.JobTitle,
			"{lead.total_score}", fmt.Sprint(lead.TotalScore),
			"{lead.primary_intent}", intent,
			"{lead.intent_confidence}", fmt.Sprint(lead.IntentConfidence),
			"{lead.status}", string(lead.Status),
			"{lead.lifecycle_stage}", string(lead.LifecycleStage),
		)
	}
	if deal != nil {
		value := ""
		if deal.Value != nil {
			value = fmt.Sprintf("%.2f", *deal.Value)
		}
		pairs = append(pairs,
			"{deal.name}", deal.Name,
			"{deal.value}", value,
			"{deal.currency}", deal.Currency,
			"{deal.status}", string(deal.Status),
		)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

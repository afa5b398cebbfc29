package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/queue"
	"github.com/genomiq/lead-engine/internal/slackbot"
	"github.com/genomiq/lead-engine/internal/store"
)

// NotificationWorker renders queued notifications through the chat
// notifier. Delivery failures are retryable; an unknown kind is not.
type NotificationWorker struct {
	store *store.Store
	slack *slackbot.Notifier
}

// NewNotificationWorker wires the notification path.
func NewNotificationWorker(st *store.Store, slack *slackbot.Notifier) *NotificationWorker {
	return &NotificationWorker{store: st, slack: slack}
}

// Handle processes one notification job.
func (w *NotificationWorker) Handle(ctx context.Context, job *queue.Job) error {
	var p queue.NotificationJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "decode notification job")
	}

	var lead *domain.Lead
	if p.LeadID != uuid.Nil {
		var err error
		lead, err = w.store.GetLead(ctx, p.LeadID)
		if err != nil {
			// The lead may have been anonymized between enqueue and
			// delivery; drop the notification rather than retry forever.
			if apperr.CodeOf(err) == apperr.CodeNotFound {
				logger.Warn("notification dropped, lead gone", "lead_id", p.LeadID.String(), "kind", p.Kind)
				return nil
			}
			return err
		}
	}

	switch p.Kind {
	case "hot_lead":
		return w.slack.HotLead(ctx, lead, dataString(p.Data, "pipeline"), dataString(p.Data, "assigned_to"))

	case "routing_conflict":
		summary := map[domain.Intent]int{}
		for k, v := range p.Data {
			if f, ok := v.(float64); ok {
				summary[domain.Intent(k)] = int(f)
			}
		}
		return w.slack.RoutingConflict(ctx, lead, summary)

	case "assignment_needed":
		return w.slack.AssignmentNeeded(ctx, lead, dataString(p.Data, "pipeline"))

	case "routed_unassigned":
		text := p.Text
		if text == "" && lead != nil {
			text = fmt.Sprintf("%s %s routed to %s without an owner",
				lead.FirstName, lead.LastName, dataString(p.Data, "pipeline"))
		}
		return w.slack.Text(ctx, "", text)

	case "stuck_in_pool":
		return w.slack.StuckInPool(ctx, lead, p.Text)

	case "digest":
		stats, err := w.store.CollectDigestStats(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			return err
		}
		return w.slack.Digest(ctx, stats)

	case "template":
		return w.slack.Text(ctx, p.Channel, p.Text)

	default:
		return apperr.New(apperr.CodeValidation, "unknown notification kind %q", p.Kind)
	}
}

func dataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

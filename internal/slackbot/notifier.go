// Package slackbot renders and delivers the chat notifications the
// pipeline emits: hot leads, routing conflicts, assignment requests and
// the daily digest. Messages are Block Kit payloads posted to an incoming
// webhook.
package slackbot

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/genomiq/lead-engine/internal/config"
	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/store"
)

// poster is the outbound call, swappable in tests.
type poster func(ctx context.Context, url string, msg *slack.WebhookMessage) error

// Notifier posts Block Kit messages to the configured channels. When
// Slack is disabled every send is a logged no-op, so the pipeline never
// depends on chat availability.
type Notifier struct {
	cfg  config.SlackConfig
	post poster
}

// NewNotifier builds a notifier from the Slack config.
func NewNotifier(cfg config.SlackConfig) *Notifier {
	return &Notifier{cfg: cfg, post: slack.PostWebhookContext}
}

// send delivers one message, routing through the enabled flag.
func (n *Notifier) send(ctx context.Context, channel string, msg *slack.WebhookMessage) error {
	if !n.cfg.Enabled || n.cfg.WebhookURL == "" {
		logger.Debug("slack disabled, dropping notification", "channel", channel)
		return nil
	}
	msg.Channel = channel
	return n.post(ctx, n.cfg.WebhookURL, msg)
}

// HotLead announces a newly hot or routed lead on #hot-leads: name,
// email, score, intent, confidence and job title, with a lead-detail
// button and a secondary call-now button.
func (n *Notifier) HotLead(ctx context.Context, lead *domain.Lead, pipeline, assignedTo string) error {
	intent := "unknown"
	if lead.PrimaryIntent != nil {
		intent = string(*lead.PrimaryIntent)
	}

	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
		fmt.Sprintf(":fire: Hot lead: %s %s", lead.FirstName, lead.LastName), true, false))
	fields := []*slack.TextBlockObject{
		mrkdwn("*Email:* %s", lead.Email),
		mrkdwn("*Score:* %d", lead.TotalScore),
		mrkdwn("*Intent:* %s (%d%% confidence)", intent, lead.IntentConfidence),
		mrkdwn("*Job title:* %s", orDash(lead.JobTitle)),
	}
	if pipeline != "" {
		fields = append(fields, mrkdwn("*Pipeline:* %s", pipeline))
	}
	if assignedTo != "" {
		fields = append(fields, mrkdwn("*Assigned to:* %s", assignedTo))
	}

	actions := slack.NewActionBlock("hot_lead_actions",
		button("view_lead", "View lead", "lead:"+lead.ID.String(), slack.StylePrimary),
		button("call_now", "Call now", "call:"+lead.ID.String(), slack.StyleDefault),
	)

	return n.send(ctx, n.cfg.HotLeadsChannel, &slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			header,
			slack.NewSectionBlock(nil, fields, nil),
			actions,
		}},
	})
}

// RoutingConflict asks a human to pick the pipeline when the top two
// intents sit within the margin. The three buttons carry
// route:<lead_id>:<intent> actions handled by the admin surface.
func (n *Notifier) RoutingConflict(ctx context.Context, lead *domain.Lead, summary map[domain.Intent]int) error {
	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
		":warning: Routing conflict", true, false))
	body := slack.NewSectionBlock(
		mrkdwn("*%s %s* (%s) has competing intents:\n• research: %d\n• b2b: %d\n• co_creation: %d",
			lead.FirstName, lead.LastName, lead.Email,
			summary[domain.IntentResearch], summary[domain.IntentB2B], summary[domain.IntentCoCreation]),
		nil, nil)

	var buttons []slack.BlockElement
	for _, intent := range domain.AllIntents {
		buttons = append(buttons, button(
			"route_"+string(intent),
			"Route to "+string(intent),
			fmt.Sprintf("route:%s:%s", lead.ID, intent),
			slack.StyleDefault))
	}
	actions := slack.NewActionBlock("routing_conflict_actions", buttons...)

	return n.send(ctx, n.cfg.RoutingChannel, &slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: []slack.Block{header, body, actions}},
	})
}

// AssignmentNeeded flags a routed lead without an owner.
func (n *Notifier) AssignmentNeeded(ctx context.Context, lead *domain.Lead, pipeline string) error {
	return n.send(ctx, n.cfg.RoutingChannel, &slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(
				mrkdwn(":bust_in_silhouette: *%s %s* (%s) was routed to *%s* and needs an owner.",
					lead.FirstName, lead.LastName, lead.Email, pipeline),
				nil, nil),
			slack.NewActionBlock("assignment_actions",
				button("assign_lead", "Assign", "assign:"+lead.ID.String(), slack.StylePrimary)),
		}},
	})
}

// StuckInPool notifies the marketing manager channel about a lead parked
// into discovery after two weeks in the Global Pool.
func (n *Notifier) StuckInPool(ctx context.Context, lead *domain.Lead, text string) error {
	return n.send(ctx, n.cfg.RoutingChannel, &slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(mrkdwn(":hourglass: %s", text), nil, nil),
			slack.NewActionBlock("stuck_actions",
				button("view_lead", "View lead", "lead:"+lead.ID.String(), slack.StylePrimary)),
		}},
	})
}

// Digest posts the daily summary to the marketing channel.
func (n *Notifier) Digest(ctx context.Context, stats *store.DigestStats) error {
	sources := ""
	for i, sc := range stats.TopSources {
		sources += fmt.Sprintf("\n%d. %s (%d)", i+1, sc.Source, sc.Count)
	}
	if sources == "" {
		sources = "\nno events in the last 24h"
	}

	return n.send(ctx, n.cfg.DigestChannel, &slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, ":newspaper: Daily lead digest", true, false)),
			slack.NewSectionBlock(nil, []*slack.TextBlockObject{
				mrkdwn("*New leads:* %d", stats.NewLeads),
				mrkdwn("*Hot leads:* %d", stats.HotLeads),
				mrkdwn("*Deals created:* %d", stats.DealsCreated),
				mrkdwn("*Deals won:* %d", stats.DealsWon),
				mrkdwn("*Open pipeline:* %.2f EUR", stats.OpenPipelineValue),
			}, nil),
			slack.NewSectionBlock(mrkdwn("*Top sources:*%s", sources), nil, nil),
		}},
	})
}

// Text posts a plain interpolated message, used by automation's
// send_notification action.
func (n *Notifier) Text(ctx context.Context, channel, text string) error {
	if channel == "" {
		channel = n.cfg.RoutingChannel
	}
	return n.send(ctx, channel, &slack.WebhookMessage{Text: text})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func mrkdwn(format string, args ...any) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf(format, args...), false, false)
}

func button(actionID, label, value string, style slack.Style) *slack.ButtonBlockElement {
	b := slack.NewButtonBlockElement(actionID, value,
		slack.NewTextBlockObject(slack.PlainTextType, label, false, false))
	if style != slack.StyleDefault {
		b.WithStyle(style)
	}
	return b
}

package slackbot

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genomiq/lead-engine/internal/config"
	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/store"
)

type sentMessage struct {
	url string
	msg *slack.WebhookMessage
}

func testNotifier() (*Notifier, *[]sentMessage) {
	n := NewNotifier(config.SlackConfig{
		Enabled:         true,
		WebhookURL:      "https://hooks.slack.example/T000/B000/xyz",
		HotLeadsChannel: "#hot-leads",
		RoutingChannel:  "#lead-routing",
		DigestChannel:   "#marketing",
	})
	var sent []sentMessage
	n.post = func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
		sent = append(sent, sentMessage{url: url, msg: msg})
		return nil
	}
	return n, &sent
}

func blockTexts(msg *slack.WebhookMessage) string {
	out := ""
	for _, b := range msg.Blocks.BlockSet {
		switch blk := b.(type) {
		case *slack.HeaderBlock:
			out += blk.Text.Text + "\n"
		case *slack.SectionBlock:
			if blk.Text != nil {
				out += blk.Text.Text + "\n"
			}
			for _, f := range blk.Fields {
				out += f.Text + "\n"
			}
		}
	}
	return out
}

func hotLead() *domain.Lead {
	intent := domain.IntentResearch
	return &domain.Lead{
		ID:               uuid.New(),
		Email:            "ada@lab.example",
		FirstName:        "Ada",
		LastName:         "Nkemelu",
		JobTitle:         "Senior Scientist",
		TotalScore:       92,
		PrimaryIntent:    &intent,
		IntentConfidence: 85,
	}
}

func TestHotLead_RendersFieldsAndActions(t *testing.T) {
	n, sent := testNotifier()
	lead := hotLead()

	require.NoError(t, n.HotLead(context.Background(), lead, "research-lab", "Priya"))
	require.Len(t, *sent, 1)

	m := (*sent)[0]
	assert.Equal(t, "#hot-leads", m.msg.Channel)

	text := blockTexts(m.msg)
	assert.Contains(t, text, "Hot lead: Ada Nkemelu")
	assert.Contains(t, text, "*Score:* 92")
	assert.Contains(t, text, "research (85% confidence)")
	assert.Contains(t, text, "*Pipeline:* research-lab")
	assert.Contains(t, text, "*Assigned to:* Priya")

	var actions *slack.ActionBlock
	for _, b := range m.msg.Blocks.BlockSet {
		if a, ok := b.(*slack.ActionBlock); ok {
			actions = a
		}
	}
	require.NotNil(t, actions)
	require.Len(t, actions.Elements.ElementSet, 2)
	btn := actions.Elements.ElementSet[0].(*slack.ButtonBlockElement)
	assert.Equal(t, "lead:"+lead.ID.String(), btn.Value)
}

func TestRoutingConflict_OneButtonPerIntent(t *testing.T) {
	n, sent := testNotifier()
	lead := hotLead()

	err := n.RoutingConflict(context.Background(), lead, map[domain.Intent]int{
		domain.IntentResearch: 25,
		domain.IntentB2B:      20,
	})
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	m := (*sent)[0]
	assert.Equal(t, "#lead-routing", m.msg.Channel)
	assert.Contains(t, blockTexts(m.msg), "research: 25")

	var actions *slack.ActionBlock
	for _, b := range m.msg.Blocks.BlockSet {
		if a, ok := b.(*slack.ActionBlock); ok {
			actions = a
		}
	}
	require.NotNil(t, actions)
	require.Len(t, actions.Elements.ElementSet, len(domain.AllIntents))

	values := map[string]bool{}
	for _, el := range actions.Elements.ElementSet {
		values[el.(*slack.ButtonBlockElement).Value] = true
	}
	for _, intent := range domain.AllIntents {
		assert.True(t, values[fmt.Sprintf("route:%s:%s", lead.ID, intent)], string(intent))
	}
}

func TestDigest_RendersStats(t *testing.T) {
	n, sent := testNotifier()

	err := n.Digest(context.Background(), &store.DigestStats{
		NewLeads:          12,
		HotLeads:          3,
		DealsCreated:      2,
		DealsWon:          1,
		OpenPipelineValue: 18400,
		TopSources:        []store.SourceCount{{Source: "portal", Count: 40}, {Source: "lemlist", Count: 11}},
	})
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	text := blockTexts((*sent)[0].msg)
	assert.Contains(t, text, "*New leads:* 12")
	assert.Contains(t, text, "*Open pipeline:* 18400.00 EUR")
	assert.Contains(t, text, "1. portal (40)")
	assert.Equal(t, "#marketing", (*sent)[0].msg.Channel)
}

func TestDigest_NoEvents(t *testing.T) {
	n, sent := testNotifier()
	require.NoError(t, n.Digest(context.Background(), &store.DigestStats{}))
	assert.Contains(t, blockTexts((*sent)[0].msg), "no events in the last 24h")
}

func TestSend_DisabledIsNoOp(t *testing.T) {
	n := NewNotifier(config.SlackConfig{Enabled: false})
	posted := false
	n.post = func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
		posted = true
		return nil
	}

	require.NoError(t, n.HotLead(context.Background(), hotLead(), "", ""))
	require.NoError(t, n.Text(context.Background(), "", "hello"))
	assert.False(t, posted)
}

func TestText_DefaultsToRoutingChannel(t *testing.T) {
	n, sent := testNotifier()
	require.NoError(t, n.Text(context.Background(), "", "Ada reached MQL"))
	require.Len(t, *sent, 1)
	assert.Equal(t, "#lead-routing", (*sent)[0].msg.Channel)
	assert.Equal(t, "Ada reached MQL", (*sent)[0].msg.Text)
}

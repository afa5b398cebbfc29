package intent

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genomiq/lead-engine/internal/domain"
)

func intentOf(s string) *domain.Intent {
	i := domain.Intent(s)
	return &i
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name           string
		summary        map[domain.Intent]int
		wantPrimary    *domain.Intent
		wantConfidence int
		wantConflict   bool
		wantRoutable   bool
	}{
		{
			name:    "no signals",
			summary: map[domain.Intent]int{},
		},
		{
			name:           "single dominant intent",
			summary:        map[domain.Intent]int{domain.IntentResearch: 40},
			wantPrimary:    intentOf("research"),
			wantConfidence: 100, // 100% share, dominance bonus capped
			wantRoutable:   true,
		},
		{
			name:           "dominance bonus applies above margin",
			summary:        map[domain.Intent]int{domain.IntentResearch: 30, domain.IntentB2B: 10},
			wantPrimary:    intentOf("research"),
			wantConfidence: 85, // round(30*100/40)=75 +10 bonus
			wantRoutable:   true,
		},
		{
			name:           "gap exactly at margin earns the bonus",
			summary:        map[domain.Intent]int{domain.IntentResearch: 25, domain.IntentB2B: 10},
			wantPrimary:    intentOf("research"),
			wantConfidence: 81, // round(25*100/35)=71 +10
			wantRoutable:   true,
		},
		{
			name:           "gap below margin flags conflict",
			summary:        map[domain.Intent]int{domain.IntentResearch: 25, domain.IntentB2B: 15},
			wantPrimary:    intentOf("research"),
			wantConfidence: 63, // round(25*100/40)=63, no bonus
			wantConflict:   true,
			wantRoutable:   false, // confidence clears the gate but conflict blocks
		},
		{
			name:           "low volume penalty",
			summary:        map[domain.Intent]int{domain.IntentB2B: 20},
			wantPrimary:    intentOf("b2b"),
			wantConfidence: 80, // 100 +10 capped at 100, then -20
			wantRoutable:   true,
		},
		{
			name:           "low volume split clamps at zero",
			summary:        map[domain.Intent]int{domain.IntentResearch: 5, domain.IntentB2B: 5},
			wantPrimary:    intentOf("b2b"), // lexicographic tiebreak
			wantConfidence: 30,              // 50 -20 penalty
			wantConflict:   true,
		},
		{
			name:           "confidence below sixty is not routable",
			summary:        map[domain.Intent]int{domain.IntentResearch: 20, domain.IntentB2B: 18, domain.IntentCoCreation: 2},
			wantPrimary:    intentOf("research"),
			wantConfidence: 50,
			wantConflict:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := Calculate(tt.summary)
			if tt.wantPrimary == nil {
				assert.Nil(t, calc.Primary)
			} else {
				require.NotNil(t, calc.Primary)
				assert.Equal(t, *tt.wantPrimary, *calc.Primary)
			}
			assert.Equal(t, tt.wantConfidence, calc.Confidence, "confidence")
			assert.Equal(t, tt.wantConflict, calc.Conflict, "conflict")
			assert.Equal(t, tt.wantRoutable, calc.Routable, "routable")
		})
	}
}

func TestCalculate_DeterministicTiebreak(t *testing.T) {
	summary := map[domain.Intent]int{
		domain.IntentResearch:   50,
		domain.IntentCoCreation: 50,
	}
	for i := 0; i < 20; i++ {
		calc := Calculate(summary)
		require.NotNil(t, calc.Primary)
		assert.Equal(t, domain.IntentCoCreation, *calc.Primary)
		require.NotNil(t, calc.Secondary)
		assert.Equal(t, domain.IntentResearch, *calc.Secondary)
	}
}

type fakeIntentStore struct {
	rules   []domain.IntentRule
	signals []*domain.IntentSignal
	summary map[domain.Intent]int

	updatedPrimary    *domain.Intent
	updatedConfidence int
}

func (f *fakeIntentStore) ActiveIntentRules(ctx context.Context) ([]domain.IntentRule, error) {
	return f.rules, nil
}

func (f *fakeIntentStore) InsertIntentSignal(ctx context.Context, sig *domain.IntentSignal) error {
	f.signals = append(f.signals, sig)
	f.summary[sig.Intent] += sig.ConfidencePoints
	return nil
}

func (f *fakeIntentStore) IntentSummary(ctx context.Context, leadID uuid.UUID) (map[domain.Intent]int, error) {
	return f.summary, nil
}

func (f *fakeIntentStore) UpdateLeadIntent(ctx context.Context, id uuid.UUID, primary *domain.Intent, confidence int, summary map[domain.Intent]int) error {
	f.updatedPrimary = primary
	f.updatedConfidence = confidence
	return nil
}

func (f *fakeIntentStore) GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	return &domain.Organization{ID: id, CompanySize: "51-200"}, nil
}

func TestProcessEvent_InsertsSignalsAndUpdatesLead(t *testing.T) {
	st := &fakeIntentStore{
		rules: []domain.IntentRule{
			{
				ID:               uuid.New(),
				Slug:             "research-sample-quote",
				Intent:           domain.IntentResearch,
				TriggerType:      domain.IntentTriggerEvent,
				Conditions:       domain.RuleConditions{EventType: "quote_request"},
				ConfidencePoints: 30,
			},
			{
				ID:               uuid.New(),
				Slug:             "b2b-demo",
				Intent:           domain.IntentB2B,
				TriggerType:      domain.IntentTriggerEvent,
				Conditions:       domain.RuleConditions{EventType: "demo_request"},
				ConfidencePoints: 30,
			},
		},
		summary: map[domain.Intent]int{},
	}
	d := NewDetector(st, time.Minute)

	lead := &domain.Lead{ID: uuid.New()}
	ev := &domain.Event{ID: uuid.New(), EventType: "quote_request", OccurredAt: time.Now()}

	res, err := d.ProcessEvent(context.Background(), ev, lead)
	require.NoError(t, err)

	assert.Equal(t, []string{"research-sample-quote"}, res.SignalsAdded)
	require.Len(t, st.signals, 1)
	assert.Equal(t, domain.IntentResearch, st.signals[0].Intent)
	require.NotNil(t, st.signals[0].EventID)
	assert.Equal(t, ev.ID, *st.signals[0].EventID)

	require.NotNil(t, res.Calc.Primary)
	assert.Equal(t, domain.IntentResearch, *res.Calc.Primary)
	require.NotNil(t, st.updatedPrimary)
	assert.Equal(t, domain.IntentResearch, *st.updatedPrimary)
	assert.Equal(t, res.Calc.Confidence, st.updatedConfidence)

	// The lead carries the fresh summary forward for the same cycle.
	assert.Equal(t, res.Calc.Confidence, lead.IntentConfidence)
	assert.Equal(t, 30, lead.IntentSummary[domain.IntentResearch])
}

func TestProcessEvent_OrgFieldRule(t *testing.T) {
	orgID := uuid.New()
	st := &fakeIntentStore{
		rules: []domain.IntentRule{
			{
				ID:               uuid.New(),
				Slug:             "b2b-lab-size",
				Intent:           domain.IntentB2B,
				TriggerType:      domain.IntentTriggerOrgField,
				Conditions:       domain.RuleConditions{Field: "organization.company_size", Operator: "in", Value: []any{"51-200", "201-500"}},
				ConfidencePoints: 15,
			},
		},
		summary: map[domain.Intent]int{},
	}
	d := NewDetector(st, time.Minute)

	lead := &domain.Lead{ID: uuid.New(), OrganizationID: &orgID}
	ev := &domain.Event{ID: uuid.New(), EventType: "page_view", OccurredAt: time.Now()}

	res, err := d.ProcessEvent(context.Background(), ev, lead)
	require.NoError(t, err)
	assert.Equal(t, []string{"b2b-lab-size"}, res.SignalsAdded)
}

func TestRecalculate_ReadsLedgerWithoutInserting(t *testing.T) {
	st := &fakeIntentStore{
		summary: map[domain.Intent]int{domain.IntentCoCreation: 50},
	}
	d := NewDetector(st, time.Minute)

	calc, err := d.Recalculate(context.Background(), uuid.New())
	require.NoError(t, err)
	require.NotNil(t, calc.Primary)
	assert.Equal(t, domain.IntentCoCreation, *calc.Primary)
	assert.Empty(t, st.signals)
}

package automation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/queue"
	"github.com/genomiq/lead-engine/internal/store"
)

var errNotFound = apperr.New(apperr.CodeNotFound, "not found")

type fakeAutomationStore struct {
	rules  []domain.AutomationRule
	logs   []*domain.AutomationLog
	logged map[string]bool // rule_id|lead_id|key

	tasks       []*domain.Task
	fieldWrites [][2]string
	marked      []uuid.UUID
	stale       []store.StaleDeal
	leads       map[uuid.UUID]*domain.Lead
}

func newFakeAutomationStore(rules ...domain.AutomationRule) *fakeAutomationStore {
	return &fakeAutomationStore{
		rules:  rules,
		logged: map[string]bool{},
		leads:  map[uuid.UUID]*domain.Lead{},
	}
}

func (f *fakeAutomationStore) ActiveAutomationRules(ctx context.Context) ([]domain.AutomationRule, error) {
	return f.rules, nil
}

func (f *fakeAutomationStore) LogAutomationExecution(ctx context.Context, l *domain.AutomationLog) (bool, error) {
	key := l.RuleID.String() + "|" + l.LeadID.String() + "|" + l.ThresholdKey
	if f.logged[key] {
		return false, nil
	}
	f.logged[key] = true
	f.logs = append(f.logs, l)
	return true, nil
}

func (f *fakeAutomationStore) MarkAutomationExecuted(ctx context.Context, ruleID uuid.UUID) error {
	f.marked = append(f.marked, ruleID)
	return nil
}

func (f *fakeAutomationStore) DealForLead(ctx context.Context, leadID, pipelineID uuid.UUID) (*domain.Deal, error) {
	return nil, errNotFound
}

func (f *fakeAutomationStore) StageBySlug(ctx context.Context, pipelineID uuid.UUID, slug string) (*domain.PipelineStage, error) {
	return nil, errNotFound
}

func (f *fakeAutomationStore) MoveDealStage(ctx context.Context, dealID, stageID uuid.UUID) error {
	return nil
}

func (f *fakeAutomationStore) PickAssignee(ctx context.Context, role domain.TeamRole, region string) (*domain.TeamMember, error) {
	return nil, errNotFound
}

func (f *fakeAutomationStore) IncrementAssigneeLoad(ctx context.Context, memberID uuid.UUID, now time.Time) error {
	return nil
}

func (f *fakeAutomationStore) CreateTask(ctx context.Context, t *domain.Task) error {
	f.tasks = append(f.tasks, t)
	return nil
}

func (f *fakeAutomationStore) UpdateLeadField(ctx context.Context, id uuid.UUID, field, value string) error {
	f.fieldWrites = append(f.fieldWrites, [2]string{field, value})
	return nil
}

func (f *fakeAutomationStore) DealsInStageLongerThan(ctx context.Context, stageSlug string, days int) ([]store.StaleDeal, error) {
	return f.stale, nil
}

func (f *fakeAutomationStore) GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	if l, ok := f.leads[id]; ok {
		return l, nil
	}
	return nil, errNotFound
}

type fakeEnqueuer struct {
	notifications []queue.NotificationJobPayload
	routings      []queue.RoutingJobPayload
	syncs         []queue.SyncJobPayload
}

func (f *fakeEnqueuer) Notify(ctx context.Context, p queue.NotificationJobPayload) error {
	f.notifications = append(f.notifications, p)
	return nil
}

func (f *fakeEnqueuer) EnqueueRouting(ctx context.Context, p queue.RoutingJobPayload) error {
	f.routings = append(f.routings, p)
	return nil
}

func (f *fakeEnqueuer) EnqueueSync(ctx context.Context, p queue.SyncJobPayload) error {
	f.syncs = append(f.syncs, p)
	return nil
}

func thresholdRule(threshold int) domain.AutomationRule {
	return domain.AutomationRule{
		ID:            uuid.New(),
		Slug:          "hot-lead-task",
		Name:          "Create call task at hot",
		Trigger:       domain.TriggerScoreThreshold,
		TriggerConfig: domain.TriggerConfig{Threshold: threshold},
		Action:        domain.ActionCreateTask,
		ActionConfig: domain.ActionConfig{
			TaskTitle: "Call {lead.first_name} {lead.last_name} ({lead.total_score} points)",
			TaskType:  "call",
			DueDays:   1,
		},
		IsActive: true,
	}
}

func TestProcessEvent_ThresholdFiresOnUpwardCrossing(t *testing.T) {
	st := newFakeAutomationStore(thresholdRule(80))
	enq := &fakeEnqueuer{}
	e := NewEngine(st, enq, time.Minute)

	lead := &domain.Lead{ID: uuid.New(), FirstName: "Ada", LastName: "Nkemelu", TotalScore: 85}
	ev := &domain.Event{ID: uuid.New(), EventType: "demo_request"}

	n, err := e.ProcessEvent(context.Background(), ev, lead, Snapshot{PreTotal: 75, PostTotal: 85})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, st.tasks, 1)
	assert.Equal(t, "Call Ada Nkemelu (85 points)", st.tasks[0].Title)
	assert.Equal(t, "call", st.tasks[0].TaskType)
	require.Len(t, st.logs, 1)
	assert.Equal(t, "threshold:80", st.logs[0].ThresholdKey)
}

func TestProcessEvent_ThresholdNeverRefires(t *testing.T) {
	st := newFakeAutomationStore(thresholdRule(80))
	enq := &fakeEnqueuer{}
	e := NewEngine(st, enq, time.Minute)

	lead := &domain.Lead{ID: uuid.New(), TotalScore: 85}
	ev := &domain.Event{ID: uuid.New()}

	n, err := e.ProcessEvent(context.Background(), ev, lead, Snapshot{PreTotal: 75, PostTotal: 85})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Second crossing of the same threshold (after decay dipped the score)
	// is suppressed by the idempotency ledger.
	n, err = e.ProcessEvent(context.Background(), ev, lead, Snapshot{PreTotal: 70, PostTotal: 90})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, st.tasks, 1)
}

func TestProcessEvent_ThresholdNotCrossedDoesNotFire(t *testing.T) {
	st := newFakeAutomationStore(thresholdRule(80))
	e := NewEngine(st, &fakeEnqueuer{}, time.Minute)

	lead := &domain.Lead{ID: uuid.New(), TotalScore: 90}
	ev := &domain.Event{ID: uuid.New()}

	// Already above the threshold before this event: no crossing.
	n, err := e.ProcessEvent(context.Background(), ev, lead, Snapshot{PreTotal: 85, PostTotal: 90})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProcessEvent_IntentTriggerRequiresConfidence(t *testing.T) {
	rule := domain.AutomationRule{
		ID:            uuid.New(),
		Slug:          "b2b-moco-customer",
		Trigger:       domain.TriggerIntentDetected,
		TriggerConfig: domain.TriggerConfig{Intent: domain.IntentB2B, ConfidenceGTE: 60},
		Action:        domain.ActionSyncMoco,
		ActionConfig:  domain.ActionConfig{MocoAction: "create_customer"},
		IsActive:      true,
	}
	st := newFakeAutomationStore(rule)
	enq := &fakeEnqueuer{}
	e := NewEngine(st, enq, time.Minute)

	lead := &domain.Lead{ID: uuid.New()}
	ev := &domain.Event{ID: uuid.New()}
	b2b := domain.IntentB2B

	n, err := e.ProcessEvent(context.Background(), ev, lead, Snapshot{Intent: &b2b, Confidence: 55})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = e.ProcessEvent(context.Background(), ev, lead, Snapshot{Intent: &b2b, Confidence: 70})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, enq.syncs, 1)
	assert.Equal(t, "create_customer", enq.syncs[0].Action)
	assert.Equal(t, "intent:b2b", st.logs[0].ThresholdKey)
}

func TestProcessEvent_EventTriggerScopedPerEvent(t *testing.T) {
	rule := domain.AutomationRule{
		ID:            uuid.New(),
		Slug:          "demo-routing",
		Trigger:       domain.TriggerEvent,
		TriggerConfig: domain.TriggerConfig{EventType: "demo_request"},
		Action:        domain.ActionRouteToPipeline,
		ActionConfig:  domain.ActionConfig{PipelineSlug: "b2b-lab-enablement"},
		IsActive:      true,
	}
	st := newFakeAutomationStore(rule)
	enq := &fakeEnqueuer{}
	e := NewEngine(st, enq, time.Minute)

	lead := &domain.Lead{ID: uuid.New()}

	// Two distinct events both fire; a replay of the first does not.
	ev1 := &domain.Event{ID: uuid.New(), EventType: "demo_request"}
	ev2 := &domain.Event{ID: uuid.New(), EventType: "demo_request"}

	n, _ := e.ProcessEvent(context.Background(), ev1, lead, Snapshot{})
	assert.Equal(t, 1, n)
	n, _ = e.ProcessEvent(context.Background(), ev2, lead, Snapshot{})
	assert.Equal(t, 1, n)
	n, _ = e.ProcessEvent(context.Background(), ev1, lead, Snapshot{})
	assert.Equal(t, 0, n)

	require.Len(t, enq.routings, 2)
	assert.Equal(t, "automation:demo-routing", enq.routings[0].Trigger)
	assert.Equal(t, "b2b-lab-enablement", enq.routings[0].ForcedSlug)
}

func TestSweepTimeInStage_FiresOncePerDeal(t *testing.T) {
	rule := domain.AutomationRule{
		ID:            uuid.New(),
		Slug:          "stale-quote-task",
		Trigger:       domain.TriggerTimeInStage,
		TriggerConfig: domain.TriggerConfig{StageSlug: "quote-sent", Days: 7},
		Action:        domain.ActionCreateTask,
		ActionConfig:  domain.ActionConfig{TaskTitle: "Follow up on quote for {lead.email}", TaskType: "follow_up", DueDays: 2},
		IsActive:      true,
	}
	st := newFakeAutomationStore(rule)
	lead := &domain.Lead{ID: uuid.New(), Email: "ada@sequencing-lab.example"}
	st.leads[lead.ID] = lead
	st.stale = []store.StaleDeal{{
		Deal:      domain.Deal{ID: uuid.New(), LeadID: lead.ID},
		StageSlug: "quote-sent",
		DaysIn:    9,
	}}
	e := NewEngine(st, &fakeEnqueuer{}, time.Minute)

	n, err := e.SweepTimeInStage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, st.tasks, 1)
	assert.Equal(t, "Follow up on quote for ada@sequencing-lab.example", st.tasks[0].Title)

	// Tomorrow's sweep sees the same deal still stuck; the key suppresses it.
	n, err = e.SweepTimeInStage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInterpolate(t *testing.T) {
	intent := domain.IntentResearch
	lead := &domain.Lead{
		FirstName: "Ada", LastName: "Nkemelu", Email: "ada@lab.example",
		TotalScore: 92, PrimaryIntent: &intent, LifecycleStage: domain.StageSQL,
	}
	value := 4200.0
	deal := &domain.Deal{Name: "Ada Nkemelu — Research Lab", Value: &value, Currency: "EUR", Status: domain.DealOpen}

	out := Interpolate("{lead.first_name} ({lead.total_score}, {lead.primary_intent}) on {deal.name} worth {deal.value} {deal.currency}", lead, deal)
	assert.Equal(t, "Ada (92, research) on Ada Nkemelu — Research Lab worth 4200.00 EUR", out)

	// Unknown placeholders survive so typos are visible.
	assert.Equal(t, "{lead.shoe_size}", Interpolate("{lead.shoe_size}", lead, nil))
	assert.Equal(t, "", Interpolate("", lead, deal))
}

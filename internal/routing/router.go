// Package routing implements the single decision point that moves a lead
// out of the Global Pool into a pipeline. Routing is safe to re-run: the
// already-routed guard short-circuits re-entry, the deal upsert prevents
// duplicates, and the owner increment happens only when a new deal is
// actually created.
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/queue"
	"github.com/genomiq/lead-engine/internal/store"
)

// Decision actions.
const (
	ActionRoute        = "route"
	ActionSkip         = "skip"
	ActionWait         = "wait"
	ActionManualReview = "manual_review"
)

// Decision reasons.
const (
	ReasonAlreadyRouted          = "already_routed"
	ReasonDeletionRequested      = "deletion_requested"
	ReasonScoreBelowThreshold    = "score_below_threshold"
	ReasonIntentConflict         = "intent_conflict"
	ReasonStuckInPool            = "stuck_in_pool"
	ReasonInsufficientConfidence = "insufficient_confidence"
	ReasonIntentMatch            = "intent_match"
	ReasonManualOverride         = "manual_override"
)

// Store is the slice of the persistence layer the router needs.
type Store interface {
	GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	PipelineBySlug(ctx context.Context, slug string) (*domain.Pipeline, error)
	FirstStage(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineStage, error)
	ExecuteRouting(ctx context.Context, p store.RouteParams) (*store.RouteResult, error)
	PickAssignee(ctx context.Context, role domain.TeamRole, region string) (*domain.TeamMember, error)
	GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, error)
}

// IntentReader supplies a fresh intent calculation from the signal ledger.
type IntentReader interface {
	Recalculate(ctx context.Context, leadID uuid.UUID) (domain.IntentCalculation, error)
}

// Notifier enqueues chat notifications produced by routing decisions.
type Notifier interface {
	Notify(ctx context.Context, p queue.NotificationJobPayload) error
}

// Decision is the outcome of one routing evaluation.
type Decision struct {
	Action     string      `json:"action"`
	Reason     string      `json:"reason"`
	PipelineID *uuid.UUID  `json:"pipeline_id,omitempty"`
	DealID     *uuid.UUID  `json:"deal_id,omitempty"`
	AssignedTo *uuid.UUID  `json:"assigned_to,omitempty"`
	Intent     *domain.Intent `json:"intent,omitempty"`
}

// Options carries the manual-route overrides. A forced intent or pipeline
// bypasses the score and confidence gates but never the already-routed
// guard.
type Options struct {
	ForcedIntent   domain.Intent
	ForcedPipeline string
}

// Config holds the router gates.
type Config struct {
	MinScore        int
	MinConfidence   int
	StuckInPoolDays int
}

// AssignmentPolicy decides who owns a routed lead.
type AssignmentPolicy struct {
	Strategy    string // round_robin | capacity_based | manual | notify_only
	Role        domain.TeamRole
	RegionAware bool
}

// DefaultAssignment maps each intent to its owner policy. capacity_based
// currently selects like round_robin over current_leads (active load).
var DefaultAssignment = map[domain.Intent]AssignmentPolicy{
	domain.IntentResearch:   {Strategy: "round_robin", Role: domain.RoleBDR},
	domain.IntentB2B:        {Strategy: "round_robin", Role: domain.RoleAE, RegionAware: true},
	domain.IntentCoCreation: {Strategy: "capacity_based", Role: domain.RolePartnershipManager},
}

// Router evaluates and routes leads.
type Router struct {
	store      Store
	intents    IntentReader
	notifier   Notifier
	cfg        Config
	assignment map[domain.Intent]AssignmentPolicy
	clock      func() time.Time
}

// NewRouter builds the router.
func NewRouter(st Store, intents IntentReader, notifier Notifier, cfg Config) *Router {
	if cfg.MinScore == 0 {
		cfg.MinScore = domain.TierWarmThreshold
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 60
	}
	if cfg.StuckInPoolDays == 0 {
		cfg.StuckInPoolDays = 14
	}
	return &Router{
		store:      st,
		intents:    intents,
		notifier:   notifier,
		cfg:        cfg,
		assignment: DefaultAssignment,
		clock:      time.Now,
	}
}

// SetClock overrides time for tests.
func (r *Router) SetClock(clock func() time.Time) { r.clock = clock }

// EvaluateAndRoute runs the decision sequence for one lead, stopping at
// the first matching clause.
func (r *Router) EvaluateAndRoute(ctx context.Context, leadID uuid.UUID, opts Options) (*Decision, error) {
	lead, err := r.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}

	if lead.PipelineID != nil {
		return &Decision{Action: ActionSkip, Reason: ReasonAlreadyRouted, PipelineID: lead.PipelineID}, nil
	}
	if !lead.Routable() {
		return &Decision{Action: ActionSkip, Reason: ReasonDeletionRequested}, nil
	}

	// Manual override path: forced pipeline or intent bypasses the gates.
	if opts.ForcedPipeline != "" {
		return r.route(ctx, lead, opts.ForcedPipeline, intentPtr(opts.ForcedIntent), ReasonManualOverride)
	}
	if opts.ForcedIntent != "" {
		slug, ok := domain.IntentPipelineSlug(opts.ForcedIntent)
		if !ok {
			return nil, apperr.New(apperr.CodeValidation, "unknown intent %q", opts.ForcedIntent)
		}
		return r.route(ctx, lead, slug, intentPtr(opts.ForcedIntent), ReasonManualOverride)
	}

	if lead.TotalScore < r.cfg.MinScore {
		return &Decision{Action: ActionWait, Reason: ReasonScoreBelowThreshold}, nil
	}

	calc, err := r.intents.Recalculate(ctx, leadID)
	if err != nil {
		return nil, err
	}

	if calc.Routable && calc.Primary != nil {
		slug, ok := domain.IntentPipelineSlug(*calc.Primary)
		if !ok {
			return nil, apperr.New(apperr.CodeInvariantViolation, "no pipeline for intent %q", *calc.Primary)
		}
		return r.route(ctx, lead, slug, calc.Primary, ReasonIntentMatch)
	}

	if calc.Conflict {
		if err := r.notifyConflict(ctx, lead, calc); err != nil {
			logger.Warn("routing: conflict notification failed", "lead_id", lead.ID.String(), "error", err.Error())
		}
		return &Decision{Action: ActionManualReview, Reason: ReasonIntentConflict}, nil
	}

	if r.clock().Sub(lead.CreatedAt) > time.Duration(r.cfg.StuckInPoolDays)*24*time.Hour {
		dec, err := r.route(ctx, lead, domain.PipelineDiscovery, nil, ReasonStuckInPool)
		if err != nil {
			return nil, err
		}
		dec.Action = ActionManualReview
		dec.Reason = ReasonStuckInPool
		if err := r.notifier.Notify(ctx, queue.NotificationJobPayload{
			Kind:   "stuck_in_pool",
			LeadID: lead.ID,
			Text:   fmt.Sprintf("%s has been in the pool for over %d days and was moved to discovery", leadName(lead), r.cfg.StuckInPoolDays),
		}); err != nil {
			logger.Warn("routing: stuck notification failed", "lead_id", lead.ID.String(), "error", err.Error())
		}
		return dec, nil
	}

	return &Decision{Action: ActionWait, Reason: ReasonInsufficientConfidence}, nil
}

// route performs the routing side effects: resolve the pipeline and first
// stage, upsert the deal, mark the lead routed and assign an owner.
func (r *Router) route(ctx context.Context, lead *domain.Lead, pipelineSlug string, intent *domain.Intent, reason string) (*Decision, error) {
	pipeline, err := r.store.PipelineBySlug(ctx, pipelineSlug)
	if err != nil {
		return nil, err
	}
	stage, err := r.store.FirstStage(ctx, pipeline.ID)
	if err != nil {
		return nil, err
	}

	policy, assignee, err := r.pickOwner(ctx, lead, intent)
	if err != nil {
		return nil, err
	}

	params := store.RouteParams{
		Lead:       lead,
		PipelineID: pipeline.ID,
		StageID:    stage.ID,
		DealName:   fmt.Sprintf("%s — %s", leadName(lead), pipeline.Name),
		Now:        r.clock(),
	}
	if assignee != nil {
		params.AssigneeID = &assignee.ID
		params.Region = assignee.Region
	}

	res, err := r.store.ExecuteRouting(ctx, params)
	if err == store.ErrAssigneeFull && assignee != nil {
		// The member filled up between selection and the conditional
		// increment; pick again once with the fresh counts.
		assignee, err = r.store.PickAssignee(ctx, policy.Role, r.regionFor(ctx, policy, lead))
		if err != nil {
			return nil, err
		}
		params.AssigneeID = &assignee.ID
		params.Region = assignee.Region
		res, err = r.store.ExecuteRouting(ctx, params)
	}
	if err != nil {
		return nil, err
	}

	dec := &Decision{
		Action:     ActionRoute,
		Reason:     reason,
		PipelineID: &pipeline.ID,
		DealID:     &res.DealID,
		Intent:     intent,
	}
	if assignee != nil && res.DealCreated {
		dec.AssignedTo = &assignee.ID
	}

	r.notifyRouted(ctx, lead, pipeline, policy, assignee, res.DealCreated)
	logger.Info("routing: lead routed",
		"lead_id", lead.ID.String(), "pipeline", pipeline.Slug,
		"deal_created", fmt.Sprint(res.DealCreated), "reason", reason)
	return dec, nil
}

// pickOwner resolves the assignment policy for the intent and selects a
// member for the strategies that assign. manual and notify_only return a
// nil assignee.
func (r *Router) pickOwner(ctx context.Context, lead *domain.Lead, intent *domain.Intent) (AssignmentPolicy, *domain.TeamMember, error) {
	if intent == nil {
		return AssignmentPolicy{Strategy: "notify_only"}, nil, nil
	}
	policy, ok := r.assignment[*intent]
	if !ok {
		return AssignmentPolicy{Strategy: "notify_only"}, nil, nil
	}
	switch policy.Strategy {
	case "round_robin", "capacity_based":
		member, err := r.store.PickAssignee(ctx, policy.Role, r.regionFor(ctx, policy, lead))
		if err != nil {
			if apperr.CodeOf(err) == apperr.CodeNotFound {
				// Everybody is at capacity: route unassigned and flag it.
				return AssignmentPolicy{Strategy: "manual", Role: policy.Role}, nil, nil
			}
			return policy, nil, err
		}
		return policy, member, nil
	default:
		return policy, nil, nil
	}
}

func (r *Router) notifyRouted(ctx context.Context, lead *domain.Lead, pipeline *domain.Pipeline, policy AssignmentPolicy, assignee *domain.TeamMember, created bool) {
	if !created {
		return
	}
	var p queue.NotificationJobPayload
	switch {
	case assignee != nil:
		p = queue.NotificationJobPayload{
			Kind:   "hot_lead",
			LeadID: lead.ID,
			Data: map[string]any{
				"pipeline":    pipeline.Slug,
				"assigned_to": assignee.Name,
			},
		}
	case policy.Strategy == "manual":
		p = queue.NotificationJobPayload{
			Kind:   "assignment_needed",
			LeadID: lead.ID,
			Data:   map[string]any{"pipeline": pipeline.Slug},
		}
	default:
		p = queue.NotificationJobPayload{
			Kind:   "routed_unassigned",
			LeadID: lead.ID,
			Data:   map[string]any{"pipeline": pipeline.Slug},
		}
	}
	if err := r.notifier.Notify(ctx, p); err != nil {
		logger.Warn("routing: notification failed", "lead_id", lead.ID.String(), "error", err.Error())
	}
}

func (r *Router) notifyConflict(ctx context.Context, lead *domain.Lead, calc domain.IntentCalculation) error {
	points := map[string]any{}
	for intent, pts := range calc.Summary {
		points[string(intent)] = pts
	}
	return r.notifier.Notify(ctx, queue.NotificationJobPayload{
		Kind:   "routing_conflict",
		LeadID: lead.ID,
		Data:   points,
	})
}

// regionFor resolves the assignment region from the lead's organization
// country. Leads without an organization fall back to the unscoped pool.
func (r *Router) regionFor(ctx context.Context, policy AssignmentPolicy, lead *domain.Lead) string {
	if !policy.RegionAware || lead.OrganizationID == nil {
		return ""
	}
	org, err := r.store.GetOrganization(ctx, *lead.OrganizationID)
	if err != nil {
		return ""
	}
	return org.CountryCode
}

func leadName(lead *domain.Lead) string {
	name := fmt.Sprintf("%s %s", lead.FirstName, lead.LastName)
	if name == " " {
		return lead.Email
	}
	return name
}

func intentPtr(i domain.Intent) *domain.Intent {
	if i == "" {
		return nil
	}
	return &i
}

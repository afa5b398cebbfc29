// Package scoring applies the configured scoring rules to incoming events
// and maintains the score-history ledger. The ledger is authoritative; the
// denormalized category scores on the lead are a read cache recomputed
// after every application.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/rules"
)

// Store is the slice of the persistence layer the engine needs.
type Store interface {
	ActiveScoringRules(ctx context.Context) ([]domain.ScoringRule, error)
	CountRuleApplications(ctx context.Context, leadID, ruleID uuid.UUID, since *time.Time) (int, error)
	AppendScoreHistory(ctx context.Context, e *domain.ScoreHistoryEntry) error
	CategoryTotals(ctx context.Context, leadID uuid.UUID) (map[domain.ScoreCategory]int, error)
	UpdateLeadScores(ctx context.Context, id uuid.UUID, demographic, engagement, behavior int) error
	PromoteLifecycleStage(ctx context.Context, id uuid.UUID, stage domain.LifecycleStage) error
	GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, error)
}

// Result is the outcome of processing one event.
type Result struct {
	RulesMatched []string                     `json:"rules_matched"`
	PointsAdded  int                          `json:"points_added"`
	NewScores    map[domain.ScoreCategory]int `json:"new_scores"`
	NewTotal     int                          `json:"new_total"`
	PreTotal     int                          `json:"pre_total"`
	TierCrossed  domain.Tier                  `json:"tier_crossed,omitempty"`

	// Category of the highest-points matched rule, recorded on the event.
	DominantCategory domain.ScoreCategory `json:"dominant_category,omitempty"`
}

// Engine evaluates scoring rules against events.
type Engine struct {
	store Store
	cache *rules.Cache[domain.ScoringRule]
	clock func() time.Time
}

// NewEngine builds a scoring engine with a rule cache of the given TTL.
func NewEngine(store Store, cacheTTL time.Duration) *Engine {
	return &Engine{
		store: store,
		cache: rules.NewCache(cacheTTL, store.ActiveScoringRules),
		clock: time.Now,
	}
}

// SetClock overrides time for tests.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

// InvalidateCache drops the rule snapshot. Wired to the pub/sub
// invalidator.
func (e *Engine) InvalidateCache() { e.cache.Invalidate() }

// ProcessEvent applies every matching active rule to the event's lead,
// appends ledger rows, recomputes the denormalized scores from the ledger
// and promotes the lifecycle stage on upward tier crossings.
func (e *Engine) ProcessEvent(ctx context.Context, ev *domain.Event, lead *domain.Lead) (*Result, error) {
	ruleset, err := e.cache.Get(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTransientIO, err, "load scoring rules")
	}

	var org *domain.Organization
	if lead.OrganizationID != nil {
		org, err = e.store.GetOrganization(ctx, *lead.OrganizationID)
		if err != nil && apperr.CodeOf(err) != apperr.CodeNotFound {
			return nil, err
		}
	}

	now := e.clock()
	running, err := e.store.CategoryTotals(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	preTotal := sumTotals(running)

	res := &Result{
		RulesMatched: []string{},
		PreTotal:     preTotal,
	}
	dominantPoints := 0

	// Rules arrive sorted by descending priority.
	for i := range ruleset {
		rule := &ruleset[i]
		if !e.matches(rule, ev, lead, org) {
			continue
		}
		capped, err := e.rateLimited(ctx, lead.ID, rule, now)
		if err != nil {
			return nil, err
		}
		if capped {
			// rate_limited_rule is never surfaced: log and skip.
			logger.Debug("scoring rule capped", "rule", rule.Slug, "lead_id", lead.ID.String())
			continue
		}

		entry := &domain.ScoreHistoryEntry{
			LeadID:       lead.ID,
			EventID:      &ev.ID,
			RuleID:       &rule.ID,
			Category:     rule.Category,
			PointsChange: rule.Points,
			NewTotal:     running[rule.Category] + rule.Points,
			Reason:       rule.Name,
		}
		if rule.DecayDays != nil {
			exp := now.Add(time.Duration(*rule.DecayDays) * 24 * time.Hour)
			entry.ExpiresAt = &exp
		}
		if err := e.store.AppendScoreHistory(ctx, entry); err != nil {
			return nil, err
		}

		running[rule.Category] += rule.Points
		res.RulesMatched = append(res.RulesMatched, rule.Slug)
		res.PointsAdded += rule.Points
		if rule.Points > dominantPoints {
			dominantPoints = rule.Points
			res.DominantCategory = rule.Category
		}
	}

	// Recompute from the ledger rather than trusting the running deltas;
	// concurrent appenders and decay make the ledger the only truth.
	totals, err := e.store.CategoryTotals(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	res.NewScores = totals
	res.NewTotal = sumTotals(totals)

	if err := e.store.UpdateLeadScores(ctx, lead.ID,
		totals[domain.CategoryDemographic],
		totals[domain.CategoryEngagement],
		totals[domain.CategoryBehavior]); err != nil {
		return nil, err
	}
	lead.DemographicScore = totals[domain.CategoryDemographic]
	lead.EngagementScore = totals[domain.CategoryEngagement]
	lead.BehaviorScore = totals[domain.CategoryBehavior]
	lead.TotalScore = res.NewTotal

	if lead.TotalScore != lead.DemographicScore+lead.EngagementScore+lead.BehaviorScore {
		return nil, apperr.New(apperr.CodeInvariantViolation,
			"total %d does not equal category sum for lead %s", lead.TotalScore, lead.ID)
	}

	res.TierCrossed = TierCrossing(res.PreTotal, res.NewTotal)
	if res.TierCrossed != "" {
		stage := domain.StageForTotal(res.NewTotal)
		if err := e.store.PromoteLifecycleStage(ctx, lead.ID, stage); err != nil {
			return nil, err
		}
		if domain.StageRank(stage) > domain.StageRank(lead.LifecycleStage) {
			lead.LifecycleStage = stage
		}
	}
	return res, nil
}

// Recompute refreshes a lead's denormalized scores from the ledger. Used
// after decay, where no event is in play.
func (e *Engine) Recompute(ctx context.Context, leadID uuid.UUID) (map[domain.ScoreCategory]int, error) {
	totals, err := e.store.CategoryTotals(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateLeadScores(ctx, leadID,
		totals[domain.CategoryDemographic],
		totals[domain.CategoryEngagement],
		totals[domain.CategoryBehavior]); err != nil {
		return nil, err
	}
	return totals, nil
}

// matches dispatches on the rule type. Threshold rules are never triggered
// by events.
func (e *Engine) matches(rule *domain.ScoringRule, ev *domain.Event, lead *domain.Lead, org *domain.Organization) bool {
	switch rule.RuleType {
	case domain.RuleTypeEvent:
		return rules.MatchEvent(rule.Conditions, ev)
	case domain.RuleTypeField:
		return rules.MatchField(rule.Conditions, lead, org)
	default:
		return false
	}
}

// rateLimited enforces max_per_day (rolling 24h) and max_per_lead
// (lifetime) caps for one (lead, rule) pair.
func (e *Engine) rateLimited(ctx context.Context, leadID uuid.UUID, rule *domain.ScoringRule, now time.Time) (bool, error) {
	if rule.MaxPerDay != nil {
		since := now.Add(-24 * time.Hour)
		n, err := e.store.CountRuleApplications(ctx, leadID, rule.ID, &since)
		if err != nil {
			return false, fmt.Errorf("max_per_day check: %w", err)
		}
		if n >= *rule.MaxPerDay {
			return true, nil
		}
	}
	if rule.MaxPerLead != nil {
		n, err := e.store.CountRuleApplications(ctx, leadID, rule.ID, nil)
		if err != nil {
			return false, fmt.Errorf("max_per_lead check: %w", err)
		}
		if n >= *rule.MaxPerLead {
			return true, nil
		}
	}
	return false, nil
}

// TierCrossing returns the tier entered when the total moved upward across
// a threshold boundary, or "" when no boundary was crossed.
func TierCrossing(pre, post int) domain.Tier {
	if post <= pre {
		return ""
	}
	preTier := domain.TierFor(pre)
	postTier := domain.TierFor(post)
	if preTier == postTier {
		return ""
	}
	return postTier
}

func sumTotals(t map[domain.ScoreCategory]int) int {
	return t[domain.CategoryDemographic] + t[domain.CategoryEngagement] + t[domain.CategoryBehavior]
}

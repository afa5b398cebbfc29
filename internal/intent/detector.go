// Package intent classifies a lead's primary product intent from a
// configured rule set. Signals accumulate monotonically; the confidence
// summary is recomputed after every insertion.
package intent

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/rules"
)

// Calibration constants for the confidence computation.
const (
	// Margin is the dominance gap: primary minus secondary at or above
	// this earns a confidence bonus; below it (with a non-zero secondary)
	// flags a conflict.
	Margin = 15

	// DominanceBonus is added when the primary clearly dominates.
	DominanceBonus = 10

	// LowVolumePenalty is subtracted when too few signal points exist.
	LowVolumePenalty = 20

	// LowVolumeTotal is the signal-point floor under which the penalty
	// applies.
	LowVolumeTotal = 30

	// RoutableConfidence is the gate for automatic routing.
	RoutableConfidence = 60
)

// Store is the slice of the persistence layer the detector needs.
type Store interface {
	ActiveIntentRules(ctx context.Context) ([]domain.IntentRule, error)
	InsertIntentSignal(ctx context.Context, sig *domain.IntentSignal) error
	IntentSummary(ctx context.Context, leadID uuid.UUID) (map[domain.Intent]int, error)
	UpdateLeadIntent(ctx context.Context, id uuid.UUID, primary *domain.Intent, confidence int, summary map[domain.Intent]int) error
	GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, error)
}

// Result is the outcome of processing one event.
type Result struct {
	SignalsAdded []string                 `json:"signals_added"`
	Calc         domain.IntentCalculation `json:"calc"`
}

// Detector evaluates intent rules against events and leads.
type Detector struct {
	store Store
	cache *rules.Cache[domain.IntentRule]
}

// NewDetector builds a detector with a rule cache of the given TTL.
func NewDetector(store Store, cacheTTL time.Duration) *Detector {
	return &Detector{
		store: store,
		cache: rules.NewCache(cacheTTL, store.ActiveIntentRules),
	}
}

// InvalidateCache drops the rule snapshot.
func (d *Detector) InvalidateCache() { d.cache.Invalidate() }

// ProcessEvent evaluates every active intent rule, inserts a signal per
// match, recomputes the confidence summary and persists it on the lead.
func (d *Detector) ProcessEvent(ctx context.Context, ev *domain.Event, lead *domain.Lead) (*Result, error) {
	ruleset, err := d.cache.Get(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTransientIO, err, "load intent rules")
	}

	var org *domain.Organization
	if lead.OrganizationID != nil {
		org, err = d.store.GetOrganization(ctx, *lead.OrganizationID)
		if err != nil && apperr.CodeOf(err) != apperr.CodeNotFound {
			return nil, err
		}
	}

	res := &Result{SignalsAdded: []string{}}
	for i := range ruleset {
		rule := &ruleset[i]
		if !matches(rule, ev, lead, org) {
			continue
		}
		sig := &domain.IntentSignal{
			LeadID:           lead.ID,
			Intent:           rule.Intent,
			RuleID:           rule.ID,
			ConfidencePoints: rule.ConfidencePoints,
			TriggerType:      rule.TriggerType,
			EventID:          &ev.ID,
		}
		if err := d.store.InsertIntentSignal(ctx, sig); err != nil {
			return nil, err
		}
		res.SignalsAdded = append(res.SignalsAdded, rule.Slug)
	}

	summary, err := d.store.IntentSummary(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	res.Calc = Calculate(summary)

	if err := d.store.UpdateLeadIntent(ctx, lead.ID, res.Calc.Primary, res.Calc.Confidence, summary); err != nil {
		return nil, err
	}
	lead.PrimaryIntent = res.Calc.Primary
	lead.IntentConfidence = res.Calc.Confidence
	lead.IntentSummary = summary
	return res, nil
}

// Recalculate reads the ledger and returns the current calculation without
// inserting signals. The router uses this for a fresh read.
func (d *Detector) Recalculate(ctx context.Context, leadID uuid.UUID) (domain.IntentCalculation, error) {
	summary, err := d.store.IntentSummary(ctx, leadID)
	if err != nil {
		return domain.IntentCalculation{}, err
	}
	return Calculate(summary), nil
}

func matches(rule *domain.IntentRule, ev *domain.Event, lead *domain.Lead, org *domain.Organization) bool {
	switch rule.TriggerType {
	case domain.IntentTriggerEvent:
		return rules.MatchEvent(rule.Conditions, ev)
	case domain.IntentTriggerField, domain.IntentTriggerOrgField:
		return rules.MatchField(rule.Conditions, lead, org)
	default:
		return false
	}
}

// Calculate derives the confidence summary from accumulated signal points:
//
//	confidence = round(primary * 100 / total)
//	           + 10 when primary - secondary >= Margin (capped at 100)
//	           - 20 when total < LowVolumeTotal (floored at 0)
//
// Ties on the primary break lexicographically on the intent name, so the
// result is deterministic for equal summaries.
func Calculate(summary map[domain.Intent]int) domain.IntentCalculation {
	calc := domain.IntentCalculation{Summary: summary}

	total := 0
	for _, pts := range summary {
		total += pts
	}
	if total == 0 {
		return calc
	}

	intents := make([]domain.Intent, 0, len(summary))
	for intent, pts := range summary {
		if pts > 0 {
			intents = append(intents, intent)
		}
	}
	sort.Slice(intents, func(i, j int) bool {
		if summary[intents[i]] != summary[intents[j]] {
			return summary[intents[i]] > summary[intents[j]]
		}
		return intents[i] < intents[j]
	})
	if len(intents) == 0 {
		return calc
	}

	primary := intents[0]
	calc.Primary = &primary
	primaryScore := summary[primary]
	secondaryScore := 0
	if len(intents) > 1 {
		secondary := intents[1]
		calc.Secondary = &secondary
		secondaryScore = summary[secondary]
	}

	confidence := int(math.Round(float64(primaryScore) * 100 / float64(total)))
	if primaryScore-secondaryScore >= Margin {
		confidence += DominanceBonus
		if confidence > 100 {
			confidence = 100
		}
	}
	if total < LowVolumeTotal {
		// The signed intermediate may dip below zero; clamp at emission.
		confidence -= LowVolumePenalty
		if confidence < 0 {
			confidence = 0
		}
	}

	calc.Confidence = confidence
	calc.Conflict = secondaryScore > 0 && primaryScore-secondaryScore < Margin
	calc.Routable = confidence >= RoutableConfidence && !calc.Conflict
	return calc
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/httputil"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
)

// ListScoringRules returns every scoring rule, active or not.
func (h *Handlers) ListScoringRules(w http.ResponseWriter, r *http.Request) {
	ruleset, err := h.store.ListScoringRules(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.OK(w, map[string]any{"rules": ruleset})
}

// CreateScoringRule inserts a rule and broadcasts a cache invalidation.
func (h *Handlers) CreateScoringRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.ScoringRule
	if !httputil.Decode(w, r, &rule) {
		return
	}
	if problems := validateScoringRule(&rule); len(problems) != 0 {
		httputil.Validation(w, problems)
		return
	}

	if err := h.store.CreateScoringRule(r.Context(), &rule); err != nil {
		httputil.Error(w, err)
		return
	}
	h.invalidateRules(r)
	httputil.Created(w, rule)
}

// UpdateScoringRule replaces a rule's configuration, bumping its version.
func (h *Handlers) UpdateScoringRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	var rule domain.ScoringRule
	if !httputil.Decode(w, r, &rule) {
		return
	}
	rule.ID = id
	if problems := validateScoringRule(&rule); len(problems) != 0 {
		httputil.Validation(w, problems)
		return
	}

	if err := h.store.UpdateScoringRule(r.Context(), &rule); err != nil {
		httputil.Error(w, err)
		return
	}
	h.invalidateRules(r)
	httputil.OK(w, rule)
}

// DeleteScoringRule removes a rule. Ledger rows referencing it survive;
// only future evaluation changes.
func (h *Handlers) DeleteScoringRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteScoringRule(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}
	h.invalidateRules(r)
	httputil.NoContent(w)
}

func (h *Handlers) invalidateRules(r *http.Request) {
	if err := h.invalidator.Publish(r.Context()); err != nil {
		// Caches fall back to their TTL; the mutation itself succeeded.
		logger.Warn("rule invalidation publish failed", "error", err.Error())
	}
}

func validateScoringRule(rule *domain.ScoringRule) []string {
	var problems []string
	if rule.Slug == "" {
		problems = append(problems, "slug is required")
	}
	if rule.Name == "" {
		problems = append(problems, "name is required")
	}
	switch rule.Category {
	case domain.CategoryDemographic, domain.CategoryEngagement, domain.CategoryBehavior:
	default:
		problems = append(problems, "category must be demographic, engagement or behavior")
	}
	switch rule.RuleType {
	case domain.RuleTypeEvent:
		if rule.Conditions.EventType == "" {
			problems = append(problems, "conditions.event_type is required for event rules")
		}
	case domain.RuleTypeField:
		if rule.Conditions.Field == "" || rule.Conditions.Operator == "" {
			problems = append(problems, "conditions.field and conditions.operator are required for field rules")
		}
	case domain.RuleTypeThreshold:
		if rule.Conditions.Threshold == nil {
			problems = append(problems, "conditions.threshold is required for threshold rules")
		}
	default:
		problems = append(problems, "rule_type must be event, field or threshold")
	}
	if rule.Points == 0 && rule.RuleType != domain.RuleTypeThreshold {
		problems = append(problems, "points must be non-zero")
	}
	return problems
}

func ruleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		httputil.Error(w, apperr.New(apperr.CodeValidation, "invalid rule id"))
		return uuid.Nil, false
	}
	return id, true
}

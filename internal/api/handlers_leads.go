package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/httputil"
	"github.com/genomiq/lead-engine/internal/routing"
	"github.com/genomiq/lead-engine/internal/store"
)

// ListLeads returns a filtered, paginated lead listing.
func (h *Handlers) ListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.LeadFilter{
		Status:        q.Get("status"),
		RoutingStatus: q.Get("routing_status"),
		Intent:        q.Get("intent"),
	}
	f.MinScore, _ = strconv.Atoi(q.Get("min_score"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	leads, total, err := h.store.ListLeads(r.Context(), f)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"leads":  leads,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

// UnroutedLeads returns the Global Pool ordered by score.
func (h *Handlers) UnroutedLeads(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	leads, err := h.store.UnroutedLeads(r.Context(), limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.OK(w, map[string]any{"leads": leads, "count": len(leads)})
}

// GetLead returns one lead.
func (h *Handlers) GetLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadID(w, r)
	if !ok {
		return
	}
	lead, err := h.store.GetLead(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.OK(w, lead)
}

// LeadHistory returns a lead's recent events and score ledger.
func (h *Handlers) LeadHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := leadID(w, r)
	if !ok {
		return
	}
	events, err := h.store.RecentEvents(r.Context(), id, 50)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	history, err := h.store.ScoreHistory(r.Context(), id, 100)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"events":        events,
		"score_history": history,
	})
}

// routeRequest is the manual-route body. Intent and pipeline are both
// optional; either forces routing past the score and confidence gates.
type routeRequest struct {
	Intent   string `json:"intent,omitempty"`
	Pipeline string `json:"pipeline,omitempty"`
}

// RouteLead force-routes a lead, as triggered from the conflict buttons
// or the admin UI. Runs synchronously so the caller sees the decision.
func (h *Handlers) RouteLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadID(w, r)
	if !ok {
		return
	}
	var req routeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Intent == "" && req.Pipeline == "" {
		httputil.Validation(w, []string{"intent or pipeline is required"})
		return
	}

	dec, err := h.router.EvaluateAndRoute(r.Context(), id, routing.Options{
		ForcedIntent:   domain.Intent(req.Intent),
		ForcedPipeline: req.Pipeline,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.OK(w, dec)
}

// EvaluateRouting runs the normal routing evaluation synchronously,
// without overrides. Used by the admin UI to preview or re-trigger.
func (h *Handlers) EvaluateRouting(w http.ResponseWriter, r *http.Request) {
	id, ok := leadID(w, r)
	if !ok {
		return
	}
	dec, err := h.router.EvaluateAndRoute(r.Context(), id, routing.Options{})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.OK(w, dec)
}

func leadID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "leadID"))
	if err != nil {
		httputil.Error(w, apperr.New(apperr.CodeValidation, "invalid lead id"))
		return uuid.Nil, false
	}
	return id, true
}

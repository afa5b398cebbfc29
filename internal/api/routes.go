package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes wires the full route tree. Webhook ingestion carries the
// per-source HMAC middleware; the admin surface sits under /api/v1.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://app.genomiq.internal", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Signature", "X-Webhook-Source"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Ingestion: HMAC-signed webhook producers only.
		r.Group(func(r chi.Router) {
			r.Use(h.VerifyWebhookSignature)
			r.Post("/events", h.IngestEvent)
			r.Post("/events/bulk", h.IngestBulk)
		})

		r.Route("/leads", func(r chi.Router) {
			r.Get("/", h.ListLeads)
			r.Get("/unrouted", h.UnroutedLeads)
			r.Get("/{leadID}", h.GetLead)
			r.Get("/{leadID}/history", h.LeadHistory)
			r.Post("/{leadID}/route", h.RouteLead)
			r.Post("/{leadID}/routing/evaluate", h.EvaluateRouting)
		})

		r.Route("/rules/scoring", func(r chi.Router) {
			r.Get("/", h.ListScoringRules)
			r.Post("/", h.CreateScoringRule)
			r.Put("/{ruleID}", h.UpdateScoringRule)
			r.Delete("/{ruleID}", h.DeleteScoringRule)
		})

		r.Get("/queues", h.QueueDepths)
	})

	return r
}

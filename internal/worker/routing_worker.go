package worker

import (
	"context"
	"encoding/json"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/queue"
	"github.com/genomiq/lead-engine/internal/routing"
)

// RoutingWorker consumes routing_evaluate jobs.
type RoutingWorker struct {
	router *routing.Router
}

// NewRoutingWorker wraps the router.
func NewRoutingWorker(router *routing.Router) *RoutingWorker {
	return &RoutingWorker{router: router}
}

// Handle evaluates one lead. The decision is logged; a skip or wait is a
// successful outcome, not a failure.
func (w *RoutingWorker) Handle(ctx context.Context, job *queue.Job) error {
	var p queue.RoutingJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "decode routing job")
	}

	dec, err := w.router.EvaluateAndRoute(ctx, p.LeadID, routing.Options{
		ForcedIntent:   domain.Intent(p.ForcedIntent),
		ForcedPipeline: p.ForcedSlug,
	})
	if err != nil {
		return err
	}

	logger.Info("routing decision",
		"lead_id", p.LeadID.String(), "trigger", p.Trigger,
		"action", dec.Action, "reason", dec.Reason)
	return nil
}

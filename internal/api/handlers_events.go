package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/httputil"
	"github.com/genomiq/lead-engine/internal/queue"
)

// maxBulkEvents caps one bulk ingest request.
const maxBulkEvents = 1000

// IngestEvent accepts one marketing event, validates its shape and
// enqueues it. Durability beyond the queue is the event worker's job;
// the producer gets a 202 and an event id to correlate on.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.Error(w, apperr.Wrap(apperr.CodeValidation, err, "read body"))
		return
	}

	var in domain.IngestEvent
	if err := json.Unmarshal(body, &in); err != nil {
		httputil.Error(w, apperr.New(apperr.CodeValidation, "invalid JSON: %s", err.Error()))
		return
	}
	if problems := in.Validate(); len(problems) != 0 {
		httputil.Validation(w, problems)
		return
	}

	eventID := uuid.New()
	now := time.Now().UTC()
	if err := h.enq.EnqueueEvent(r.Context(), queue.EventJobPayload{
		EventID:    eventID,
		Body:       body,
		Source:     in.Source,
		ReceivedAt: now,
	}); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Accepted(w, map[string]any{
		"event_id":  eventID,
		"status":    "queued",
		"queued_at": now.Format(time.RFC3339),
	})
}

// bulkRequest is the wire shape of a bulk ingest.
type bulkRequest struct {
	Events []json.RawMessage `json:"events"`
}

// IngestBulk accepts up to maxBulkEvents events in one request. Each event
// is validated and enqueued independently under a shared batch id; one bad
// event fails the whole request before anything is enqueued.
func (h *Handlers) IngestBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		httputil.Validation(w, []string{"events must not be empty"})
		return
	}
	if len(req.Events) > maxBulkEvents {
		httputil.Error(w, apperr.New(apperr.CodeValidation,
			"bulk ingest limited to %d events (got %d)", maxBulkEvents, len(req.Events)))
		return
	}

	parsed := make([]domain.IngestEvent, len(req.Events))
	for i, raw := range req.Events {
		if err := json.Unmarshal(raw, &parsed[i]); err != nil {
			httputil.Error(w, apperr.New(apperr.CodeValidation, "event %d: invalid JSON", i))
			return
		}
		if problems := parsed[i].Validate(); len(problems) != 0 {
			httputil.Error(w, apperr.New(apperr.CodeValidation, "event %d invalid", i).WithDetails(problems))
			return
		}
	}

	batchID := uuid.New().String()
	now := time.Now().UTC()
	queued := 0
	for i, raw := range req.Events {
		if err := h.enq.EnqueueEvent(r.Context(), queue.EventJobPayload{
			EventID:       uuid.New(),
			Body:          raw,
			Source:        parsed[i].Source,
			ReceivedAt:    now,
			ImportBatchID: batchID,
		}); err != nil {
			httputil.Error(w, apperr.Wrap(apperr.CodeTransientIO, err,
				"bulk enqueue failed after %d of %d events", queued, len(req.Events)))
			return
		}
		queued++
	}

	httputil.Accepted(w, map[string]any{
		"job_id":        batchID,
		"leads_queued":  queued,
		"queued_at":     now.Format(time.RFC3339),
	})
}

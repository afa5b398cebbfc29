package api

import (
	"context"
	"net/http"
	"time"

	"github.com/genomiq/lead-engine/internal/config"
	"github.com/genomiq/lead-engine/internal/pkg/httputil"
	"github.com/genomiq/lead-engine/internal/queue"
	"github.com/genomiq/lead-engine/internal/routing"
	"github.com/genomiq/lead-engine/internal/rules"
	"github.com/genomiq/lead-engine/internal/store"
)

// Enqueuer is the producer surface the handlers need.
type Enqueuer interface {
	EnqueueEvent(ctx context.Context, p queue.EventJobPayload) error
	EnqueueRouting(ctx context.Context, p queue.RoutingJobPayload) error
}

// Handlers carries the dependencies of the HTTP surface.
type Handlers struct {
	store       *store.Store
	enq         Enqueuer
	router      *routing.Router
	invalidator *rules.Invalidator
	queues      *queue.Client
	auth        config.AuthConfig

	sourceSecrets map[string]string
}

// NewHandlers builds the handler set.
func NewHandlers(st *store.Store, enq Enqueuer, router *routing.Router,
	invalidator *rules.Invalidator, queues *queue.Client, auth config.AuthConfig) *Handlers {
	return &Handlers{
		store:         st,
		enq:           enq,
		router:        router,
		invalidator:   invalidator,
		queues:        queues,
		auth:          auth,
		sourceSecrets: auth.SourceSecrets(),
	}
}

// Health reports process liveness plus store and queue reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	checks := map[string]string{"database": "ok", "redis": "ok"}
	if err := h.store.DB().PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		status = "degraded"
	}
	if err := h.queues.Redis().Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		status = "degraded"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// QueueDepths reports the pending length of every queue.
func (h *Handlers) QueueDepths(w http.ResponseWriter, r *http.Request) {
	names := []string{
		queue.QueueEvents, queue.QueueRouting, queue.QueueSync,
		queue.QueueScheduled, queue.QueueNotifications,
	}
	depths := map[string]int64{}
	for _, name := range names {
		n, err := h.queues.Depth(r.Context(), name)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		depths[name] = n
	}
	httputil.OK(w, map[string]any{"queues": depths})
}

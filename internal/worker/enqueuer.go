package worker

import (
	"context"

	"github.com/genomiq/lead-engine/internal/queue"
)

// Enqueuer adapts the queue client to the producer interfaces the engines
// consume. Routing jobs are coalesced per lead through the dedup key;
// everything else enqueues unconditionally.
type Enqueuer struct {
	client *queue.Client
}

// NewEnqueuer wraps a queue client.
func NewEnqueuer(client *queue.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueEvent pushes an event_process job.
func (e *Enqueuer) EnqueueEvent(ctx context.Context, p queue.EventJobPayload) error {
	job, err := queue.NewJob(queue.JobEventProcess, p)
	if err != nil {
		return err
	}
	job.BatchID = p.ImportBatchID
	return e.client.Enqueue(ctx, queue.QueueEvents, job)
}

// EnqueueRouting schedules a routing evaluation for the lead, coalescing
// with any pending one. Forced routes carry overrides and must not be
// swallowed by a pending plain evaluation, so they skip the dedup.
func (e *Enqueuer) EnqueueRouting(ctx context.Context, p queue.RoutingJobPayload) error {
	job, err := queue.NewJob(queue.JobRoutingEvaluate, p)
	if err != nil {
		return err
	}
	if p.ForcedIntent != "" || p.ForcedSlug != "" {
		return e.client.Enqueue(ctx, queue.QueueRouting, job)
	}
	job.ID = queue.RoutingDedupID(p.LeadID)
	_, err = e.client.EnqueueUnique(ctx, queue.QueueRouting, job)
	return err
}

// EnqueueSync pushes a moco_sync job.
func (e *Enqueuer) EnqueueSync(ctx context.Context, p queue.SyncJobPayload) error {
	job, err := queue.NewJob(queue.JobMocoSync, p)
	if err != nil {
		return err
	}
	return e.client.Enqueue(ctx, queue.QueueSync, job)
}

// Notify pushes a notification job.
func (e *Enqueuer) Notify(ctx context.Context, p queue.NotificationJobPayload) error {
	job, err := queue.NewJob(queue.JobNotification, p)
	if err != nil {
		return err
	}
	return e.client.Enqueue(ctx, queue.QueueNotifications, job)
}

// EnqueueScheduled pushes a scheduled maintenance job of the given type.
func (e *Enqueuer) EnqueueScheduled(ctx context.Context, jobType string) error {
	job, err := queue.NewJob(jobType, struct{}{})
	if err != nil {
		return err
	}
	return e.client.Enqueue(ctx, queue.QueueScheduled, job)
}

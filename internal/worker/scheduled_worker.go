package worker

import (
	"context"
	"time"

	"github.com/genomiq/lead-engine/internal/automation"
	"github.com/genomiq/lead-engine/internal/config"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/queue"
	"github.com/genomiq/lead-engine/internal/scoring"
	"github.com/genomiq/lead-engine/internal/store"
)

// Deletion-requested leads are anonymized after this many days.
const gdprGraceDays = 30

// ScheduledWorker executes the daily maintenance jobs: score decay, the
// digest, the time-in-stage sweep, the GDPR anonymization pass and event
// partition pre-creation.
type ScheduledWorker struct {
	store       *store.Store
	scorer      *scoring.Engine
	automations *automation.Engine
	enq         *Enqueuer
	cfg         config.SchedulerConfig
	clock       func() time.Time
}

// NewScheduledWorker wires the maintenance jobs.
func NewScheduledWorker(st *store.Store, scorer *scoring.Engine, automations *automation.Engine,
	enq *Enqueuer, cfg config.SchedulerConfig) *ScheduledWorker {
	return &ScheduledWorker{
		store:       st,
		scorer:      scorer,
		automations: automations,
		enq:         enq,
		cfg:         cfg,
		clock:       time.Now,
	}
}

// SetClock overrides time for tests.
func (w *ScheduledWorker) SetClock(clock func() time.Time) { w.clock = clock }

// Handle dispatches one scheduled job by type.
func (w *ScheduledWorker) Handle(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobScoreDecay:
		return w.runDecay(ctx)
	case queue.JobDailyDigest:
		return w.enq.Notify(ctx, queue.NotificationJobPayload{Kind: "digest"})
	case queue.JobTimeInStage:
		n, err := w.automations.SweepTimeInStage(ctx)
		if err != nil {
			return err
		}
		logger.Info("time in stage sweep done", "rules_executed", n)
		return nil
	case queue.JobGDPRSweep:
		return w.runGDPRSweep(ctx)
	case queue.JobPartitionEnsure:
		return w.runPartitionEnsure(ctx)
	default:
		return apperr.New(apperr.CodeValidation, "unknown scheduled job %q", job.Type)
	}
}

// runDecay expires due score-history entries and recomputes the
// denormalized scores of every affected lead from the ledger.
func (w *ScheduledWorker) runDecay(ctx context.Context) error {
	start := w.clock()
	leadIDs, expired, err := w.store.ExpireDueEntries(ctx, start)
	if err != nil {
		return err
	}

	updated := 0
	for _, id := range leadIDs {
		if _, err := w.scorer.Recompute(ctx, id); err != nil {
			logger.Warn("decay recompute failed", "lead_id", id.String(), "error", err.Error())
			continue
		}
		// A decayed total may drop the lead below the routing threshold;
		// the next evaluation picks that up, no action here.
		updated++
	}

	logger.Info("score decay done",
		"expired_count", expired,
		"leads_updated", updated,
		"execution_time_ms", time.Since(start).Milliseconds())
	return nil
}

// runGDPRSweep anonymizes leads whose deletion request has passed the
// grace period. PII is overwritten in place; the ledger rows stay for
// aggregate reporting.
func (w *ScheduledWorker) runGDPRSweep(ctx context.Context) error {
	cutoff := w.clock().Add(-gdprGraceDays * 24 * time.Hour)
	ids, err := w.store.LeadsPendingDeletion(ctx, cutoff)
	if err != nil {
		return err
	}

	done := 0
	for _, id := range ids {
		if err := w.store.AnonymizeLead(ctx, id); err != nil {
			logger.Error("anonymization failed", "lead_id", id.String(), "error", err.Error())
			continue
		}
		done++
	}
	logger.Info("gdpr sweep done", "anonymized", done, "pending", len(ids)-done)
	return nil
}

// runPartitionEnsure pre-creates the event partitions for the current and
// upcoming months so month rollover never races the first insert.
func (w *ScheduledWorker) runPartitionEnsure(ctx context.Context) error {
	now := w.clock()
	for i := 0; i <= w.cfg.PartitionAhead; i++ {
		if err := w.store.EnsureEventPartition(ctx, now.AddDate(0, i, 0)); err != nil {
			return err
		}
	}
	return nil
}

package worker

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/genomiq/lead-engine/internal/config"
	"github.com/genomiq/lead-engine/internal/pkg/distlock"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/queue"
)

// Scheduler enqueues the daily maintenance jobs at their configured local
// times. Each firing takes a distributed lock so that multiple replicas
// produce exactly one job per day.
type Scheduler struct {
	enq *Enqueuer
	rdb *redis.Client
	db  *sql.DB
	cfg config.SchedulerConfig
}

// NewScheduler builds the scheduler.
func NewScheduler(enq *Enqueuer, rdb *redis.Client, db *sql.DB, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{enq: enq, rdb: rdb, db: db, cfg: cfg}
}

// dailyJob is one scheduled entry.
type dailyJob struct {
	jobType string
	at      string // local HH:MM
}

// Run blocks until ctx is cancelled, firing each daily job at its time.
func (s *Scheduler) Run(ctx context.Context) error {
	jobs := []dailyJob{
		{queue.JobScoreDecay, s.cfg.DecayAt},
		{queue.JobDailyDigest, s.cfg.DigestAt},
		{queue.JobTimeInStage, s.cfg.TimeInStageAt},
		{queue.JobGDPRSweep, s.cfg.GDPRSweepAt},
		{queue.JobPartitionEnsure, s.cfg.DecayAt},
	}
	for _, j := range jobs {
		if _, _, err := parseClock(j.at); err != nil {
			return fmt.Errorf("scheduler: bad time %q for %s: %w", j.at, j.jobType, err)
		}
		go s.runJob(ctx, j)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *Scheduler) runJob(ctx context.Context, j dailyJob) {
	for {
		wait := untilNext(time.Now(), j.at)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.fire(ctx, j.jobType)
	}
}

// fire enqueues one scheduled job under the daily lock. The lock TTL
// covers the whole firing window, so a replica waking a few seconds late
// finds it held and skips.
func (s *Scheduler) fire(ctx context.Context, jobType string) {
	lock := distlock.New(s.rdb, s.db, "sched:"+jobType+":"+time.Now().Format("2006-01-02"), 10*time.Minute)
	ok, err := lock.TryAcquire(ctx)
	if err != nil {
		logger.Error("scheduler lock error", "job", jobType, "error", err.Error())
		return
	}
	if !ok {
		logger.Debug("scheduled job already claimed", "job", jobType)
		return
	}
	// The lock is deliberately not released: it expires on its own and
	// keeps late replicas out for the rest of the window.

	if err := s.enq.EnqueueScheduled(ctx, jobType); err != nil {
		logger.Error("scheduled enqueue failed", "job", jobType, "error", err.Error())
		return
	}
	logger.Info("scheduled job enqueued", "job", jobType)
}

// parseClock splits a local HH:MM string.
func parseClock(at string) (int, int, error) {
	hh, mm, ok := strings.Cut(at, ":")
	if !ok {
		return 0, 0, fmt.Errorf("want HH:MM")
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("bad hour %q", hh)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("bad minute %q", mm)
	}
	return h, m, nil
}

// untilNext returns the duration from now until the next local HH:MM.
func untilNext(now time.Time, at string) time.Duration {
	h, m, _ := parseClock(at)
	next := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

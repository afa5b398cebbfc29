package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/genomiq/lead-engine/internal/automation"
	"github.com/genomiq/lead-engine/internal/config"
	"github.com/genomiq/lead-engine/internal/identity"
	"github.com/genomiq/lead-engine/internal/intent"
	"github.com/genomiq/lead-engine/internal/moco"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/queue"
	"github.com/genomiq/lead-engine/internal/routing"
	"github.com/genomiq/lead-engine/internal/rules"
	"github.com/genomiq/lead-engine/internal/scoring"
	"github.com/genomiq/lead-engine/internal/slackbot"
	"github.com/genomiq/lead-engine/internal/store"
	"github.com/genomiq/lead-engine/internal/worker"
)

// Drain budget after SIGTERM before the process exits.
const shutdownGrace = 30 * time.Second

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Server.LogLevel == "debug" {
		logger.SetLevel(logger.DEBUG)
	}
	logger.SetRedactPII(cfg.Server.NodeEnv == "production")

	st, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer st.Close()

	queues, err := queue.NewClient(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer queues.Close()
	limiter := queue.NewLimiter(queues.Redis())

	enq := worker.NewEnqueuer(queues)
	ttl := cfg.Rules.CacheTTL()

	resolver := identity.NewResolver(st)
	scorer := scoring.NewEngine(st, ttl)
	detector := intent.NewDetector(st, ttl)
	automations := automation.NewEngine(st, enq, ttl)
	router := routing.NewRouter(st, detector, enq, routing.Config{
		MinScore:        cfg.Routing.MinScore,
		MinConfidence:   cfg.Routing.MinConfidence,
		StuckInPoolDays: cfg.Routing.StuckInPoolDays,
	})

	invalidator := rules.NewInvalidator(queues.Redis())
	invalidator.Register(scorer.InvalidateCache)
	invalidator.Register(detector.InvalidateCache)
	invalidator.Register(automations.InvalidateCache)
	invalidator.Start()
	defer invalidator.Stop()

	eventWorker := worker.NewEventWorker(st, resolver, scorer, detector, automations, enq)
	routingWorker := worker.NewRoutingWorker(router)
	syncWorker := worker.NewSyncWorker(st, moco.NewClient(cfg.Moco))
	notifyWorker := worker.NewNotificationWorker(st, slackbot.NewNotifier(cfg.Slack))
	schedWorker := worker.NewScheduledWorker(st, scorer, automations, enq, cfg.Scheduler)

	ctx, cancel := context.WithCancel(context.Background())

	pools := []*worker.Pool{
		worker.NewPool(queue.QueueEvents, queues, limiter, cfg.Queues.Events, eventWorker.Handle),
		worker.NewPool(queue.QueueRouting, queues, limiter, cfg.Queues.Routing, routingWorker.Handle),
		worker.NewPool(queue.QueueSync, queues, limiter, cfg.Queues.Sync, syncWorker.Handle),
		worker.NewPool(queue.QueueScheduled, queues, limiter, cfg.Queues.Scheduled, schedWorker.Handle),
		worker.NewPool(queue.QueueNotifications, queues, limiter, cfg.Queues.Notifications, notifyWorker.Handle),
	}
	for _, p := range pools {
		p.Start(ctx)
	}

	scheduler := worker.NewScheduler(enq, queues.Redis(), st.DB(), cfg.Scheduler)
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler stopped", "error", err.Error())
		}
	}()

	logger.Info("worker started", "total_concurrency", cfg.Queues.TotalConcurrency())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("draining worker pools", "grace", shutdownGrace.String())
	cancel()

	done := make(chan struct{})
	go func() {
		for _, p := range pools {
			p.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		logger.Info("worker stopped cleanly")
	case <-time.After(shutdownGrace):
		logger.Warn("shutdown grace elapsed, exiting with jobs in flight")
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/genomiq/lead-engine/internal/api"
	"github.com/genomiq/lead-engine/internal/config"
	"github.com/genomiq/lead-engine/internal/intent"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/queue"
	"github.com/genomiq/lead-engine/internal/routing"
	"github.com/genomiq/lead-engine/internal/rules"
	"github.com/genomiq/lead-engine/internal/store"
	"github.com/genomiq/lead-engine/internal/worker"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	configureLogging(cfg)

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

	enq := worker.NewEnqueuer(queues)
	detector := intent.NewDetector(st, cfg.Rules.CacheTTL())
	router := routing.NewRouter(st, detector, enq, routing.Config{
		MinScore:        cfg.Routing.MinScore,
		MinConfidence:   cfg.Routing.MinConfidence,
		StuckInPoolDays: cfg.Routing.StuckInPoolDays,
	})

	invalidator := rules.NewInvalidator(queues.Redis())
	invalidator.Register(detector.InvalidateCache)
	invalidator.Start()
	defer invalidator.Stop()

	handlers := api.NewHandlers(st, enq, router, invalidator, queues, cfg.Auth)
	srv := api.NewServer(cfg.Server, handlers)

	go func() {
		logger.Info("api server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down api server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err.Error())
	}
	logger.Info("api server stopped")
}

func configureLogging(cfg *config.Config) {
	switch cfg.Server.LogLevel {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
	logger.SetRedactPII(cfg.Server.NodeEnv == "production")
}

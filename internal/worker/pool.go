// Package worker runs the queue consumers. Each named queue gets a pool
// of goroutines pulling jobs through the rate limiter; two maintenance
// loops per pool promote delayed retries and reclaim jobs from crashed
// workers.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/genomiq/lead-engine/internal/config"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/queue"
)

const (
	dequeueWait    = 2 * time.Second
	promoteEvery   = 5 * time.Second
	recoverEvery   = 30 * time.Second
	staleFactor    = 2 // visibility timeout = staleFactor x job timeout
)

// Handler processes one job. A returned error classified retryable by the
// error taxonomy sends the job to the delayed set; anything else goes to
// the failed list.
type Handler func(ctx context.Context, job *queue.Job) error

// Pool consumes one named queue with a fixed number of goroutines.
type Pool struct {
	name    string
	client  *queue.Client
	limiter *queue.Limiter
	cfg     config.QueueConfig
	handler Handler

	wg sync.WaitGroup
}

// NewPool builds a pool for the named queue.
func NewPool(name string, client *queue.Client, limiter *queue.Limiter, cfg config.QueueConfig, handler Handler) *Pool {
	return &Pool{
		name:    name,
		client:  client,
		limiter: limiter,
		cfg:     cfg,
		handler: handler,
	}
}

// Start launches the consumer goroutines and maintenance loops. They run
// until ctx is cancelled; Wait blocks until all in-flight jobs finish.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.consume(ctx)
		}()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.maintain(ctx)
	}()
	logger.Info("worker pool started", "queue", p.name, "concurrency", p.cfg.Concurrency)
}

// Wait blocks until every goroutine has returned.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.limiter.Wait(ctx, p.name, p.cfg.RatePerSec); err != nil {
			return
		}

		job, err := p.client.Dequeue(ctx, p.name, dequeueWait)
		if err != nil {
			if err == queue.ErrEmpty || ctx.Err() != nil {
				continue
			}
			logger.Warn("dequeue failed", "queue", p.name, "error", err.Error())
			time.Sleep(time.Second)
			continue
		}
		p.run(ctx, job)
	}
}

// run executes one job under the per-queue deadline. The job context is
// detached from pool shutdown: an in-flight job finishes within its own
// deadline even while the pool is draining.
func (p *Pool) run(ctx context.Context, job *queue.Job) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout())
	defer cancel()

	start := time.Now()
	err := p.handler(jobCtx, job)
	elapsed := time.Since(start)

	if err == nil {
		if ackErr := p.client.Ack(jobCtx, p.name, job); ackErr != nil {
			logger.Warn("ack failed", "queue", p.name, "job_id", job.ID, "error", ackErr.Error())
		}
		logger.Debug("job done", "queue", p.name, "type", job.Type, "job_id", job.ID, "ms", elapsed.Milliseconds())
		return
	}

	retryable := apperr.Retryable(err)
	logger.Error("job failed",
		"queue", p.name, "type", job.Type, "job_id", job.ID,
		"attempt", job.Attempts+1, "retryable", retryable, "error", err.Error())
	if failErr := p.client.Fail(jobCtx, p.name, job, err, retryable); failErr != nil {
		logger.Error("fail bookkeeping error", "queue", p.name, "job_id", job.ID, "error", failErr.Error())
	}
}

// maintain promotes due delayed jobs and reclaims stale claims.
func (p *Pool) maintain(ctx context.Context) {
	promote := time.NewTicker(promoteEvery)
	reclaim := time.NewTicker(recoverEvery)
	defer promote.Stop()
	defer reclaim.Stop()

	visibility := time.Duration(staleFactor) * p.cfg.Timeout()
	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			if n, err := p.client.PromoteDelayed(ctx, p.name); err == nil && n > 0 {
				logger.Debug("promoted delayed jobs", "queue", p.name, "count", n)
			}
		case <-reclaim.C:
			if n, err := p.client.RecoverStale(ctx, p.name, visibility); err == nil && n > 0 {
				logger.Warn("recovered stale jobs", "queue", p.name, "count", n)
			}
		}
	}
}

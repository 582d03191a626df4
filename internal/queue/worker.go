package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/clarivox/internal/observe"
)

// Handler processes one dequeued job. Returning an error nacks the job: it
// is requeued with an incremented retry counter up to the pool's maximum,
// then dropped and logged as permanently failed.
type Handler func(ctx context.Context, job Job) error

const (
	// DefaultWorkers is the worker-pool size.
	DefaultWorkers = 4

	// DefaultMaxRetries is the number of requeues before a job is dropped.
	DefaultMaxRetries = 3
)

// PoolConfig configures a [Pool].
type PoolConfig struct {
	// Backend supplies the jobs. Required.
	Backend Backend

	// Handler processes them. Required.
	Handler Handler

	// Workers is the number of concurrent workers. Defaults to 4.
	Workers int

	// MaxRetries is the number of requeues before a job is dropped.
	// Defaults to 3.
	MaxRetries int

	// Metrics overrides the default metrics instance.
	Metrics *observe.Metrics
}

// Pool drives a fixed set of workers that dequeue jobs and run them through
// the handler.
type Pool struct {
	backend    Backend
	handler    Handler
	workers    int
	maxRetries int
	metrics    *observe.Metrics
}

// NewPool validates cfg and returns a stopped [Pool].
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("queue: pool backend is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("queue: pool handler is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Pool{
		backend:    cfg.Backend,
		handler:    cfg.Handler,
		workers:    workers,
		maxRetries: maxRetries,
		metrics:    m,
	}, nil
}

// Run blocks, processing jobs until ctx is cancelled or the backend closes.
// It returns the first non-cancellation error encountered by a worker.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.work(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}

// work is one worker's dequeue loop.
func (p *Pool) work(ctx context.Context) error {
	for {
		job, err := p.backend.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Backend closed or broken: stop this worker.
			return err
		}

		p.metrics.QueueDepth.Add(ctx, -1)
		p.metrics.QueueWaitDuration.Record(ctx, time.Since(job.EnqueuedAt).Seconds())

		if err := p.handler(ctx, *job); err != nil {
			p.nack(ctx, *job, err)
			continue
		}
		p.metrics.RecordQueueJob(ctx, "ok")
	}
}

// nack requeues the failed job with an incremented retry counter, or drops
// it once the maximum is exhausted.
func (p *Pool) nack(ctx context.Context, job Job, cause error) {
	log := observe.Logger(ctx).With(
		"job_id", job.ID,
		"session_id", job.SessionID,
		"turn_seq", job.Turn.Seq,
	)

	if job.Retries >= p.maxRetries {
		p.metrics.RecordQueueJob(ctx, "dropped")
		log.Error("job permanently failed", "retries", job.Retries, "error", cause)
		return
	}

	job.Retries++
	job.EnqueuedAt = time.Now()
	if err := p.backend.Enqueue(ctx, job); err != nil {
		p.metrics.RecordQueueJob(ctx, "dropped")
		log.Error("job requeue failed", "error", err, "cause", cause)
		return
	}
	p.metrics.QueueDepth.Add(ctx, 1)
	p.metrics.RecordQueueJob(ctx, "retry")
	log.Warn("job nacked and requeued", "retries", job.Retries, "error", cause)
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Backend = (*PostgresBackend)(nil)

const ddlQueueJobs = `
CREATE TABLE IF NOT EXISTS queue_jobs (
    seq         BIGSERIAL    PRIMARY KEY,
    id          TEXT         NOT NULL,
    session_id  TEXT         NOT NULL,
    priority    INT          NOT NULL,
    retries     INT          NOT NULL DEFAULT 0,
    turn        JSONB        NOT NULL,
    enqueued_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_queue_jobs_order
    ON queue_jobs (priority DESC, seq ASC);
`

// PostgresBackend is the durable [Backend], shared by all workers across
// processes. Claiming uses FOR UPDATE SKIP LOCKED so concurrent workers
// never contend on the same row, and an exponential-backoff poll loop keeps
// idle workers cheap.
type PostgresBackend struct {
	pool *pgxpool.Pool

	// maxPollInterval caps the idle poll backoff.
	maxPollInterval time.Duration
}

// PostgresOption is a functional option for configuring a [PostgresBackend].
type PostgresOption func(*PostgresBackend)

// WithMaxPollInterval caps the idle polling backoff. Default: 1s.
func WithMaxPollInterval(d time.Duration) PostgresOption {
	return func(b *PostgresBackend) {
		if d > 0 {
			b.maxPollInterval = d
		}
	}
}

// NewPostgresBackend ensures the queue table exists on the given pool. The
// pool is shared with the caller (typically the store's) and is not closed
// by [PostgresBackend.Close].
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresBackend, error) {
	if _, err := pool.Exec(ctx, ddlQueueJobs); err != nil {
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}
	b := &PostgresBackend{
		pool:            pool,
		maxPollInterval: time.Second,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Enqueue implements [Backend].
func (b *PostgresBackend) Enqueue(ctx context.Context, job Job) error {
	turn, err := json.Marshal(job.Turn)
	if err != nil {
		return fmt.Errorf("queue: encode turn: %w", err)
	}

	const q = `
		INSERT INTO queue_jobs (id, session_id, priority, retries, turn, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = b.pool.Exec(ctx, q,
		job.ID, job.SessionID, job.Priority, job.Retries, turn, job.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Dequeue implements [Backend]. It polls with exponential backoff when the
// queue is empty, resetting the backoff after every claimed job.
func (b *PostgresBackend) Dequeue(ctx context.Context) (*Job, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = b.maxPollInterval
	bo.MaxElapsedTime = 0 // poll forever; ctx bounds the wait

	for {
		job, err := b.claim(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// claim atomically removes and returns the head job, or nil when the queue
// is empty.
func (b *PostgresBackend) claim(ctx context.Context) (*Job, error) {
	const q = `
		DELETE FROM queue_jobs
		WHERE seq = (
		    SELECT seq
		    FROM   queue_jobs
		    ORDER  BY priority DESC, seq ASC
		    LIMIT  1
		    FOR UPDATE SKIP LOCKED
		)
		RETURNING id, session_id, priority, retries, turn, enqueued_at`

	var (
		job  Job
		turn []byte
	)
	err := b.pool.QueryRow(ctx, q).Scan(
		&job.ID, &job.SessionID, &job.Priority, &job.Retries, &turn, &job.EnqueuedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("queue: claim: %w", err)
	}
	if err := json.Unmarshal(turn, &job.Turn); err != nil {
		return nil, fmt.Errorf("queue: decode turn: %w", err)
	}
	return &job, nil
}

// Len implements [Backend].
func (b *PostgresBackend) Len(ctx context.Context) (int, error) {
	var n int
	if err := b.pool.QueryRow(ctx, `SELECT count(*) FROM queue_jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: len: %w", err)
	}
	return n, nil
}

// Close implements [Backend]. The shared pool is owned by the caller and is
// left open.
func (b *PostgresBackend) Close() error { return nil }

// Package queue provides the priority job queue feeding the cleansing
// pipeline, with two interchangeable backends: a durable PostgreSQL queue
// and a single-process in-memory structure. Both give the same guarantee:
// higher priority first, strict FIFO within a priority class.
//
// Human turns are enqueued above machine turns because only human turns
// carry end-to-end latency pressure.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/clarivox/internal/transcript"
)

// Priority classes. Larger values dequeue first.
const (
	PriorityMachine = 0
	PriorityHuman   = 10
)

// Job is one unit of work: a raw turn bound for a session's pipeline.
type Job struct {
	// ID uniquely identifies the job across requeues.
	ID string `json:"id"`

	// SessionID is the target session.
	SessionID string `json:"session_id"`

	// Turn is the raw turn to process.
	Turn transcript.RawTurn `json:"turn"`

	// Priority is the job's priority class.
	Priority int `json:"priority"`

	// Retries counts how often the job has been requeued after a failure.
	Retries int `json:"retries"`

	// EnqueuedAt is when the job (re)entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob builds a job for the given turn. Machine-originated turns are
// classed below human turns.
func NewJob(sessionID string, turn transcript.RawTurn) Job {
	priority := PriorityHuman
	if turn.Speaker.IsMachine() {
		priority = PriorityMachine
	}
	return Job{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Turn:       turn,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}
}

// Backend is the queue storage interface. Callers are agnostic to which
// implementation is active. Implementations must be safe for concurrent use.
type Backend interface {
	// Enqueue adds the job. Returns promptly; never blocks on consumers.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue removes and returns the highest-priority job, blocking until
	// one is available or ctx is done.
	Dequeue(ctx context.Context) (*Job, error)

	// Len reports the number of queued jobs.
	Len(ctx context.Context) (int, error)

	// Close releases backend resources. Pending Dequeue calls return an
	// error.
	Close() error
}

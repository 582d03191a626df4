package queue

import (
	"context"
	"fmt"

	"github.com/MrWong99/clarivox/internal/observe"
	"github.com/MrWong99/clarivox/internal/transcript"
)

// Service is the producer-side facade over a [Backend]: it builds jobs,
// records queue metrics, and shields callers from the backend choice.
type Service struct {
	backend Backend
	metrics *observe.Metrics
}

// NewService wraps backend.
func NewService(backend Backend, metrics *observe.Metrics) *Service {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Service{backend: backend, metrics: metrics}
}

// Enqueue submits a raw turn for processing and returns the job ID. It
// returns promptly; processing happens on the worker pool.
func (s *Service) Enqueue(ctx context.Context, sessionID string, turn transcript.RawTurn) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("queue: session id is required")
	}
	job := NewJob(sessionID, turn)
	if err := s.backend.Enqueue(ctx, job); err != nil {
		return "", err
	}
	s.metrics.QueueDepth.Add(ctx, 1)
	return job.ID, nil
}

// Depth reports the current number of queued jobs.
func (s *Service) Depth(ctx context.Context) (int, error) {
	return s.backend.Len(ctx)
}

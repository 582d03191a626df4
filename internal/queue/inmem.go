package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
)

// Compile-time interface check.
var _ Backend = (*MemoryBackend)(nil)

// entry wraps a [Job] with scheduling metadata for the priority queue. The
// seq field provides FIFO ordering within the same priority class.
type entry struct {
	job Job
	seq uint64 // monotonic insertion order for FIFO tie-breaking
}

// jobHeap implements [container/heap.Interface] as a max-heap ordered by
// priority (descending), with FIFO tie-breaking on seq (ascending).
type jobHeap []entry

func (h jobHeap) Len() int { return len(h) }

// Less reports whether element i should be dequeued before element j.
// Higher priority wins; equal priority falls back to insertion order.
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// MemoryBackend is the lock-protected in-memory [Backend]. Jobs are lost on
// process exit.
type MemoryBackend struct {
	mu      sync.Mutex
	heap    jobHeap
	nextSeq uint64
	closed  bool

	// notify wakes at most one blocked Dequeue per signal. Sends and the
	// final close happen with mu held, so a send never races the close.
	notify chan struct{}
}

// NewMemoryBackend returns an empty [MemoryBackend].
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		notify: make(chan struct{}, 1),
	}
}

// wake must be called with b.mu held.
func (b *MemoryBackend) wake() {
	if b.closed {
		return
	}
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Enqueue implements [Backend].
func (b *MemoryBackend) Enqueue(ctx context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("queue: backend closed")
	}
	heap.Push(&b.heap, entry{job: job, seq: b.nextSeq})
	b.nextSeq++
	b.wake()
	return nil
}

// Dequeue implements [Backend].
func (b *MemoryBackend) Dequeue(ctx context.Context) (*Job, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, fmt.Errorf("queue: backend closed")
		}
		if b.heap.Len() > 0 {
			e := heap.Pop(&b.heap).(entry)
			if b.heap.Len() > 0 {
				// More work queued: wake the next waiter.
				b.wake()
			}
			b.mu.Unlock()
			job := e.job
			return &job, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		}
	}
}

// Len implements [Backend].
func (b *MemoryBackend) Len(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.heap.Len(), nil
}

// Close implements [Backend]. Blocked Dequeue calls return an error.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.notify)
	return nil
}

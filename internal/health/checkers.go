package health

import (
	"context"
	"fmt"

	"github.com/MrWong99/clarivox/internal/queue"
	"github.com/MrWong99/clarivox/internal/store"
)

// StoreChecker probes the persistence backend by loading a sentinel session.
// A store that cannot serve hydration reads is not ready: new sessions would
// start with silently wrong state.
func StoreChecker(s store.Store) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := s.LoadSession(ctx, "health-probe")
			return err
		},
	}
}

// QueueChecker reports unready when the queue backend is unreachable or the
// backlog exceeds maxDepth (0 disables the depth limit).
func QueueChecker(b queue.Backend, maxDepth int) Checker {
	return Checker{
		Name: "queue",
		Check: func(ctx context.Context) error {
			n, err := b.Len(ctx)
			if err != nil {
				return err
			}
			if maxDepth > 0 && n > maxDepth {
				return fmt.Errorf("backlog %d exceeds limit %d", n, maxDepth)
			}
			return nil
		},
	}
}

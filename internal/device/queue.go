package device

import (
	"context"
	"slices"
	"sync"
)

// requestQueue is a lock that hands itself to waiters in arrival order,
// unlike sync.Mutex.
type requestQueue struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// acquire blocks until the caller owns the queue or ctx is done.
func (q *requestQueue) acquire(ctx context.Context) error {
	q.mu.Lock()
	if !q.busy && len(q.waiters) == 0 {
		q.busy = true
		q.mu.Unlock()
		return nil
	}
	turn := make(chan struct{})
	q.waiters = append(q.waiters, turn)
	q.mu.Unlock()

	select {
	case <-turn:
		return nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	if i := slices.Index(q.waiters, turn); i >= 0 {
		q.waiters = slices.Delete(q.waiters, i, i+1)
		q.mu.Unlock()
		return ctx.Err()
	}
	q.mu.Unlock()

	// The turn was handed over while we were giving up; pass it on.
	q.release()
	return ctx.Err()
}

// release hands the queue to the longest waiter, or frees it.
func (q *requestQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiters) == 0 {
		q.busy = false
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next)
}

// pending reports how many callers are waiting.
func (q *requestQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultAsyncBuffer is the queue length used when NewAsync is given zero.
const DefaultAsyncBuffer = 256

type queued struct {
	ctx context.Context
	e   Event
}

// Async hands events to a slower sink from a single goroutine. When the
// queue is full the event is dropped and counted.
type Async struct {
	next    Sink
	ch      chan queued
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the delivery goroutine. Call Close to drain and stop it.
func NewAsync(next Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = DefaultAsyncBuffer
	}
	a := &Async{
		next: next,
		ch:   make(chan queued, buffer),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for q := range a.ch {
		a.next.Publish(q.ctx, q.e)
	}
}

// Publish queues e without blocking.
func (a *Async) Publish(ctx context.Context, e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.ch <- queued{ctx: context.WithoutCancel(ctx), e: e}:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close delivers what is queued and stops. It is idempotent.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}

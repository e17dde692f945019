package dispatch

import (
	"context"
	"sync"
)

// Serial runs submitted work one item at a time, in submission order, on a
// single goroutine.
type Serial struct {
	work   chan func()
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// NewSerial starts a serial queue with room for backlog pending items
func NewSerial(backlog int) *Serial {
	if backlog <= 0 {
		backlog = 16
	}
	s := &Serial{
		work: make(chan func(), backlog),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Serial) run() {
	defer close(s.done)
	for fn := range s.work {
		fn()
	}
}

// Async enqueues fn. It reports false if the queue is closed.
func (s *Serial) Async(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.work <- fn
	return true
}

// Sync enqueues fn and waits for it to run or for ctx to end
func (s *Serial) Sync(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !s.Async(func() {
		defer close(finished)
		fn()
	}) {
		return context.Canceled
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for queued work to drain
func (s *Serial) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.work)
	s.mu.Unlock()
	<-s.done
}

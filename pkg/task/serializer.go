// Package task provides a per-key FIFO task serializer (spec §4.9): a
// simple guarantee that at most one task runs per key at a time, that
// add(task) returns a future resolving or rejecting with the task's
// outcome, and that a rejected task never blocks the tasks queued after
// it. Grounded on the teacher's pkg/database/worker_pool.go: the same
// context-cancel shutdown idiom, narrowed from a fixed
// pool of N workers pulling off one shared queue to exactly one
// goroutine per key pulling off that key's own queue, so that work under
// different keys runs concurrently while work under the same key never
// does.
package task

import (
	"context"
	"errors"
	"sync"

	"github.com/mnohosten/relaydb/pkg/concurrent"
)

// ErrDisposed is returned by a Future when Serializer.Dispose ran before
// the task reached the front of its key's queue.
var ErrDisposed = errors.New("task: serializer disposed")

// Func is a unit of work submitted under some key.
type Func func(ctx context.Context) (interface{}, error)

// Future is the handle returned by Add: Wait blocks until the task has
// run (or the serializer was disposed first) and returns its outcome.
type Future struct {
	done   chan struct{}
	result interface{}
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(result interface{}, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Wait blocks until the task completes or ctx is cancelled first.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type entry struct {
	fn     Func
	future *Future
}

type queue struct {
	mu      sync.Mutex
	pending []entry
	running bool
}

// Serializer runs Funcs added under the same key strictly in FIFO order,
// one at a time; Funcs under different keys run concurrently with each
// other.
type Serializer struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	queues    map[string]*queue
	completed *concurrent.Counter
}

// New creates a Serializer. The returned Serializer must be disposed via
// Dispose once no longer needed.
func New() *Serializer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Serializer{
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string]*queue),
		completed: concurrent.NewCounter(),
	}
}

// Completed returns the number of tasks this Serializer has run to
// completion (successfully or not) across every key, since construction.
func (s *Serializer) Completed() uint64 {
	return s.completed.Load()
}

// Add enqueues fn under key and returns a Future for its outcome. If the
// serializer has already been disposed, fn is never run and the returned
// Future resolves immediately with ErrDisposed.
func (s *Serializer) Add(key string, fn Func) *Future {
	future := newFuture()

	select {
	case <-s.ctx.Done():
		future.resolve(nil, ErrDisposed)
		return future
	default:
	}

	s.mu.Lock()
	q, ok := s.queues[key]
	if !ok {
		q = &queue{}
		s.queues[key] = q
	}
	s.mu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, entry{fn: fn, future: future})
	startWorker := !q.running
	if startWorker {
		q.running = true
	}
	q.mu.Unlock()

	if startWorker {
		go s.drain(key, q)
	}
	return future
}

// drain runs every pending task for key in order, one at a time, until
// the queue empties; it then marks the queue idle so the next Add call
// spawns a fresh drain goroutine.
func (s *Serializer) drain(key string, q *queue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if s.ctx.Err() != nil {
			next.future.resolve(nil, ErrDisposed)
			continue
		}
		// A task that errors or panics-free-fails resolves its own future
		// with that error; it never blocks the tasks queued behind it.
		result, err := next.fn(s.ctx)
		next.future.resolve(result, err)
		s.completed.Inc()
	}
}

// HasPending reports whether key currently has a task running or waiting.
func (s *Serializer) HasPending(key string) bool {
	s.mu.Lock()
	q, ok := s.queues[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running || len(q.pending) > 0
}

// Dispose cancels the serializer: every task still waiting in any key's
// queue resolves with ErrDisposed without running, and any Add call made
// afterward rejects immediately the same way. A task already in flight
// runs to completion; Dispose does not interrupt it.
func (s *Serializer) Dispose() {
	s.cancel()
}

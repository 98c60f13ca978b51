package reactivity

import (
	"context"
	"sync"
)

// Adapter is the pluggable reactivity contract: collection and cursor code
// depend only on this interface, never on a concrete reactive runtime, so a
// host application can plug in its own (a UI framework's reactive
// scheduler) or fall back to NullAdapter for non-reactive server use.
type Adapter interface {
	// Create returns a fresh Dependency for a piece of reactive state
	// (e.g. "the result set of this cursor").
	Create() *Dependency
	// IsInScope reports whether ctx carries an active computation, i.e.
	// whether a Depend() call right now would register anything.
	IsInScope(ctx context.Context) bool
	// OnDispose registers callback to run when the active computation on
	// ctx stops. If ctx carries no computation, callback runs immediately
	// (there is nothing to tie its lifetime to).
	OnDispose(ctx context.Context, callback func())
}

// DefaultAdapter is the Computation/context-based reactive runtime defined
// in this package. It is what Collection and Cursor use unless a caller
// injects a host-specific Adapter.
type DefaultAdapter struct{}

var _ Adapter = DefaultAdapter{}

func (DefaultAdapter) Create() *Dependency { return NewDependency() }

func (DefaultAdapter) IsInScope(ctx context.Context) bool {
	comp, ok := ComputationFromContext(ctx)
	return ok && !comp.Stopped() && !comp.Invalidated()
}

func (DefaultAdapter) OnDispose(ctx context.Context, callback func()) {
	comp, ok := ComputationFromContext(ctx)
	if !ok {
		callback()
		return
	}
	comp.OnInvalidate(callback)
}

// NullAdapter disables reactivity entirely: Depend is always a no-op,
// IsInScope is always false, and OnDispose fires immediately. A Collection
// uses it only when passed explicitly in its Options.Reactivity.
type NullAdapter struct{}

var _ Adapter = NullAdapter{}

func (NullAdapter) Create() *Dependency            { return newDisabledDependency() }
func (NullAdapter) IsInScope(context.Context) bool { return false }
func (NullAdapter) OnDispose(_ context.Context, callback func()) {
	callback()
}

// Autorun starts fn running under a fresh per-run Computation, immediately
// and again every time a Dependency that run read is notified, until the
// returned handle is stopped or ctx is cancelled. The rerun loop is a
// single goroutine gated by a channel, the same cancel-and-drain shape as
// the teacher's worker pool shutdown path: one goroutine, one done signal,
// no polling.
//
// The Computation passed to fn on each run is scoped to that run alone;
// the Computation Autorun returns is a stable handle whose Stop ends the
// whole autorun, not just the in-flight run.
func Autorun(ctx context.Context, fn func(ctx context.Context, c *Computation)) *Computation {
	handle := NewComputation()
	rerun := make(chan struct{}, 1)
	stopped := make(chan struct{})
	var stopOnce sync.Once
	handle.OnInvalidate(func() { stopOnce.Do(func() { close(stopped) }) })

	runOnce := func() *Computation {
		current := NewComputation()
		current.OnInvalidate(func() {
			select {
			case rerun <- struct{}{}:
			default:
			}
		})
		fn(WithComputation(ctx, current), current)
		return current
	}
	current := runOnce()

	go func() {
		for {
			select {
			case <-ctx.Done():
				handle.Stop()
				return
			case <-stopped:
				current.Stop()
				return
			case <-rerun:
				current.Stop()
				current = runOnce()
			}
		}
	}()

	return handle
}

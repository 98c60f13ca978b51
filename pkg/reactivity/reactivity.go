// Package reactivity implements the dependency-tracking primitives that let
// a Cursor re-run its fetch when the documents it last read change, without
// the cursor owner polling for changes. It mirrors the Tracker/Dependency
// model used by reactive UI data layers: a Computation is "the thing
// currently running reactively"; a Dependency remembers which computations
// read it and invalidates them on Notify.
//
// Go has no implicit call-stack-local state, so "the currently running
// computation" is carried explicitly on a context.Context rather than a
// package-level global, the way the teacher threads request-scoped state
// through its worker pool.
package reactivity

import (
	"context"
	"sync"
)

type computationContextKey struct{}

// WithComputation returns a context carrying comp as the active computation,
// so that any Dependency.Depend(ctx) call made while evaluating comp's
// function registers comp as a dependent.
func WithComputation(ctx context.Context, comp *Computation) context.Context {
	return context.WithValue(ctx, computationContextKey{}, comp)
}

// ComputationFromContext returns the active computation, if any.
func ComputationFromContext(ctx context.Context) (*Computation, bool) {
	comp, ok := ctx.Value(computationContextKey{}).(*Computation)
	return comp, ok
}

// Computation is a single run of a reactive function. It starts valid and
// becomes invalidated exactly once, at which point every OnInvalidate
// callback fires and it is done: computations are not reused, matching how
// Cursor re-fetch and re-subscribe by creating a fresh one each cycle.
type Computation struct {
	mu            sync.Mutex
	invalidated   bool
	stopped       bool
	onInvalidate  []func()
	firstRun      bool
	recomputeFunc func(ctx context.Context, c *Computation)
}

// NewComputation creates a computation without running it. Callers that
// want autorun semantics should use Autorun instead.
func NewComputation() *Computation {
	return &Computation{firstRun: true}
}

// Invalidate marks the computation invalid and runs its invalidation
// callbacks exactly once. Safe to call multiple times or concurrently.
func (c *Computation) Invalidate() {
	c.mu.Lock()
	if c.invalidated {
		c.mu.Unlock()
		return
	}
	c.invalidated = true
	callbacks := c.onInvalidate
	c.onInvalidate = nil
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Stop invalidates the computation and marks it stopped, preventing
// Autorun from scheduling another run.
func (c *Computation) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.Invalidate()
}

// OnInvalidate registers a callback to run when the computation is
// invalidated. If it is already invalidated, the callback runs immediately.
func (c *Computation) OnInvalidate(callback func()) {
	c.mu.Lock()
	if c.invalidated {
		c.mu.Unlock()
		callback()
		return
	}
	c.onInvalidate = append(c.onInvalidate, callback)
	c.mu.Unlock()
}

// Invalidated reports whether the computation has already been invalidated.
func (c *Computation) Invalidated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated
}

// Stopped reports whether Stop has been called.
func (c *Computation) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Dependency tracks the set of computations that depended on some piece of
// reactive state, and invalidates all of them on Notify.
type Dependency struct {
	mu       sync.Mutex
	pending  map[*Computation]struct{}
	disabled bool
}

// NewDependency creates an empty dependency.
func NewDependency() *Dependency {
	return &Dependency{pending: make(map[*Computation]struct{})}
}

// newDisabledDependency creates a Dependency whose Depend and Notify are
// permanent no-ops, for NullAdapter.
func newDisabledDependency() *Dependency {
	return &Dependency{pending: make(map[*Computation]struct{}), disabled: true}
}

// Depend registers the computation active on ctx (if any) as dependent on
// this Dependency, and arranges for it to be forgotten once that
// computation is invalidated. Returns false if there was no active
// computation (called outside a reactive scope) or it was already stopped.
func (d *Dependency) Depend(ctx context.Context) bool {
	if d.disabled {
		return false
	}
	comp, ok := ComputationFromContext(ctx)
	if !ok || comp.Stopped() || comp.Invalidated() {
		return false
	}

	d.mu.Lock()
	if _, exists := d.pending[comp]; exists {
		d.mu.Unlock()
		return true
	}
	d.pending[comp] = struct{}{}
	d.mu.Unlock()

	comp.OnInvalidate(func() {
		d.mu.Lock()
		delete(d.pending, comp)
		d.mu.Unlock()
	})
	return true
}

// Notify invalidates every computation currently depending on this
// Dependency.
func (d *Dependency) Notify() {
	if d.disabled {
		return
	}
	d.mu.Lock()
	computations := make([]*Computation, 0, len(d.pending))
	for c := range d.pending {
		computations = append(computations, c)
	}
	d.mu.Unlock()

	for _, c := range computations {
		c.Invalidate()
	}
}

// HasDependents reports whether any computation currently depends on this
// Dependency.
func (d *Dependency) HasDependents() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) > 0
}

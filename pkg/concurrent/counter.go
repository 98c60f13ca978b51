package concurrent

import "sync/atomic"

// Counter is a lock-free uint64 counter. pkg/task.Serializer uses one to
// tally completed tasks without taking its own queue lock just to bump a
// number.
type Counter struct {
	value uint64
}

// NewCounter returns a Counter starting at 0.
func NewCounter() *Counter {
	return &Counter{}
}

// Inc adds 1 and returns the new value.
func (c *Counter) Inc() uint64 { return atomic.AddUint64(&c.value, 1) }

// Add adds delta and returns the new value.
func (c *Counter) Add(delta uint64) uint64 { return atomic.AddUint64(&c.value, delta) }

// Dec subtracts 1 and returns the new value.
func (c *Counter) Dec() uint64 { return atomic.AddUint64(&c.value, ^uint64(0)) }

// Sub subtracts delta and returns the new value.
func (c *Counter) Sub(delta uint64) uint64 { return atomic.AddUint64(&c.value, ^(delta - 1)) }

// Load returns the current value.
func (c *Counter) Load() uint64 { return atomic.LoadUint64(&c.value) }

// Store sets the counter to value.
func (c *Counter) Store(value uint64) { atomic.StoreUint64(&c.value, value) }

// CompareAndSwap sets the counter to new if it currently equals old.
func (c *Counter) CompareAndSwap(old, new uint64) bool {
	return atomic.CompareAndSwapUint64(&c.value, old, new)
}

// Swap sets the counter to new and returns the previous value.
func (c *Counter) Swap(new uint64) uint64 { return atomic.SwapUint64(&c.value, new) }

// Reset sets the counter to 0 and returns the value it held before.
func (c *Counter) Reset() uint64 { return atomic.SwapUint64(&c.value, 0) }

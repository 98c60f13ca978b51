package collection

import (
	"context"
	"math/rand"
	"time"
)

const (
	degradedRetryBase = 200 * time.Millisecond
	degradedRetryCap  = 10 * time.Second
)

// scheduleRetry queues op to keep running against the storage adapter
// until it succeeds, with exponential-with-jitter backoff between
// attempts (spec: "writes continue and are retried against storage with
// bounded exponential backoff"). The caller has already applied its
// change to the in-memory document set before op is queued, so reads
// are unaffected by op still being outstanding.
func (c *Collection) scheduleRetry(op func(ctx context.Context) error) {
	c.pendingMu.Lock()
	c.pendingOps = append(c.pendingOps, op)
	startLoop := !c.retryRunning
	if startLoop {
		c.retryRunning = true
		c.retryDone = make(chan struct{})
	}
	c.pendingMu.Unlock()

	if startLoop {
		go c.retryLoop()
	}
}

func (c *Collection) hasPendingOps() bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pendingOps) > 0
}

// retryLoop drains pendingOps in order, retrying the head of the queue
// until it succeeds before moving to the next, and clears StateDegraded
// once the queue is empty.
func (c *Collection) retryLoop() {
	failures := 0
	for {
		c.pendingMu.Lock()
		if len(c.pendingOps) == 0 {
			c.retryRunning = false
			done := c.retryDone
			c.pendingMu.Unlock()
			c.state.clearDegraded()
			if done != nil {
				close(done)
			}
			return
		}
		op := c.pendingOps[0]
		c.pendingMu.Unlock()

		select {
		case <-c.stopRetry:
			return
		default:
		}

		if err := op(context.Background()); err != nil {
			failures++
			c.debug("_debug.storageRetryFailed", map[string]interface{}{"error": err.Error()})
			select {
			case <-time.After(degradedBackoff(failures)):
			case <-c.stopRetry:
				return
			}
			continue
		}

		failures = 0
		c.pendingMu.Lock()
		c.pendingOps = c.pendingOps[1:]
		c.pendingMu.Unlock()
	}
}

// awaitFlush blocks until any outstanding degraded-storage retries have
// drained, or ctx is done, whichever comes first — Dispose calls this
// before releasing resources so queued writes are not silently abandoned
// (spec: dispose "flushes pending writes, then releases resources").
func (c *Collection) awaitFlush(ctx context.Context) {
	c.pendingMu.Lock()
	done := c.retryDone
	c.pendingMu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func degradedBackoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := degradedRetryBase
	for i := 1; i < failures && delay < degradedRetryCap; i++ {
		delay *= 2
	}
	if delay > degradedRetryCap {
		delay = degradedRetryCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay/2 + jitter
}

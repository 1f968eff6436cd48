package download

import "sync/atomic"

// CancelToken is the cooperative cancellation flag of one task. It is created
// at submission, set by per-task or batch cancellation, and consulted by the
// executor inside every progress callback - cancellation latency is bounded
// only by the engine's callback cadence, there is no timer polling.
type CancelToken struct {
	flag atomic.Bool
}

// Cancel sets the flag. Safe to call from any goroutine, idempotent.
func (t *CancelToken) Cancel() {
	t.flag.Store(true)
}

// Cancelled reports whether the flag is set
func (t *CancelToken) Cancelled() bool {
	return t.flag.Load()
}

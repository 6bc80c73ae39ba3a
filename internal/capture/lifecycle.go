package capture

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle holds the process-wide halt and reload flags shared between the
// signal observers, the capture workers and the main goroutine.
type Lifecycle struct {
	halt       atomic.Bool
	reload     atomic.Bool
	lastReload atomic.Int64

	mu           sync.Mutex
	workersEnded int
	workers      int
}

// NewLifecycle creates the lifecycle state for a capture run with the given
// number of workers.
func NewLifecycle(workers int) *Lifecycle {
	l := &Lifecycle{workers: workers}
	l.lastReload.Store(-1)
	return l
}

// RequestHalt asks every thread to begin a clean exit.
func (l *Lifecycle) RequestHalt() {
	l.halt.Store(true)
}

// Halted reports whether a halt has been requested.
func (l *Lifecycle) Halted() bool {
	return l.halt.Load()
}

// RequestReload marks a reload request. Requests are rate-limited to at most
// one per whole second of the monotonic clock; a request inside the limit is
// dropped.
func (l *Lifecycle) RequestReload() {
	now := monotonicSeconds()
	last := l.lastReload.Load()
	if now > last && l.lastReload.CompareAndSwap(last, now) {
		l.reload.Store(true)
	}
}

// ReloadRequested reports whether a reload is pending.
func (l *Lifecycle) ReloadRequested() bool {
	return l.reload.Load()
}

// MarkWorkerEnded records that one worker has drained after a reload.
// Returns true when this was the last worker, in which case the global halt
// flag has been set.
func (l *Lifecycle) MarkWorkerEnded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workersEnded++
	if l.workersEnded >= l.workers {
		l.halt.Store(true)
		return true
	}
	return false
}

var monotonicBase = time.Now()

// monotonicSeconds reads the monotonic clock so reload rate-limiting cannot
// be confused by wall-clock adjustments.
func monotonicSeconds() int64 {
	return int64(time.Since(monotonicBase).Seconds())
}

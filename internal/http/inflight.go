package http

import (
	"context"
	"sync"
)

// InFlightTracker counts requests currently being served so shutdown can drain them.
// The zero value is ready to use.
type InFlightTracker struct {
	mu   sync.Mutex
	n    int64
	idle chan struct{} // closed when n drops back to zero
}

func (t *InFlightTracker) Increment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
}

func (t *InFlightTracker) Decrement() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		return
	}
	t.n--
	if t.n == 0 {
		close(t.idle)
		t.idle = nil
	}
}

func (t *InFlightTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// WaitForZero blocks until nothing is in flight or ctx ends.
func (t *InFlightTracker) WaitForZero(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// globalInFlightTracker is fed by MetricsMiddleware.
var globalInFlightTracker = &InFlightTracker{}

// InFlightCount returns the number of advisory and health requests being served.
func InFlightCount() int64 {
	return globalInFlightTracker.Count()
}

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
func WaitForInFlight(ctx context.Context) error {
	return globalInFlightTracker.WaitForZero(ctx)
}

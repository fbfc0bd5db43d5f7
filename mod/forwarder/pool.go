package forwarder

import (
	"context"
	"sync"
)

// hostSemaphore is a per-upstream-host concurrency gate. It generalises the
// teacher's hard-coded transport-level connection cap into an explicit,
// configurable admission gate the forwarder can block on with a context.
type hostSemaphore struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	cap   int
}

func newHostSemaphore(perHostCap int) *hostSemaphore {
	if perHostCap <= 0 {
		perHostCap = 200
	}
	return &hostSemaphore{gates: make(map[string]chan struct{}), cap: perHostCap}
}

func (s *hostSemaphore) gateFor(host string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[host]
	if !ok {
		g = make(chan struct{}, s.cap)
		s.gates[host] = g
	}
	return g
}

// acquire blocks until a slot for host is available or ctx is done. It
// returns a release function that must be called exactly once, and nil,
// ctx.Err() if the context expired first.
func (s *hostSemaphore) acquire(ctx context.Context, host string) (func(), error) {
	g := s.gateFor(host)
	select {
	case g <- struct{}{}:
		return func() { <-g }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

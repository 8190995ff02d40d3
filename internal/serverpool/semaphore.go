package serverpool

import "context"

// semaphore is a simple channel-backed counting semaphore gating the
// number of concurrent requests in flight against one language's server
// instances (max_concurrent_requests_per_server).
type semaphore struct {
	slots chan struct{}
}

func newSemaphore(n int) *semaphore {
	return &semaphore{slots: make(chan struct{}, n)}
}

// acquire blocks until a slot is free or ctx is done.
func (s *semaphore) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) release() {
	select {
	case <-s.slots:
	default:
	}
}

// tryAcquire attempts a non-blocking acquire, used for fast-reject under
// queue pressure.
func (s *semaphore) tryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *semaphore) inFlight() int {
	return len(s.slots)
}

func (s *semaphore) capacity() int {
	return cap(s.slots)
}

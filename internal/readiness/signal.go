// Package readiness provides the single-use completion signal plugins use to
// report that their asynchronous startup work has finished.
package readiness

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Signal is completed at most once by a producer and observed by any number of
// waiters. Closing the signal releases waiters without completing it.
type Signal struct {
	clock clock.Clock

	mu        sync.Mutex
	completed bool
	closed    bool
	done      chan struct{}
}

// Option customizes a Signal.
type Option func(*Signal)

// WithClock injects the clock used for timed waits (primarily for tests).
func WithClock(c clock.Clock) Option {
	return func(s *Signal) {
		if c != nil {
			s.clock = c
		}
	}
}

// New returns an open signal.
func New(opts ...Option) *Signal {
	s := &Signal{
		clock: clock.New(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Complete marks the signal completed. It reports whether this call performed
// the transition; completing a completed or closed signal is a no-op.
func (s *Signal) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed || s.closed {
		return false
	}
	s.completed = true
	close(s.done)
	return true
}

// Close permanently disables the signal. Pending and future waits return
// false unless the signal had already completed.
func (s *Signal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if !s.completed {
		close(s.done)
	}
}

// Done returns a channel closed once the signal is completed or closed.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Completed reports whether Complete succeeded.
func (s *Signal) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Closed reports whether Close was called.
func (s *Signal) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Wait blocks until the signal is completed or closed and reports whether it
// completed.
func (s *Signal) Wait() bool {
	<-s.done
	return s.Completed()
}

// WaitFor blocks until the signal is completed, closed, or timeout elapses.
// A non-positive timeout waits without a deadline.
func (s *Signal) WaitFor(timeout time.Duration) bool {
	return s.WaitForClock(s.clock, timeout)
}

// WaitForClock is WaitFor measured against c instead of the signal's clock.
func (s *Signal) WaitForClock(c clock.Clock, timeout time.Duration) bool {
	if timeout <= 0 {
		return s.Wait()
	}
	if c == nil {
		c = s.clock
	}
	timer := c.Timer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return s.Completed()
	case <-timer.C:
		// a completion racing the deadline still counts
		return s.Completed()
	}
}

package acquire

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// A Signal is a one-shot event, such as the emulator runtime reporting it's
// ready. Waiters are released when it fires, or give up after a deadline.
type Signal struct {
	once sync.Once
	ch   chan struct{}
	name string
}

// NewSignal returns an unfired signal. name is used in error messages.
func NewSignal(name string) *Signal {
	return &Signal{ch: make(chan struct{}), name: name}
}

// Fire releases all current and future waiters. Firing more than once is a
// no-op.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Fired reports whether the signal has fired.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the signal fires.
func (s *Signal) Done() <-chan struct{} { return s.ch }

// Wait blocks until the signal fires, ctx is done, or timeout elapses, in
// which case it returns an error wrapping ErrTimeout. A timeout <= 0 waits
// without deadline.
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case <-s.ch:
		return nil
	case <-deadline:
		return fmt.Errorf("%s: no signal after %v: %w", s.name, timeout, ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

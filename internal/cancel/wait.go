package cancel

import (
	"errors"
	"sync"
	"time"
)

// Timeouts accepted by Wait and every blocking buffer operation built on it.
const (
	// Forever blocks until ready or cancelled.
	Forever time.Duration = -1

	// NoWait checks readiness once and returns immediately.
	NoWait time.Duration = 0
)

var (
	// ErrCancelled is returned by a wait that was unblocked by Set. It is an
	// expected result during shutdown, not a failure.
	ErrCancelled = errors.New("cancelled")

	// ErrNotReady is returned when a wait times out before its predicate holds.
	ErrNotReady = errors.New("not ready")
)

// Wait blocks on c until ready returns true, the flag is set, or timeout
// elapses. The caller must hold c.L, and ready is evaluated with c.L held.
// The flag's watchers must broadcast on c for cancellation to be prompt.
func (f *Flag) Wait(c *sync.Cond, timeout time.Duration, ready func() bool) error {
	if f.IsSet() {
		return ErrCancelled
	}
	if ready() {
		return nil
	}
	if timeout == NoWait {
		return ErrNotReady
	}

	expired := false
	if timeout > 0 {
		t := time.AfterFunc(timeout, func() {
			c.L.Lock()
			expired = true
			c.Broadcast()
			c.L.Unlock()
		})
		defer t.Stop()
	}

	for {
		c.Wait()
		if f.IsSet() {
			return ErrCancelled
		}
		if ready() {
			return nil
		}
		if expired {
			return ErrNotReady
		}
	}
}

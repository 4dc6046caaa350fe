// Package cancel provides the shared "kill now" flag that every blocking wait
// in a pipeline checks.
package cancel

import (
	"sync"
	"sync/atomic"
)

// A Flag is a one-way cancellation switch. Waiters register a wake function
// with Watch; Set runs every registered function after the flag is raised.
//
// Wake functions are expected to acquire the waiter's own mutex before
// broadcasting on its condition variable. Because the flag is raised before
// the wake functions run, a waiter that tests IsSet under its mutex can never
// miss the wakeup.
type Flag struct {
	set atomic.Bool

	mu      sync.Mutex
	nextID  int
	watches map[int]func()
}

func New() *Flag {
	return &Flag{watches: make(map[int]func())}
}

// IsSet reports whether Set has been called.
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

// Set raises the flag and wakes every watcher. Safe to call from any
// goroutine, any number of times.
func (f *Flag) Set() {
	if f.set.Swap(true) {
		return
	}

	f.mu.Lock()
	wakes := make([]func(), 0, len(f.watches))
	for _, wake := range f.watches {
		wakes = append(wakes, wake)
	}
	f.mu.Unlock()

	for _, wake := range wakes {
		wake()
	}
}

// Watch registers wake to be run by Set. The returned function unregisters
// it. If the flag is already set, wake runs immediately.
func (f *Flag) Watch(wake func()) (unwatch func()) {
	f.mu.Lock()
	if f.watches == nil {
		f.watches = make(map[int]func())
	}
	id := f.nextID
	f.nextID++
	f.watches[id] = wake
	f.mu.Unlock()

	if f.IsSet() {
		wake()
	}

	return func() {
		f.mu.Lock()
		delete(f.watches, id)
		f.mu.Unlock()
	}
}

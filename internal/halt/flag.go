// ABOUTME: Process-wide set-once stop flag shared by every fleet component.
// ABOUTME: The false→true transition happens exactly once, no matter how many triggers race.

package halt

import (
	"sync"
	"sync/atomic"
)

// Flag is a write-once stop signal. Any number of goroutines may call Set
// concurrently; exactly one of them performs the transition. A Flag never
// resets.
type Flag struct {
	tripped atomic.Bool
	done    chan struct{}

	mu     sync.Mutex
	reason string
}

// NewFlag returns an untripped Flag.
func NewFlag() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Set trips the flag. It returns true iff this call performed the
// false→true transition; all losing concurrent callers get false.
func (f *Flag) Set(reason string) bool {
	if !f.tripped.CompareAndSwap(false, true) {
		return false
	}
	f.mu.Lock()
	f.reason = reason
	f.mu.Unlock()
	// Only the CAS winner reaches this close.
	close(f.done)
	return true
}

// IsSet reports whether the flag has been tripped.
func (f *Flag) IsSet() bool {
	return f.tripped.Load()
}

// Done returns a channel that is closed when the flag is tripped.
func (f *Flag) Done() <-chan struct{} {
	return f.done
}

// Reason returns the reason recorded by the winning Set call, or "" if the
// flag has not been tripped.
func (f *Flag) Reason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

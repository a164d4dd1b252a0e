// Package clock provides the time source shared by every core of a process.
package clock

import (
	"sync"
	"time"
)

// Clock reports elapsed time since its creation and blocks the caller.
// Implementations are safe for concurrent use.
type Clock interface {
	// Millis returns whole milliseconds elapsed since the clock started.
	Millis() int64
	Sleep(d time.Duration)
}

// Monotonic measures wall time from the moment it is constructed.
type Monotonic struct {
	start time.Time
}

func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

func (m *Monotonic) Millis() int64 {
	return time.Since(m.start).Milliseconds()
}

func (m *Monotonic) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Fake is a manually advanced clock. Sleep advances it instead of blocking.
type Fake struct {
	mu     sync.Mutex
	now    time.Duration
	sleeps int
}

func (f *Fake) Millis() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Milliseconds()
}

func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d
	f.sleeps++
}

// Advance moves the clock forward.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d
}

// Sleeps returns how many times Sleep was called.
func (f *Fake) Sleeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sleeps
}

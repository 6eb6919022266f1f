// Package globaltime is the process clock. Tests pin or step it to make
// run reports and phase timings deterministic.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu     sync.RWMutex
	mocked *time.Time
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	if mocked != nil {
		return *mocked
	}
	return time.Now()
}

func UTC() time.Time {
	return Now().UTC()
}

// SetMockTime pins the clock at t until ResetTime.
func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	pinned := t
	mocked = &pinned
}

// Advance moves a pinned clock forward by d. It is a no-op on the real
// clock.
func Advance(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	if mocked == nil {
		return
	}
	next := mocked.Add(d)
	mocked = &next
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	mocked = nil
}

// Package flight provides the single-flight guard shared by the upload drainer
// and the retention scanner. Contending callers are dropped, never queued.
package flight

import (
	"sync/atomic"
	"time"
)

// Guard is a try-acquire flag. The zero value is ready to use.
type Guard struct {
	held  atomic.Bool
	owner atomic.Value
	since atomic.Int64
}

// TryAcquire claims the guard for owner. It returns false without blocking when
// another holder already has it.
func (g *Guard) TryAcquire(owner string) bool {
	if !g.held.CompareAndSwap(false, true) {
		return false
	}
	g.owner.Store(owner)
	g.since.Store(time.Now().UnixNano())
	return true
}

// Release frees the guard.
func (g *Guard) Release() {
	g.owner.Store("")
	g.since.Store(0)
	g.held.Store(false)
}

// Held reports whether any caller holds the guard.
func (g *Guard) Held() bool {
	return g.held.Load()
}

// Owner returns the current holder's label and acquisition time.
func (g *Guard) Owner() (string, time.Time, bool) {
	if !g.held.Load() {
		return "", time.Time{}, false
	}
	owner, _ := g.owner.Load().(string)
	since := g.since.Load()
	if since == 0 {
		return owner, time.Time{}, true
	}
	return owner, time.Unix(0, since), true
}

// Package governor provides the admission gate that bounds how many
// simulation workers run concurrently, with a limit that can be resized
// while workers are in flight.
package governor

import (
	"sync"
	"time"

	"llm-perp-bot/internal/metrics"
)

// Governor is a resizable counting semaphore with FIFO admission.
// Raising the limit unblocks exactly the newly available number of
// waiters; lowering it never preempts in-flight work, the excess drains
// as workers release.
type Governor struct {
	mu       sync.Mutex
	limit    int
	inFlight int
	waiters  []chan struct{}
}

// New creates a governor admitting at most limit concurrent holders.
func New(limit int) *Governor {
	if limit < 1 {
		limit = 1
	}
	return &Governor{limit: limit}
}

// Acquire takes a slot, blocking up to timeout when at capacity.
// Returns false if no slot became available in time.
func (g *Governor) Acquire(timeout time.Duration) bool {
	g.mu.Lock()
	if g.inFlight < g.limit {
		g.inFlight++
		metrics.GovernorInFlight.Set(float64(g.inFlight))
		g.mu.Unlock()
		return true
	}
	grant := make(chan struct{}, 1)
	g.waiters = append(g.waiters, grant)
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-grant:
		return true
	case <-timer.C:
	}

	// Timed out. If the grant raced in while we were giving up, the slot
	// is ours and must be returned, not leaked.
	g.mu.Lock()
	for i, w := range g.waiters {
		if w == grant {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			g.mu.Unlock()
			return false
		}
	}
	g.mu.Unlock()
	select {
	case <-grant:
		g.Release()
	default:
	}
	return false
}

// Release returns a slot and hands it to the oldest waiter, if any.
func (g *Governor) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight == 0 {
		return
	}
	g.inFlight--
	g.grantLocked()
	metrics.GovernorInFlight.Set(float64(g.inFlight))
}

// SetLimit resizes the gate, effective immediately: raising it unblocks
// exactly newLimit-oldLimit waiters; lowering it lets in-flight work run
// to completion.
func (g *Governor) SetLimit(newLimit int) {
	if newLimit < 1 {
		newLimit = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limit = newLimit
	g.grantLocked()
	metrics.GovernorInFlight.Set(float64(g.inFlight))
}

func (g *Governor) grantLocked() {
	for len(g.waiters) > 0 && g.inFlight < g.limit {
		grant := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.inFlight++
		grant <- struct{}{}
	}
}

// InFlight reports how many slots are currently held.
func (g *Governor) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Limit reports the current capacity.
func (g *Governor) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// Available reports how many slots could be acquired without blocking.
func (g *Governor) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight >= g.limit {
		return 0
	}
	return g.limit - g.inFlight
}

package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leadharvest/leadharvest/internal/telemetry"
)

// Gate serializes outbound requests process-wide and enforces a minimum
// interval measured from the completion of the previous request. One Gate
// instance is injected into every fetcher so spacing holds across all
// concurrent crawl tasks. Tests instantiate their own isolated gates.
type Gate struct {
	interval time.Duration

	mu sync.Mutex
	// lastDone is the completion time of the most recent request. Guarded by
	// holding the gate between Acquire and Release.
	lastDone time.Time
}

// NewGate creates a gate with the given minimum inter-request spacing.
func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// Acquire blocks until the caller may issue a request: the gate is free and
// the spacing interval since the previous completion has elapsed. The caller
// must call Release once its request finishes (success or failure).
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()
	g.mu.Lock()

	wait := time.Duration(0)
	if !g.lastDone.IsZero() {
		wait = g.interval - time.Since(g.lastDone)
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			g.mu.Unlock()
			return fmt.Errorf("gate acquire: %w", ctx.Err())
		case <-timer.C:
		}
	}
	telemetry.ObserveGateDelay(time.Since(start))
	return nil
}

// Release records the request completion time and frees the gate.
func (g *Gate) Release() {
	g.lastDone = time.Now()
	g.mu.Unlock()
}

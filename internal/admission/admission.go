// Package admission bounds the number of orchestrations in flight.
package admission

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/places-scraper/internal/metrics"
)

// Controller hands out counting permits. TryAcquire never queues.
type Controller struct {
	sem    *semaphore.Weighted
	max    int
	active atomic.Int64
}

// New constructs a Controller allowing max concurrent permits (minimum 1).
func New(max int) *Controller {
	if max <= 0 {
		max = 1
	}
	return &Controller{sem: semaphore.NewWeighted(int64(max)), max: max}
}

// TryAcquire takes a permit if one is free and reports whether it did.
func (c *Controller) TryAcquire() bool {
	if !c.sem.TryAcquire(1) {
		metrics.ObserveAdmissionReject()
		return false
	}
	c.active.Add(1)
	metrics.IncActiveRuns()
	return true
}

// Acquire blocks until a permit is free or ctx ends. Background jobs use it
// so they stay pending instead of failing when the service is saturated.
func (c *Controller) Acquire(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire admission slot: %w", err)
	}
	c.active.Add(1)
	metrics.IncActiveRuns()
	return nil
}

// Release returns a permit. Releasing with none held is a no-op.
func (c *Controller) Release() {
	for {
		cur := c.active.Load()
		if cur <= 0 {
			return
		}
		if c.active.CompareAndSwap(cur, cur-1) {
			break
		}
	}
	metrics.DecActiveRuns()
	c.sem.Release(1)
}

// Active reports the permits currently held.
func (c *Controller) Active() int {
	return int(c.active.Load())
}

// Max reports the configured concurrency.
func (c *Controller) Max() int {
	return c.max
}

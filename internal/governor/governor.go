// Package governor implements the rate/resource governors: one
// process-wide LLM concurrency limit, one limit per external tool
// (chiefly web_fetch), and one fan-out limit per mission. Each wraps a
// golang.org/x/sync/semaphore.Weighted.
package governor

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Global gates total concurrent LLM requests across every mission in the
// process, independent of any per-mission limit.
type Global struct {
	sem *semaphore.Weighted
	cap int64
}

// NewGlobal creates the process-wide LLM semaphore (default capacity 200).
func NewGlobal(maxConcurrent int) *Global {
	if maxConcurrent <= 0 {
		maxConcurrent = 200
	}
	return &Global{sem: semaphore.NewWeighted(int64(maxConcurrent)), cap: int64(maxConcurrent)}
}

// Acquire blocks until a slot is free or ctx is cancelled (e.g. the
// mission was stopped while queued for a slot).
func (g *Global) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release returns the slot.
func (g *Global) Release() { g.sem.Release(1) }

// Capacity returns the configured concurrency ceiling.
func (g *Global) Capacity() int64 { return g.cap }

// ToolLimiter gates concurrency for a single external tool, chiefly
// web_fetch.
type ToolLimiter struct {
	sem *semaphore.Weighted
}

// NewToolLimiter creates a limiter admitting at most maxConcurrent
// simultaneous calls to one tool.
func NewToolLimiter(maxConcurrent int) *ToolLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &ToolLimiter{sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

func (t *ToolLimiter) Acquire(ctx context.Context) error { return t.sem.Acquire(ctx, 1) }
func (t *ToolLimiter) Release()                          { t.sem.Release(1) }

// MissionLimiter bounds how many concurrent sub-tasks (search queries,
// outline sections) one mission may run at once, independent of the
// global LLM cap, derived from mission_settings.max_concurrent_requests.
type MissionLimiter struct {
	sem *semaphore.Weighted
}

// NewMissionLimiter creates a per-mission fan-out limiter.
func NewMissionLimiter(maxConcurrent int) *MissionLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &MissionLimiter{sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

func (m *MissionLimiter) Acquire(ctx context.Context) error { return m.sem.Acquire(ctx, 1) }
func (m *MissionLimiter) Release()                          { m.sem.Release(1) }

// Package lifecycle manages the running/paused/stopped state of
// missions. Cancellation is cooperative: there is no forced-kill
// primitive for goroutines, so every suspension point in the Agent
// Controller takes a context derived from the handle this package hands
// out, and checks it (or lets a blocking call fail) before proceeding.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
)

// Handle is what a controller goroutine receives when a mission starts.
// It exposes the context to thread through every suspension point and
// WaitIfPaused, which a goroutine calls between steps.
type Handle struct {
	MissionID string
	ctx       context.Context
	cancel    context.CancelCauseFunc

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{} // closed and replaced each time Resume is called
}

// ErrStopped is the cancellation cause used by Stop.
var ErrStopped = fmt.Errorf("mission stopped")

// Context returns the cancellation context for this mission run.
func (h *Handle) Context() context.Context { return h.ctx }

// CheckContinue returns an error if the mission has been stopped.
// Callers invoke this at each phase boundary and before/after any
// blocking call.
func (h *Handle) CheckContinue() error {
	if err := h.ctx.Err(); err != nil {
		if cause := context.Cause(h.ctx); cause != nil {
			return cause
		}
		return err
	}
	return nil
}

// WaitIfPaused blocks the calling goroutine while the mission is paused,
// returning early if the mission is stopped while waiting. A paused
// mission's goroutine sits here between steps rather than spinning.
func (h *Handle) WaitIfPaused() error {
	for {
		h.mu.Lock()
		if !h.paused {
			h.mu.Unlock()
			return nil
		}
		ch := h.resumeCh
		h.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-h.ctx.Done():
			return h.CheckContinue()
		}
	}
}

// Manager tracks all currently registered mission handles. Stop only
// cancels the context and marks the mission as no longer running; the
// owning goroutine is responsible for observing that and exiting.
type Manager struct {
	mu       sync.Mutex
	missions map[string]*Handle
}

// NewManager creates an empty lifecycle manager.
func NewManager() *Manager {
	return &Manager{missions: make(map[string]*Handle)}
}

// Register creates and tracks a new handle for missionID, deriving its
// cancellation context from parent.
func (mgr *Manager) Register(parent context.Context, missionID string) *Handle {
	ctx, cancel := context.WithCancelCause(parent)
	h := &Handle{MissionID: missionID, ctx: ctx, cancel: cancel, resumeCh: make(chan struct{})}

	mgr.mu.Lock()
	mgr.missions[missionID] = h
	mgr.mu.Unlock()

	return h
}

// Pause marks a running mission paused; WaitIfPaused calls in its
// goroutine will block until Resume or Stop.
func (mgr *Manager) Pause(missionID string) bool {
	mgr.mu.Lock()
	h, ok := mgr.missions[missionID]
	mgr.mu.Unlock()
	if !ok {
		return false
	}
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
	return true
}

// Resume unblocks a paused mission's goroutine.
func (mgr *Manager) Resume(missionID string) bool {
	mgr.mu.Lock()
	h, ok := mgr.missions[missionID]
	mgr.mu.Unlock()
	if !ok {
		return false
	}
	h.mu.Lock()
	if h.paused {
		h.paused = false
		close(h.resumeCh)
		h.resumeCh = make(chan struct{})
	}
	h.mu.Unlock()
	return true
}

// Stop cancels a mission's context. It does not forcibly kill the
// goroutine driving the mission; it expects CheckContinue/WaitIfPaused
// calls in that goroutine to observe cancellation and unwind.
func (mgr *Manager) Stop(missionID string) bool {
	mgr.mu.Lock()
	h, ok := mgr.missions[missionID]
	mgr.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel(ErrStopped)
	// Unblock a paused mission so it can observe the cancellation promptly.
	h.mu.Lock()
	if h.paused {
		h.paused = false
		close(h.resumeCh)
		h.resumeCh = make(chan struct{})
	}
	h.mu.Unlock()
	return true
}

// Cleanup removes a mission's handle once its goroutine has exited.
func (mgr *Manager) Cleanup(missionID string) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	delete(mgr.missions, missionID)
}

// IsRunning reports whether a handle is registered and not yet cancelled.
func (mgr *Manager) IsRunning(missionID string) bool {
	mgr.mu.Lock()
	h, ok := mgr.missions[missionID]
	mgr.mu.Unlock()
	return ok && h.ctx.Err() == nil
}

// IsPaused reports whether a registered mission is currently paused.
func (mgr *Manager) IsPaused(missionID string) bool {
	mgr.mu.Lock()
	h, ok := mgr.missions[missionID]
	mgr.mu.Unlock()
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// RunningMissions lists all mission ids with a live context.
func (mgr *Manager) RunningMissions() []string {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	var ids []string
	for id, h := range mgr.missions {
		if h.ctx.Err() == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// StopAll stops every tracked mission and returns the count stopped.
func (mgr *Manager) StopAll() int {
	mgr.mu.Lock()
	ids := make([]string, 0, len(mgr.missions))
	for id := range mgr.missions {
		ids = append(ids, id)
	}
	mgr.mu.Unlock()

	count := 0
	for _, id := range ids {
		if mgr.Stop(id) {
			count++
		}
	}
	return count
}

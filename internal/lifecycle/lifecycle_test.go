package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStopCancelsContext(t *testing.T) {
	mgr := NewManager()
	h := mgr.Register(context.Background(), "m1")

	if err := h.CheckContinue(); err != nil {
		t.Fatalf("fresh handle should continue: %v", err)
	}
	if !mgr.Stop("m1") {
		t.Fatal("stop should find the mission")
	}
	if err := h.CheckContinue(); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if mgr.IsRunning("m1") {
		t.Error("stopped mission should not report running")
	}
}

func TestStopUnknownMission(t *testing.T) {
	mgr := NewManager()
	if mgr.Stop("ghost") {
		t.Error("stopping an unknown mission should return false")
	}
	if mgr.Pause("ghost") || mgr.Resume("ghost") {
		t.Error("pause/resume of an unknown mission should return false")
	}
}

func TestPauseBlocksUntilResume(t *testing.T) {
	mgr := NewManager()
	h := mgr.Register(context.Background(), "m1")

	mgr.Pause("m1")

	released := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		released <- h.WaitIfPaused()
	}()

	select {
	case <-released:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	mgr.Resume("m1")
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("resume should release cleanly, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after resume")
	}
	wg.Wait()
}

func TestStopWinsOverPause(t *testing.T) {
	mgr := NewManager()
	h := mgr.Register(context.Background(), "m1")
	mgr.Pause("m1")

	released := make(chan error, 1)
	go func() { released <- h.WaitIfPaused() }()

	time.Sleep(20 * time.Millisecond)
	mgr.Stop("m1")

	select {
	case err := <-released:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped from paused wait, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stop did not release a paused mission")
	}
}

func TestCleanupRemovesTracking(t *testing.T) {
	mgr := NewManager()
	mgr.Register(context.Background(), "m1")
	mgr.Cleanup("m1")
	if mgr.IsRunning("m1") {
		t.Error("cleaned-up mission should not be tracked")
	}
	if mgr.Stop("m1") {
		t.Error("stop after cleanup should return false")
	}
}

func TestStopAll(t *testing.T) {
	mgr := NewManager()
	mgr.Register(context.Background(), "m1")
	mgr.Register(context.Background(), "m2")
	mgr.Register(context.Background(), "m3")
	mgr.Stop("m3") // already stopped; StopAll still signals its handle

	if got := len(mgr.RunningMissions()); got != 2 {
		t.Errorf("running = %d, want 2", got)
	}
	if n := mgr.StopAll(); n != 3 {
		t.Errorf("StopAll = %d, want 3 signalled", n)
	}
	if got := len(mgr.RunningMissions()); got != 0 {
		t.Errorf("running after StopAll = %d, want 0", got)
	}
}

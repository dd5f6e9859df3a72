package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"missioncore/internal/domain/aggregate"
	"missioncore/internal/domain/events"
)

func newTestStore(t *testing.T, dir string) (*ContextStore, *FilesystemStore) {
	t.Helper()
	fs := NewFilesystemStore(dir)
	return NewContextStore(fs, nil), fs
}

func TestCreateAndGet(t *testing.T) {
	cs, fs := newTestStore(t, t.TempDir())
	defer fs.Close()
	ctx := context.Background()

	view, err := cs.CreateMission(ctx, "chat-1", "user-1", "explain gradient descent", events.MissionSettings{}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if view.Status != "pending" {
		t.Errorf("status = %q, want pending", view.Status)
	}

	got, err := cs.Get(ctx, view.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Goal != "explain gradient descent" {
		t.Errorf("goal = %q", got.Goal)
	}

	if _, err := cs.Get(ctx, "no-such-mission"); err == nil {
		t.Error("expected not-found error")
	}
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cs, fs := newTestStore(t, dir)
	view, err := cs.CreateMission(ctx, "chat-1", "user-1", "req", events.MissionSettings{ThoughtPadContextLimit: 5}, map[string]interface{}{"document_group_id": "dg-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	missionID := view.ID

	if _, err := cs.UpdateStatus(ctx, missionID, "planning", ""); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := cs.StorePlan(ctx, missionID, []*events.ReportSection{
		{SectionID: "s1", Title: "Background", Description: "history", ResearchStrategy: "research_based"},
	}); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, err := cs.UpsertNote(ctx, missionID, events.Note{NoteID: "note_a", Content: "fact", SourceType: "web", SourceID: "https://example.com/a"}); err != nil {
		t.Fatalf("note: %v", err)
	}
	if _, err := cs.SetSectionNotes(ctx, missionID, "s1", []string{"note_a"}); err != nil {
		t.Fatalf("section notes: %v", err)
	}
	if _, err := cs.AppendLog(ctx, missionID, aggregate.LogLine{
		AgentName: "research", Action: "cycle", Status: "success",
		ModelDetails: &events.ModelCallDetails{PromptTokens: 10, CompletionTokens: 5, CostUSD: 0.001},
	}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := cs.AddThought(ctx, missionID, "keep the scope tight"); err != nil {
		t.Fatalf("thought: %v", err)
	}
	if _, err := cs.AddReportVersion(ctx, missionID, "v1", map[string]string{"s1": "body"}, nil); err != nil {
		t.Fatalf("version: %v", err)
	}
	if _, err := cs.SetCurrentReportVersion(ctx, missionID, "v1"); err != nil {
		t.Fatalf("set current: %v", err)
	}
	fs.Close() // flush buffered log events

	// A fresh store over the same directory must reconstruct everything.
	cs2, fs2 := newTestStore(t, dir)
	defer fs2.Close()
	got, err := cs2.Get(ctx, missionID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if got.Status != "planning" {
		t.Errorf("status = %q", got.Status)
	}
	if len(got.Outline) != 1 || got.Outline[0].SectionID != "s1" {
		t.Errorf("outline not reloaded: %+v", got.Outline)
	}
	if got.Notes["note_a"] == nil {
		t.Fatal("note not reloaded")
	}
	if len(got.SectionNotes["s1"]) != 1 {
		t.Error("section notes not reloaded")
	}
	if len(got.ExecutionLog) != 1 {
		t.Errorf("log lines = %d, want 1", len(got.ExecutionLog))
	}
	if got.Cost.InputTokens != 10 {
		t.Errorf("stats not reloaded: %+v", got.Cost)
	}
	if len(got.ThoughtPad) != 1 {
		t.Error("thought pad not reloaded")
	}
	if got.CurrentReportVersion != "v1" {
		t.Errorf("current version = %q", got.CurrentReportVersion)
	}
	if got.Metadata["document_group_id"] != "dg-1" {
		t.Error("metadata not reloaded")
	}
}

func TestRecoverSkipsTerminalMissions(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cs, fs := newTestStore(t, dir)
	running, _ := cs.CreateMission(ctx, "c", "u", "live mission", events.MissionSettings{}, nil)
	_, _ = cs.UpdateStatus(ctx, running.ID, "planning", "")

	done, _ := cs.CreateMission(ctx, "c", "u", "finished mission", events.MissionSettings{}, nil)
	_, _ = cs.UpdateStatus(ctx, done.ID, "planning", "")
	_, _ = cs.UpdateStatus(ctx, done.ID, "running", "")
	_, _ = cs.UpdateStatus(ctx, done.ID, "completed", "")
	fs.Close()

	cs2, fs2 := newTestStore(t, dir)
	defer fs2.Close()
	if err := cs2.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	// Both remain loadable on demand; recovery only decides what stays
	// cached. The observable contract: a terminal mission's snapshot is
	// still correct after recovery.
	got, err := cs2.Get(ctx, done.ID)
	if err != nil {
		t.Fatalf("get terminal: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("terminal status = %q", got.Status)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	cs, fs := newTestStore(t, t.TempDir())
	defer fs.Close()
	ctx := context.Background()

	view, _ := cs.CreateMission(ctx, "c", "u", "req", events.MissionSettings{}, nil)
	if _, err := cs.UpdateStatus(ctx, view.ID, "completed", ""); err == nil {
		t.Error("pending -> completed must be rejected")
	}
}

func TestConcurrentWritesSerialize(t *testing.T) {
	cs, fs := newTestStore(t, t.TempDir())
	defer fs.Close()
	ctx := context.Background()

	view, _ := cs.CreateMission(ctx, "c", "u", "req", events.MissionSettings{}, nil)

	const writers = 8
	done := make(chan error, writers)
	for i := 0; i < writers; i++ {
		i := i
		go func() {
			_, err := cs.UpsertNote(ctx, view.ID, events.Note{
				NoteID: fmt.Sprintf("note_%d", i), Content: "c", SourceType: "web", SourceID: fmt.Sprintf("https://example.com/%d", i),
			})
			done <- err
		}()
	}
	for i := 0; i < writers; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent upsert: %v", err)
		}
	}

	got, err := cs.Get(ctx, view.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Notes) != writers {
		t.Errorf("notes = %d, want %d", len(got.Notes), writers)
	}
	if got.Version != writers+1 {
		t.Errorf("version = %d, want %d (one event per write)", got.Version, writers+1)
	}
}

func TestUpdatedAtMonotonic(t *testing.T) {
	cs, fs := newTestStore(t, t.TempDir())
	defer fs.Close()
	ctx := context.Background()

	view, _ := cs.CreateMission(ctx, "c", "u", "req", events.MissionSettings{}, nil)
	prev := view.UpdatedAt
	for i := 0; i < 5; i++ {
		time.Sleep(2 * time.Millisecond)
		v, err := cs.AddThought(ctx, view.ID, "t")
		if err != nil {
			t.Fatalf("thought: %v", err)
		}
		if v.UpdatedAt.Before(prev) {
			t.Fatalf("updated_at went backwards: %v -> %v", prev, v.UpdatedAt)
		}
		prev = v.UpdatedAt
	}
}

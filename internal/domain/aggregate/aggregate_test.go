package aggregate

import (
	"testing"

	"missioncore/internal/domain/events"
)

func createTestMission(t *testing.T) *MissionContext {
	t.Helper()
	m := New("mission-1")
	_, err := m.Execute(CreateMissionCommand{
		ChatID: "chat-1", UserID: "user-1", Goal: "summarize the CAP theorem",
		Settings: events.MissionSettings{ThoughtPadContextLimit: 3},
	})
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	return m
}

func TestCreateMission(t *testing.T) {
	m := createTestMission(t)

	if m.Status != "pending" {
		t.Errorf("expected status pending, got %s", m.Status)
	}
	if m.Version != 1 {
		t.Errorf("expected version 1, got %d", m.Version)
	}
	if len(m.UncommittedEvents()) != 1 {
		t.Errorf("expected 1 uncommitted event, got %d", len(m.UncommittedEvents()))
	}

	if _, err := m.Execute(CreateMissionCommand{Goal: "again"}); err == nil {
		t.Error("expected error on double create")
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []string
		wantErr bool
	}{
		{"happy path", []string{"planning", "running", "completed"}, false},
		{"pause resume", []string{"planning", "running", "paused", "running"}, false},
		{"stop while running", []string{"planning", "running", "stopped"}, false},
		{"fail from planning", []string{"planning", "failed"}, false},
		{"skip planning", []string{"running"}, true},
		{"pause before running", []string{"planning", "paused"}, true},
		{"after terminal", []string{"planning", "stopped", "running"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := createTestMission(t)
			var lastErr error
			for _, to := range tt.path {
				if _, lastErr = m.Execute(ChangeStatusCommand{To: to}); lastErr != nil {
					break
				}
			}
			if (lastErr != nil) != tt.wantErr {
				t.Errorf("path %v: got err %v, wantErr %v", tt.path, lastErr, tt.wantErr)
			}
		})
	}
}

func TestAppendLogUpdatesStats(t *testing.T) {
	m := createTestMission(t)

	_, err := m.Execute(AppendLogCommand{
		AgentName: "research", Action: "cycle", Status: "success",
		ModelDetails: &events.ModelCallDetails{
			Provider: "openrouter", Model: "mid",
			PromptTokens: 100, CompletionTokens: 50, CostUSD: 0.01,
		},
	})
	if err != nil {
		t.Fatalf("append log: %v", err)
	}
	// A second entry without model details must not change stats.
	if _, err := m.Execute(AppendLogCommand{AgentName: "research", Action: "note", Status: "warning"}); err != nil {
		t.Fatalf("append log: %v", err)
	}

	if len(m.ExecutionLog) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(m.ExecutionLog))
	}
	if m.Cost.InputTokens != 100 || m.Cost.OutputTokens != 50 {
		t.Errorf("stats not accumulated: %+v", m.Cost)
	}
	if m.Cost.TotalTokens != 150 {
		t.Errorf("expected 150 total tokens, got %d", m.Cost.TotalTokens)
	}
}

func TestThoughtPadEviction(t *testing.T) {
	m := createTestMission(t) // limit 3

	for _, thought := range []string{"one", "two", "three", "four", "five"} {
		if _, err := m.Execute(AddThoughtCommand{Text: thought}); err != nil {
			t.Fatalf("add thought: %v", err)
		}
	}

	if len(m.ThoughtPad) != 3 {
		t.Fatalf("expected pad capped at 3, got %d", len(m.ThoughtPad))
	}
	want := []string{"three", "four", "five"}
	for i, w := range want {
		if m.ThoughtPad[i] != w {
			t.Errorf("pad[%d] = %q, want %q (oldest-first eviction)", i, m.ThoughtPad[i], w)
		}
	}
}

func TestReportVersions(t *testing.T) {
	m := createTestMission(t)

	if _, err := m.Execute(AddReportVersionCommand{VersionID: "v1", Sections: map[string]string{"s1": "body"}}); err != nil {
		t.Fatalf("add version: %v", err)
	}
	if _, err := m.Execute(AddReportVersionCommand{VersionID: "v1"}); err == nil {
		t.Error("expected duplicate version to be rejected")
	}
	if _, err := m.Execute(SetCurrentReportVersionCommand{VersionID: "v1"}); err != nil {
		t.Fatalf("set current: %v", err)
	}
	if _, err := m.Execute(SetCurrentReportVersionCommand{VersionID: "v9"}); err == nil {
		t.Error("expected unknown version to be rejected")
	}
	if m.CurrentReportVersion != "v1" {
		t.Errorf("current version = %q, want v1", m.CurrentReportVersion)
	}
}

func TestDiscardNotes(t *testing.T) {
	m := createTestMission(t)

	if _, err := m.Execute(UpsertNoteCommand{Note: events.Note{NoteID: "note_a", Content: "claim", SourceType: "web", SourceID: "https://example.com"}}); err != nil {
		t.Fatalf("upsert note: %v", err)
	}
	if _, err := m.Execute(DiscardNotesCommand{NoteIDs: []string{"note_a", "note_missing"}}); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if !m.Notes["note_a"].Discarded {
		t.Error("note_a should be discarded")
	}
}

func TestGoalStatusUpdates(t *testing.T) {
	m := createTestMission(t)

	if _, err := m.Execute(AddGoalCommand{GoalID: "goal_a", Text: "cover the basics"}); err != nil {
		t.Fatalf("add goal: %v", err)
	}
	if m.GoalPad["goal_a"].Status != "open" {
		t.Errorf("new goal status = %q, want open", m.GoalPad["goal_a"].Status)
	}
	if _, err := m.Execute(UpdateGoalStatusCommand{GoalID: "goal_a", Status: "addressed"}); err != nil {
		t.Fatalf("update goal: %v", err)
	}
	if m.GoalPad["goal_a"].Status != "addressed" {
		t.Errorf("goal status = %q, want addressed", m.GoalPad["goal_a"].Status)
	}
	if _, err := m.Execute(UpdateGoalStatusCommand{GoalID: "goal_missing", Status: "addressed"}); err == nil {
		t.Error("updating an unknown goal must fail")
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	m := createTestMission(t)
	_, _ = m.Execute(ChangeStatusCommand{To: "planning"})
	_, _ = m.Execute(StorePlanCommand{Outline: []*events.ReportSection{
		{SectionID: "s1", Title: "Intro", ResearchStrategy: "content_based"},
	}})
	_, _ = m.Execute(UpsertNoteCommand{Note: events.Note{NoteID: "note_a", Content: "claim", SourceType: "document", SourceID: "chunk-1"}})
	_, _ = m.Execute(AddThoughtCommand{Text: "remember this"})
	_, _ = m.Execute(AddGoalCommand{GoalID: "goal_a", Text: "cover tradeoffs"})

	data, err := m.MarshalSnapshot()
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	restored, err := HydrateFromSnapshot(m.ID, m.Version, data)
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	if restored.Status != "planning" {
		t.Errorf("status = %q", restored.Status)
	}
	if restored.Version != m.Version {
		t.Errorf("version = %d, want %d", restored.Version, m.Version)
	}
	if len(restored.Outline) != 1 || restored.Outline[0].SectionID != "s1" {
		t.Errorf("outline not preserved: %+v", restored.Outline)
	}
	if restored.Notes["note_a"] == nil || restored.Notes["note_a"].Content != "claim" {
		t.Error("notes not preserved")
	}
	if len(restored.ThoughtPad) != 1 || restored.ThoughtPad[0] != "remember this" {
		t.Error("thought pad not preserved")
	}
	if restored.GoalPad["goal_a"] == nil {
		t.Error("goal pad not preserved")
	}
}

func TestReplayFromEvents(t *testing.T) {
	m := createTestMission(t)
	_, _ = m.Execute(ChangeStatusCommand{To: "planning"})
	_, _ = m.Execute(ChangeStatusCommand{To: "running"})
	stream := m.UncommittedEvents()

	replayed := LoadFromEvents(m.ID, stream)
	if replayed.Status != "running" {
		t.Errorf("replayed status = %q, want running", replayed.Status)
	}
	if replayed.Version != m.Version {
		t.Errorf("replayed version = %d, want %d", replayed.Version, m.Version)
	}
	if len(replayed.UncommittedEvents()) != 0 {
		t.Error("replayed events must not be re-buffered as uncommitted")
	}
}

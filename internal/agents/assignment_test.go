package agents

import (
	"context"
	"fmt"
	"testing"

	"missioncore/internal/domain/events"
)

func assignmentOutline() []*events.ReportSection {
	return []*events.ReportSection{
		{SectionID: "sec_cons", Title: "Consistency", Description: "consistency models replication linearizability guarantees", ResearchStrategy: "research_based"},
		{SectionID: "sec_avail", Title: "Availability", Description: "availability uptime failover replicas serving requests", ResearchStrategy: "research_based"},
		{SectionID: "sec_intro", Title: "Introduction", Description: "introduce the report", ResearchStrategy: "content_based"},
	}
}

func assignmentNotes() []*events.Note {
	return []*events.Note{
		{NoteID: "note_c", Content: "Linearizability is the strongest consistency model for replication guarantees"},
		{NoteID: "note_a", Content: "Availability means replicas keep serving requests through failover and uptime targets"},
	}
}

func TestAssignEnforcesSingleSectionPerNote(t *testing.T) {
	// The model tries to put note_c under both sections; the higher
	// scoring section must win.
	llm := &fakeLLM{replies: map[string]string{
		"assign research notes": `{"assignments": [
			{"section_id": "sec_cons", "note_ids": ["note_c"]},
			{"section_id": "sec_avail", "note_ids": ["note_c", "note_a"]}
		]}`,
	}}
	a := NewAssignmentAgent(llm)

	got, _, err := a.Assign(context.Background(), AssignInput{
		Outline: assignmentOutline(), Notes: assignmentNotes(), MaxPerSection: 10,
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	placements := 0
	for _, ids := range got {
		for _, id := range ids {
			if id == "note_c" {
				placements++
			}
		}
	}
	if placements != 1 {
		t.Errorf("note_c placed %d times, want exactly 1", placements)
	}
	if !contains(got["sec_cons"], "note_c") {
		t.Errorf("note_c should land in its best-scoring section, got %v", got)
	}
}

func contains(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func TestAssignIgnoresUnknownIDs(t *testing.T) {
	llm := &fakeLLM{replies: map[string]string{
		"assign research notes": `{"assignments": [
			{"section_id": "sec_ghost", "note_ids": ["note_c"]},
			{"section_id": "sec_cons", "note_ids": ["note_ghost"]}
		]}`,
	}}
	a := NewAssignmentAgent(llm)

	got, _, err := a.Assign(context.Background(), AssignInput{
		Outline: assignmentOutline(), Notes: assignmentNotes(),
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	for sectionID, ids := range got {
		if sectionID == "sec_ghost" {
			t.Error("unknown section must not appear in assignments")
		}
		if contains(ids, "note_ghost") {
			t.Error("unknown note must not appear in assignments")
		}
	}
}

func TestAssignBackfillsEmptyResearchSections(t *testing.T) {
	// The model assigns nothing; backfill must give each research_based
	// section with a substantive description its best unclaimed note.
	llm := &fakeLLM{replies: map[string]string{
		"assign research notes": `{"assignments": []}`,
	}}
	a := NewAssignmentAgent(llm)

	got, _, err := a.Assign(context.Background(), AssignInput{
		Outline: assignmentOutline(), Notes: assignmentNotes(), MinRerankScore: 0.01,
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(got["sec_cons"]) == 0 || len(got["sec_avail"]) == 0 {
		t.Errorf("research sections not backfilled: %v", got)
	}
	if len(got["sec_intro"]) != 0 {
		t.Errorf("content_based section must stay empty: %v", got)
	}
}

func TestAssignFallsBackWithoutModel(t *testing.T) {
	llm := &fakeLLM{err: fmt.Errorf("provider down")}
	a := NewAssignmentAgent(llm)

	got, _, err := a.Assign(context.Background(), AssignInput{
		Outline: assignmentOutline(), Notes: assignmentNotes(), MinRerankScore: 0.01,
	})
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	total := 0
	for _, ids := range got {
		total += len(ids)
	}
	if total == 0 {
		t.Error("score-based fallback produced no assignments")
	}
}

func TestPrefilterCapsCandidates(t *testing.T) {
	var notes []*events.Note
	for i := 0; i < 30; i++ {
		notes = append(notes, &events.Note{NoteID: fmt.Sprintf("note_%02d", i), Content: "availability consistency filler"})
	}
	a := NewAssignmentAgent(nil)
	filtered := a.prefilter(AssignInput{Notes: notes, MaxForRerank: 10}, FlattenOutline(assignmentOutline()))
	if len(filtered) != 10 {
		t.Errorf("prefilter kept %d, want 10", len(filtered))
	}
}

func TestMaxPerSectionCap(t *testing.T) {
	llm := &fakeLLM{replies: map[string]string{
		"assign research notes": `{"assignments": [{"section_id": "sec_cons", "note_ids": ["note_c", "note_a"]}]}`,
	}}
	a := NewAssignmentAgent(llm)

	got, _, err := a.Assign(context.Background(), AssignInput{
		Outline: assignmentOutline(), Notes: assignmentNotes(), MaxPerSection: 1,
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(got["sec_cons"]) > 1 {
		t.Errorf("section exceeded per-section cap: %v", got["sec_cons"])
	}
}

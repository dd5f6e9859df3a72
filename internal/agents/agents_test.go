package agents

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"missioncore/internal/dispatcher"
	"missioncore/internal/domain/events"
	"missioncore/internal/jsonrepair"
)

// fakeLLM routes calls by a substring of the system prompt to canned
// replies, the way scripted fixtures stand in for providers in tests.
type fakeLLM struct {
	replies map[string]string // system-prompt substring -> raw reply
	err     error
	calls   int
}

func (f *fakeLLM) reply(messages []dispatcher.Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	system := ""
	if len(messages) > 0 {
		system = messages[0].Content
	}
	for key, reply := range f.replies {
		if strings.Contains(system, key) {
			return reply, nil
		}
	}
	return "", fmt.Errorf("no canned reply for prompt: %.60s", system)
}

func (f *fakeLLM) Chat(ctx context.Context, class dispatcher.ModelClass, messages []dispatcher.Message) (*dispatcher.Result, error) {
	content, err := f.reply(messages)
	if err != nil {
		return nil, err
	}
	return &dispatcher.Result{Content: content, Cost: events.CostBreakdown{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, TotalCostUSD: 0.001}}, nil
}

func (f *fakeLLM) ChatJSON(ctx context.Context, class dispatcher.ModelClass, messages []dispatcher.Message, coerceKey, coerceField string, out any) (*dispatcher.Result, error) {
	result, err := f.Chat(ctx, class, messages)
	if err != nil {
		return nil, err
	}
	if err := jsonrepair.Decode(result.Content, coerceKey, coerceField, out); err != nil {
		return nil, err
	}
	return result, nil
}

func TestMessengerAnalyzeRequest(t *testing.T) {
	llm := &fakeLLM{replies: map[string]string{
		"analyze a user's research request": `{"request_type": "explainer", "target_tone": "conversational", "target_audience": "student", "requested_length": "short", "requested_format": "markdown report", "preferred_source_types": ["web"], "analysis_reasoning": "simple ask"}`,
	}}
	m := NewMessenger(llm)

	analysis, result, err := m.AnalyzeRequest(context.Background(), "explain gradient descent simply")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.RequestType != "explainer" || analysis.TargetAudience != "student" {
		t.Errorf("analysis = %+v", analysis)
	}
	if result == nil || result.Cost.TotalCostUSD == 0 {
		t.Error("expected accounted cost on success")
	}
}

func TestMessengerAnalyzeFallsBackOnError(t *testing.T) {
	llm := &fakeLLM{err: fmt.Errorf("provider down")}
	m := NewMessenger(llm)

	analysis, _, err := m.AnalyzeRequest(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected error surfaced")
	}
	if analysis.RequestType != "research_report" {
		t.Errorf("expected neutral default analysis, got %+v", analysis)
	}
}

func TestPlannerDraftOutline(t *testing.T) {
	llm := &fakeLLM{replies: map[string]string{
		"draft a report outline": `{"report_title": "CAP Theorem", "sections": [
			{"title": "Introduction", "description": "frame the topic", "research_strategy": "content_based"},
			{"title": "Tradeoffs", "description": "consistency vs availability under partitions", "research_strategy": "research_based",
			 "subsections": [{"title": "Consistency", "description": "what C means", "research_strategy": "research_based"}]},
			{"title": "", "description": "dropped: no title", "research_strategy": "research_based"}
		]}`,
	}}
	p := NewPlanner(llm)

	outline, _, err := p.DraftOutline(context.Background(), "explain CAP", RequestAnalysisOutput{})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if len(outline) != 2 {
		t.Fatalf("sections = %d, want 2 (untitled dropped)", len(outline))
	}
	if outline[0].SectionID == "" || outline[1].Subsections[0].SectionID == "" {
		t.Error("section ids must be minted")
	}
	if err := ValidateOutline(outline); err != nil {
		t.Errorf("minted outline invalid: %v", err)
	}
}

func TestMintSectionsNormalizesStrategies(t *testing.T) {
	sections := mintSections([]PlannedSection{
		{Title: "A", ResearchStrategy: "bogus_strategy"},
		{Title: "B", ResearchStrategy: "synthesize_from_subsections"}, // no children
	}, 1)

	if sections[0].ResearchStrategy != "research_based" {
		t.Errorf("unknown strategy should default, got %s", sections[0].ResearchStrategy)
	}
	if sections[1].ResearchStrategy != "research_based" {
		t.Errorf("childless synthesize section should demote, got %s", sections[1].ResearchStrategy)
	}
}

func TestMintSectionsClampsDepth(t *testing.T) {
	deep := []PlannedSection{{Title: "L1", Subsections: []PlannedSection{
		{Title: "L2", Subsections: []PlannedSection{
			{Title: "L3", Subsections: []PlannedSection{{Title: "L4"}}},
		}},
	}}}
	outline := mintSections(deep, 1)
	l3 := outline[0].Subsections[0].Subsections[0]
	if len(l3.Subsections) != 0 {
		t.Error("depth beyond three must be clamped")
	}
}

func TestValidateOutline(t *testing.T) {
	tests := []struct {
		name    string
		outline []*events.ReportSection
		wantErr bool
	}{
		{"valid", []*events.ReportSection{
			{SectionID: "a", Title: "A", ResearchStrategy: "research_based"},
			{SectionID: "b", Title: "B", ResearchStrategy: "research_based"},
		}, false},
		{"duplicate ids", []*events.ReportSection{
			{SectionID: "a", Title: "A", ResearchStrategy: "research_based"},
			{SectionID: "a", Title: "B", ResearchStrategy: "research_based"},
		}, true},
		{"missing id", []*events.ReportSection{
			{SectionID: "", Title: "A", ResearchStrategy: "research_based"},
		}, true},
		{"childless synthesize", []*events.ReportSection{
			{SectionID: "a", Title: "A", ResearchStrategy: "synthesize_from_subsections"},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateOutline(tt.outline); (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPreserveIDs(t *testing.T) {
	prior := []*events.ReportSection{{SectionID: "sec_old", Title: "Tradeoffs", ResearchStrategy: "research_based"}}
	revised := []*events.ReportSection{
		{SectionID: "sec_new1", Title: "tradeoffs ", ResearchStrategy: "research_based"}, // same title modulo case/space
		{SectionID: "sec_new2", Title: "History", ResearchStrategy: "research_based"},
	}
	preserveIDs(revised, prior)
	if revised[0].SectionID != "sec_old" {
		t.Errorf("kept section should keep its id, got %s", revised[0].SectionID)
	}
	if revised[1].SectionID != "sec_new2" {
		t.Errorf("new section should keep its fresh id, got %s", revised[1].SectionID)
	}
}

func TestReflectionClampsDiscards(t *testing.T) {
	llm := &fakeLLM{replies: map[string]string{
		"review the research collected": `{"overall_assessment": "thin coverage",
			"new_questions": ["q1", "q2", "q3", "q4", "q5", "q6", "q7"],
			"suggested_subsection_topics": [], "proposed_modifications": [],
			"sections_needing_review": ["sec_a"], "critical_issues_summary": "",
			"discard_note_ids": ["note_mine", "note_not_mine"],
			"generated_thought": "look for primary sources"}`,
	}}
	r := NewReflectionAgent(llm)

	out, _, err := r.Reflect(context.Background(), ReflectInput{
		Section: &events.ReportSection{SectionID: "sec_a", Title: "A", Description: "d"},
		Notes:   []*events.Note{{NoteID: "note_mine", Content: "x"}},
		Outline: []*events.ReportSection{{SectionID: "sec_a", Title: "A", ResearchStrategy: "research_based"}},
	})
	if err != nil {
		t.Fatalf("reflect: %v", err)
	}
	if len(out.NewQuestions) != 5 {
		t.Errorf("new questions = %d, want clamped to 5", len(out.NewQuestions))
	}
	if len(out.DiscardNoteIDs) != 1 || out.DiscardNoteIDs[0] != "note_mine" {
		t.Errorf("discards must intersect the shown notes: %v", out.DiscardNoteIDs)
	}
	if out.GeneratedThought == "" {
		t.Error("thought lost")
	}
}

func TestRerankOverlapScore(t *testing.T) {
	high := overlapScore("distributed consensus algorithms", "Raft is a distributed consensus algorithm for replicated logs")
	low := overlapScore("distributed consensus algorithms", "a recipe for sourdough bread with rye flour")
	if high <= low {
		t.Errorf("relevant text should outscore irrelevant: %f vs %f", high, low)
	}
	if overlapScore("", "anything") != 0 {
		t.Error("empty query scores zero")
	}
}

func TestRankByRelevanceDropsTail(t *testing.T) {
	query := "consistency availability partition tolerance"
	candidates := []string{
		"consistency and availability under network partition tolerance tradeoffs",
		"partition tolerance requires choosing between consistency and availability",
		"consistency models in distributed availability zones",
		"sourdough bread recipe",
		"gardening tips for spring tulips",
		"celebrity gossip roundup",
	}
	ranked := rankByRelevance(query, candidates, 0.05)
	for _, r := range ranked {
		if r.index >= 3 {
			t.Errorf("irrelevant candidate %d survived reranking", r.index)
		}
	}
	if len(ranked) == 0 {
		t.Error("relevant candidates were all dropped")
	}
}

package agents

import (
	"context"
	"fmt"
	"strings"

	"missioncore/internal/dispatcher"
	"missioncore/internal/domain/events"
)

// ReflectionAgent reviews a section's accumulated notes after a research
// cycle and decides what to do next: new questions, outline edits,
// sections to re-run, notes to discard, and one thought for the pad.
type ReflectionAgent struct {
	llm ModelCaller
}

// NewReflectionAgent creates the reflection agent.
func NewReflectionAgent(llm ModelCaller) *ReflectionAgent {
	return &ReflectionAgent{llm: llm}
}

// ReflectInput gathers everything one reflection pass reads.
type ReflectInput struct {
	Section *events.ReportSection
	Notes   []*events.Note
	Outline []*events.ReportSection
	Goals   []string
}

// Reflect runs one reflection cycle. An empty ReflectionOutput is a
// valid result meaning "nothing to change".
func (a *ReflectionAgent) Reflect(ctx context.Context, in ReflectInput) (ReflectionOutput, *dispatcher.Result, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Section under review: %s (%s)\nDescription: %s\n\n", in.Section.Title, in.Section.SectionID, in.Section.Description)

	b.WriteString("Outline (id: title):\n")
	for _, s := range FlattenOutline(in.Outline) {
		fmt.Fprintf(&b, "- %s: %s\n", s.SectionID, s.Title)
	}

	fmt.Fprintf(&b, "\nNotes collected for this section (%d):\n", len(in.Notes))
	for _, n := range in.Notes {
		fmt.Fprintf(&b, "- [%s] %s\n", n.NoteID, truncate(n.Content, 300))
	}

	if len(in.Goals) > 0 {
		fmt.Fprintf(&b, "\nActive goals:\n%s", bulleted(in.Goals))
	}

	var out ReflectionOutput
	result, err := a.llm.ChatJSON(ctx, dispatcher.ClassMid, []dispatcher.Message{
		{Role: "system", Content: reflectionSystemPrompt},
		{Role: "user", Content: b.String()},
	}, "suggested_subsection_topics", "title", &out)
	if err != nil {
		return ReflectionOutput{}, nil, err
	}

	// Clamp the unbounded lists so a runaway model can't flood the
	// goal pad or discard the entire note set in one pass.
	if len(out.NewQuestions) > 5 {
		out.NewQuestions = out.NewQuestions[:5]
	}
	out.DiscardNoteIDs = intersectNoteIDs(out.DiscardNoteIDs, in.Notes)
	return out, result, nil
}

// intersectNoteIDs keeps only ids that actually belong to this section's
// note set; reflection may not discard notes it was never shown.
func intersectNoteIDs(ids []string, notes []*events.Note) []string {
	valid := make(map[string]bool, len(notes))
	for _, n := range notes {
		valid[n.NoteID] = true
	}
	var out []string
	for _, id := range ids {
		if valid[id] {
			out = append(out, id)
		}
	}
	return out
}

const reflectionSystemPrompt = `You review the research collected for one report section and decide what should happen next.
Assess coverage against the section description, flag gaps as new questions, suggest subsection
topics only when the notes clearly support a split, propose outline modifications sparingly,
list note ids that are redundant or irrelevant for discarding, and produce one short thought
worth remembering for later cycles.
Reply with only a JSON object:
{
  "overall_assessment": "...",
  "new_questions": ["..."],
  "suggested_subsection_topics": [{"title": "...", "description": "...", "reasoning": "...", "relevant_note_ids": ["..."]}],
  "proposed_modifications": [{"modification_type": "ADD_SECTION|REMOVE_SECTION|MERGE_SECTIONS|REORDER_SECTIONS|REFRAME_SECTION_TOPIC|SPLIT_SECTION", "section_id": "...", "details": "...", "reasoning": "..."}],
  "sections_needing_review": ["section ids"],
  "critical_issues_summary": "...",
  "discard_note_ids": ["..."],
  "generated_thought": "one line"
}`

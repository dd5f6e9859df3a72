package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"missioncore/internal/dispatcher"
	"missioncore/internal/domain/events"
)

// AssignmentAgent maps non-discarded notes onto outline sections. Two
// invariants hold on its output regardless of what the model says:
// every note lands in at most one section (ties broken by reranker
// score), and every research_based section with a real description gets
// at least one note when any candidate scores above the threshold.
type AssignmentAgent struct {
	llm ModelCaller
}

// NewAssignmentAgent creates the note-assignment agent.
func NewAssignmentAgent(llm ModelCaller) *AssignmentAgent {
	return &AssignmentAgent{llm: llm}
}

// AssignInput is the full outline and candidate note set.
type AssignInput struct {
	Outline        []*events.ReportSection
	Notes          []*events.Note // non-discarded only; caller filters
	MaxForRerank   int            // pre-filter cap before the LLM call
	MaxPerSection  int
	MinRerankScore float64
}

// Assign produces section_id -> note ids. The model proposes, the
// invariant enforcement below disposes.
func (a *AssignmentAgent) Assign(ctx context.Context, in AssignInput) (map[string][]string, *dispatcher.Result, error) {
	sections := FlattenOutline(in.Outline)
	if len(sections) == 0 || len(in.Notes) == 0 {
		return map[string][]string{}, nil, nil
	}

	notes := a.prefilter(in, sections)

	var b strings.Builder
	b.WriteString("Sections:\n")
	for _, s := range sections {
		fmt.Fprintf(&b, "- %s [%s]: %s — %s\n", s.SectionID, s.ResearchStrategy, s.Title, s.Description)
	}
	b.WriteString("\nNotes:\n")
	for _, n := range notes {
		fmt.Fprintf(&b, "- %s: %s\n", n.NoteID, truncate(n.Content, 280))
	}

	var out FullNoteAssignments
	result, err := a.llm.ChatJSON(ctx, dispatcher.ClassMid, []dispatcher.Message{
		{Role: "system", Content: assignmentSystemPrompt},
		{Role: "user", Content: b.String()},
	}, "", "", &out)
	if err != nil {
		// Degrade to pure score-based assignment rather than losing the
		// writing phase's inputs entirely.
		return a.scoreBasedAssignment(sections, notes, in), nil, nil
	}

	assignments := a.enforceInvariants(out, sections, notes, in)
	return assignments, result, nil
}

// prefilter drops the lowest-scoring notes when the candidate set is
// larger than the rerank cap, scoring each note against the outline as
// a whole.
func (a *AssignmentAgent) prefilter(in AssignInput, sections []*events.ReportSection) []*events.Note {
	if in.MaxForRerank <= 0 || len(in.Notes) <= in.MaxForRerank {
		return in.Notes
	}

	var outlineText strings.Builder
	for _, s := range sections {
		outlineText.WriteString(s.Title + " " + s.Description + " ")
	}
	query := outlineText.String()

	type noteScore struct {
		note  *events.Note
		score float64
	}
	ranked := make([]noteScore, 0, len(in.Notes))
	for _, n := range in.Notes {
		ranked = append(ranked, noteScore{note: n, score: overlapScore(query, n.Content)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]*events.Note, 0, in.MaxForRerank)
	for _, r := range ranked[:in.MaxForRerank] {
		out = append(out, r.note)
	}
	return out
}

// enforceInvariants reconciles the model's proposal with the two hard
// rules, then backfills empty research_based sections.
func (a *AssignmentAgent) enforceInvariants(proposal FullNoteAssignments, sections []*events.ReportSection, notes []*events.Note, in AssignInput) map[string][]string {
	noteByID := make(map[string]*events.Note, len(notes))
	for _, n := range notes {
		noteByID[n.NoteID] = n
	}
	sectionByID := make(map[string]*events.ReportSection, len(sections))
	order := make(map[string]int, len(sections))
	for i, s := range sections {
		sectionByID[s.SectionID] = s
		order[s.SectionID] = i
	}

	// Best placement per note across the proposal; ties between sections
	// resolve to the higher score, and an exact tie keeps the first
	// section in outline order.
	type placement struct {
		sectionID string
		score     float64
	}
	best := make(map[string]placement)
	for _, assigned := range proposal.Assignments {
		section, ok := sectionByID[assigned.SectionID]
		if !ok {
			continue
		}
		for _, noteID := range assigned.NoteIDs {
			note, ok := noteByID[noteID]
			if !ok {
				continue
			}
			score := overlapScore(section.Title+" "+section.Description, note.Content)
			if prev, exists := best[noteID]; !exists || score > prev.score ||
				(score == prev.score && order[assigned.SectionID] < order[prev.sectionID]) {
				best[noteID] = placement{sectionID: assigned.SectionID, score: score}
			}
		}
	}

	assignments := make(map[string][]string)
	for _, n := range notes { // iterate notes, not map, for stable order
		if p, ok := best[n.NoteID]; ok {
			assignments[p.sectionID] = append(assignments[p.sectionID], n.NoteID)
		}
	}

	a.capAndBackfill(assignments, sections, notes, in)
	return assignments
}

// scoreBasedAssignment is the LLM-free fallback: each note goes to its
// single highest-scoring section above the threshold.
func (a *AssignmentAgent) scoreBasedAssignment(sections []*events.ReportSection, notes []*events.Note, in AssignInput) map[string][]string {
	assignments := make(map[string][]string)
	for _, n := range notes {
		bestID, bestScore := "", in.MinRerankScore
		for _, s := range sections {
			if s.ResearchStrategy != "research_based" {
				continue
			}
			if score := overlapScore(s.Title+" "+s.Description, n.Content); score > bestScore {
				bestID, bestScore = s.SectionID, score
			}
		}
		if bestID != "" {
			assignments[bestID] = append(assignments[bestID], n.NoteID)
		}
	}
	a.capAndBackfill(assignments, sections, notes, in)
	return assignments
}

// capAndBackfill truncates oversized sections and gives empty
// research_based sections their best-scoring unassigned note when one
// clears the threshold.
func (a *AssignmentAgent) capAndBackfill(assignments map[string][]string, sections []*events.ReportSection, notes []*events.Note, in AssignInput) {
	if in.MaxPerSection > 0 {
		for id, ids := range assignments {
			if len(ids) > in.MaxPerSection {
				assignments[id] = ids[:in.MaxPerSection]
			}
		}
	}

	taken := make(map[string]bool)
	for _, ids := range assignments {
		for _, id := range ids {
			taken[id] = true
		}
	}

	for _, s := range sections {
		if s.ResearchStrategy != "research_based" || len(assignments[s.SectionID]) > 0 {
			continue
		}
		if len(strings.Fields(s.Description)) < 3 {
			continue // trivial description, nothing to match against
		}
		bestID, bestScore := "", in.MinRerankScore
		for _, n := range notes {
			if taken[n.NoteID] {
				continue
			}
			if score := overlapScore(s.Title+" "+s.Description, n.Content); score > bestScore {
				bestID, bestScore = n.NoteID, score
			}
		}
		if bestID != "" {
			assignments[s.SectionID] = append(assignments[s.SectionID], bestID)
			taken[bestID] = true
		}
	}
}

const assignmentSystemPrompt = `You assign research notes to report sections.
Each note belongs in the single section it supports best; never place one note in two sections.
Only research_based sections receive notes. A note that supports no section should be left out.
Reply with only a JSON object:
{"assignments": [{"section_id": "...", "note_ids": ["...", "..."]}]}`

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"missioncore/internal/dispatcher"
	"missioncore/internal/domain/events"
)

// maxOutlineDepth bounds the outline tree.
const maxOutlineDepth = 3

// Planner produces and revises the report outline. Planning runs in
// three phases: an initial draft from the request alone, note assignment
// over the exploratory notes, then a revision informed by what the seed
// research actually found.
type Planner struct {
	llm ModelCaller
}

// NewPlanner creates the planner agent.
func NewPlanner(llm ModelCaller) *Planner {
	return &Planner{llm: llm}
}

// GenerateInitialQuestions proposes the exploratory questions the
// initial research pass will chase, capped at maxQuestions.
func (a *Planner) GenerateInitialQuestions(ctx context.Context, request string, analysis RequestAnalysisOutput, maxQuestions int) ([]string, *dispatcher.Result, error) {
	if maxQuestions <= 0 {
		maxQuestions = 5
	}
	var out QueryList
	result, err := a.llm.ChatJSON(ctx, dispatcher.ClassMid, []dispatcher.Message{
		{Role: "system", Content: fmt.Sprintf(initialQuestionsSystemPrompt, maxQuestions)},
		{Role: "user", Content: fmt.Sprintf("Research request: %s\nAudience: %s. Tone: %s.", request, analysis.TargetAudience, analysis.TargetTone)},
	}, "", "", &out)
	if err != nil {
		return nil, nil, err
	}
	if len(out.Queries) > maxQuestions {
		out.Queries = out.Queries[:maxQuestions]
	}
	return out.Queries, result, nil
}

// DraftOutline produces the initial outline from the request and its
// analysis, minting stable section ids for every node.
func (a *Planner) DraftOutline(ctx context.Context, request string, analysis RequestAnalysisOutput) ([]*events.ReportSection, *dispatcher.Result, error) {
	var draft OutlineDraft
	result, err := a.llm.ChatJSON(ctx, dispatcher.ClassIntelligent, []dispatcher.Message{
		{Role: "system", Content: draftOutlineSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(
			"Research request: %s\n\nRequest analysis: type=%s tone=%s audience=%s length=%s format=%s",
			request, analysis.RequestType, analysis.TargetTone, analysis.TargetAudience,
			analysis.RequestedLength, analysis.RequestedFormat)},
	}, "sections", "title", &draft)
	if err != nil {
		return nil, nil, err
	}
	outline := mintSections(draft.Sections, 1)
	if err := ValidateOutline(outline); err != nil {
		return nil, result, fmt.Errorf("planner produced invalid outline: %w", err)
	}
	return outline, result, nil
}

// ReviseOutline re-plans with knowledge from the seed notes. Existing
// section ids are preserved when the revised outline keeps a section's
// title; new sections get fresh ids.
func (a *Planner) ReviseOutline(ctx context.Context, request string, outline []*events.ReportSection, notes []*events.Note) ([]*events.ReportSection, *dispatcher.Result, error) {
	outlineJSON, _ := json.MarshalIndent(simplify(outline), "", "  ")

	var noteDigest strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&noteDigest, "- [%s] %s\n", n.NoteID, truncate(n.Content, 240))
	}

	var draft OutlineDraft
	result, err := a.llm.ChatJSON(ctx, dispatcher.ClassIntelligent, []dispatcher.Message{
		{Role: "system", Content: reviseOutlineSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(
			"Research request: %s\n\nCurrent outline:\n%s\n\nSeed research notes:\n%s",
			request, outlineJSON, noteDigest.String())},
	}, "sections", "title", &draft)
	if err != nil {
		return nil, nil, err
	}

	revised := mintSections(draft.Sections, 1)
	preserveIDs(revised, outline)
	if err := ValidateOutline(revised); err != nil {
		// An invalid revision keeps the prior outline rather than failing
		// the mission; reflection gets another shot next round.
		return outline, result, nil
	}
	return revised, result, nil
}

// simplifiedSection is the id+title+description+strategy view sent back to the model
// during revision, keeping the prompt compact.
type simplifiedSection struct {
	SectionID        string              `json:"section_id"`
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	ResearchStrategy string              `json:"research_strategy"`
	Subsections      []simplifiedSection `json:"subsections,omitempty"`
}

func simplify(outline []*events.ReportSection) []simplifiedSection {
	out := make([]simplifiedSection, 0, len(outline))
	for _, s := range outline {
		out = append(out, simplifiedSection{
			SectionID: s.SectionID, Title: s.Title, Description: s.Description,
			ResearchStrategy: s.ResearchStrategy, Subsections: simplify(s.Subsections),
		})
	}
	return out
}

// mintSections converts planner output into the domain outline type,
// assigning fresh section ids and clamping depth.
func mintSections(planned []PlannedSection, depth int) []*events.ReportSection {
	if depth > maxOutlineDepth {
		return nil
	}
	out := make([]*events.ReportSection, 0, len(planned))
	for _, p := range planned {
		if strings.TrimSpace(p.Title) == "" {
			continue
		}
		strategy := p.ResearchStrategy
		if !validStrategy(strategy) {
			strategy = "research_based"
		}
		s := &events.ReportSection{
			SectionID: newID("sec"), Title: p.Title, Description: p.Description,
			ResearchStrategy: strategy,
			Subsections:      mintSections(p.Subsections, depth+1),
		}
		if s.ResearchStrategy == "synthesize_from_subsections" && len(s.Subsections) == 0 {
			s.ResearchStrategy = "research_based"
		}
		out = append(out, s)
	}
	return out
}

func validStrategy(s string) bool {
	switch s {
	case "research_based", "content_based", "synthesize_from_subsections":
		return true
	}
	return false
}

// preserveIDs carries forward a prior section's id when the revised
// outline kept its title, so notes already assigned to it stay attached.
func preserveIDs(revised, prior []*events.ReportSection) {
	byTitle := make(map[string]string)
	var index func(sections []*events.ReportSection)
	index = func(sections []*events.ReportSection) {
		for _, s := range sections {
			byTitle[strings.ToLower(strings.TrimSpace(s.Title))] = s.SectionID
			index(s.Subsections)
		}
	}
	index(prior)

	var walk func(sections []*events.ReportSection)
	walk = func(sections []*events.ReportSection) {
		for _, s := range sections {
			if id, ok := byTitle[strings.ToLower(strings.TrimSpace(s.Title))]; ok {
				s.SectionID = id
			}
			walk(s.Subsections)
		}
	}
	walk(revised)
}

// ValidateOutline checks the outline invariants: unique section ids,
// depth at most three, and synthesize_from_subsections only on sections
// that have children.
func ValidateOutline(outline []*events.ReportSection) error {
	seen := make(map[string]bool)
	var walk func(sections []*events.ReportSection, depth int) error
	walk = func(sections []*events.ReportSection, depth int) error {
		if depth > maxOutlineDepth && len(sections) > 0 {
			return fmt.Errorf("outline exceeds max depth %d", maxOutlineDepth)
		}
		for _, s := range sections {
			if s.SectionID == "" {
				return fmt.Errorf("section %q has no id", s.Title)
			}
			if seen[s.SectionID] {
				return fmt.Errorf("duplicate section id %s", s.SectionID)
			}
			seen[s.SectionID] = true
			if s.ResearchStrategy == "synthesize_from_subsections" && len(s.Subsections) == 0 {
				return fmt.Errorf("section %s synthesizes from subsections but has none", s.SectionID)
			}
			if err := walk(s.Subsections, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(outline, 1)
}

// FlattenOutline returns every section depth-first, parents before
// children, which is both outline order for writing and traversal order
// for research.
func FlattenOutline(outline []*events.ReportSection) []*events.ReportSection {
	var out []*events.ReportSection
	var walk func(sections []*events.ReportSection)
	walk = func(sections []*events.ReportSection) {
		for _, s := range sections {
			out = append(out, s)
			walk(s.Subsections)
		}
	}
	walk(outline)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

const initialQuestionsSystemPrompt = `You generate the exploratory research questions for a new research mission.
Produce at most %d distinct, searchable questions covering the request's main facets.
Reply with only a JSON object: {"queries": ["...", "..."]}`

const draftOutlineSystemPrompt = `You draft a report outline for a research mission.
Rules:
- At most three levels of nesting.
- Each section needs a title, a one-to-three sentence description, and a research_strategy:
  "research_based" for sections that need sourced evidence,
  "content_based" only for an introduction or conclusion written from sibling content,
  "synthesize_from_subsections" only for a parent summarizing its children.
Reply with only a JSON object:
{"report_title": "...", "sections": [{"title": "...", "description": "...", "research_strategy": "...", "subsections": [...]}]}`

const reviseOutlineSystemPrompt = `You revise a report outline using what the seed research actually found.
Keep section titles stable where the section is still right; add, remove, merge, or reframe sections
where the notes show the draft outline missed or overweighted something. The same structural rules
apply: max three levels, valid research_strategy values, content_based only for intro/conclusion.
Reply with only a JSON object in the same shape as the outline you were given:
{"report_title": "...", "sections": [{"title": "...", "description": "...", "research_strategy": "...", "subsections": [...]}]}`

package agents

import (
	"context"
	"fmt"
	"strings"

	"missioncore/internal/dispatcher"
	"missioncore/internal/domain/events"
)

// WritingAgent drafts and revises one section at a time. The three
// research strategies get three different prompts: evidence synthesis
// with mandatory note citations, intro/conclusion from sibling content
// with no new claims, and parent summaries of already-written children.
type WritingAgent struct {
	llm ModelCaller
}

// NewWritingAgent creates the writing agent.
func NewWritingAgent(llm ModelCaller) *WritingAgent {
	return &WritingAgent{llm: llm}
}

// WriteInput is everything one section draft reads.
type WriteInput struct {
	Section       *events.ReportSection
	AssignedNotes []*events.Note
	// SiblingTitles lets the agent avoid overlapping neighboring sections.
	SiblingTitles []string
	// SiblingContent feeds content_based sections (intro/conclusion).
	SiblingContent map[string]string
	// ChildContent feeds synthesize_from_subsections parents.
	ChildContent map[string]string
	// PriorDraft, when non-empty, switches the agent into revision mode.
	PriorDraft string
	// RunningDraft is the report so far, for continuity.
	RunningDraft string
	Tone         string
	Audience     string
}

// WriteSection produces the section's markdown body.
func (a *WritingAgent) WriteSection(ctx context.Context, in WriteInput) (string, *dispatcher.Result, error) {
	var system, user string
	switch in.Section.ResearchStrategy {
	case "content_based":
		system = writeContentBasedSystemPrompt
		user = a.contentBasedPrompt(in)
	case "synthesize_from_subsections":
		system = writeSynthesisSystemPrompt
		user = a.synthesisPrompt(in)
	default:
		system = writeResearchBasedSystemPrompt
		user = a.researchBasedPrompt(in)
	}

	if in.PriorDraft != "" {
		user += "\n\nPrior draft of this section:\n" + in.PriorDraft +
			"\n\nRevise the draft: improve coverage of the assigned notes, flow, and citation density. Keep what already works."
	}

	result, err := a.llm.Chat(ctx, dispatcher.ClassIntelligent, []dispatcher.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		return "", nil, err
	}
	content := strings.TrimSpace(result.Content)
	if content == "" {
		return "", result, fmt.Errorf("empty draft for section %s", in.Section.SectionID)
	}
	return content, result, nil
}

func (a *WritingAgent) researchBasedPrompt(in WriteInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Section: %s\nDescription: %s\nTone: %s. Audience: %s.\n", in.Section.Title, in.Section.Description, orDefault(in.Tone, "neutral"), orDefault(in.Audience, "general"))
	if len(in.SiblingTitles) > 0 {
		fmt.Fprintf(&b, "Neighboring sections (do not cover their ground): %s\n", strings.Join(in.SiblingTitles, "; "))
	}
	b.WriteString("\nAssigned notes:\n")
	for _, n := range in.AssignedNotes {
		fmt.Fprintf(&b, "[%s] (%s) %s\n", n.NoteID, n.SourceType, n.Content)
	}
	if len(in.AssignedNotes) == 0 {
		b.WriteString("(none)\n")
	}
	if in.RunningDraft != "" {
		fmt.Fprintf(&b, "\nReport so far, for continuity (do not repeat it):\n%s\n", truncate(in.RunningDraft, 4000))
	}
	return b.String()
}

func (a *WritingAgent) contentBasedPrompt(in WriteInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Section: %s\nDescription: %s\nTone: %s. Audience: %s.\n", in.Section.Title, in.Section.Description, orDefault(in.Tone, "neutral"), orDefault(in.Audience, "general"))
	b.WriteString("\nSibling section content to draw from:\n")
	for title, content := range in.SiblingContent {
		fmt.Fprintf(&b, "## %s\n%s\n\n", title, truncate(content, 2000))
	}
	return b.String()
}

func (a *WritingAgent) synthesisPrompt(in WriteInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Parent section: %s\nDescription: %s\n", in.Section.Title, in.Section.Description)
	b.WriteString("\nAlready-written subsections to summarize:\n")
	for title, content := range in.ChildContent {
		fmt.Fprintf(&b, "## %s\n%s\n\n", title, truncate(content, 2000))
	}
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

const writeResearchBasedSystemPrompt = `You write one section of a research report in markdown.
Synthesize the assigned notes into coherent prose. Every factual claim must carry a bracketed
note-id reference in the form [note_ab12cd34], or [note_ab12cd34][note_ef56ab78] when a claim
rests on multiple sources. Never invent a note id and never state a fact no note supports.
If no notes were assigned, write a brief honest placeholder acknowledging research is pending.
Output only the section body, no heading.`

const writeContentBasedSystemPrompt = `You write an introduction or conclusion section of a research report in markdown.
Use only what the sibling sections already establish; introduce no new facts and no citations.
Frame, connect, and summarize. Output only the section body, no heading.`

const writeSynthesisSystemPrompt = `You write a parent section that summarizes its already-written subsections, in markdown.
Distill the through-line across the subsections in a few paragraphs; keep any bracketed
note references that you carry over verbatim. Output only the section body, no heading.`

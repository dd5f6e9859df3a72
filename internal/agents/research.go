package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"missioncore/internal/dispatcher"
	"missioncore/internal/domain/events"
	"missioncore/internal/tools"
)

// ToolSelection mirrors the mission metadata key controlling which
// retrieval tools a mission may use.
type ToolSelection struct {
	LocalRAG  bool `json:"local_rag"`
	WebSearch bool `json:"web_search"`
}

// CycleInput is everything one research cycle needs for one section.
type CycleInput struct {
	MissionID       string
	Section         *events.ReportSection
	Goals           []string
	Thoughts        []string
	ExistingNotes   []*events.Note
	RoundIndex      int
	Tools           ToolSelection
	DocumentGroupID string
	DocResults      int
	WebResults      int
	MaxQueries      int
	MinRerankScore  float64
}

// CycleOutput is the result of one research cycle.
type CycleOutput struct {
	Notes       []events.Note
	QueriesUsed []string
	Cost        events.CostBreakdown
	Warnings    []string
}

// candidate is one deduplicated retrieval hit awaiting note synthesis.
type candidate struct {
	sourceType string // document | web
	sourceID   string // chunk id or URL
	text       string
	metadata   map[string]interface{}
}

// ResearchAgent runs the search → dedup/rerank → note-synthesis cycle
// for one section at a time. The controller owns fan-out across sections.
type ResearchAgent struct {
	llm        ModelCaller
	docSearch  *tools.DocumentSearchTool
	webSearch  *tools.IntelligentWebSearchTool
	webFetch   *tools.WebFetchTool
	summarizer *tools.ContentSummarizer
}

// NewResearchAgent creates the research agent. Any tool may be nil; a
// nil tool behaves as disabled.
func NewResearchAgent(llm ModelCaller, docSearch *tools.DocumentSearchTool, webSearch *tools.IntelligentWebSearchTool, webFetch *tools.WebFetchTool) *ResearchAgent {
	return &ResearchAgent{llm: llm, docSearch: docSearch, webSearch: webSearch, webFetch: webFetch}
}

// WithSummarizer routes over-long fetched pages through a fast-tier
// summarization pass before note synthesis instead of hard truncation.
func (a *ResearchAgent) WithSummarizer(s *tools.ContentSummarizer) *ResearchAgent {
	a.summarizer = s
	return a
}

// Cycle runs one full research cycle for in.Section.
func (a *ResearchAgent) Cycle(ctx context.Context, in CycleInput) (CycleOutput, error) {
	var out CycleOutput

	queries, cost, err := a.generateQueries(ctx, in)
	if err != nil {
		return out, fmt.Errorf("generate queries: %w", err)
	}
	out.Cost.Add(cost)
	out.QueriesUsed = queries

	candidates := a.retrieve(ctx, in, queries, &out)

	// Dedup against sources already turned into notes in earlier rounds.
	known := make(map[string]bool, len(in.ExistingNotes))
	for _, n := range in.ExistingNotes {
		known[n.SourceID] = true
	}
	fresh := candidates[:0]
	for _, c := range candidates {
		if !known[c.sourceID] {
			fresh = append(fresh, c)
		}
	}

	texts := make([]string, len(fresh))
	for i, c := range fresh {
		texts[i] = c.text
	}
	ranked := rankByRelevance(in.Section.Description+" "+in.Section.Title, texts, in.MinRerankScore)

	for _, r := range ranked {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		note, noteCost, err := a.synthesizeNote(ctx, in, fresh[r.index], r.score)
		out.Cost.Add(noteCost)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("note synthesis failed for %s: %v", fresh[r.index].sourceID, err))
			continue
		}
		out.Notes = append(out.Notes, note)
	}
	return out, nil
}

func (a *ResearchAgent) generateQueries(ctx context.Context, in CycleInput) ([]string, events.CostBreakdown, error) {
	maxQueries := in.MaxQueries
	if maxQueries <= 0 {
		maxQueries = 3
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Section: %s\nDescription: %s\n", in.Section.Title, in.Section.Description)
	if len(in.Goals) > 0 {
		fmt.Fprintf(&b, "Active goals:\n%s", bulleted(in.Goals))
	}
	if len(in.Thoughts) > 0 {
		fmt.Fprintf(&b, "Recent thoughts:\n%s", bulleted(in.Thoughts))
	}
	if len(in.ExistingNotes) > 0 {
		fmt.Fprintf(&b, "Already have %d notes for this section; look for what they miss.\n", len(in.ExistingNotes))
	}

	var out QueryList
	result, err := a.llm.ChatJSON(ctx, dispatcher.ClassFast, []dispatcher.Message{
		{Role: "system", Content: fmt.Sprintf(generateQueriesSystemPrompt, maxQueries)},
		{Role: "user", Content: b.String()},
	}, "", "", &out)
	if err != nil {
		return nil, events.CostBreakdown{}, err
	}
	if len(out.Queries) == 0 {
		out.Queries = []string{in.Section.Title}
	}
	if len(out.Queries) > maxQueries {
		out.Queries = out.Queries[:maxQueries]
	}
	return out.Queries, result.Cost, nil
}

// retrieve runs every enabled tool for every query, deduplicating by
// source id across queries. Tool failures degrade to warnings: a dead
// search backend costs coverage, not the mission.
func (a *ResearchAgent) retrieve(ctx context.Context, in CycleInput, queries []string, out *CycleOutput) []candidate {
	var candidates []candidate
	seen := make(map[string]bool)

	for _, query := range queries {
		if ctx.Err() != nil {
			return candidates
		}
		if in.Tools.LocalRAG && a.docSearch != nil {
			args := map[string]interface{}{"query": query, "k": float64(in.DocResults), "mission_id": in.MissionID}
			if in.DocumentGroupID != "" {
				args["document_group_id"] = in.DocumentGroupID
			}
			chunks, err := a.docSearch.SearchStructured(ctx, args)
			if err != nil {
				out.Warnings = append(out.Warnings, fmt.Sprintf("document_search failed for %q: %v", query, err))
			}
			for _, c := range chunks {
				if seen[c.ChunkID] {
					continue
				}
				seen[c.ChunkID] = true
				md := map[string]interface{}{"doc_id": c.DocID}
				for k, v := range c.Metadata {
					md[k] = v
				}
				candidates = append(candidates, candidate{sourceType: "document", sourceID: c.ChunkID, text: c.Text, metadata: md})
			}
		}

		if in.Tools.WebSearch && a.webSearch != nil {
			params := a.webSearch.AnalyzeQuery(query)
			if in.WebResults > 0 {
				params.MaxResults = in.WebResults
			}
			sources, err := a.webSearch.Search(ctx, params)
			if err != nil {
				out.Warnings = append(out.Warnings, fmt.Sprintf("web_search failed for %q: %v", query, err))
			}
			for _, s := range sources {
				if seen[s.URL] {
					continue
				}
				seen[s.URL] = true
				candidates = append(candidates, candidate{
					sourceType: "web", sourceID: s.URL,
					text:     s.Title + " " + s.TextPreview,
					metadata: map[string]interface{}{"title": s.Title},
				})
			}
		}
	}
	return candidates
}

// synthesizeNote turns one retrieval hit into a self-contained sourced
// claim. Web candidates are fetched first so the note is extracted from
// page content rather than a snippet.
func (a *ResearchAgent) synthesizeNote(ctx context.Context, in CycleInput, c candidate, score float64) (events.Note, events.CostBreakdown, error) {
	var spent events.CostBreakdown

	text := c.text
	if c.sourceType == "web" && a.webFetch != nil {
		fetched, err := a.webFetch.FetchStructured(ctx, in.MissionID, c.sourceID)
		if err == nil && len(fetched.Text) > len(text) {
			text = fetched.Text
			if fetched.Title != "" {
				c.metadata["title"] = fetched.Title
			}
		}
	}
	if len(text) > 8000 && a.summarizer != nil {
		summary, sumResult, err := a.summarizer.Summarize(ctx, text)
		if err == nil && summary != "" {
			text = summary
			spent.Add(sumResult.Cost)
		}
	}
	if len(text) > 8000 {
		text = text[:8000]
	}

	result, err := a.llm.Chat(ctx, dispatcher.ClassFast, []dispatcher.Message{
		{Role: "system", Content: synthesizeNoteSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Section: %s — %s\n\nSource content:\n%s", in.Section.Title, in.Section.Description, text)},
	})
	if err != nil {
		return events.Note{}, spent, err
	}
	spent.Add(result.Cost)

	content := strings.TrimSpace(result.Content)
	if content == "" || strings.EqualFold(content, "IRRELEVANT") {
		return events.Note{}, spent, fmt.Errorf("source judged irrelevant")
	}

	md := c.metadata
	if md == nil {
		md = map[string]interface{}{}
	}
	md["rerank_score"] = score

	return events.Note{
		NoteID:  newID("note"),
		Content: content, SourceType: c.sourceType, SourceID: c.sourceID,
		SourceMetadata: md, CreatedAt: time.Now(),
	}, spent, nil
}

const generateQueriesSystemPrompt = `You generate search queries for one section of a research report.
Produce at most %d distinct queries that together cover the section's description
and any unaddressed goals. Queries should be concrete and searchable, not questions to a person.
Reply with only a JSON object: {"queries": ["...", "..."]}`

const synthesizeNoteSystemPrompt = `You extract one self-contained research note from a source.
Write two to five sentences stating the concrete claims in the source that are relevant
to the given section. Keep figures, dates, and named entities. Do not editorialize,
do not mention "the source" or "the article". If nothing in the source is relevant
to the section, reply with exactly: IRRELEVANT`

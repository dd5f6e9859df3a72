// Package events defines the domain events for a research mission.
// Events are immutable facts appended to a mission's event stream; the
// aggregate in internal/domain/aggregate replays them to reconstruct state.
package events

import "time"

// BaseEvent carries the fields common to every mission event.
type BaseEvent struct {
	ID          string    `json:"id"`
	AggregateID string    `json:"aggregate_id"` // mission id
	Version     int       `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
}

func (e BaseEvent) GetID() string           { return e.ID }
func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetVersion() int         { return e.Version }
func (e BaseEvent) GetType() string         { return e.Type }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

// CostBreakdown tracks token usage and spend, accumulated across every
// model call a mission makes.
type CostBreakdown struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

func (c *CostBreakdown) Add(other CostBreakdown) {
	c.InputTokens += other.InputTokens
	c.OutputTokens += other.OutputTokens
	c.TotalTokens += other.TotalTokens
	c.TotalCostUSD += other.TotalCostUSD
}

// MissionSettings mirrors the user-tunable knobs a mission is configured
// with at creation time. auto_optimize_params is advisory; it never
// overrides an explicitly supplied value.
type MissionSettings struct {
	InitialResearchMaxDepth     int     `json:"initial_research_max_depth" yaml:"initial_research_max_depth"`
	InitialResearchMaxQuestions int     `json:"initial_research_max_questions" yaml:"initial_research_max_questions"`
	StructuredResearchRounds    int     `json:"structured_research_rounds" yaml:"structured_research_rounds"`
	WritingPasses               int     `json:"writing_passes" yaml:"writing_passes"`
	ThoughtPadContextLimit      int     `json:"thought_pad_context_limit" yaml:"thought_pad_context_limit"`
	InitialExplorationDocResults int    `json:"initial_exploration_doc_results" yaml:"initial_exploration_doc_results"`
	InitialExplorationWebResults int    `json:"initial_exploration_web_results" yaml:"initial_exploration_web_results"`
	MainResearchDocResults      int     `json:"main_research_doc_results" yaml:"main_research_doc_results"`
	MainResearchWebResults      int     `json:"main_research_web_results" yaml:"main_research_web_results"`
	MaxNotesForAssignmentRerank int     `json:"max_notes_for_assignment_reranking" yaml:"max_notes_for_assignment_reranking"`
	MaxConcurrentRequests    int     `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	MaxNotesPerSection       int     `json:"max_notes_per_section" yaml:"max_notes_per_section"`
	SkipFinalReplanning      bool    `json:"skip_final_replanning" yaml:"skip_final_replanning"`
	AutoOptimizeParams       bool    `json:"auto_optimize_params" yaml:"auto_optimize_params"`
	MinRerankScore           float64 `json:"min_rerank_score" yaml:"min_rerank_score"`
}

// ReportSection is one node of the recursive outline tree (max depth 3,
// enforced by the planner, not by this type).
type ReportSection struct {
	SectionID         string           `json:"section_id"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	AssociatedNoteIDs []string         `json:"associated_note_ids,omitempty"`
	Subsections       []*ReportSection `json:"subsections,omitempty"`
	ResearchStrategy  string           `json:"research_strategy"` // research_based | content_based | synthesize_from_subsections
}

// Note is a self-contained sourced claim extracted from a document
// chunk, a web page, or synthesized internally.
type Note struct {
	NoteID         string                 `json:"note_id"`
	Content        string                 `json:"content"`
	SourceType     string                 `json:"source_type"` // document | web | internal
	SourceID       string                 `json:"source_id"`   // chunk id, URL, or synthesis id
	SourceMetadata map[string]interface{} `json:"source_metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	Discarded      bool                   `json:"discarded"`
}

// Source is a single retrieval-provenance record surfaced by a search
// tool before it has been synthesized into a Note.
type Source struct {
	DocID            string  `json:"doc_id,omitempty"`
	ChunkID          string  `json:"chunk_id,omitempty"`
	URL              string  `json:"url,omitempty"`
	TextPreview      string  `json:"text_preview,omitempty"`
	OriginalFilename string  `json:"original_filename,omitempty"`
	Title            string  `json:"title,omitempty"`
	Score            float64 `json:"score,omitempty"`
}

// Citation is a resolved reference attached to the rendered report.
type Citation struct {
	Token string `json:"token"` // the in-text marker, e.g. "[1]" or "[S3]"
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
	DocID string `json:"doc_id,omitempty"`
}

package agents

// The structured output shapes the agents ask the models for. Field
// names here must stay aligned with the JSON shapes the prompt
// instructions describe.

// RequestAnalysisOutput is the Analyze phase's classification of the
// user's request.
type RequestAnalysisOutput struct {
	RequestType          string   `json:"request_type"`
	TargetTone           string   `json:"target_tone"`
	TargetAudience       string   `json:"target_audience"`
	RequestedLength      string   `json:"requested_length"`
	RequestedFormat      string   `json:"requested_format"`
	PreferredSourceTypes []string `json:"preferred_source_types"`
	AnalysisReasoning    string   `json:"analysis_reasoning"`
}

// MessengerResponse classifies a user message's intent before a mission
// exists: start research, refine the questions/goal, approve, or chat.
type MessengerResponse struct {
	Intent                string `json:"intent"` // start_research | refine_questions | refine_goal | approve_questions | chat
	ExtractedContent      string `json:"extracted_content"`
	FormattingPreferences string `json:"formatting_preferences"`
	ResponseToUser        string `json:"response_to_user"`
	Thoughts              string `json:"thoughts"`
}

// PlannedSection is the planner's raw outline node before stable section
// ids are minted. Recursive to the same max depth as the final outline.
type PlannedSection struct {
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	ResearchStrategy string           `json:"research_strategy"`
	Subsections      []PlannedSection `json:"subsections,omitempty"`
}

// OutlineDraft is the planner's top-level structured output.
type OutlineDraft struct {
	ReportTitle string           `json:"report_title"`
	Sections    []PlannedSection `json:"sections"`
}

// QueryList is the research agent's query-generation output.
type QueryList struct {
	Queries []string `json:"queries"`
}

// SubsectionTopic is one topic reflection suggests promoting into a
// subsection.
type SubsectionTopic struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Reasoning       string   `json:"reasoning"`
	RelevantNoteIDs []string `json:"relevant_note_ids"`
}

// OutlineModification is one edit reflection proposes against the plan.
type OutlineModification struct {
	ModificationType string `json:"modification_type"` // ADD_SECTION | REMOVE_SECTION | MERGE_SECTIONS | REORDER_SECTIONS | REFRAME_SECTION_TOPIC | SPLIT_SECTION
	SectionID        string `json:"section_id"`
	Details          string `json:"details"`
	Reasoning        string `json:"reasoning"`
}

// ReflectionOutput is the strict-schema result of one reflection cycle.
type ReflectionOutput struct {
	OverallAssessment         string                `json:"overall_assessment"`
	NewQuestions              []string              `json:"new_questions"`
	SuggestedSubsectionTopics []SubsectionTopic     `json:"suggested_subsection_topics"`
	ProposedModifications     []OutlineModification `json:"proposed_modifications"`
	SectionsNeedingReview     []string              `json:"sections_needing_review"`
	CriticalIssuesSummary     string                `json:"critical_issues_summary"`
	DiscardNoteIDs            []string              `json:"discard_note_ids"`
	GeneratedThought          string                `json:"generated_thought"`
}

// AssignedNotes is the note set one section receives from assignment.
type AssignedNotes struct {
	SectionID string   `json:"section_id"`
	NoteIDs   []string `json:"note_ids"`
}

// FullNoteAssignments is the assignment agent's structured output.
type FullNoteAssignments struct {
	Assignments []AssignedNotes `json:"assignments"`
}

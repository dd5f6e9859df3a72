package events

// MissionCreatedEvent records mission creation from a user request.
type MissionCreatedEvent struct {
	BaseEvent
	ChatID   string                 `json:"chat_id"`
	UserID   string                 `json:"user_id"`
	Goal     string                 `json:"goal"`
	Settings MissionSettings        `json:"settings"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// StatusChangedEvent records a transition of mission.status.
type StatusChangedEvent struct {
	BaseEvent
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// ModelCallDetails is the subset of an LLM call's accounting that rides
// along on an execution-log entry.
type ModelCallDetails struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// LogAppendedEvent records one execution-log line, visible to
// subscribers within one second of the batched flush. Phase names the
// mission phase that produced the entry.
type LogAppendedEvent struct {
	BaseEvent
	Phase        string            `json:"phase"`
	AgentName    string            `json:"agent_name"`
	Action       string            `json:"action"`
	Message      string            `json:"message"`
	InputSummary string            `json:"input_summary,omitempty"`
	OutputSummary string           `json:"output_summary,omitempty"`
	Status       string            `json:"status"` // success | failure | warning
	ErrorMessage string            `json:"error_message,omitempty"`
	ModelDetails *ModelCallDetails `json:"model_details,omitempty"`
}

// PlanStoredEvent records a (re)placement of the outline tree.
type PlanStoredEvent struct {
	BaseEvent
	Outline []*ReportSection `json:"outline"`
}

// NoteUpsertedEvent records a note being added or revised.
type NoteUpsertedEvent struct {
	BaseEvent
	Note Note `json:"note"`
}

// NotesDiscardedEvent marks notes dead without deleting their history.
type NotesDiscardedEvent struct {
	BaseEvent
	NoteIDs []string `json:"note_ids"`
	Reason  string   `json:"reason,omitempty"`
}

// SectionContentSetEvent records a drafted/redrafted section body.
type SectionContentSetEvent struct {
	BaseEvent
	SectionID string `json:"section_id"`
	Content   string `json:"content"`
}

// SectionNotesSetEvent records the note-assignment result for one section.
type SectionNotesSetEvent struct {
	BaseEvent
	SectionID string   `json:"section_id"`
	NoteIDs   []string `json:"note_ids"`
}

// GoalAddedEvent records a new entry on the goal pad.
type GoalAddedEvent struct {
	BaseEvent
	GoalID string `json:"goal_id"`
	Text   string `json:"text"`
}

// GoalStatusUpdatedEvent records a goal pad entry's status transition.
type GoalStatusUpdatedEvent struct {
	BaseEvent
	GoalID string `json:"goal_id"`
	Status string `json:"status"` // open | addressed | superseded
}

// ThoughtAddedEvent appends to the bounded thought pad FIFO.
type ThoughtAddedEvent struct {
	BaseEvent
	Text string `json:"text"`
}

// ScratchpadUpdatedEvent replaces the agent scratchpad free-form blob.
type ScratchpadUpdatedEvent struct {
	BaseEvent
	Content string `json:"content"`
}

// ReportVersionAddedEvent records a full report render, additive history.
type ReportVersionAddedEvent struct {
	BaseEvent
	VersionID string            `json:"version_id"`
	Sections  map[string]string `json:"sections"` // section_id -> rendered markdown
	Citations []Citation        `json:"citations"`
}

// CurrentReportVersionSetEvent points current_report_version at a prior
// ReportVersionAddedEvent's VersionID (never mutates report history).
type CurrentReportVersionSetEvent struct {
	BaseEvent
	VersionID string `json:"version_id"`
}

// CostRecordedEvent accumulates spend onto the mission total.
type CostRecordedEvent struct {
	BaseEvent
	Phase string        `json:"phase"`
	Cost  CostBreakdown `json:"cost"`
}

// SnapshotTakenEvent marks a replay-optimization checkpoint; aggregate
// state itself is stored out of band via EventStore.SaveSnapshot.
type SnapshotTakenEvent struct {
	BaseEvent
}

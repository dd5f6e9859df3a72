package aggregate

import (
	"fmt"

	"missioncore/internal/domain/events"
)

// Command is an intent to change mission state. Validate runs against the
// current in-memory state before any event is derived.
type Command interface {
	Validate(m *MissionContext) error
}

// CreateMissionCommand initializes a pending mission.
type CreateMissionCommand struct {
	ChatID   string
	UserID   string
	Goal     string
	Settings events.MissionSettings
	Metadata map[string]interface{}
}

func (c CreateMissionCommand) Validate(m *MissionContext) error {
	if m.Status != "pending" || m.Version != 0 {
		return fmt.Errorf("mission already created")
	}
	if c.Goal == "" {
		return fmt.Errorf("goal cannot be empty")
	}
	return nil
}

// ChangeStatusCommand transitions mission.status.
type ChangeStatusCommand struct {
	To     string
	Reason string
}

var terminalStatuses = map[string]bool{"completed": true, "failed": true, "stopped": true}

// legalTransitions encodes the mission state machine: pending → planning
// → running ↔ paused, running → {stopped, completed}, and any
// non-terminal status → failed.
var legalTransitions = map[string][]string{
	"pending":  {"planning", "stopped", "failed"},
	"planning": {"running", "stopped", "failed"},
	"running":  {"paused", "stopped", "completed", "failed"},
	"paused":   {"running", "stopped", "failed"},
}

func (c ChangeStatusCommand) Validate(m *MissionContext) error {
	if terminalStatuses[m.Status] {
		return fmt.Errorf("mission already in terminal status %s", m.Status)
	}
	for _, to := range legalTransitions[m.Status] {
		if to == c.To {
			return nil
		}
	}
	return fmt.Errorf("illegal status transition %s -> %s", m.Status, c.To)
}

// AppendLogCommand adds one execution-log line. When ModelDetails is set
// the aggregate also rolls its cost/tokens into the mission's running
// stats as part of the same event.
type AppendLogCommand struct {
	Phase         string
	AgentName     string
	Action        string
	Message       string
	InputSummary  string
	OutputSummary string
	Status        string
	ErrorMessage  string
	ModelDetails  *events.ModelCallDetails
}

func (c AppendLogCommand) Validate(m *MissionContext) error { return nil }

// StorePlanCommand (re)writes the outline tree.
type StorePlanCommand struct {
	Outline []*events.ReportSection
}

func (c StorePlanCommand) Validate(m *MissionContext) error {
	if terminalStatuses[m.Status] {
		return fmt.Errorf("cannot store plan in terminal status %s", m.Status)
	}
	return nil
}

// UpsertNoteCommand adds or revises a note.
type UpsertNoteCommand struct {
	Note events.Note
}

func (c UpsertNoteCommand) Validate(m *MissionContext) error {
	if c.Note.NoteID == "" {
		return fmt.Errorf("note requires an id")
	}
	return nil
}

// DiscardNotesCommand marks notes dead.
type DiscardNotesCommand struct {
	NoteIDs []string
	Reason  string
}

func (c DiscardNotesCommand) Validate(m *MissionContext) error { return nil }

// SetSectionContentCommand records a drafted section body.
type SetSectionContentCommand struct {
	SectionID string
	Content   string
}

func (c SetSectionContentCommand) Validate(m *MissionContext) error {
	if c.SectionID == "" {
		return fmt.Errorf("section id required")
	}
	return nil
}

// SetSectionNotesCommand records the note-assignment result for a section.
type SetSectionNotesCommand struct {
	SectionID string
	NoteIDs   []string
}

func (c SetSectionNotesCommand) Validate(m *MissionContext) error {
	if c.SectionID == "" {
		return fmt.Errorf("section id required")
	}
	return nil
}

// AddGoalCommand appends a new goal-pad entry.
type AddGoalCommand struct {
	GoalID string
	Text   string
}

func (c AddGoalCommand) Validate(m *MissionContext) error { return nil }

// UpdateGoalStatusCommand transitions a goal-pad entry's status.
type UpdateGoalStatusCommand struct {
	GoalID string
	Status string
}

func (c UpdateGoalStatusCommand) Validate(m *MissionContext) error {
	if _, ok := m.GoalPad[c.GoalID]; !ok {
		return fmt.Errorf("goal not found: %s", c.GoalID)
	}
	return nil
}

// AddThoughtCommand appends to the bounded thought pad.
type AddThoughtCommand struct {
	Text string
}

func (c AddThoughtCommand) Validate(m *MissionContext) error { return nil }

// UpdateScratchpadCommand replaces the scratchpad blob.
type UpdateScratchpadCommand struct {
	Content string
}

func (c UpdateScratchpadCommand) Validate(m *MissionContext) error { return nil }

// AddReportVersionCommand records a new immutable report render.
type AddReportVersionCommand struct {
	VersionID string
	Sections  map[string]string
	Citations []events.Citation
}

func (c AddReportVersionCommand) Validate(m *MissionContext) error {
	if _, exists := m.ReportVersions[c.VersionID]; exists {
		return fmt.Errorf("report version already exists: %s", c.VersionID)
	}
	return nil
}

// SetCurrentReportVersionCommand moves the current-version pointer.
type SetCurrentReportVersionCommand struct {
	VersionID string
}

func (c SetCurrentReportVersionCommand) Validate(m *MissionContext) error {
	if _, ok := m.ReportVersions[c.VersionID]; !ok {
		return fmt.Errorf("unknown report version: %s", c.VersionID)
	}
	return nil
}

// RecordCostCommand accumulates spend for one model call.
type RecordCostCommand struct {
	Phase string
	Cost  events.CostBreakdown
}

func (c RecordCostCommand) Validate(m *MissionContext) error { return nil }

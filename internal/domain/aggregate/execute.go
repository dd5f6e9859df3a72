package aggregate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"missioncore/internal/domain/events"
)

// Execute validates a command, derives its event, applies it to in-memory
// state, and buffers the event for the caller to hand to the Context
// Store. It returns the derived event so callers can publish it onto the
// Realtime Bus without waiting for the next read.
func (m *MissionContext) Execute(cmd Command) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := cmd.Validate(m); err != nil {
		return nil, err
	}

	version := m.Version + 1
	ts := time.Now()
	base := func(typ string) events.BaseEvent {
		return events.BaseEvent{ID: uuid.New().String(), AggregateID: m.ID, Version: version, Timestamp: ts, Type: typ}
	}

	var event interface{}
	switch c := cmd.(type) {
	case CreateMissionCommand:
		event = events.MissionCreatedEvent{
			BaseEvent: base("mission.created"), ChatID: c.ChatID, UserID: c.UserID,
			Goal: c.Goal, Settings: c.Settings, Metadata: c.Metadata,
		}

	case ChangeStatusCommand:
		event = events.StatusChangedEvent{BaseEvent: base("status.changed"), From: m.Status, To: c.To, Reason: c.Reason}

	case AppendLogCommand:
		event = events.LogAppendedEvent{
			BaseEvent: base("log.appended"), Phase: c.Phase, AgentName: c.AgentName, Action: c.Action,
			Message: c.Message, InputSummary: c.InputSummary, OutputSummary: c.OutputSummary,
			Status: c.Status, ErrorMessage: c.ErrorMessage, ModelDetails: c.ModelDetails,
		}

	case StorePlanCommand:
		event = events.PlanStoredEvent{BaseEvent: base("plan.stored"), Outline: c.Outline}

	case UpsertNoteCommand:
		event = events.NoteUpsertedEvent{BaseEvent: base("note.upserted"), Note: c.Note}

	case DiscardNotesCommand:
		event = events.NotesDiscardedEvent{BaseEvent: base("notes.discarded"), NoteIDs: c.NoteIDs, Reason: c.Reason}

	case SetSectionContentCommand:
		event = events.SectionContentSetEvent{BaseEvent: base("section.content_set"), SectionID: c.SectionID, Content: c.Content}

	case SetSectionNotesCommand:
		event = events.SectionNotesSetEvent{BaseEvent: base("section.notes_set"), SectionID: c.SectionID, NoteIDs: c.NoteIDs}

	case AddGoalCommand:
		event = events.GoalAddedEvent{BaseEvent: base("goal.added"), GoalID: c.GoalID, Text: c.Text}

	case UpdateGoalStatusCommand:
		event = events.GoalStatusUpdatedEvent{BaseEvent: base("goal.status_updated"), GoalID: c.GoalID, Status: c.Status}

	case AddThoughtCommand:
		event = events.ThoughtAddedEvent{BaseEvent: base("thought.added"), Text: c.Text}

	case UpdateScratchpadCommand:
		event = events.ScratchpadUpdatedEvent{BaseEvent: base("scratchpad.updated"), Content: c.Content}

	case AddReportVersionCommand:
		event = events.ReportVersionAddedEvent{BaseEvent: base("report_version.added"), VersionID: c.VersionID, Sections: c.Sections, Citations: c.Citations}

	case SetCurrentReportVersionCommand:
		event = events.CurrentReportVersionSetEvent{BaseEvent: base("current_report_version.set"), VersionID: c.VersionID}

	case RecordCostCommand:
		event = events.CostRecordedEvent{BaseEvent: base("cost.recorded"), Phase: c.Phase, Cost: c.Cost}

	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}

	m.applyLocked(event)
	return event, nil
}

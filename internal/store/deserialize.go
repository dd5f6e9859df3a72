package store

import (
	"encoding/json"
	"fmt"

	"missioncore/internal/domain/events"
)

// deserializeEvent inspects the "type" discriminator and unmarshals into
// the concrete mission event struct.
func deserializeEvent(data []byte) (Event, error) {
	var base events.BaseEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	// Returned by value, not pointer: the aggregate's apply() type-switches
	// on the value types it itself produces in Execute, and BaseEvent's
	// accessor methods have value receivers, so the value type alone
	// already satisfies the Event interface.
	switch base.Type {
	case "mission.created":
		var e events.MissionCreatedEvent
		return e, json.Unmarshal(data, &e)
	case "status.changed":
		var e events.StatusChangedEvent
		return e, json.Unmarshal(data, &e)
	case "log.appended":
		var e events.LogAppendedEvent
		return e, json.Unmarshal(data, &e)
	case "plan.stored":
		var e events.PlanStoredEvent
		return e, json.Unmarshal(data, &e)
	case "note.upserted":
		var e events.NoteUpsertedEvent
		return e, json.Unmarshal(data, &e)
	case "notes.discarded":
		var e events.NotesDiscardedEvent
		return e, json.Unmarshal(data, &e)
	case "section.content_set":
		var e events.SectionContentSetEvent
		return e, json.Unmarshal(data, &e)
	case "section.notes_set":
		var e events.SectionNotesSetEvent
		return e, json.Unmarshal(data, &e)
	case "goal.added":
		var e events.GoalAddedEvent
		return e, json.Unmarshal(data, &e)
	case "goal.status_updated":
		var e events.GoalStatusUpdatedEvent
		return e, json.Unmarshal(data, &e)
	case "thought.added":
		var e events.ThoughtAddedEvent
		return e, json.Unmarshal(data, &e)
	case "scratchpad.updated":
		var e events.ScratchpadUpdatedEvent
		return e, json.Unmarshal(data, &e)
	case "report_version.added":
		var e events.ReportVersionAddedEvent
		return e, json.Unmarshal(data, &e)
	case "current_report_version.set":
		var e events.CurrentReportVersionSetEvent
		return e, json.Unmarshal(data, &e)
	case "cost.recorded":
		var e events.CostRecordedEvent
		return e, json.Unmarshal(data, &e)
	case "snapshot.taken":
		var e events.SnapshotTakenEvent
		return e, json.Unmarshal(data, &e)
	default:
		return nil, fmt.Errorf("unknown event type: %s", base.Type)
	}
}

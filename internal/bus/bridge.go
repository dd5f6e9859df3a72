package bus

import (
	domainevents "missioncore/internal/domain/events"
	busevents "missioncore/internal/events"
	"missioncore/internal/store"
)

// Publish implements store.EventPublisher: every committed domain event
// is translated into its wire envelope type and fanned out to the
// mission's subscribers. Unrecognized events are dropped silently —
// internal bookkeeping events (snapshots, goal pad churn) have no
// client-facing representation.
func (m *Manager) Publish(event store.Event) {
	missionID := event.GetAggregateID()

	switch e := event.(type) {
	case domainevents.StatusChangedEvent:
		m.SendToMission(missionID, "status_changed", map[string]interface{}{
			"from": e.From, "to": e.To, "reason": e.Reason,
		})

	case domainevents.LogAppendedEvent:
		m.SendToMission(missionID, "log_entry", map[string]interface{}{
			"agent_name": e.AgentName, "action": e.Action, "status": e.Status,
			"message": e.Message, "error_message": e.ErrorMessage,
		})
		if e.ModelDetails != nil {
			m.SendToMission(missionID, "stats_updated", map[string]interface{}{
				"prompt_tokens":     e.ModelDetails.PromptTokens,
				"completion_tokens": e.ModelDetails.CompletionTokens,
				"cost_usd":          e.ModelDetails.CostUSD,
			})
		}

	case domainevents.PlanStoredEvent:
		m.SendToMission(missionID, "plan_updated", map[string]interface{}{
			"section_count": len(e.Outline),
		})

	case domainevents.NoteUpsertedEvent:
		m.SendToMission(missionID, "notes_updated", map[string]interface{}{
			"note_id": e.Note.NoteID, "source_type": e.Note.SourceType,
		})

	case domainevents.NotesDiscardedEvent:
		m.SendToMission(missionID, "notes_updated", map[string]interface{}{
			"discarded": e.NoteIDs,
		})

	case domainevents.SectionContentSetEvent:
		m.SendToMission(missionID, "section_updated", map[string]interface{}{
			"section_id": e.SectionID,
		})

	case domainevents.SectionNotesSetEvent:
		m.SendToMission(missionID, "section_updated", map[string]interface{}{
			"section_id": e.SectionID, "note_ids": e.NoteIDs,
		})

	case domainevents.ReportVersionAddedEvent:
		m.SendToMission(missionID, "report_version_added", map[string]interface{}{
			"version_id": e.VersionID,
		})

	case domainevents.CostRecordedEvent:
		m.SendToMission(missionID, "stats_updated", map[string]interface{}{
			"prompt_tokens":     e.Cost.InputTokens,
			"completion_tokens": e.Cost.OutputTokens,
			"cost_usd":          e.Cost.TotalCostUSD,
		})
	}
}

var _ store.EventPublisher = (*Manager)(nil)

// BridgeTransport forwards tool-call and web-fetch progress events from
// the low-level channel transport onto mission topics, so tools only
// ever publish to the simple in-process bus and never learn about
// connections. Runs until the transport closes its channel.
func (m *Manager) BridgeTransport(transport *busevents.Bus) {
	ch := transport.Subscribe(
		busevents.EventToolCallStart, busevents.EventToolCallComplete,
		busevents.EventWebFetchStart, busevents.EventWebFetchComplete,
		busevents.EventWebFetchCacheHit,
	)
	go func() {
		for ev := range ch {
			if ev.MissionID == "" {
				continue
			}
			m.SendToMission(ev.MissionID, ev.Type.String(), ev.Data)
		}
	}()
}

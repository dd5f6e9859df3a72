package aggregate

import (
	"time"

	"missioncore/internal/domain/events"
)

const defaultThoughtPadLimit = 50

// Apply updates state from an externally-sourced event (e.g. during
// replay, or when a subscriber re-applies an event delivered over the bus).
func (m *MissionContext) Apply(event interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(event)
}

func (m *MissionContext) apply(event interface{}) {
	m.applyLocked(event)
}

func (m *MissionContext) applyLocked(event interface{}) {
	switch e := event.(type) {
	case events.MissionCreatedEvent:
		m.ChatID = e.ChatID
		m.UserID = e.UserID
		m.Goal = e.Goal
		m.Settings = e.Settings
		m.Status = "pending"
		m.CreatedAt = e.Timestamp
		if e.Metadata != nil {
			m.Metadata = make(map[string]interface{}, len(e.Metadata))
			for k, v := range e.Metadata {
				m.Metadata[k] = v
			}
		}

	case events.StatusChangedEvent:
		m.Status = e.To
		if e.To == "failed" {
			m.ErrorInfo = e.Reason
		}

	case events.LogAppendedEvent:
		m.ExecutionLog = append(m.ExecutionLog, LogLine{
			Phase: e.Phase, AgentName: e.AgentName, Action: e.Action, Message: e.Message,
			InputSummary: e.InputSummary, OutputSummary: e.OutputSummary, Status: e.Status,
			ErrorMessage: e.ErrorMessage, ModelDetails: e.ModelDetails, Timestamp: e.Timestamp,
		})
		// A log line carrying model details also feeds the running stats.
		if e.ModelDetails != nil {
			m.Cost.Add(events.CostBreakdown{
				InputTokens: e.ModelDetails.PromptTokens, OutputTokens: e.ModelDetails.CompletionTokens,
				TotalTokens: e.ModelDetails.PromptTokens + e.ModelDetails.CompletionTokens,
				TotalCostUSD: e.ModelDetails.CostUSD,
			})
		}

	case events.PlanStoredEvent:
		m.Outline = e.Outline

	case events.NoteUpsertedEvent:
		n := e.Note
		m.Notes[n.NoteID] = &n

	case events.NotesDiscardedEvent:
		for _, id := range e.NoteIDs {
			if n, ok := m.Notes[id]; ok {
				n.Discarded = true
			}
		}

	case events.SectionContentSetEvent:
		m.SectionContent[e.SectionID] = e.Content

	case events.SectionNotesSetEvent:
		m.SectionNotes[e.SectionID] = e.NoteIDs

	case events.GoalAddedEvent:
		m.GoalPad[e.GoalID] = &GoalPadEntry{ID: e.GoalID, Text: e.Text, Status: "open"}

	case events.GoalStatusUpdatedEvent:
		if g, ok := m.GoalPad[e.GoalID]; ok {
			g.Status = e.Status
		}

	case events.ThoughtAddedEvent:
		limit := m.Settings.ThoughtPadContextLimit
		if limit <= 0 {
			limit = defaultThoughtPadLimit
		}
		m.ThoughtPad = append(m.ThoughtPad, e.Text)
		if len(m.ThoughtPad) > limit {
			m.ThoughtPad = m.ThoughtPad[len(m.ThoughtPad)-limit:]
		}

	case events.ScratchpadUpdatedEvent:
		m.Scratchpad = e.Content

	case events.ReportVersionAddedEvent:
		m.ReportVersions[e.VersionID] = &ReportVersion{
			ID: e.VersionID, Sections: e.Sections, Citations: e.Citations, CreatedAt: e.Timestamp,
		}

	case events.CurrentReportVersionSetEvent:
		m.CurrentReportVersion = e.VersionID

	case events.CostRecordedEvent:
		m.Cost.Add(e.Cost)

	case events.SnapshotTakenEvent:
		// no state change; marks a replay checkpoint only.
	}

	if ts, ok := event.(interface{ GetTimestamp() time.Time }); ok {
		m.UpdatedAt = ts.GetTimestamp()
	}
	m.Version++
	m.uncommitted = append(m.uncommitted, event)
}

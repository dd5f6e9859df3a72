package aggregate

import "encoding/json"

// MarshalSnapshot encodes the aggregate's current state for
// EventStore.SaveSnapshot, so a later load can resume from this version
// instead of replaying the full event stream.
func (m *MissionContext) MarshalSnapshot() ([]byte, error) {
	v := m.Snapshot()
	return json.Marshal(v)
}

// HydrateFromSnapshot rebuilds an aggregate from a prior MarshalSnapshot
// payload. The caller is responsible for then applying any events
// recorded after the snapshot's version to catch it up to the current
// stream (see store.ContextStore.load).
func HydrateFromSnapshot(id string, version int, data []byte) (*MissionContext, error) {
	var v View
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	m := New(id)
	m.ChatID = v.ChatID
	m.UserID = v.UserID
	m.Version = version
	m.CreatedAt = v.CreatedAt
	m.UpdatedAt = v.UpdatedAt
	m.Goal = v.Goal
	m.Settings = v.Settings
	m.Status = v.Status
	m.ErrorInfo = v.ErrorInfo
	if v.Metadata != nil {
		m.Metadata = v.Metadata
	}
	m.Outline = v.Outline
	if v.Notes != nil {
		m.Notes = v.Notes
	}
	if v.SectionContent != nil {
		m.SectionContent = v.SectionContent
	}
	if v.SectionNotes != nil {
		m.SectionNotes = v.SectionNotes
	}
	if v.GoalPad != nil {
		m.GoalPad = v.GoalPad
	}
	m.ThoughtPad = v.ThoughtPad
	m.Scratchpad = v.Scratchpad
	m.ExecutionLog = v.ExecutionLog
	if v.ReportVersions != nil {
		m.ReportVersions = v.ReportVersions
	}
	m.CurrentReportVersion = v.CurrentReportVersion
	m.Cost = v.Cost
	return m, nil
}

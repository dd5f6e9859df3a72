// Package aggregate contains the MissionContext aggregate root: the
// event-sourced heart of the Context Store. Every mutation flows through
// Execute(command), which validates, derives an event, applies it to
// in-memory state, and buffers it for the caller to persist.
package aggregate

import (
	"sync"
	"time"

	"missioncore/internal/domain/events"
)

// MissionContext is the aggregate root for a single research mission:
// the mission row (ChatID/UserID/Status/ErrorInfo) merged with the
// mutable context bag agents read and write through the Context Store's
// typed API.
type MissionContext struct {
	mu sync.RWMutex

	ID        string
	ChatID    string
	UserID    string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time

	Goal      string // user_request
	Settings  events.MissionSettings
	Status    string // pending | planning | running | paused | stopped | completed | failed
	ErrorInfo string

	// Metadata holds the recognized mission metadata keys: tool_selection,
	// document_group_id, document ids, final_questions, initial_questions.
	Metadata map[string]interface{}

	Outline []*events.ReportSection
	Notes   map[string]*events.Note

	// SectionContent holds the latest drafted body per section id; full
	// report renders live in ReportVersions, this is the working copy.
	SectionContent map[string]string
	SectionNotes   map[string][]string

	GoalPad      map[string]*GoalPadEntry
	ThoughtPad   []string
	Scratchpad   string
	ExecutionLog []LogLine

	ReportVersions       map[string]*ReportVersion
	CurrentReportVersion string

	Cost events.CostBreakdown

	uncommitted []interface{}
}

// GoalPadEntry is one line item tracked on the mission's goal pad.
type GoalPadEntry struct {
	ID     string
	Text   string
	Status string // open | addressed | superseded
}

// LogLine is one entry of the mission's execution log.
type LogLine struct {
	Phase         string
	AgentName     string
	Action        string
	Message       string
	InputSummary  string
	OutputSummary string
	Status        string
	ErrorMessage  string
	ModelDetails  *events.ModelCallDetails
	Timestamp     time.Time
}

// ReportVersion is an immutable snapshot of a full report render.
type ReportVersion struct {
	ID        string
	Sections  map[string]string
	Citations []events.Citation
	CreatedAt time.Time
}

// New creates an empty, unpersisted mission aggregate.
func New(id string) *MissionContext {
	return &MissionContext{
		ID:             id,
		Status:         "pending",
		Metadata:       make(map[string]interface{}),
		Notes:          make(map[string]*events.Note),
		SectionContent: make(map[string]string),
		SectionNotes:   make(map[string][]string),
		GoalPad:        make(map[string]*GoalPadEntry),
		ReportVersions: make(map[string]*ReportVersion),
	}
}

// View is a read-only, lock-free snapshot of MissionContext safe to hand
// to callers outside the Context Store's mutation path.
type View struct {
	ID        string
	ChatID    string
	UserID    string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time

	Goal      string
	Settings  events.MissionSettings
	Status    string
	ErrorInfo string
	Metadata  map[string]interface{}

	Outline        []*events.ReportSection
	Notes          map[string]*events.Note
	SectionContent map[string]string
	SectionNotes   map[string][]string

	GoalPad      map[string]*GoalPadEntry
	ThoughtPad   []string
	Scratchpad   string
	ExecutionLog []LogLine

	ReportVersions       map[string]*ReportVersion
	CurrentReportVersion string

	Cost events.CostBreakdown
}

// Snapshot copies the aggregate's current state under a read lock. Maps
// and slices are shallow-copied so a caller can range over them without
// racing a concurrent writer; reads never block the mutation path
// beyond this copy.
func (m *MissionContext) Snapshot() View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := View{
		ID: m.ID, ChatID: m.ChatID, UserID: m.UserID, Version: m.Version,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, Goal: m.Goal, Settings: m.Settings,
		Status: m.Status, ErrorInfo: m.ErrorInfo, Scratchpad: m.Scratchpad,
		CurrentReportVersion: m.CurrentReportVersion, Cost: m.Cost,
	}
	v.Metadata = make(map[string]interface{}, len(m.Metadata))
	for k, val := range m.Metadata {
		v.Metadata[k] = val
	}
	v.Outline = append([]*events.ReportSection{}, m.Outline...)
	v.Notes = make(map[string]*events.Note, len(m.Notes))
	for k, n := range m.Notes {
		v.Notes[k] = n
	}
	v.SectionContent = make(map[string]string, len(m.SectionContent))
	for k, c := range m.SectionContent {
		v.SectionContent[k] = c
	}
	v.SectionNotes = make(map[string][]string, len(m.SectionNotes))
	for k, ids := range m.SectionNotes {
		v.SectionNotes[k] = append([]string{}, ids...)
	}
	v.GoalPad = make(map[string]*GoalPadEntry, len(m.GoalPad))
	for k, g := range m.GoalPad {
		v.GoalPad[k] = g
	}
	v.ThoughtPad = append([]string{}, m.ThoughtPad...)
	v.ExecutionLog = append([]LogLine{}, m.ExecutionLog...)
	v.ReportVersions = make(map[string]*ReportVersion, len(m.ReportVersions))
	for k, rv := range m.ReportVersions {
		v.ReportVersions[k] = rv
	}
	return v
}

// LoadFromEvents reconstructs a mission by replaying its event stream.
func LoadFromEvents(id string, stream []interface{}) *MissionContext {
	m := New(id)
	m.ApplyStream(stream)
	return m
}

// ApplyStream replays a batch of events onto the aggregate in order,
// e.g. the events recorded after a snapshot's version when catching a
// hydrated aggregate up to the current stream. Clears the uncommitted
// buffer afterward since replayed events are already durable.
func (m *MissionContext) ApplyStream(stream []interface{}) {
	for _, e := range stream {
		m.apply(e)
	}
	m.uncommitted = nil
}

// UncommittedEvents returns events generated since the last Commit.
func (m *MissionContext) UncommittedEvents() []interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]interface{}{}, m.uncommitted...)
}

// Commit clears the uncommitted buffer after the caller has persisted it.
func (m *MissionContext) Commit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uncommitted = nil
}

func (m *MissionContext) getVersion() int {
	return m.Version
}

// StatusSnapshot returns the current status under lock.
func (m *MissionContext) StatusSnapshot() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Status
}

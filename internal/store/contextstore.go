package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"missioncore/internal/domain/aggregate"
	"missioncore/internal/domain/events"
)

// ContextStore owns the in-memory MissionContext aggregates, derives and
// persists their events through an EventStore, and publishes each
// committed event to the Realtime Bus. Callers never touch the aggregate
// package directly; every mutation goes through one of these methods.
type ContextStore struct {
	mu       sync.RWMutex
	missions map[string]*aggregate.MissionContext

	// writeLocks serializes the execute+persist pair per mission, so
	// concurrent sub-tasks inside one mission can't interleave their
	// event batches. Missions never block each other.
	writeMu    sync.Mutex
	writeLocks map[string]*sync.Mutex

	eventStore EventStore
	publisher  EventPublisher
}

// NewContextStore wires a Context Store over the given event store. pub
// may be nil if nothing needs realtime notification (e.g. tests).
func NewContextStore(es EventStore, pub EventPublisher) *ContextStore {
	return &ContextStore{
		missions:   make(map[string]*aggregate.MissionContext),
		writeLocks: make(map[string]*sync.Mutex),
		eventStore: es,
		publisher:  pub,
	}
}

// Recover loads every non-terminal mission's event stream into memory on
// startup, so a restart doesn't lose track of missions that were
// running or paused when the process stopped.
func (s *ContextStore) Recover(ctx context.Context) error {
	ids, err := s.eventStore.GetAllAggregateIDs(ctx)
	if err != nil {
		return fmt.Errorf("list missions: %w", err)
	}
	for _, id := range ids {
		m, err := s.load(ctx, id)
		if err != nil {
			return fmt.Errorf("recover mission %s: %w", id, err)
		}
		status := m.StatusSnapshot()
		if status == "completed" || status == "failed" || status == "stopped" {
			s.mu.Lock()
			delete(s.missions, id)
			s.mu.Unlock()
		}
	}
	return nil
}

// CreateMission starts a new mission aggregate and persists its creation
// event.
func (s *ContextStore) CreateMission(ctx context.Context, chatID, userID, goal string, settings events.MissionSettings, metadata map[string]interface{}) (aggregate.View, error) {
	id := uuid.New().String()
	m := aggregate.New(id)
	s.mu.Lock()
	s.missions[id] = m
	s.mu.Unlock()

	return s.execute(ctx, id, m, aggregate.CreateMissionCommand{
		ChatID: chatID, UserID: userID, Goal: goal, Settings: settings, Metadata: metadata,
	})
}

// Get returns a lock-free snapshot of a mission, loading it from the
// event store if it isn't already cached in memory.
func (s *ContextStore) Get(ctx context.Context, missionID string) (aggregate.View, error) {
	m, err := s.resolve(ctx, missionID)
	if err != nil {
		return aggregate.View{}, err
	}
	return m.Snapshot(), nil
}

// ListMissions returns a lightweight projection of every known mission,
// for an operator-facing listing.
func (s *ContextStore) ListMissions(ctx context.Context) ([]MissionSummary, error) {
	ids, err := s.eventStore.GetAllAggregateIDs(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]MissionSummary, 0, len(ids))
	for _, id := range ids {
		m, err := s.resolve(ctx, id)
		if err != nil {
			continue
		}
		v := m.Snapshot()
		summaries = append(summaries, MissionSummary{
			ID: v.ID, Goal: v.Goal, Status: v.Status, TotalCost: v.Cost.TotalCostUSD,
			CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt,
		})
	}
	return summaries, nil
}

func (s *ContextStore) UpdateStatus(ctx context.Context, missionID, to, reason string) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.ChangeStatusCommand{To: to, Reason: reason})
}

func (s *ContextStore) AppendLog(ctx context.Context, missionID string, line aggregate.LogLine) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.AppendLogCommand{
		Phase: line.Phase, AgentName: line.AgentName, Action: line.Action, Message: line.Message,
		InputSummary: line.InputSummary, OutputSummary: line.OutputSummary, Status: line.Status,
		ErrorMessage: line.ErrorMessage, ModelDetails: line.ModelDetails,
	})
}

func (s *ContextStore) StorePlan(ctx context.Context, missionID string, outline []*events.ReportSection) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.StorePlanCommand{Outline: outline})
}

func (s *ContextStore) UpsertNote(ctx context.Context, missionID string, note events.Note) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.UpsertNoteCommand{Note: note})
}

func (s *ContextStore) DiscardNotes(ctx context.Context, missionID string, noteIDs []string, reason string) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.DiscardNotesCommand{NoteIDs: noteIDs, Reason: reason})
}

func (s *ContextStore) SetSectionContent(ctx context.Context, missionID, sectionID, content string) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.SetSectionContentCommand{SectionID: sectionID, Content: content})
}

func (s *ContextStore) SetSectionNotes(ctx context.Context, missionID, sectionID string, noteIDs []string) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.SetSectionNotesCommand{SectionID: sectionID, NoteIDs: noteIDs})
}

func (s *ContextStore) AddGoal(ctx context.Context, missionID, goalID, text string) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.AddGoalCommand{GoalID: goalID, Text: text})
}

func (s *ContextStore) UpdateGoalStatus(ctx context.Context, missionID, goalID, status string) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.UpdateGoalStatusCommand{GoalID: goalID, Status: status})
}

func (s *ContextStore) AddThought(ctx context.Context, missionID, text string) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.AddThoughtCommand{Text: text})
}

func (s *ContextStore) UpdateScratchpad(ctx context.Context, missionID, content string) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.UpdateScratchpadCommand{Content: content})
}

func (s *ContextStore) AddReportVersion(ctx context.Context, missionID, versionID string, sections map[string]string, citations []events.Citation) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.AddReportVersionCommand{VersionID: versionID, Sections: sections, Citations: citations})
}

func (s *ContextStore) SetCurrentReportVersion(ctx context.Context, missionID, versionID string) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.SetCurrentReportVersionCommand{VersionID: versionID})
}

func (s *ContextStore) RecordCost(ctx context.Context, missionID, phase string, cost events.CostBreakdown) (aggregate.View, error) {
	return s.run(ctx, missionID, aggregate.RecordCostCommand{Phase: phase, Cost: cost})
}

// run resolves the mission's cached aggregate (loading it if necessary)
// and executes cmd against it.
func (s *ContextStore) run(ctx context.Context, missionID string, cmd aggregate.Command) (aggregate.View, error) {
	m, err := s.resolve(ctx, missionID)
	if err != nil {
		return aggregate.View{}, err
	}
	return s.execute(ctx, missionID, m, cmd)
}

func (s *ContextStore) resolve(ctx context.Context, missionID string) (*aggregate.MissionContext, error) {
	s.mu.RLock()
	m, ok := s.missions[missionID]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}
	return s.load(ctx, missionID)
}

func (s *ContextStore) load(ctx context.Context, missionID string) (*aggregate.MissionContext, error) {
	var m *aggregate.MissionContext

	snap, err := s.eventStore.LoadSnapshot(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	fromVersion := 0
	if snap != nil {
		m, err = aggregate.HydrateFromSnapshot(missionID, snap.Version, snap.Data)
		if err != nil {
			return nil, fmt.Errorf("hydrate snapshot: %w", err)
		}
		fromVersion = snap.Version
	}

	var evs []Event
	if fromVersion == 0 {
		evs, err = s.eventStore.LoadEvents(ctx, missionID)
	} else {
		evs, err = s.eventStore.LoadEventsFrom(ctx, missionID, fromVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	if m == nil {
		if len(evs) == 0 {
			return nil, fmt.Errorf("mission not found: %s", missionID)
		}
		m = aggregate.New(missionID)
	}
	stream := make([]interface{}, len(evs))
	for i, e := range evs {
		stream[i] = e
	}
	m.ApplyStream(stream)

	s.mu.Lock()
	s.missions[missionID] = m
	s.mu.Unlock()
	return m, nil
}

// writeLock returns the mission's write serialization lock, minting it
// on first use.
func (s *ContextStore) writeLock(missionID string) *sync.Mutex {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	l, ok := s.writeLocks[missionID]
	if !ok {
		l = &sync.Mutex{}
		s.writeLocks[missionID] = l
	}
	return l
}

// execute runs cmd against the already-resolved aggregate m, persists
// the derived event with a bounded retry, and publishes it on success.
// The execute+persist pair holds the mission's write lock so concurrent
// sub-tasks of one mission commit their events one batch at a time.
// A persistence failure evicts the aggregate from the in-memory cache
// so the next access reloads from disk rather than drifting ahead of
// what was actually durably committed.
func (s *ContextStore) execute(ctx context.Context, missionID string, m *aggregate.MissionContext, cmd aggregate.Command) (aggregate.View, error) {
	lock := s.writeLock(missionID)
	lock.Lock()
	defer lock.Unlock()

	derived, err := m.Execute(cmd)
	if err != nil {
		return aggregate.View{}, err
	}

	if err := s.persist(ctx, missionID, m); err != nil {
		s.mu.Lock()
		delete(s.missions, missionID)
		s.mu.Unlock()
		return aggregate.View{}, fmt.Errorf("persist event: %w", err)
	}

	if s.publisher != nil {
		if se, ok := derived.(Event); ok {
			s.publisher.Publish(se)
		}
	}
	return m.Snapshot(), nil
}

func (s *ContextStore) persist(ctx context.Context, missionID string, m *aggregate.MissionContext) error {
	pending := m.UncommittedEvents()
	if len(pending) == 0 {
		return nil
	}
	storeEvents := make([]Event, 0, len(pending))
	for _, e := range pending {
		se, ok := e.(Event)
		if !ok {
			return fmt.Errorf("event %T does not satisfy store.Event", e)
		}
		storeEvents = append(storeEvents, se)
	}
	expectedVersion := storeEvents[0].GetVersion() - 1

	op := func() error {
		return s.eventStore.AppendEvents(ctx, missionID, storeEvents, expectedVersion)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return err
	}
	m.Commit()
	return nil
}

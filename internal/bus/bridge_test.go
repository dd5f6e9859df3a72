package bus

import (
	"testing"
	"time"

	domainevents "missioncore/internal/domain/events"
)

func baseEvent(missionID string) domainevents.BaseEvent {
	return domainevents.BaseEvent{ID: "ev-1", AggregateID: missionID, Version: 1, Timestamp: time.Now(), Type: "status.changed"}
}

func TestPublishMapsDomainEvents(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	sink := &recordingSink{}
	c := m.Register("user-1", ConnResearch, "", sink)
	m.Subscribe(c, "mission-1")

	m.Publish(domainevents.StatusChangedEvent{BaseEvent: baseEvent("mission-1"), From: "running", To: "completed"})

	if !waitFor(t, time.Second, func() bool { return sink.count() == 1 }) {
		t.Fatal("status change not delivered")
	}
	env := sink.delivered[0]
	if env.Type != "status_changed" || env.MissionID != "mission-1" {
		t.Errorf("envelope = %+v", env)
	}
	payload := env.Payload.(map[string]interface{})
	if payload["to"] != "completed" {
		t.Errorf("payload = %v", payload)
	}
}

func TestPublishLogEntryWithModelDetailsAlsoEmitsStats(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	sink := &recordingSink{}
	c := m.Register("user-1", ConnResearch, "", sink)
	m.Subscribe(c, "mission-1")

	m.Publish(domainevents.LogAppendedEvent{
		BaseEvent: baseEvent("mission-1"), AgentName: "research", Action: "cycle", Status: "success",
		ModelDetails: &domainevents.ModelCallDetails{PromptTokens: 10, CompletionTokens: 5, CostUSD: 0.002},
	})

	if !waitFor(t, time.Second, func() bool { return sink.count() == 2 }) {
		t.Fatalf("expected log_entry + stats_updated, got %d", sink.count())
	}
	types := map[string]bool{}
	for _, env := range sink.delivered {
		types[env.Type] = true
	}
	if !types["log_entry"] || !types["stats_updated"] {
		t.Errorf("delivered types = %v", types)
	}
}

func TestPublishUnrecognizedEventDropped(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	sink := &recordingSink{}
	c := m.Register("user-1", ConnResearch, "", sink)
	m.Subscribe(c, "mission-1")

	m.Publish(domainevents.SnapshotTakenEvent{BaseEvent: baseEvent("mission-1")})
	time.Sleep(50 * time.Millisecond)
	if sink.count() != 0 {
		t.Errorf("internal bookkeeping event leaked to clients: %+v", sink.delivered)
	}
}

package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingTypes(t *testing.T) {
	b := NewBus(8)
	defer b.Close()

	ch := b.Subscribe(EventToolCallStart, EventToolCallComplete)
	b.Publish(Event{Type: EventToolCallStart, MissionID: "m1", Data: ToolCallData{Tool: "web_search"}})
	b.Publish(Event{Type: EventWebFetchStart, MissionID: "m1"}) // not subscribed

	select {
	case ev := <-ch:
		if ev.Type != EventToolCallStart || ev.MissionID != "m1" {
			t.Errorf("wrong event: %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Error("publish must stamp a timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("subscribed event not delivered")
	}

	select {
	case ev := <-ch:
		t.Errorf("received unsubscribed event: %+v", ev)
	default:
	}
}

func TestSubscribeMissionFilters(t *testing.T) {
	b := NewBus(8)
	defer b.Close()

	ch, stop := b.SubscribeMission("m1", EventToolCallStart)
	defer stop()

	b.Publish(Event{Type: EventToolCallStart, MissionID: "m2"})
	b.Publish(Event{Type: EventToolCallStart, MissionID: "m1"})

	select {
	case ev := <-ch:
		if ev.MissionID != "m1" {
			t.Errorf("received another mission's event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("own-mission event not delivered")
	}
	select {
	case ev := <-ch:
		t.Errorf("foreign-mission event leaked: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeMissionStopClosesStream(t *testing.T) {
	b := NewBus(8)
	defer b.Close()

	ch, stop := b.SubscribeMission("m1", EventToolCallStart)
	stop()
	stop() // idempotent

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after stop")
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not close after stop")
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := NewBus(1)
	defer b.Close()

	ch := b.Subscribe(EventLogEntry)
	b.Publish(Event{Type: EventLogEntry})
	b.Publish(Event{Type: EventLogEntry}) // buffer full: dropped, not blocked

	count := 0
	for {
		select {
		case <-ch:
			count++
			continue
		default:
		}
		break
	}
	if count != 1 {
		t.Errorf("received %d events, want 1 (overflow dropped)", count)
	}
}

func TestEventTypeWireNames(t *testing.T) {
	tests := []struct {
		typ  EventType
		want string
	}{
		{EventStatusChanged, "status_changed"},
		{EventLogEntry, "log_entry"},
		{EventStatsUpdated, "stats_updated"},
		{EventPlanUpdated, "plan_updated"},
		{EventNotesUpdated, "notes_updated"},
		{EventSectionUpdated, "section_updated"},
		{EventReportVersionAdded, "report_version_added"},
		{EventToolCallStart, "tool_call_start"},
		{EventToolCallComplete, "tool_call_complete"},
		{EventWebFetchStart, "web_fetch_start"},
		{EventWebFetchComplete, "web_fetch_complete"},
		{EventWebFetchCacheHit, "web_fetch_cache_hit"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// recordingSink collects delivered envelopes; failUntil makes the first
// N deliveries fail to exercise the retry path.
type recordingSink struct {
	mu        sync.Mutex
	delivered []Envelope
	failUntil int
	attempts  int
}

func (s *recordingSink) Deliver(e Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failUntil {
		return fmt.Errorf("simulated delivery failure %d", s.attempts)
	}
	s.delivered = append(s.delivered, e)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSendToMissionRouting(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	subscribed := &recordingSink{}
	other := &recordingSink{}
	c1 := m.Register("user-1", ConnResearch, "", subscribed)
	m.Register("user-2", ConnResearch, "", other)

	m.Subscribe(c1, "mission-1")
	m.SendToMission("mission-1", "log_entry", map[string]interface{}{"line": 1})

	if !waitFor(t, time.Second, func() bool { return subscribed.count() == 1 }) {
		t.Fatal("subscribed connection did not receive the message")
	}
	if other.count() != 0 {
		t.Error("unsubscribed connection must not receive mission messages")
	}

	got := subscribed.delivered[0]
	if got.Type != "log_entry" || got.MissionID != "mission-1" || got.MsgID == "" {
		t.Errorf("bad envelope: %+v", got)
	}
}

func TestDuplicateSuppression(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	sink := &recordingSink{}
	c := m.Register("user-1", ConnResearch, "", sink)
	m.Subscribe(c, "mission-1")

	payload := map[string]interface{}{"line": "same content"}
	m.SendToMission("mission-1", "log_entry", payload)
	m.SendToMission("mission-1", "log_entry", payload) // within 1s: dropped

	waitFor(t, 500*time.Millisecond, func() bool { return sink.count() >= 1 })
	time.Sleep(100 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Errorf("delivered %d copies, want exactly 1", got)
	}

	// Different content in the same window still goes through.
	m.SendToMission("mission-1", "log_entry", map[string]interface{}{"line": "different"})
	if !waitFor(t, time.Second, func() bool { return sink.count() == 2 }) {
		t.Error("distinct message was wrongly suppressed")
	}
}

func TestDedupWindowExpires(t *testing.T) {
	m := NewManager(Options{DedupWindow: 50 * time.Millisecond})
	defer m.Close()

	sink := &recordingSink{}
	c := m.Register("user-1", ConnResearch, "", sink)
	m.Subscribe(c, "mission-1")

	payload := map[string]interface{}{"line": "repeat"}
	m.SendToMission("mission-1", "log_entry", payload)
	time.Sleep(80 * time.Millisecond)
	m.SendToMission("mission-1", "log_entry", payload)

	if !waitFor(t, time.Second, func() bool { return sink.count() == 2 }) {
		t.Errorf("delivered %d, want 2 after window expiry", sink.count())
	}
}

func TestRetryThenRemove(t *testing.T) {
	m := NewManager(Options{MaxRetries: 3})
	defer m.Close()

	// Fails every attempt: after the retry budget the connection is gone.
	dead := &recordingSink{failUntil: 100}
	c := m.Register("user-1", ConnResearch, "", dead)
	m.Subscribe(c, "mission-1")

	m.SendToMission("mission-1", "log_entry", map[string]interface{}{"n": 1})

	if !waitFor(t, time.Second, func() bool { return m.ConnectionCount() == 0 }) {
		t.Error("connection failing all retries was not removed")
	}
}

func TestRetryEventuallyDelivers(t *testing.T) {
	m := NewManager(Options{MaxRetries: 3})
	defer m.Close()

	flaky := &recordingSink{failUntil: 1}
	c := m.Register("user-1", ConnResearch, "", flaky)
	m.Subscribe(c, "mission-1")

	m.SendToMission("mission-1", "log_entry", map[string]interface{}{"n": 1})

	if !waitFor(t, time.Second, func() bool { return flaky.count() == 1 }) {
		t.Error("message was not delivered after a transient failure")
	}
}

func TestWritingSessionSingleton(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	first := &recordingSink{}
	second := &recordingSink{}
	m.Register("user-1", ConnWriting, "session-A", first)
	m.Register("user-1", ConnWriting, "session-A", second)

	if m.ConnectionCount() != 1 {
		t.Fatalf("connections = %d, want 1 (old writing connection evicted)", m.ConnectionCount())
	}

	m.SendToSession("session-A", "section_updated", map[string]interface{}{"section_id": "s1"})
	if !waitFor(t, time.Second, func() bool { return second.count() == 1 }) {
		t.Error("replacement connection did not receive session message")
	}
	if first.count() != 0 {
		t.Error("evicted connection must not receive messages")
	}
}

func TestSendToUser(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	a := &recordingSink{}
	b := &recordingSink{}
	m.Register("user-1", ConnResearch, "", a)
	m.Register("user-1", ConnDocument, "", b)

	m.SendToUser("user-1", "status_changed", map[string]interface{}{"to": "running"})

	if !waitFor(t, time.Second, func() bool { return a.count() == 1 && b.count() == 1 }) {
		t.Error("user broadcast did not reach every connection")
	}
}

func TestStaleSweep(t *testing.T) {
	m := NewManager(Options{StaleAfter: 30 * time.Millisecond, SweepEvery: 10 * time.Millisecond})
	defer m.Close()

	m.Register("user-1", ConnResearch, "", &recordingSink{})
	if !waitFor(t, time.Second, func() bool { return m.ConnectionCount() == 0 }) {
		t.Error("stale connection was not swept")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	sink := &recordingSink{}
	c := m.Register("user-1", ConnResearch, "", sink)
	m.Subscribe(c, "mission-1")
	m.Unsubscribe(c, "mission-1")

	if n := m.SendToMission("mission-1", "log_entry", map[string]interface{}{"n": 1}); n != 0 {
		t.Errorf("enqueued %d messages after unsubscribe, want 0", n)
	}
}

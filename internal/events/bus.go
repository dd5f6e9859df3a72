package events

import (
	"sync"
	"time"
)

// Bus is the in-process channel transport mission events ride before
// the Realtime Bus fans them out to client connections. Tools publish
// progress here without knowing anything about subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	buffer      int
}

// NewBus creates a transport whose subscriber channels buffer
// bufferSize events each.
func NewBus(bufferSize int) *Bus {
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		buffer:      bufferSize,
	}
}

// Subscribe creates a channel receiving every event of the given types,
// across all missions.
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}
	return ch
}

// SubscribeMission narrows a subscription to one mission's events. The
// returned stop function detaches the filter goroutine; the filtered
// channel closes when the bus closes or stop is called.
func (b *Bus) SubscribeMission(missionID string, types ...EventType) (<-chan Event, func()) {
	all := b.Subscribe(types...)
	out := make(chan Event, b.buffer)
	stopCh := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-stopCh:
				return
			case ev, ok := <-all:
				if !ok {
					return
				}
				if ev.MissionID != missionID {
					continue
				}
				select {
				case out <- ev:
				default:
					// Slow watcher: drop rather than stall the transport.
				}
			}
		}
	}()

	var once sync.Once
	return out, func() { once.Do(func() { close(stopCh) }) }
}

// Publish delivers an event to every subscriber of its type, stamping a
// timestamp if the producer didn't. Delivery is non-blocking: a full
// subscriber buffer drops the event for that subscriber, so a stalled
// client can never backpressure a running mission.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close shuts down every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	closed := make(map[chan Event]bool)
	for _, channels := range b.subscribers {
		for _, ch := range channels {
			if !closed[ch] {
				close(ch)
				closed[ch] = true
			}
		}
	}
	b.subscribers = make(map[EventType][]chan Event)
}

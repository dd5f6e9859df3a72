package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink is the delivery endpoint a client registers. A returned error
// counts as a failed delivery attempt; after the retry budget the
// connection is removed.
type Sink interface {
	Deliver(e Envelope) error
}

// ConnectionType matches the recognized client connection kinds.
const (
	ConnResearch = "research"
	ConnWriting  = "writing"
	ConnDocument = "document"
)

type connection struct {
	id        string
	userID    string
	connType  string
	sessionID string
	sink      Sink

	mu         sync.Mutex
	missions   map[string]bool
	lastActive time.Time
}

func (c *connection) touch(now time.Time) {
	c.mu.Lock()
	c.lastActive = now
	c.mu.Unlock()
}

type delivery struct {
	env     Envelope
	connID  string
	attempt int
}

// Manager is the Realtime Bus hub.
type Manager struct {
	mu        sync.RWMutex
	conns     map[string]*connection
	byUser    map[string]map[string]bool // userID -> connIDs
	bySession map[string]string          // writing sessionID -> connID

	dedupMu     sync.Mutex
	dedupSeen   map[string]time.Time
	dedupWindow time.Duration

	queue      chan delivery
	maxRetries int

	staleAfter time.Duration
	sweepEvery time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	now func() time.Time
}

// Options tune the manager; zero values select the defaults called out
// in the realtime model (1s dedup window, 3 retries, 5m stale timeout).
type Options struct {
	DedupWindow time.Duration
	MaxRetries  int
	StaleAfter  time.Duration
	SweepEvery  time.Duration
	QueueDepth  int
}

// NewManager creates and starts a Realtime Bus manager.
func NewManager(opts Options) *Manager {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = 30 * time.Second
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1024
	}
	m := &Manager{
		conns:       make(map[string]*connection),
		byUser:      make(map[string]map[string]bool),
		bySession:   make(map[string]string),
		dedupSeen:   make(map[string]time.Time),
		dedupWindow: opts.DedupWindow,
		queue:       make(chan delivery, opts.QueueDepth),
		maxRetries:  opts.MaxRetries,
		staleAfter:  opts.StaleAfter,
		sweepEvery:  opts.SweepEvery,
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
	m.wg.Add(2)
	go m.deliverLoop()
	go m.sweepLoop()
	return m
}

// Close stops the background delivery and sweep loops.
func (m *Manager) Close() {
	close(m.stopCh)
	m.wg.Wait()
}

// Register adds a client connection and returns its connection id. For
// writing connections only one live connection per session id is
// permitted: a new registration closes out the old one.
func (m *Manager) Register(userID, connType, sessionID string, sink Sink) string {
	id := uuid.New().String()
	c := &connection{
		id: id, userID: userID, connType: connType, sessionID: sessionID,
		sink: sink, missions: make(map[string]bool), lastActive: m.now(),
	}

	var evicted string
	m.mu.Lock()
	if connType == ConnWriting && sessionID != "" {
		if old, ok := m.bySession[sessionID]; ok {
			evicted = old
		}
		m.bySession[sessionID] = id
	}
	m.conns[id] = c
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]bool)
	}
	m.byUser[userID][id] = true
	m.mu.Unlock()

	if evicted != "" {
		m.Unregister(evicted)
	}
	return id
}

// Unregister removes a connection and all its subscriptions.
func (m *Manager) Unregister(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connID]
	if !ok {
		return
	}
	delete(m.conns, connID)
	if set, ok := m.byUser[c.userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(m.byUser, c.userID)
		}
	}
	if c.sessionID != "" && m.bySession[c.sessionID] == connID {
		delete(m.bySession, c.sessionID)
	}
}

// Subscribe adds missionID to a connection's subscription set.
func (m *Manager) Subscribe(connID, missionID string) bool {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	c.missions[missionID] = true
	c.mu.Unlock()
	c.touch(m.now())
	return true
}

// Unsubscribe removes missionID from a connection's subscription set.
func (m *Manager) Unsubscribe(connID, missionID string) bool {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	delete(c.missions, missionID)
	c.mu.Unlock()
	return true
}

// ConnectionCount reports how many connections are currently registered.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// SendToMission fans a message out to every connection subscribed to the
// mission. Duplicate (content, target set) pairs inside the dedup window
// are dropped.
func (m *Manager) SendToMission(missionID, typ string, payload interface{}) int {
	env := newEnvelope(typ, missionID, "", payload)

	m.mu.RLock()
	var targets []string
	for id, c := range m.conns {
		c.mu.Lock()
		subscribed := c.missions[missionID]
		c.mu.Unlock()
		if subscribed {
			targets = append(targets, id)
		}
	}
	m.mu.RUnlock()

	return m.enqueue(env, targets)
}

// SendToUser delivers to every connection a user currently holds.
func (m *Manager) SendToUser(userID, typ string, payload interface{}) int {
	env := newEnvelope(typ, "", "", payload)

	m.mu.RLock()
	var targets []string
	for id := range m.byUser[userID] {
		targets = append(targets, id)
	}
	m.mu.RUnlock()

	return m.enqueue(env, targets)
}

// SendToSession delivers to the single live connection of a writing
// session.
func (m *Manager) SendToSession(sessionID, typ string, payload interface{}) int {
	env := newEnvelope(typ, "", sessionID, payload)

	m.mu.RLock()
	connID, ok := m.bySession[sessionID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return m.enqueue(env, []string{connID})
}

// SendToConnection targets one connection directly.
func (m *Manager) SendToConnection(connID, typ string, payload interface{}) int {
	return m.enqueue(newEnvelope(typ, "", "", payload), []string{connID})
}

func (m *Manager) enqueue(env Envelope, targets []string) int {
	if len(targets) == 0 {
		return 0
	}
	if m.isDuplicate(env, targets) {
		return 0
	}
	queued := 0
	for _, connID := range targets {
		select {
		case m.queue <- delivery{env: env, connID: connID}:
			queued++
		default:
			// Queue full: drop rather than block the producing mission.
		}
	}
	return queued
}

func (m *Manager) isDuplicate(env Envelope, targets []string) bool {
	hash := contentHash(env, targets)
	now := m.now()

	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()
	if seen, ok := m.dedupSeen[hash]; ok && now.Sub(seen) < m.dedupWindow {
		return true
	}
	m.dedupSeen[hash] = now
	for h, ts := range m.dedupSeen {
		if now.Sub(ts) >= m.dedupWindow {
			delete(m.dedupSeen, h)
		}
	}
	return false
}

func (m *Manager) deliverLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case d := <-m.queue:
			m.deliverOne(d)
		}
	}
}

func (m *Manager) deliverOne(d delivery) {
	m.mu.RLock()
	c, ok := m.conns[d.connID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	if err := c.sink.Deliver(d.env); err != nil {
		if d.attempt >= m.maxRetries {
			m.Unregister(d.connID)
			return
		}
		select {
		case m.queue <- delivery{env: d.env, connID: d.connID, attempt: d.attempt + 1}:
		default:
		}
		return
	}
	c.touch(m.now())
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepStale()
		}
	}
}

func (m *Manager) sweepStale() {
	cutoff := m.now().Add(-m.staleAfter)

	m.mu.RLock()
	var stale []string
	for id, c := range m.conns {
		c.mu.Lock()
		last := c.lastActive
		c.mu.Unlock()
		if last.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.Unregister(id)
	}
}

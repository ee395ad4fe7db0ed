package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sshFleet/internal/forward"
	"sshFleet/internal/models"
)

// Manager is the authoritative owner of live sessions. Mutations of the
// session set, the current selection, and the broadcast subset are
// serialized behind one lock; session I/O itself runs on each session's own
// goroutines.
type Manager struct {
	forwards *forward.Service
	log      *logrus.Entry
	events   *broker

	mu        sync.RWMutex
	sessions  map[string]*Session
	order     []string
	current   string
	broadcast bool
	selected  map[string]bool
}

func NewManager(forwards *forward.Service, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		forwards: forwards,
		log:      log,
		events:   newBroker(),
		sessions: make(map[string]*Session),
		selected: make(map[string]bool),
	}
}

// Subscribe registers for lifecycle events; the cancel func deregisters.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe()
}

// CreateSession allocates a session entry with a fresh id and fires the
// creation notification. The caller wires the connection in afterward with
// AttachSSH/AttachSerial, or removes the entry with Abort when connection
// setup fails.
func (m *Manager) CreateSession(title string, host *models.Host) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Title:     title,
		Host:      host,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.order = append(m.order, s.ID)
	m.mu.Unlock()

	m.events.publish(Event{Type: EventCreated, SessionID: s.ID})
	m.log.WithFields(logrus.Fields{"session": s.ID, "title": title}).Info("session created")
	return s
}

// AttachSSH wires an established SSH connection into a pending session.
func (m *Manager) AttachSSH(id string, link *SSHLink) error {
	return m.attach(id, link)
}

// AttachSerial wires an open serial port into a pending session.
func (m *Manager) AttachSerial(id string, link *SerialLink) error {
	return m.attach(id, link)
}

func (m *Manager) attach(id string, link Link) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	if !s.setLink(link) {
		return fmt.Errorf("session %s already connected", id)
	}
	return nil
}

// Abort removes a session whose connection setup failed, so no
// half-registered entry survives. Fires the closed notification.
func (m *Manager) Abort(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	if ok {
		m.remove(id)
	}
	m.mu.Unlock()
	if ok {
		m.events.publish(Event{Type: EventClosed, SessionID: id})
	}
}

// remove drops a session from every collection. Caller holds m.mu.
func (m *Manager) remove(id string) {
	delete(m.sessions, id)
	delete(m.selected, id)
	for i, sid := range m.order {
		if sid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.current == id {
		m.current = ""
	}
}

// CloseSession stops the session's port forwards, then releases or
// disposes its connection, then removes it and fires the closed
// notification.
func (m *Manager) CloseSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s not found", id)
	}
	m.remove(id)
	m.mu.Unlock()
	link := s.takeLink()

	if m.forwards != nil {
		m.forwards.StopSession(id)
	}
	if link != nil {
		if err := link.Close(); err != nil {
			m.log.WithFields(logrus.Fields{"session": id, "error": err}).Warn("link close failed")
		}
	}

	m.events.publish(Event{Type: EventClosed, SessionID: id})
	m.log.WithField("session", id).Info("session closed")
	return nil
}

// CloseAllSessions closes every live session; afterwards the session set is
// empty and there is no current session.
func (m *Manager) CloseAllSessions() {
	m.mu.RLock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.CloseSession(id)
	}
}

// Sessions returns the live sessions in creation order.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// SetCurrent selects the current session. Ids not present in the live set
// are ignored.
func (m *Manager) SetCurrent(id string) {
	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok || m.current == id {
		m.mu.Unlock()
		return
	}
	m.current = id
	m.mu.Unlock()
	m.events.publish(Event{Type: EventCurrentChanged, SessionID: id})
}

// Current returns the current session, nil when none is selected.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == "" {
		return nil
	}
	return m.sessions[m.current]
}

// SetBroadcast flips broadcast mode. The selection persists across
// toggles.
func (m *Manager) SetBroadcast(on bool) {
	m.mu.Lock()
	m.broadcast = on
	m.mu.Unlock()
}

// BroadcastEnabled reports whether broadcast mode is on.
func (m *Manager) BroadcastEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.broadcast
}

// ToggleBroadcastSelection adds or removes a live session from the
// broadcast subset.
func (m *Manager) ToggleBroadcastSelection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return
	}
	if m.selected[id] {
		delete(m.selected, id)
	} else {
		m.selected[id] = true
	}
}

// SelectAllForBroadcast selects every currently-connected session.
func (m *Manager) SelectAllForBroadcast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.Connected() {
			m.selected[id] = true
		}
	}
}

// DeselectAllForBroadcast clears the selection of currently-connected
// sessions.
func (m *Manager) DeselectAllForBroadcast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.Connected() {
			delete(m.selected, id)
		}
	}
}

// IsSelectedForBroadcast reports membership in the broadcast subset.
func (m *Manager) IsSelectedForBroadcast(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected[id]
}

// BroadcastTargets returns the authoritative selected subset, restricted to
// connected sessions. Input fan-out itself is the caller's responsibility.
func (m *Manager) BroadcastTargets() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, id := range m.order {
		s := m.sessions[id]
		if m.selected[id] && s.Connected() {
			out = append(out, s)
		}
	}
	return out
}

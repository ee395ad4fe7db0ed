package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshFleet/internal/models"
)

type fakeLink struct {
	closed int
}

func (l *fakeLink) Close() error {
	l.closed++
	return nil
}

func testHost(name string) *models.Host {
	return &models.Host{Name: name, Kind: models.HostSSH, Login: "ops", IP: "10.0.0.1", Port: "22"}
}

// connected creates a session and attaches a fake transport.
func connected(t *testing.T, m *Manager, title string) (*Session, *fakeLink) {
	t.Helper()
	s := m.CreateSession(title, testHost(title))
	link := &fakeLink{}
	require.NoError(t, m.attach(s.ID, link))
	return s, link
}

func TestCreateAndAttach(t *testing.T) {
	m := NewManager(nil, nil)

	s := m.CreateSession("web1", testHost("web1"))
	assert.NotEmpty(t, s.ID)
	assert.False(t, s.Connected())

	require.NoError(t, m.attach(s.ID, &fakeLink{}))
	assert.True(t, s.Connected())

	assert.Error(t, m.attach(s.ID, &fakeLink{}), "double attach must fail")
	assert.Error(t, m.attach("nope", &fakeLink{}))
}

func TestAttachWhileReadingConnectionState(t *testing.T) {
	m := NewManager(nil, nil)
	s := m.CreateSession("web1", testHost("web1"))

	// Readers run on other goroutines while the attach lands; the race
	// detector flags any unsynchronized link access.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			s.Connected()
			s.SSH()
			s.Serial()
			s.ConnectedAt()
		}
	}()

	require.NoError(t, m.attach(s.ID, &fakeLink{}))
	<-done

	assert.True(t, s.Connected())
	assert.False(t, s.ConnectedAt().IsZero())
}

func TestSessionsKeepCreationOrder(t *testing.T) {
	m := NewManager(nil, nil)
	a, _ := connected(t, m, "a")
	b, _ := connected(t, m, "b")
	c, _ := connected(t, m, "c")

	got := m.Sessions()
	require.Len(t, got, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestCloseSessionClosesLinkAndClearsCurrent(t *testing.T) {
	m := NewManager(nil, nil)
	s, link := connected(t, m, "web1")
	m.SetCurrent(s.ID)

	require.NoError(t, m.CloseSession(s.ID))
	assert.Equal(t, 1, link.closed)
	assert.Nil(t, m.Current())
	assert.Empty(t, m.Sessions())

	assert.Error(t, m.CloseSession(s.ID), "closing twice reports the missing session")
}

func TestCloseAllSessions(t *testing.T) {
	m := NewManager(nil, nil)
	_, la := connected(t, m, "a")
	s, lb := connected(t, m, "b")
	m.SetCurrent(s.ID)

	m.CloseAllSessions()

	assert.Empty(t, m.Sessions())
	assert.Nil(t, m.Current())
	assert.Equal(t, 1, la.closed)
	assert.Equal(t, 1, lb.closed)
}

func TestAbortRemovesPendingSession(t *testing.T) {
	m := NewManager(nil, nil)
	s := m.CreateSession("web1", testHost("web1"))

	m.Abort(s.ID)
	assert.Empty(t, m.Sessions())

	m.Abort(s.ID) // unknown id: no-op
}

func TestSetCurrentIgnoresUnknown(t *testing.T) {
	m := NewManager(nil, nil)
	s, _ := connected(t, m, "web1")

	m.SetCurrent(s.ID)
	m.SetCurrent("not-a-session")
	require.NotNil(t, m.Current())
	assert.Equal(t, s.ID, m.Current().ID)
}

func TestBroadcastSelectionPersistsAcrossToggle(t *testing.T) {
	m := NewManager(nil, nil)
	a, _ := connected(t, m, "a")
	connected(t, m, "b")

	m.SetBroadcast(true)
	m.ToggleBroadcastSelection(a.ID)
	require.True(t, m.IsSelectedForBroadcast(a.ID))

	m.SetBroadcast(false)
	m.SetBroadcast(true)
	assert.True(t, m.IsSelectedForBroadcast(a.ID), "selection survives toggling broadcast mode")
}

func TestBroadcastSelectAllAndDeselectAll(t *testing.T) {
	m := NewManager(nil, nil)
	a, _ := connected(t, m, "a")
	b, _ := connected(t, m, "b")
	pending := m.CreateSession("c", testHost("c")) // never attached

	m.SelectAllForBroadcast()
	assert.True(t, m.IsSelectedForBroadcast(a.ID))
	assert.True(t, m.IsSelectedForBroadcast(b.ID))
	assert.False(t, m.IsSelectedForBroadcast(pending.ID), "only connected sessions are selectable")

	m.DeselectAllForBroadcast()
	assert.False(t, m.IsSelectedForBroadcast(a.ID))
	assert.False(t, m.IsSelectedForBroadcast(b.ID))
}

func TestBroadcastTargetsSkipClosedAndPending(t *testing.T) {
	m := NewManager(nil, nil)
	a, _ := connected(t, m, "a")
	b, _ := connected(t, m, "b")
	pending := m.CreateSession("c", testHost("c"))

	m.SelectAllForBroadcast()
	m.ToggleBroadcastSelection(pending.ID) // select the pending one explicitly

	targets := m.BroadcastTargets()
	require.Len(t, targets, 2, "pending sessions are never broadcast targets")

	require.NoError(t, m.CloseSession(a.ID))
	targets = m.BroadcastTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, b.ID, targets[0].ID)
	assert.False(t, m.IsSelectedForBroadcast(a.ID), "closing drops the session from the selection")
}

func TestToggleBroadcastSelectionIgnoresUnknown(t *testing.T) {
	m := NewManager(nil, nil)
	m.ToggleBroadcastSelection("ghost")
	assert.False(t, m.IsSelectedForBroadcast("ghost"))
}

func TestSubscribeDeliversLifecycleEvents(t *testing.T) {
	m := NewManager(nil, nil)
	events, cancel := m.Subscribe()
	defer cancel()

	s, _ := connected(t, m, "web1")
	m.SetCurrent(s.ID)
	require.NoError(t, m.CloseSession(s.ID))

	var got []Event
	for i := 0; i < 3; i++ {
		got = append(got, <-events)
	}
	assert.Equal(t, Event{Type: EventCreated, SessionID: s.ID}, got[0])
	assert.Equal(t, Event{Type: EventCurrentChanged, SessionID: s.ID}, got[1])
	assert.Equal(t, Event{Type: EventClosed, SessionID: s.ID}, got[2])
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	m := NewManager(nil, nil)
	events, cancel := m.Subscribe()
	cancel()

	_, open := <-events
	assert.False(t, open)

	// Publishing after cancel must not panic.
	m.CreateSession("web1", testHost("web1"))
}

package session

import "sync"

// EventType labels a session lifecycle notification.
type EventType string

const (
	EventCreated        EventType = "created"
	EventClosed         EventType = "closed"
	EventCurrentChanged EventType = "current-changed"
)

// Event is delivered to subscribers on session lifecycle changes.
type Event struct {
	Type      EventType
	SessionID string
}

// broker is a small channel-based publish/subscribe hub. Subscribers
// deregister deterministically through the returned cancel func.
type broker struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan Event)}
}

// subscribe returns a buffered event channel and its cancel func. The
// channel is closed on cancel.
func (b *broker) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// publish delivers without blocking; a subscriber that stopped draining
// loses events rather than stalling the manager.
func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

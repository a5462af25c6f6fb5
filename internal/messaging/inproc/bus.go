package inproc

import (
	"errors"
	"sync"

	"governance_council/internal/domain"
)

// ErrSubscriberQueueFull is returned by Publish when at least one subscriber
// was too slow and missed the event. Delivery to the others is unaffected.
var ErrSubscriberQueueFull = errors.New("subscriber queue is full")

type subscriber struct {
	sessionID string
	ch        chan domain.SessionEvent
}

// Bus fans session events out to in-process subscribers. A subscriber either
// follows one session or, with an empty session id, every session.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
	}
}

// Subscribe returns the event channel and a cancel func that closes it.
func (b *Bus) Subscribe(sessionID string) (<-chan domain.SessionEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{sessionID: sessionID, ch: make(chan domain.SessionEvent, b.buffer)}
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(sub.ch)
		})
	}
}

func (b *Bus) Publish(event domain.SessionEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := false
	for _, sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != event.SessionID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dropped = true
		}
	}
	if dropped {
		return ErrSubscriberQueueFull
	}
	return nil
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

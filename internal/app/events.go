package app

import (
	"sync"
	"time"

	"daily-quiz-bot/internal/domain"
)

// EventType names a session lifecycle event.
type EventType string

const (
	EventPublished EventType = "published"
	EventFailed    EventType = "failed"
	EventGraded    EventType = "graded"
)

// Event is a lifecycle notification streamed to operators.
type Event struct {
	Type      EventType           `json:"type"`
	SessionID string              `json:"sessionId"`
	State     domain.SessionState `json:"state"`
	At        time.Time           `json:"at"`
	Detail    string              `json:"detail,omitempty"`
}

// Broadcaster fans events out to subscribers. Slow subscribers lose the
// oldest buffered event rather than blocking the publisher.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of events. The caller must invoke the returned
// cancel function to avoid leaks.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- e
		}
	}
}

type discardEvents struct{}

func (discardEvents) Publish(Event) {}

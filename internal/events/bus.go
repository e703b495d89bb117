// Package events provides an in-process pub/sub bus for sync progress and
// thread activity. Subscribers are per-user; slow subscribers lose their
// oldest events rather than stalling publishers.
package events

import (
	"sync"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/service"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Bus fans events out to per-user subscribers.
type Bus struct {
	subscribers map[string][]*subscriber
	mu          sync.RWMutex
}

type subscriber struct {
	ch     chan service.Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]*subscriber),
	}
}

// Subscribe registers for one user's events. The returned cancel function
// removes the subscription and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe(userID string, buffer int) (<-chan service.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	sub := &subscriber{ch: make(chan service.Event, buffer)}

	b.mu.Lock()
	b.subscribers[userID] = append(b.subscribers[userID], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		close(sub.ch)

		subs := b.subscribers[userID]
		for i, s := range subs {
			if s == sub {
				b.subscribers[userID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subscribers[userID]) == 0 {
			delete(b.subscribers, userID)
		}
	}

	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of the user. When a
// subscriber's buffer is full its oldest event is dropped to make room, so
// publishing never blocks.
func (b *Bus) Publish(userID string, event service.Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	event.UserID = userID

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers[userID] {
		if sub.closed {
			continue
		}
		for {
			select {
			case sub.ch <- event:
			default:
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Package events is the in-process pub/sub bus that element mutations
// are announced on. Observers (the daemon's own background loops, or an
// edge adapter streaming changes out) subscribe for a bounded, drop-
// oldest feed; publishing never blocks on a slow observer.
package events

import (
	"sync"
	"time"

	"github.com/elemental/daemon/pkg/types"
)

// Type enumerates the change events the Element API announces.
type Type string

const (
	ElementCreated    Type = "element_created"
	ElementUpdated    Type = "element_updated"
	ElementDeleted    Type = "element_deleted"
	DependencyAdded   Type = "dependency_added"
	DependencyRemoved Type = "dependency_removed"
)

// Event is one announced change.
type Event struct {
	Type       Type              `json:"type"`
	ElementID  types.ElementId   `json:"elementId,omitempty"`
	Element    *types.Element    `json:"element,omitempty"`
	Dependency *types.Dependency `json:"dependency,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

const defaultBuffer = 128

type subscriber struct {
	ch chan Event
}

// Bus fans change events out to every current subscriber.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a new observer. The returned cancel func must be
// called to release the subscription; the channel is closed by it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, defaultBuffer)
	sub := &subscriber{ch: ch}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers evt to every current subscriber without blocking: a
// full queue has its oldest entry dropped to make room.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

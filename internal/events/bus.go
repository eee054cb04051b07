// Package events carries orchestration progress to observers.
package events

import (
	"sync"
	"time"
)

// Type identifies an event
type Type string

const (
	// ReviewStatus is published when a review starts, finishes, or fails
	ReviewStatus Type = "review.status"
	// ReviewCategoryCompleted is published once per finished category prompt
	ReviewCategoryCompleted Type = "review.category_completed"
	// ReviewCompleted carries the final aggregated verdict
	ReviewCompleted Type = "review.completed"
	// DecomposeStatus is published on every decompose loop transition
	DecomposeStatus Type = "decompose.status"
	// LogChunk carries one streamed line of assistant output
	LogChunk Type = "log.chunk"
	// FileChanged is published when a spec document is rewritten
	FileChanged Type = "file.changed"
	// SessionUpdated is published after a suggestion session is saved
	SessionUpdated Type = "session.updated"
)

// Event is one progress notification
type Event struct {
	Type      Type           `json:"type"`
	Spec      string         `json:"spec"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher accepts events. Publishing never blocks on slow observers.
type Publisher interface {
	Publish(e Event)
}

// Nop discards events
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(Event) {}

// Bus fans events out to subscribers. Subscribers with a full buffer miss events
// rather than stalling the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped int
	now     func() time.Time
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), now: time.Now}
}

// Publish delivers e to every subscriber that has room
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	b.mu.RLock()
	full := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			full++
		}
	}
	b.mu.RUnlock()

	if full > 0 {
		b.mu.Lock()
		b.dropped += full
		b.mu.Unlock()
	}
}

// Subscribe returns a channel of events and a cancel func that closes it
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full
func (b *Bus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Scoped binds a publisher to one spec name
type Scoped struct {
	pub  Publisher
	spec string
}

// ForSpec returns a publisher that stamps every event with spec
func ForSpec(pub Publisher, spec string) Scoped {
	if pub == nil {
		pub = Nop{}
	}
	return Scoped{pub: pub, spec: spec}
}

// Emit publishes an event of type t with the given data
func (s Scoped) Emit(t Type, data map[string]any) {
	s.pub.Publish(Event{Type: t, Spec: s.spec, Data: data})
}

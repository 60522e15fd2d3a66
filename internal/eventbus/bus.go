package eventbus

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opshub/bridge/internal/event"
)

// Bus fans events out to in-process subscribers. Delivery is best
// effort: a subscriber that stops draining its channel loses events
// instead of stalling publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan *event.Event
}

func New() *Bus {
	return &Bus{subs: make(map[string]chan *event.Event)}
}

// Subscribe registers a buffered listener and returns its id for the
// matching Unsubscribe call.
func (b *Bus) Subscribe(bufSize int) (string, <-chan *event.Event) {
	ch := make(chan *event.Event, bufSize)
	id := ulid.Make().String()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe closes the subscriber's channel. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[id]
	if !ok {
		return
	}
	close(ch)
	delete(b.subs, id)
}

func (b *Bus) Publish(ev *event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default: // slow subscriber
		}
	}
}

// PublishNew builds the event and publishes it in one step.
func (b *Bus) PublishNew(eventType event.Type, taskID, slot, detail string) {
	b.Publish(event.New(eventType, taskID, slot, detail))
}

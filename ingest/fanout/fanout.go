/*Package fanout republishes accepted events to the live viewers of a
tenant.

The tenant is the sole partition key, filtering by device is a client side
concern. Delivery is best effort: a viewer that cannot keep up or is
disconnected simply misses events, there is no replay buffer.
*/
package fanout

import (
	"sync"

	"github.com/google/uuid"

	"github.com/relabs-tech/roost/ingest"
)

// subscriberBuffer is the number of events a subscriber may lag behind
// before events get dropped for it.
const subscriberBuffer = 16

// Fanout is an in-process tenant-keyed subscriber registry. It implements
// the ingest.Notifier interface.
type Fanout struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[*Subscriber]struct{}
}

// Subscriber receives the events of one tenant on its channel until
// Unsubscribe is called.
type Subscriber struct {
	tenantID uuid.UUID
	events   chan ingest.Event
}

// Events is the receiving channel of the subscriber.
func (s *Subscriber) Events() <-chan ingest.Event {
	return s.events
}

// New returns a new fan-out.
func New() *Fanout {
	return &Fanout{
		subscribers: make(map[uuid.UUID]map[*Subscriber]struct{}),
	}
}

// Subscribe registers a viewer for the given tenant.
func (f *Fanout) Subscribe(tenantID uuid.UUID) *Subscriber {
	subscriber := &Subscriber{
		tenantID: tenantID,
		events:   make(chan ingest.Event, subscriberBuffer),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribers[tenantID] == nil {
		f.subscribers[tenantID] = make(map[*Subscriber]struct{})
	}
	f.subscribers[tenantID][subscriber] = struct{}{}
	return subscriber
}

// Unsubscribe removes the viewer and closes its event channel.
func (f *Fanout) Unsubscribe(subscriber *Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tenantSubscribers, ok := f.subscribers[subscriber.tenantID]
	if !ok {
		return
	}
	if _, ok := tenantSubscribers[subscriber]; !ok {
		return
	}
	delete(tenantSubscribers, subscriber)
	if len(tenantSubscribers) == 0 {
		delete(f.subscribers, subscriber.tenantID)
	}
	close(subscriber.events)
}

// Notify publishes an event to exactly the subscribers registered for the
// tenant. A subscriber with a full buffer misses the event.
func (f *Fanout) Notify(tenantID uuid.UUID, event ingest.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for subscriber := range f.subscribers[tenantID] {
		select {
		case subscriber.events <- event:
		default:
			// best effort, the viewer is lagging
		}
	}
}

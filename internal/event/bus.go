package event

import (
	"fmt"
	"sort"
	"sync"
)

// RingSize bounds the recent-event buffer kept for diagnostics.
const RingSize = 1000

// Handler consumes one event. Handlers must not panic; if one does, the bus
// recovers, counts the failure, and keeps delivering to the remaining
// handlers.
type Handler func(Event) error

// Statistics is a snapshot of bus counters.
type Statistics struct {
	Emitted      map[string]int
	HandlerFails map[string]int
	Recent       []Event
}

type subscriber struct {
	id       int
	priority int
	handler  Handler
}

// Bus is a synchronous in-process dispatcher. Emit blocks until every handler
// for the event's type has run, in descending handler priority, subscription
// order within equal priorities.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]subscriber
	nextID  int
	emitted map[string]int
	fails   map[string]int
	ring    []Event
	ringPos int
	onError func(eventType string, err error)
}

// NewBus constructs an empty bus. onError, when non-nil, observes handler
// failures (typically wired to the logger); it must not emit events itself.
func NewBus(onError func(eventType string, err error)) *Bus {
	return &Bus{
		subs:    make(map[string][]subscriber),
		emitted: make(map[string]int),
		fails:   make(map[string]int),
		onError: onError,
	}
}

// Subscribe registers a handler for an event type and returns a subscription
// id usable with Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler, priority int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	list := append(b.subs[eventType], subscriber{id: id, priority: priority, handler: handler})
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].priority > list[j].priority
	})
	b.subs[eventType] = list
	return id
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(eventType string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[eventType]
	for i, s := range list {
		if s.id == id {
			b.subs[eventType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Emit dispatches the event to every handler subscribed to its type. Handler
// failures are isolated: an error or panic in one handler never prevents the
// others from running.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	handlers := append([]subscriber(nil), b.subs[ev.Type]...)
	b.emitted[ev.Type]++
	if len(b.ring) < RingSize {
		b.ring = append(b.ring, ev)
	} else {
		b.ring[b.ringPos] = ev
		b.ringPos = (b.ringPos + 1) % RingSize
	}
	b.mu.Unlock()

	for _, s := range handlers {
		b.invoke(ev, s)
	}
}

func (b *Bus) invoke(ev Event, s subscriber) {
	defer func() {
		if rec := recover(); rec != nil {
			b.recordFailure(ev.Type, fmt.Errorf("handler panic: %v", rec))
		}
	}()
	if err := s.handler(ev); err != nil {
		b.recordFailure(ev.Type, err)
	}
}

func (b *Bus) recordFailure(eventType string, err error) {
	b.mu.Lock()
	b.fails[eventType]++
	b.mu.Unlock()
	if b.onError != nil {
		b.onError(eventType, err)
	}
}

// Statistics returns a snapshot of counters and the bounded recent-event ring,
// oldest first.
func (b *Bus) Statistics() Statistics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	emitted := make(map[string]int, len(b.emitted))
	for k, v := range b.emitted {
		emitted[k] = v
	}
	fails := make(map[string]int, len(b.fails))
	for k, v := range b.fails {
		fails[k] = v
	}
	recent := make([]Event, 0, len(b.ring))
	if len(b.ring) == RingSize {
		recent = append(recent, b.ring[b.ringPos:]...)
		recent = append(recent, b.ring[:b.ringPos]...)
	} else {
		recent = append(recent, b.ring...)
	}
	return Statistics{Emitted: emitted, HandlerFails: fails, Recent: recent}
}

package execution

import (
	"log"
	"sync"
	"time"

	"github.com/flowforge/flowforge/pkg/domain/types"
)

// EventType categorizes node lifecycle events.
type EventType string

const (
	// EventNodeStarted is emitted before each node invocation attempt.
	EventNodeStarted EventType = "nodeStarted"
	// EventNodeFinished is emitted once per node with its terminal outcome.
	EventNodeFinished EventType = "nodeFinished"
)

// Event is the payload delivered to registered listeners.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	ExecutionID types.ExecutionID
	WorkflowID  types.WorkflowID
	NodeID      string
	NodeType    string
	// Attempt is 1-based and set on nodeStarted events.
	Attempt int
	// Success and Error are set on nodeFinished events.
	Success bool
	Error   *ExecutionError
}

// EventFilter narrows which events a listener receives. Empty slices match
// everything.
type EventFilter struct {
	EventTypes []EventType
	NodeIDs    []string
}

// Matches reports whether the event passes the filter.
func (f *EventFilter) Matches(event Event) bool {
	if len(f.EventTypes) > 0 {
		matched := false
		for _, t := range f.EventTypes {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(f.NodeIDs) > 0 {
		matched := false
		for _, id := range f.NodeIDs {
			if event.NodeID == id {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Listener receives lifecycle events. Panics inside a listener are caught and
// logged; one misbehaving observer cannot abort a run.
type Listener func(Event)

// ListenerID identifies a registration for later removal.
type ListenerID int

type registeredListener struct {
	fn     Listener
	filter *EventFilter
}

// EventBus broadcasts lifecycle events to registered listeners. Registration
// and removal are safe during a running execution.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[ListenerID]*registeredListener
	nextID    ListenerID
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[ListenerID]*registeredListener)}
}

// Subscribe registers a listener for all events.
func (b *EventBus) Subscribe(fn Listener) ListenerID {
	return b.subscribe(fn, nil)
}

// SubscribeFiltered registers a listener that only receives matching events.
func (b *EventBus) SubscribeFiltered(fn Listener, filter EventFilter) ListenerID {
	return b.subscribe(fn, &filter)
}

func (b *EventBus) subscribe(fn Listener, filter *EventFilter) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = &registeredListener{fn: fn, filter: filter}
	return id
}

// Unsubscribe removes a listener registration.
func (b *EventBus) Unsubscribe(id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
}

// Emit delivers the event to every matching listener synchronously. Each
// callback runs under its own recover so a panic is logged and swallowed.
func (b *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	listeners := make([]*registeredListener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		if l.filter != nil && !l.filter.Matches(event) {
			continue
		}
		b.deliver(l.fn, event)
	}
}

func (b *EventBus) deliver(fn Listener, event Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Warning: event listener panicked on %s: %v", event.Type, rec)
		}
	}()
	fn(event)
}

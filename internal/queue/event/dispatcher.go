package event

import (
	"sync"
)

// Handler handles transfer queue events
type Handler interface {
	// Handle processes the event
	Handle(event QueueEvent) error
	// HandledEvents returns the event names this handler handles
	HandledEvents() []string
}

// Dispatcher dispatches queue events to registered handlers
type Dispatcher interface {
	// Dispatch sends an event to all registered handlers
	Dispatch(event QueueEvent)
	// Subscribe registers a handler for events
	Subscribe(handler Handler)
	// Unsubscribe removes a handler
	Unsubscribe(handler Handler)
}

// InMemoryDispatcher is an in-memory implementation of Dispatcher
type InMemoryDispatcher struct {
	handlers map[string][]Handler
	mu       sync.RWMutex
	async    bool
}

// NewInMemoryDispatcher creates a new InMemoryDispatcher
func NewInMemoryDispatcher(async bool) *InMemoryDispatcher {
	return &InMemoryDispatcher{
		handlers: make(map[string][]Handler),
		async:    async,
	}
}

// Dispatch sends an event to all registered handlers
func (d *InMemoryDispatcher) Dispatch(event QueueEvent) {
	// Copy into a fresh slice: appending to a map-owned slice with
	// spare capacity would race concurrent dispatches.
	d.mu.RLock()
	handlers := d.handlers[event.EventName()]
	allHandlers := d.handlers["*"]
	combined := make([]Handler, 0, len(handlers)+len(allHandlers))
	combined = append(combined, handlers...)
	combined = append(combined, allHandlers...)
	d.mu.RUnlock()

	for _, handler := range combined {
		if d.async {
			go func(h Handler) {
				_ = h.Handle(event)
			}(handler)
		} else {
			_ = handler.Handle(event)
		}
	}
}

// Subscribe registers a handler for events
func (d *InMemoryDispatcher) Subscribe(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, eventName := range handler.HandledEvents() {
		d.handlers[eventName] = append(d.handlers[eventName], handler)
	}
}

// Unsubscribe removes a handler
func (d *InMemoryDispatcher) Unsubscribe(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, eventName := range handler.HandledEvents() {
		handlers := d.handlers[eventName]
		for i, h := range handlers {
			if h == handler {
				d.handlers[eventName] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

// NullDispatcher is a no-op dispatcher for when events are not needed
type NullDispatcher struct{}

// NewNullDispatcher creates a new NullDispatcher
func NewNullDispatcher() *NullDispatcher {
	return &NullDispatcher{}
}

// Dispatch does nothing
func (d *NullDispatcher) Dispatch(event QueueEvent) {}

// Subscribe does nothing
func (d *NullDispatcher) Subscribe(handler Handler) {}

// Unsubscribe does nothing
func (d *NullDispatcher) Unsubscribe(handler Handler) {}

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventTypeBackendLoaded     = "backend.loaded"
	EventTypeBackendFailed     = "backend.failed"
	EventTypeBackendReset      = "backend.reset"
	EventTypeMeasureDiscovered = "measure.discovered"
	EventTypeMeasureLoaded     = "measure.loaded"
	EventTypeMeasureFailed     = "measure.failed"
	EventTypeMeasureChanged    = "measure.changed"
)

// EventLevel is an event severity, ordered info < warning < error.
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

var levelOrder = []EventLevel{EventLevelInfo, EventLevelWarning, EventLevelError}

// Event is a backend or measure lifecycle notification.
type Event struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`

	Backend  string        `json:"backend,omitempty"`
	File     string        `json:"file,omitempty"`
	Class    string        `json:"class,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Source   string        `json:"source,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// EventFilter reports whether an event should be delivered.
type EventFilter func(Event) bool

// ErrPublisherClosed is returned by Publish after Shutdown.
var ErrPublisherClosed = errors.New("event publisher is shut down")

type subscription struct {
	id      uint64
	handler func(Event)
	filters []EventFilter
}

// EventPublisher delivers events to subscribers in publish order. Delivery
// is inline unless EventsConfig.Async is set, in which case one goroutine
// drains a bounded queue.
type EventPublisher struct {
	config EventsConfig

	mu      sync.RWMutex
	subs    []subscription
	nextID  uint64
	filters []EventFilter
	closed  bool

	queue chan Event
	done  chan struct{}
}

// NewEventPublisher starts the delivery goroutine for async publishers.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got %d", cfg.BufferSize)
	}
	if cfg.Async {
		ep.queue = make(chan Event, cfg.BufferSize)
		ep.done = make(chan struct{})
		go ep.drain()
	}
	return ep, nil
}

// Subscribe registers handler for events passing every filter; nil filters
// are ignored. The returned func removes the subscription.
func (ep *EventPublisher) Subscribe(handler func(Event), filters ...EventFilter) (unsubscribe func()) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.nextID++
	id := ep.nextID
	ep.subs = append(ep.subs, subscription{
		id:      id,
		handler: handler,
		filters: slices.DeleteFunc(slices.Clone(filters), func(f EventFilter) bool { return f == nil }),
	})
	return func() {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		ep.subs = slices.DeleteFunc(ep.subs, func(s subscription) bool { return s.id == id })
	}
}

// AddFilter drops events failing filter before any subscriber sees them.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// Publish fills in ID, timestamp and level, then delivers e. An async
// publisher drops the event and returns an error when its queue is full.
func (ep *EventPublisher) Publish(e Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Level == "" {
		e.Level = EventLevelInfo
	}

	ep.mu.RLock()
	if ep.closed {
		ep.mu.RUnlock()
		return ErrPublisherClosed
	}
	if !matches(e, ep.filters) {
		ep.mu.RUnlock()
		return nil
	}
	if ep.queue != nil {
		defer ep.mu.RUnlock()
		select {
		case ep.queue <- e:
			return nil
		default:
			return fmt.Errorf("event queue full, dropped %s", e.Type)
		}
	}
	subs := slices.Clone(ep.subs)
	ep.mu.RUnlock()

	deliver(e, subs)
	return nil
}

func (ep *EventPublisher) drain() {
	defer close(ep.done)
	for e := range ep.queue {
		ep.mu.RLock()
		subs := slices.Clone(ep.subs)
		ep.mu.RUnlock()
		deliver(e, subs)
	}
}

func deliver(e Event, subs []subscription) {
	for _, s := range subs {
		if matches(e, s.filters) {
			s.handler(e)
		}
	}
}

func matches(e Event, filters []EventFilter) bool {
	for _, f := range filters {
		if !f(e) {
			return false
		}
	}
	return true
}

// Shutdown stops accepting events and waits for queued ones to be
// delivered or ctx to expire.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	if ep.queue != nil {
		close(ep.queue)
	}
	ep.mu.Unlock()

	if ep.done == nil {
		return nil
	}
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// PublishBackendLoaded reports a backend constructed from source, either
// "linked" or a library path.
func (ep *EventPublisher) PublishBackendLoaded(backend, source string, d time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeBackendLoaded,
		Backend:  backend,
		Source:   source,
		Duration: d,
		Message:  fmt.Sprintf("Backend %s loaded from %s", backend, source),
	})
}

// PublishBackendFailed reports a failed backend construction.
func (ep *EventPublisher) PublishBackendFailed(backend string, err error) error {
	return ep.Publish(Event{
		Type:    EventTypeBackendFailed,
		Level:   EventLevelError,
		Backend: backend,
		Error:   err.Error(),
		Message: fmt.Sprintf("Backend %s failed to load", backend),
	})
}

// PublishBackendReset reports a finalized backend.
func (ep *EventPublisher) PublishBackendReset(backend string) error {
	return ep.Publish(Event{
		Type:    EventTypeBackendReset,
		Backend: backend,
		Message: fmt.Sprintf("Backend %s reset", backend),
	})
}

// PublishMeasureDiscovered reports the single measure class found in file.
func (ep *EventPublisher) PublishMeasureDiscovered(backend, file, class, kind string) error {
	return ep.Publish(Event{
		Type:    EventTypeMeasureDiscovered,
		Backend: backend,
		File:    file,
		Class:   class,
		Kind:    kind,
		Message: fmt.Sprintf("Discovered %s %s in %s", kind, class, file),
	})
}

// PublishMeasureLoaded reports a measure instantiated by class name.
func (ep *EventPublisher) PublishMeasureLoaded(backend, file, class, kind string, d time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeMeasureLoaded,
		Backend:  backend,
		File:     file,
		Class:    class,
		Kind:     kind,
		Duration: d,
		Message:  fmt.Sprintf("Loaded %s %s from %s", kind, class, file),
	})
}

// PublishMeasureFailed reports a failed discovery or load.
func (ep *EventPublisher) PublishMeasureFailed(backend, file, class string, err error) error {
	return ep.Publish(Event{
		Type:    EventTypeMeasureFailed,
		Level:   EventLevelError,
		Backend: backend,
		File:    file,
		Class:   class,
		Error:   err.Error(),
		Message: fmt.Sprintf("Failed to load measure from %s", file),
	})
}

// PublishMeasureChanged reports an edited measure source file.
func (ep *EventPublisher) PublishMeasureChanged(file string) error {
	return ep.Publish(Event{
		Type:    EventTypeMeasureChanged,
		File:    file,
		Message: fmt.Sprintf("Measure source %s changed", file),
	})
}

// FilterByLevel passes events at level or above.
func FilterByLevel(level EventLevel) EventFilter {
	floor := slices.Index(levelOrder, level)
	return func(e Event) bool {
		return slices.Index(levelOrder, e.Level) >= floor
	}
}

// FilterByType passes events of the given types.
func FilterByType(types ...string) EventFilter {
	return func(e Event) bool {
		return slices.Contains(types, e.Type)
	}
}

// FilterByBackend passes events from one backend.
func FilterByBackend(backend string) EventFilter {
	return func(e Event) bool {
		return e.Backend == backend
	}
}

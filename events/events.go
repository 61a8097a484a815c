package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel is full and cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// Event types published by the engine and the record view.
const (
	RecordChanged  = "record_changed"
	RecordCleared  = "record_cleared"
	CatalogLoaded  = "catalog_loaded"
	LoadFailed     = "load_failed"
	ActionExecuted = "action_executed"
	ActionFailed   = "action_failed"
)

// AllTypes lists every event type, in publication order of a typical record cycle.
var AllTypes = []string{CatalogLoaded, LoadFailed, RecordChanged, RecordCleared, ActionExecuted, ActionFailed}

// Event is something that happened to a record or to the loaded definitions.
type Event struct {
	Type    string                 // one of the constants above
	Seq     uint64                 // record event sequence number, 0 when not tied to one
	TableID string                 // table the record belongs to
	RowID   int64                  // record id, 0 when not tied to a record
	Data    map[string]interface{} // e.g. "action", "error", "invocation"
}

// EventHandler defines the interface for handling events.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(ctx context.Context, event Event) error

// Handle implements the EventHandler interface.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus fans events out to subscribers on a background goroutine.
type EventBus struct {
	handlers     map[string][]subscription
	nextSub      uint64
	mu           sync.RWMutex
	eventCh      chan Event
	errHandler   func(event Event, err error)
	errHandlerMu sync.RWMutex
	logger       *slog.Logger
	wg           sync.WaitGroup
	closed       bool
	closeMu      sync.RWMutex
}

// EventBusOption defines functional options for configuring EventBus.
type EventBusOption func(*EventBus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) EventBusOption {
	return func(eb *EventBus) {
		eb.eventCh = make(chan Event, size)
	}
}

// WithErrorHandler sets a custom error handler function.
func WithErrorHandler(handler func(event Event, err error)) EventBusOption {
	return func(eb *EventBus) {
		eb.errHandlerMu.Lock()
		defer eb.errHandlerMu.Unlock()
		eb.errHandler = handler
	}
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *slog.Logger) EventBusOption {
	return func(eb *EventBus) {
		eb.logger = logger
	}
}

// NewEventBus creates a new EventBus instance with async processing.
// The default buffer size is 100; handler errors are logged unless
// WithErrorHandler replaces that.
func NewEventBus(options ...EventBusOption) *EventBus {
	eb := &EventBus{
		handlers: make(map[string][]subscription),
		eventCh:  make(chan Event, 100),
		logger:   slog.Default(),
	}
	eb.errHandler = eb.logError

	for _, option := range options {
		option(eb)
	}

	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe subscribes a handler to an event type. The returned func removes it again.
func (eb *EventBus) Subscribe(eventType string, handler EventHandler) (unsubscribe func() bool) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextSub++
	id := eb.nextSub
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})
	return func() bool { return eb.remove(eventType, id) }
}

// SubscribeFunc subscribes a function as a handler to an event type.
func (eb *EventBus) SubscribeFunc(eventType string, handlerFunc func(ctx context.Context, event Event) error) func() bool {
	return eb.Subscribe(eventType, EventHandlerFunc(handlerFunc))
}

// SubscribeAll subscribes one handler to every type in eventTypes.
func (eb *EventBus) SubscribeAll(eventTypes []string, handler EventHandler) {
	for _, t := range eventTypes {
		eb.Subscribe(t, handler)
	}
}

func (eb *EventBus) remove(eventType string, id uint64) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.handlers[eventType]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		eb.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
		if len(eb.handlers[eventType]) == 0 {
			delete(eb.handlers, eventType)
		}
		return true
	}
	return false
}

// HasSubscribers checks if there are any subscribers for a given event type.
func (eb *EventBus) HasSubscribers(eventType string) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType]) > 0
}

// Publish queues an event for the subscribed handlers.
// Returns an error if the context is canceled, the bus is closed, no handler
// listens for the type, or the channel is full.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	eb.closeMu.RLock()
	defer eb.closeMu.RUnlock()
	if eb.closed {
		return ErrBusClosed
	}

	if !eb.HasSubscribers(event.Type) {
		return ErrNoHandler
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case eb.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync runs the handlers for event before returning their errors.
// Execution is subject to a 5-second timeout unless the context is shorter.
func (eb *EventBus) PublishSync(ctx context.Context, event Event) []error {
	eb.closeMu.RLock()
	closed := eb.closed
	eb.closeMu.RUnlock()
	if closed {
		return []error{ErrBusClosed}
	}

	handlers := eb.snapshot(event.Type)
	if len(handlers) == 0 {
		return []error{ErrNoHandler}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return eb.executeHandlers(timeoutCtx, handlers, event)
}

// Stop stops the event processing goroutine after the queued events are handled.
func (eb *EventBus) Stop() {
	eb.closeMu.Lock()
	if !eb.closed {
		eb.closed = true
		close(eb.eventCh)
	}
	eb.closeMu.Unlock()

	eb.wg.Wait()
}

func (eb *EventBus) snapshot(eventType string) []EventHandler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	subs := eb.handlers[eventType]
	out := make([]EventHandler, len(subs))
	for i, s := range subs {
		out[i] = s.handler
	}
	return out
}

func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for event := range eb.eventCh {
		handlers := eb.snapshot(event.Type)
		if len(handlers) == 0 {
			continue
		}

		errs := eb.executeHandlers(context.Background(), handlers, event)

		eb.errHandlerMu.RLock()
		handler := eb.errHandler
		eb.errHandlerMu.RUnlock()

		for _, err := range errs {
			handler(event, err)
		}
	}
}

// executeHandlers runs handlers in subscription order and collects their errors.
func (eb *EventBus) executeHandlers(ctx context.Context, handlers []EventHandler, event Event) []error {
	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (eb *EventBus) logError(event Event, err error) {
	eb.logger.Error("event handler failed",
		"event", event.Type, "seq", event.Seq, "table", event.TableID, "row", event.RowID, "err", err)
}

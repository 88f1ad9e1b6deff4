package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a post-commit notification about the entity graph or the task
// runtime.
type Event struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Type          string                 `json:"type"`
	Source        string                 `json:"source"`
	Object        string                 `json:"object,omitempty"` // e.g. "cluster 3"
	TaskID        int64                  `json:"task_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Message       string                 `json:"message"`
	Level         string                 `json:"level"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeEntityCreated  = "entity.created"
	EventTypeEntityUpdated  = "entity.updated"
	EventTypeEntityDeleted  = "entity.deleted"
	EventTypeTaskStarted    = "task.started"
	EventTypeTaskFinished   = "task.finished"
	EventTypeMappingUpdated = "mapping.updated"
	EventTypeBundleLoaded   = "bundle.loaded"
	EventTypeRotation       = "rotation.completed"
)

const (
	EventLevelInfo  = "info"
	EventLevelError = "error"
)

// ErrEventsStopped is returned by Publish after Shutdown.
var ErrEventsStopped = errors.New("event publisher stopped")

// EventFilter selects the events a subscriber receives.
type EventFilter func(Event) bool

type subscription struct {
	fn     func(Event)
	filter EventFilter
}

// EventPublisher fans events out to subscribers in publish order. In async
// mode a single goroutine delivers from a bounded queue and Publish drops the
// event when the queue is full.
type EventPublisher struct {
	cfg EventsConfig

	mu     sync.RWMutex
	subs   []subscription
	closed bool

	queue chan Event
	done  chan struct{}
}

// NewEventPublisher starts the delivery goroutine when cfg.Async is set.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{cfg: cfg}
	if cfg.Enabled && cfg.Async {
		ep.queue = make(chan Event, cfg.BufferSize)
		ep.done = make(chan struct{})
		go ep.loop()
	}
	return ep
}

func (ep *EventPublisher) loop() {
	defer close(ep.done)
	for ev := range ep.queue {
		ep.deliver(ev)
	}
}

// Subscribe registers fn for the events accepted by filter; a nil filter
// accepts all.
func (ep *EventPublisher) Subscribe(fn func(Event), filter EventFilter) {
	ep.mu.Lock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
	ep.mu.Unlock()
}

func (ep *EventPublisher) deliver(ev Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(ev) {
			s.fn(ev)
		}
	}
}

// Publish fills in the id, time and level of ev and delivers it.
func (ep *EventPublisher) Publish(ev Event) error {
	if ep == nil || !ep.cfg.Enabled {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Level == "" {
		ev.Level = EventLevelInfo
	}
	if ep.queue == nil {
		ep.deliver(ev)
		return nil
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrEventsStopped
	}
	select {
	case ep.queue <- ev:
		return nil
	default:
		return fmt.Errorf("event queue full, %s dropped", ev.Type)
	}
}

// Shutdown stops accepting events and waits until the queue is drained.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || ep.queue == nil {
		return nil
	}
	ep.mu.Lock()
	if !ep.closed {
		ep.closed = true
		close(ep.queue)
	}
	ep.mu.Unlock()

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// PublishEntityChange publishes one entry of the graph change stream; op is
// create, update or delete.
func (ep *EventPublisher) PublishEntityChange(op, kind string, id int64) error {
	typ := EventTypeEntityUpdated
	switch op {
	case "create":
		typ = EventTypeEntityCreated
	case "delete":
		typ = EventTypeEntityDeleted
	}
	return ep.Publish(Event{
		Type:    typ,
		Source:  "graph",
		Object:  fmt.Sprintf("%s %d", kind, id),
		Message: fmt.Sprintf("%s %d %sd", kind, id, op),
		Data:    map[string]interface{}{"kind": kind, "id": id, "op": op},
	})
}

func (ep *EventPublisher) PublishTaskStarted(taskID int64, correlationID, action, object string) error {
	return ep.Publish(Event{
		Type:          EventTypeTaskStarted,
		Source:        "actions",
		Object:        object,
		TaskID:        taskID,
		CorrelationID: correlationID,
		Message:       fmt.Sprintf("Task %d started: %s on %s", taskID, action, object),
		Data:          map[string]interface{}{"action": action},
	})
}

func (ep *EventPublisher) PublishTaskFinished(taskID int64, correlationID, status string, d time.Duration) error {
	level := EventLevelInfo
	if status != "success" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:          EventTypeTaskFinished,
		Source:        "actions",
		TaskID:        taskID,
		CorrelationID: correlationID,
		Message:       fmt.Sprintf("Task %d finished: %s", taskID, status),
		Level:         level,
		Data:          map[string]interface{}{"status": status, "duration": d.Seconds()},
	})
}

func (ep *EventPublisher) PublishMappingUpdated(clusterID int64, entries int) error {
	return ep.Publish(Event{
		Type:    EventTypeMappingUpdated,
		Source:  "mapping",
		Object:  fmt.Sprintf("cluster %d", clusterID),
		Message: fmt.Sprintf("Mapping of cluster %d replaced with %d entries", clusterID, entries),
		Data:    map[string]interface{}{"entries": entries},
	})
}

func (ep *EventPublisher) PublishBundleLoaded(bundleID int64, name, version string) error {
	return ep.Publish(Event{
		Type:    EventTypeBundleLoaded,
		Source:  "bundles",
		Object:  fmt.Sprintf("bundle %d", bundleID),
		Message: fmt.Sprintf("Bundle %s %s loaded", name, version),
		Data:    map[string]interface{}{"name": name, "version": version},
	})
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(ev Event) bool {
		_, ok := set[ev.Type]
		return ok
	}
}

// FilterByTask accepts events of one task.
func FilterByTask(taskID int64) EventFilter {
	return func(ev Event) bool { return ev.TaskID == taskID }
}

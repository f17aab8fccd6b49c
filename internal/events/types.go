package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// Session lifecycle
	EventTypeSessionStarted EventType = "session.started"
	EventTypeSessionStopped EventType = "session.stopped"
	EventTypeSessionPaused  EventType = "session.paused"
	EventTypeSessionResumed EventType = "session.resumed"

	// Capture loop
	EventTypeCaptureFailed EventType = "capture.failed"

	// Recognition
	EventTypeTemplateMatched EventType = "template.matched"
	EventTypeSceneMatched    EventType = "scene.matched"

	// Dispatch outcomes
	EventTypeActionPerformed  EventType = "action.performed"
	EventTypeActionSuppressed EventType = "action.suppressed"
	EventTypeActionAborted    EventType = "action.aborted"
	EventTypeActionFailed     EventType = "action.failed"

	// Error events
	EventTypeError EventType = "error"
)

// AllEventTypes lists every event type, in declaration order. Subscribers
// that want the whole stream (event log, journal) iterate over it.
var AllEventTypes = []EventType{
	EventTypeSessionStarted,
	EventTypeSessionStopped,
	EventTypeSessionPaused,
	EventTypeSessionResumed,
	EventTypeCaptureFailed,
	EventTypeTemplateMatched,
	EventTypeSceneMatched,
	EventTypeActionPerformed,
	EventTypeActionSuppressed,
	EventTypeActionAborted,
	EventTypeActionFailed,
	EventTypeError,
}

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event (e.g., "dispatcher", "capture")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish queues an event for delivery, blocking while the queue is full
	Publish(event Event)

	// PublishAsync queues an event without blocking the caller
	PublishAsync(event Event)

	// Stop stops the event bus and drains remaining events
	Stop()
}

// Helper functions to create common events

// NewSessionEvent creates a session lifecycle event
func NewSessionEvent(eventType EventType, region string, templates int) Event {
	return Event{
		Type:      eventType,
		Source:    "session",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"region":    region,
			"templates": templates,
		},
	}
}

// NewCaptureFailedEvent creates a capture failure event
func NewCaptureFailedEvent(region string, err error) Event {
	return Event{
		Type:      EventTypeCaptureFailed,
		Source:    "capture",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"region": region,
			"error":  err.Error(),
		},
	}
}

// NewTemplateMatchedEvent creates a template match event
func NewTemplateMatchedEvent(name string, confidence float64, x, y int, metric string, scale float64) Event {
	return Event{
		Type:      EventTypeTemplateMatched,
		Source:    "matcher",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"name":       name,
			"confidence": confidence,
			"x":          x,
			"y":          y,
			"metric":     metric,
			"scale":      scale,
		},
	}
}

// NewSceneMatchedEvent creates a scene match event
func NewSceneMatchedEvent(name, ruleType string) Event {
	return Event{
		Type:      EventTypeSceneMatched,
		Source:    "scenes",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"name": name,
			"type": ruleType,
		},
	}
}

// NewActionEvent creates a dispatch outcome event. kind is the action kind
// ("click", "double_click", "drag"), reason is empty for performed actions.
func NewActionEvent(eventType EventType, name, kind string, x, y int, reason string) Event {
	data := map[string]interface{}{
		"name": name,
		"kind": kind,
		"x":    x,
		"y":    y,
	}
	if reason != "" {
		data["reason"] = reason
	}
	return Event{
		Type:      eventType,
		Source:    "dispatcher",
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(source, component string, err error, metadata map[string]interface{}) Event {
	data := map[string]interface{}{
		"component": component,
		"error":     err.Error(),
	}
	for k, v := range metadata {
		data[k] = v
	}
	return Event{
		Type:      EventTypeError,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}

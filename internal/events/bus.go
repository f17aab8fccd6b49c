package events

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

// DefaultEventBus delivers events on a single goroutine, so every
// subscriber sees events in publish order.
type DefaultEventBus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID SubscriptionID
	diag   io.Writer

	queue    chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	dropped atomic.Uint64
}

// NewEventBus starts a bus whose queue holds bufferSize events
func NewEventBus(bufferSize int) *DefaultEventBus {
	eb := &DefaultEventBus{
		subs:   make(map[EventType][]subscription),
		nextID: 1,
		diag:   os.Stderr,
		queue:  make(chan Event, bufferSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go eb.run()
	return eb
}

// SetDiagnostics redirects dropped-event and handler-panic reports.
// io.Discard silences them.
func (eb *DefaultEventBus) SetDiagnostics(w io.Writer) {
	eb.mu.Lock()
	eb.diag = w
	eb.mu.Unlock()
}

func (eb *DefaultEventBus) report(format string, args ...interface{}) {
	eb.mu.RLock()
	w := eb.diag
	eb.mu.RUnlock()
	fmt.Fprintf(w, "[EventBus] "+format+"\n", args...)
}

// Subscribe registers handler for one event type
func (eb *DefaultEventBus) Subscribe(eventType EventType, handler EventHandler) SubscriptionID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	eb.subs[eventType] = append(eb.subs[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers handler for every type in AllEventTypes
func (eb *DefaultEventBus) SubscribeAll(handler EventHandler) []SubscriptionID {
	ids := make([]SubscriptionID, len(AllEventTypes))
	for i, eventType := range AllEventTypes {
		ids[i] = eb.Subscribe(eventType, handler)
	}
	return ids
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (eb *DefaultEventBus) Unsubscribe(id SubscriptionID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for eventType, subs := range eb.subs {
		for i := range subs {
			if subs[i].id != id {
				continue
			}
			// copy so an in-flight dispatch keeps its snapshot
			eb.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish queues an event, blocking while the queue is full. Events
// published after Stop are dropped.
func (eb *DefaultEventBus) Publish(event Event) {
	stamp(&event)
	select {
	case <-eb.stopCh:
		eb.drop(event, "bus stopped")
		return
	default:
	}

	select {
	case eb.queue <- event:
	case <-eb.stopCh:
		eb.drop(event, "bus stopped")
	}
}

// PublishAsync queues an event without blocking and drops it when the
// queue is full. The capture loop publishes through here.
func (eb *DefaultEventBus) PublishAsync(event Event) {
	stamp(&event)
	select {
	case <-eb.stopCh:
		eb.drop(event, "bus stopped")
		return
	default:
	}

	select {
	case eb.queue <- event:
	default:
		eb.drop(event, "queue full")
	}
}

func stamp(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
}

func (eb *DefaultEventBus) drop(event Event, why string) {
	eb.dropped.Add(1)
	eb.report("Dropped %s event (%s)", event.Type, why)
}

// Dropped returns how many events were never queued
func (eb *DefaultEventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// Stop delivers what is already queued, then stops the bus. Safe to call
// more than once.
func (eb *DefaultEventBus) Stop() {
	eb.stopOnce.Do(func() { close(eb.stopCh) })
	<-eb.done
}

func (eb *DefaultEventBus) run() {
	defer close(eb.done)
	for {
		select {
		case event := <-eb.queue:
			eb.deliver(event)
		case <-eb.stopCh:
			for {
				select {
				case event := <-eb.queue:
					eb.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (eb *DefaultEventBus) deliver(event Event) {
	eb.mu.RLock()
	subs := eb.subs[event.Type]
	eb.mu.RUnlock()

	for _, sub := range subs {
		eb.call(sub.handler, event)
	}
}

func (eb *DefaultEventBus) call(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.report("Handler panic for %s event: %v", event.Type, r)
		}
	}()
	handler(event)
}

// GetSubscriberCount returns the number of subscribers for an event type
func (eb *DefaultEventBus) GetSubscriberCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[eventType])
}

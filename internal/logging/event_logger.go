package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"jordanella.com/autoclick-go/internal/events"
)

// EventLogger appends every bus event to logDir/events_<start time>.log,
// stamped with the time the event was published
type EventLogger struct {
	bus  *events.DefaultEventBus
	ids  []events.SubscriptionID
	path string
	file *os.File
	mu   sync.Mutex
}

// NewEventLogger creates logDir if needed and subscribes to every event type
func NewEventLogger(bus *events.DefaultEventBus, logDir string) (*EventLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := fmt.Sprintf("events_%s.log", time.Now().Format("2006-01-02_15-04-05"))
	path := filepath.Join(logDir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	el := &EventLogger{bus: bus, path: path, file: file}
	el.ids = bus.SubscribeAll(el.write)
	return el, nil
}

// eventLevel maps failures to WARN so they stand out in the file
func eventLevel(t events.EventType) LogLevel {
	switch t {
	case events.EventTypeError, events.EventTypeActionFailed, events.EventTypeCaptureFailed:
		return LogLevelWarn
	}
	return LogLevelInfo
}

func (el *EventLogger) write(event events.Event) {
	fields := Fields{"source": event.Source}
	for k, v := range event.Data {
		fields[k] = v
	}

	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file == nil {
		return
	}
	el.file.Write(formatLine(event.Timestamp, eventLevel(event.Type), "Events", string(event.Type), nil, fields))
}

// Path returns the log file path
func (el *EventLogger) Path() string {
	return el.path
}

// Close unsubscribes and closes the file
func (el *EventLogger) Close() error {
	for _, id := range el.ids {
		el.bus.Unsubscribe(id)
	}
	el.ids = nil

	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file == nil {
		return nil
	}
	err := el.file.Close()
	el.file = nil
	return err
}

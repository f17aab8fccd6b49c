package logging

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"jordanella.com/autoclick-go/internal/events"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{" Warn ", LogLevelWarn},
		{"ERROR", LogLevelError},
		{"", LogLevelInfo},
		{"verbose", LogLevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLevelFilteringAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDiscardLogger("Capture").AddOutput(&buf).SetMinLevel(LogLevelWarn)

	logger.Info("hidden")
	logger.ErrorWithContext("Frame capture failed", errors.New("device busy"), Fields{"region": "0,0,10,10", "failures": 3})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("INFO line written below WARN threshold")
	}
	for _, want := range []string{"ERROR [Capture] Frame capture failed", "error=device busy", "| failures=3 region=0,0,10,10"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestNamedSharesOutputs(t *testing.T) {
	var buf bytes.Buffer
	parent := NewDiscardLogger("Autoclick").AddOutput(&buf).SetMinLevel(LogLevelDebug)
	child := parent.Named("Matcher")

	child.Debug("scored")
	if !strings.Contains(buf.String(), "DEBUG [Matcher] scored") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestEventLoggerWritesEvents(t *testing.T) {
	bus := events.NewEventBus(16)
	el, err := NewEventLogger(bus, t.TempDir())
	if err != nil {
		t.Fatalf("NewEventLogger: %v", err)
	}

	bus.Publish(events.NewTemplateMatchedEvent("ok_button", 0.97, 10, 20, "gray", 1.0))
	bus.Publish(events.NewActionEvent(events.EventTypeActionFailed, "ok_button", "click", 10, 20, "driver error"))
	bus.Stop()

	path := el.Path()
	if err := el.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "INFO [Events] template.matched") || !strings.Contains(out, "name=ok_button") {
		t.Errorf("match event missing from %q", out)
	}
	if !strings.Contains(out, "WARN [Events] action.failed") {
		t.Errorf("failed action not logged as a warning: %q", out)
	}
}

func TestEventLevel(t *testing.T) {
	tests := []struct {
		in   events.EventType
		want LogLevel
	}{
		{events.EventTypeCaptureFailed, LogLevelWarn},
		{events.EventTypeError, LogLevelWarn},
		{events.EventTypeActionPerformed, LogLevelInfo},
		{events.EventTypeSessionStarted, LogLevelInfo},
	}
	for _, tt := range tests {
		if got := eventLevel(tt.in); got != tt.want {
			t.Errorf("eventLevel(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

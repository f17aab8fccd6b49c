// Package trajectory records literal pointer trajectories and replays them
// with their original timing.
package trajectory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"jordanella.com/autoclick-go/internal/input"
)

// Event types
const (
	TypeMove  = "move"
	TypeClick = "click"
)

// Event is one recorded pointer event. DT is seconds since recording
// started.
type Event struct {
	Type    string  `json:"type"`
	X       int     `json:"x"`
	Y       int     `json:"y"`
	DT      float64 `json:"dt"`
	Button  string  `json:"button,omitempty"`
	Pressed *bool   `json:"pressed,omitempty"`
}

// IsPress reports whether a click event is a button press
func (e Event) IsPress() bool {
	return e.Pressed != nil && *e.Pressed
}

// ButtonValue returns the click button. Values like "Button.left" are
// accepted; unknown or empty values mean left.
func (e Event) ButtonValue() input.Button {
	raw := e.Button
	if i := strings.LastIndex(raw, "."); i >= 0 {
		raw = raw[i+1:]
	}
	b, err := input.ParseButton(raw)
	if err != nil {
		return input.ButtonLeft
	}
	return b
}

// Script is an ordered list of events
type Script []Event

// Duration returns the timestamp of the last event in seconds
func (s Script) Duration() float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].DT
}

// Validate checks event types and that timestamps never go backwards
func (s Script) Validate() error {
	prev := 0.0
	for i, e := range s {
		switch e.Type {
		case TypeMove, TypeClick:
		default:
			return fmt.Errorf("event %d: unknown type %q", i, e.Type)
		}
		if e.DT < 0 {
			return fmt.Errorf("event %d: negative dt %v", i, e.DT)
		}
		if e.DT < prev {
			return fmt.Errorf("event %d: dt %v before previous %v", i, e.DT, prev)
		}
		if e.Type == TypeClick && e.Pressed == nil {
			return fmt.Errorf("event %d: click without pressed state", i)
		}
		prev = e.DT
	}
	return nil
}

// Load reads and validates a JSON script
func Load(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid script %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script %s: %w", path, err)
	}
	return s, nil
}

// Save writes a script as JSON
func Save(path string, s Script) error {
	if len(s) == 0 {
		return fmt.Errorf("no events to save")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save script: %w", err)
	}
	return nil
}

package actions

import (
	"fmt"
	"image"
	"strings"
	"time"

	"jordanella.com/autoclick-go/internal/display"
	"jordanella.com/autoclick-go/internal/input"
)

// Kind is the type of pointer action
type Kind string

const (
	KindClick       Kind = "click"
	KindDoubleClick Kind = "double_click"
	KindDrag        Kind = "drag"
)

// Defaults applied by Parse when the configuration leaves a field out
const (
	DefaultDelay    = 2 * time.Second
	DefaultDuration = 200 * time.Millisecond
	DefaultAbortKey = "esc"
)

// Error types
var (
	ErrUnknownKind   = fmt.Errorf("unknown action kind")
	ErrInvalidRegion = fmt.Errorf("region must be [x, y, width, height] with positive size")
	ErrMissingTarget = fmt.Errorf("action target coordinates missing")
	ErrInvalidTiming = fmt.Errorf("action timings must be non-negative")
)

// Config is the wire form of an action, as found in scene files. Times are
// in seconds.
type Config struct {
	Type     string   `json:"type" yaml:"type"`
	X        *int     `json:"x,omitempty" yaml:"x,omitempty"`
	Y        *int     `json:"y,omitempty" yaml:"y,omitempty"`
	X1       *int     `json:"x1,omitempty" yaml:"x1,omitempty"`
	Y1       *int     `json:"y1,omitempty" yaml:"y1,omitempty"`
	X2       *int     `json:"x2,omitempty" yaml:"x2,omitempty"`
	Y2       *int     `json:"y2,omitempty" yaml:"y2,omitempty"`
	Button   string   `json:"button,omitempty" yaml:"button,omitempty"`
	Clicks   int      `json:"clicks,omitempty" yaml:"clicks,omitempty"`
	Interval float64  `json:"interval,omitempty" yaml:"interval,omitempty"`
	Duration *float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
	Delay    *float64 `json:"delay,omitempty" yaml:"delay,omitempty"`
	AbortKey string   `json:"abort_key,omitempty" yaml:"abort_key,omitempty"`
	Region   []int    `json:"region,omitempty" yaml:"region,omitempty"`
	Space    string   `json:"space,omitempty" yaml:"space,omitempty"`
}

// Spec is a validated, ready-to-run action
type Spec struct {
	Kind     Kind
	Target   image.Point // click and double_click
	From, To image.Point // drag
	Button   input.Button
	Clicks   int
	Interval time.Duration
	Duration time.Duration
	Delay    time.Duration
	AbortKey string

	// Offset is added to every point before mapping, e.g. a region origin
	Offset image.Point
	// Space is the pixel space of the points
	Space display.Space

	// Name keys the cooldown; empty disables it
	Name     string
	Cooldown time.Duration
}

// Points returns the action's screen points with the offset applied
func (s Spec) Points() []image.Point {
	if s.Kind == KindDrag {
		return []image.Point{s.From.Add(s.Offset), s.To.Add(s.Offset)}
	}
	return []image.Point{s.Target.Add(s.Offset)}
}

// Validate checks a spec built by hand
func (s Spec) Validate() error {
	switch s.Kind {
	case KindClick, KindDoubleClick, KindDrag:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
	if s.Clicks < 1 {
		return fmt.Errorf("clicks must be at least 1, got %d", s.Clicks)
	}
	if s.Interval < 0 || s.Duration < 0 || s.Delay < 0 || s.Cooldown < 0 {
		return ErrInvalidTiming
	}
	if _, err := input.ParseButton(string(s.Button)); err != nil {
		return err
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Parse validates a wire config and converts it to a Spec. Nothing is
// executed; a config that fails here never reaches the input driver.
func Parse(c Config) (Spec, error) {
	spec := Spec{
		Kind:     Kind(strings.ToLower(strings.TrimSpace(c.Type))),
		Clicks:   c.Clicks,
		Interval: seconds(c.Interval),
		Delay:    DefaultDelay,
		Duration: DefaultDuration,
		AbortKey: c.AbortKey,
		Space:    display.Physical,
	}
	if spec.Clicks == 0 {
		spec.Clicks = 1
	}
	if spec.AbortKey == "" {
		spec.AbortKey = DefaultAbortKey
	}
	if c.Delay != nil {
		spec.Delay = seconds(*c.Delay)
	}
	if c.Duration != nil {
		spec.Duration = seconds(*c.Duration)
	}

	switch spec.Kind {
	case KindClick, KindDoubleClick:
		if c.X == nil || c.Y == nil {
			return Spec{}, fmt.Errorf("%s: %w: x and y are required", spec.Kind, ErrMissingTarget)
		}
		spec.Target = image.Pt(*c.X, *c.Y)
	case KindDrag:
		if c.X1 == nil || c.Y1 == nil || c.X2 == nil || c.Y2 == nil {
			return Spec{}, fmt.Errorf("drag: %w: x1, y1, x2 and y2 are required", ErrMissingTarget)
		}
		spec.From = image.Pt(*c.X1, *c.Y1)
		spec.To = image.Pt(*c.X2, *c.Y2)
	case "":
		return Spec{}, fmt.Errorf("%w: type is required", ErrUnknownKind)
	default:
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, c.Type)
	}

	if c.Region != nil {
		if len(c.Region) != 4 || c.Region[2] <= 0 || c.Region[3] <= 0 {
			return Spec{}, fmt.Errorf("%w: got %v", ErrInvalidRegion, c.Region)
		}
		spec.Offset = image.Pt(c.Region[0], c.Region[1])
	}

	switch strings.ToLower(c.Space) {
	case "", "physical":
	case "logical":
		spec.Space = display.Logical
	default:
		return Spec{}, fmt.Errorf("unknown pixel space %q", c.Space)
	}

	button, err := input.ParseButton(c.Button)
	if err != nil {
		return Spec{}, err
	}
	spec.Button = button

	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

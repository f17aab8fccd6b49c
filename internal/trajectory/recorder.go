package trajectory

import (
	"sync"
	"time"

	hook "github.com/robotn/gohook"

	"jordanella.com/autoclick-go/internal/input"
	"jordanella.com/autoclick-go/internal/logging"
)

// DefaultSampleHz is the rate pointer moves are sampled at
const DefaultSampleHz = 60

// EventSource delivers global input events
type EventSource interface {
	Start() chan hook.Event
	End()
}

// HookSource is the process-wide gohook event stream
type HookSource struct{}

func (HookSource) Start() chan hook.Event { return hook.Start() }
func (HookSource) End()                   { hook.End() }

// Recorder captures pointer moves and button presses into a Script. Moves
// are kept at most once per sample period; clicks are always kept.
type Recorder struct {
	source   EventSource
	interval float64
	logger   *logging.Logger

	mu        sync.Mutex
	recording bool
	stopping  bool
	events    Script
	start     time.Time
	lastMove  float64
	done      chan struct{}
}

// NewRecorder creates a recorder sampling moves at hz
func NewRecorder(source EventSource, hz float64, logger *logging.Logger) *Recorder {
	if source == nil {
		source = HookSource{}
	}
	if hz <= 0 {
		hz = DefaultSampleHz
	}
	if logger == nil {
		logger = logging.NewDiscardLogger("Recorder")
	}
	return &Recorder{source: source, interval: 1 / hz, logger: logger}
}

// Start begins recording. It returns false if already recording.
func (r *Recorder) Start() bool {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		r.logger.Warn("Recording already in progress")
		return false
	}
	r.recording = true
	r.events = nil
	r.start = time.Time{}
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	ch := r.source.Start()
	go func() {
		defer close(done)
		for ev := range ch {
			r.handle(ev)
		}
	}()

	r.logger.Info("Recording started")
	return true
}

// Stop ends recording and returns the captured script. ok is false if no
// recording was in progress.
func (r *Recorder) Stop() (Script, bool) {
	r.mu.Lock()
	if !r.recording || r.stopping {
		r.mu.Unlock()
		return nil, false
	}
	r.stopping = true
	done := r.done
	r.mu.Unlock()

	// Events already queued by the hook are still recorded
	r.source.End()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		r.logger.Warn("Input hook did not close in time")
	}

	r.mu.Lock()
	r.recording = false
	r.stopping = false
	r.mu.Unlock()

	events := r.Events()
	r.logger.InfoWithContext("Recording stopped", logging.Fields{"events": len(events)})
	return events, true
}

// Recording reports whether a recording is in progress
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Events returns a copy of the events recorded so far
func (r *Recorder) Events() Script {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(Script(nil), r.events...)
}

// handle converts one hook event. gohook reports a button press as
// MouseHold and its release as MouseDown.
func (r *Recorder) handle(ev hook.Event) {
	var pressed bool
	switch ev.Kind {
	case hook.MouseMove, hook.MouseDrag:
	case hook.MouseHold:
		pressed = true
	case hook.MouseDown:
		pressed = false
	default:
		return
	}

	when := ev.When
	if when.IsZero() {
		when = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	if r.start.IsZero() {
		r.start = when
		r.lastMove = 0
	}
	dt := when.Sub(r.start).Seconds()
	if n := len(r.events); n > 0 && dt < r.events[n-1].DT {
		dt = r.events[n-1].DT
	}

	if ev.Kind == hook.MouseMove || ev.Kind == hook.MouseDrag {
		if len(r.events) > 0 && dt-r.lastMove < r.interval {
			return
		}
		r.events = append(r.events, Event{Type: TypeMove, X: int(ev.X), Y: int(ev.Y), DT: dt})
		r.lastMove = dt
		return
	}

	p := pressed
	r.events = append(r.events, Event{
		Type:    TypeClick,
		X:       int(ev.X),
		Y:       int(ev.Y),
		DT:      dt,
		Button:  string(hookButton(ev.Button)),
		Pressed: &p,
	})
}

func hookButton(b uint16) input.Button {
	switch b {
	case 2:
		return input.ButtonRight
	case 3:
		return input.ButtonMiddle
	default:
		return input.ButtonLeft
	}
}

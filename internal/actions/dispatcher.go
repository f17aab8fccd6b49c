package actions

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"strings"
	"sync"
	"time"

	"jordanella.com/autoclick-go/internal/cv"
	"jordanella.com/autoclick-go/internal/display"
	"jordanella.com/autoclick-go/internal/events"
	"jordanella.com/autoclick-go/internal/input"
	"jordanella.com/autoclick-go/internal/logging"
)

// Dispatcher turns matches and action specs into pointer input. At most one
// action runs at a time; triggers that collide are dropped, not queued.
type Dispatcher struct {
	driver input.Driver
	mapper *display.Mapper
	abort  input.AbortWatcher
	state  *SharedState
	bus    events.EventBus
	logger *logging.Logger

	now      func() time.Time
	abortKey string

	rng   *rand.Rand
	rngMu sync.Mutex

	wg sync.WaitGroup
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithSharedState shares cooldown and in-flight state between dispatchers
func WithSharedState(s *SharedState) DispatcherOption {
	return func(d *Dispatcher) { d.state = s }
}

// WithEventBus publishes dispatch outcomes
func WithEventBus(bus events.EventBus) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithClock replaces the wall clock used for cooldowns
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithSeed makes click jitter reproducible
func WithSeed(seed int64) DispatcherOption {
	return func(d *Dispatcher) { d.rng = rand.New(rand.NewSource(seed)) }
}

// WithAbortKey sets the abort key for match-driven actions
func WithAbortKey(key string) DispatcherOption {
	return func(d *Dispatcher) { d.abortKey = key }
}

// WithLogger sets the dispatcher logger
func WithLogger(l *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher. mapper may be nil when matches and the
// driver share a pixel space; abort may be nil to disable the abort key.
func NewDispatcher(driver input.Driver, mapper *display.Mapper, abort input.AbortWatcher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		driver:   driver,
		mapper:   mapper,
		abort:    abort,
		now:      time.Now,
		abortKey: DefaultAbortKey,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.abort == nil {
		d.abort = input.NoAbort{}
	}
	if d.state == nil {
		d.state = NewSharedState()
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.logger == nil {
		d.logger = logging.NewDiscardLogger("Dispatcher")
	}
	return d
}

// State exposes the dispatcher's shared state
func (d *Dispatcher) State() *SharedState {
	return d.state
}

// Execute runs spec on the calling goroutine
func (d *Dispatcher) Execute(ctx context.Context, spec Spec) (Outcome, error) {
	if err := spec.Validate(); err != nil {
		d.publish(events.EventTypeActionFailed, spec, err.Error())
		return Failed, fmt.Errorf("invalid action: %w", err)
	}

	outcome, release := d.state.acquire(spec.Name, spec.Cooldown, d.now())
	if outcome != Performed {
		d.logger.DebugWithContext("Action suppressed", logging.Fields{"name": spec.Name, "reason": outcome.String()})
		d.publish(events.EventTypeActionSuppressed, spec, outcome.String())
		return outcome, nil
	}

	performed := false
	defer func() { release(performed) }()

	if !d.waitDelay(ctx, spec.Delay, spec.AbortKey) {
		d.logger.InfoWithContext("Action aborted during delay", logging.Fields{"name": spec.Name, "kind": string(spec.Kind)})
		d.publish(events.EventTypeActionAborted, spec, "abort")
		return Aborted, nil
	}

	if err := d.perform(spec); err != nil {
		d.logger.ErrorWithContext("Action failed", err, logging.Fields{"name": spec.Name, "kind": string(spec.Kind)})
		d.publish(events.EventTypeActionFailed, spec, err.Error())
		return Failed, err
	}

	performed = true
	d.publish(events.EventTypeActionPerformed, spec, "")
	return Performed, nil
}

// ExecuteMatch targets the match's bounding box and clicks it
func (d *Dispatcher) ExecuteMatch(ctx context.Context, m *cv.MatchResult) (Outcome, error) {
	if m == nil {
		return Failed, fmt.Errorf("nil match")
	}
	return d.Execute(ctx, d.SpecForMatch(m))
}

// TriggerMatch dispatches a match on a detached goroutine. It returns false
// without spawning when an action is already in flight.
func (d *Dispatcher) TriggerMatch(m *cv.MatchResult) bool {
	if m == nil || d.state.InFlight() {
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.ExecuteMatch(context.Background(), m)
	}()
	return true
}

// TriggerSpec dispatches a spec on a detached goroutine. Invalid specs are
// rejected before anything is spawned.
func (d *Dispatcher) TriggerSpec(spec Spec) (bool, error) {
	if err := spec.Validate(); err != nil {
		return false, fmt.Errorf("invalid action: %w", err)
	}
	if d.state.InFlight() {
		return false, nil
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Execute(context.Background(), spec)
	}()
	return true, nil
}

// Wait blocks until every triggered action has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// SpecForMatch builds the click spec for a match: box centre plus the
// template's offset, optional jitter, translated by the frame's region.
func (d *Dispatcher) SpecForMatch(m *cv.MatchResult) Spec {
	click := m.Click
	if click == nil {
		click = &cv.ClickConfig{Count: 1, Type: "left"}
	}

	box := m.Bounds()
	p := image.Pt(box.Min.X+box.Dx()/2+click.OffsetX, box.Min.Y+box.Dy()/2+click.OffsetY)
	if click.RandomOffset {
		d.rngMu.Lock()
		p = jitter(p, box.Add(image.Pt(click.OffsetX, click.OffsetY)), d.rng.Intn)
		d.rngMu.Unlock()
	}

	kind, button := clickKind(click.Type)
	count := click.Count
	if count < 1 {
		count = 1
	}

	return Spec{
		Kind:     kind,
		Target:   p,
		Button:   button,
		Clicks:   count,
		Interval: click.Interval,
		Delay:    click.Delay,
		AbortKey: d.abortKey,
		Offset:   m.Region.Rect().Min,
		Space:    m.Region.Space,
		Name:     m.Template,
		Cooldown: click.Cooldown,
	}
}

// clickKind maps a template click type to an action kind and button
func clickKind(t string) (Kind, input.Button) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "double", "double_click", "dbl":
		return KindDoubleClick, input.ButtonLeft
	case "right":
		return KindClick, input.ButtonRight
	case "middle":
		return KindClick, input.ButtonMiddle
	default:
		return KindClick, input.ButtonLeft
	}
}

// jitter moves p by a uniform offset of up to half the box size on each
// axis, then clamps it inside box.
func jitter(p image.Point, box image.Rectangle, intn func(int) int) image.Point {
	hw, hh := box.Dx()/2, box.Dy()/2
	if hw > 0 {
		p.X += intn(2*hw+1) - hw
	}
	if hh > 0 {
		p.Y += intn(2*hh+1) - hh
	}
	return clampInto(p, box)
}

func clampInto(p image.Point, box image.Rectangle) image.Point {
	if box.Empty() {
		return p
	}
	if p.X < box.Min.X {
		p.X = box.Min.X
	} else if p.X >= box.Max.X {
		p.X = box.Max.X - 1
	}
	if p.Y < box.Min.Y {
		p.Y = box.Min.Y
	} else if p.Y >= box.Max.Y {
		p.Y = box.Max.Y - 1
	}
	return p
}

// waitDelay sleeps for the pre-action delay. Returns false if the abort key
// or ctx ended it early.
func (d *Dispatcher) waitDelay(ctx context.Context, delay time.Duration, key string) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}

	pressed, stop := d.abort.Watch(key)
	defer stop()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-pressed:
		return false
	case <-ctx.Done():
		return false
	}
}

// toDriverSpace maps a point into the pixel space the driver expects
func (d *Dispatcher) toDriverSpace(p image.Point, from display.Space) image.Point {
	want := d.driver.Space()
	if from == want {
		return p
	}
	if d.mapper == nil {
		d.logger.WarnWithContext("No coordinate mapper, using point unmapped", logging.Fields{
			"from": from.String(), "to": want.String(),
		})
		return p
	}

	r := display.NewRegion(p.X, p.Y, 1, 1, from)
	if want == display.Physical {
		r = d.mapper.ToPhysical(r, 0)
	} else {
		r = d.mapper.ToLogical(r)
	}
	return image.Pt(r.Left, r.Top)
}

func (d *Dispatcher) perform(spec Spec) error {
	points := spec.Points()
	for i := range points {
		points[i] = d.toDriverSpace(points[i], spec.Space)
	}

	switch spec.Kind {
	case KindClick:
		for i := 0; i < spec.Clicks; i++ {
			if i > 0 && spec.Interval > 0 {
				time.Sleep(spec.Interval)
			}
			if err := d.driver.Click(points[0].X, points[0].Y, spec.Button); err != nil {
				return err
			}
		}

	case KindDoubleClick:
		for i := 0; i < spec.Clicks; i++ {
			if i > 0 && spec.Interval > 0 {
				time.Sleep(spec.Interval)
			}
			if err := d.driver.DoubleClick(points[0].X, points[0].Y, spec.Button); err != nil {
				return err
			}
		}

	case KindDrag:
		return d.driver.Drag(points[0].X, points[0].Y, points[1].X, points[1].Y, spec.Button, spec.Duration)
	}

	d.logger.DebugWithContext("Action performed", logging.Fields{
		"name": spec.Name, "kind": string(spec.Kind), "x": points[0].X, "y": points[0].Y,
	})
	return nil
}

func (d *Dispatcher) publish(t events.EventType, spec Spec, reason string) {
	if d.bus == nil {
		return
	}
	p := spec.Points()[0]
	d.bus.PublishAsync(events.NewActionEvent(t, spec.Name, string(spec.Kind), p.X, p.Y, reason))
}

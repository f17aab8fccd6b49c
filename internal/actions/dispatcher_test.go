package actions

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"jordanella.com/autoclick-go/internal/cv"
	"jordanella.com/autoclick-go/internal/display"
	"jordanella.com/autoclick-go/internal/input"
)

type call struct {
	op     string
	x, y   int
	button input.Button
}

// fakeDriver records calls; hold, when set, blocks each click until closed
type fakeDriver struct {
	space   display.Space
	hold    chan struct{}
	entered chan struct{}
	err     error

	mu      sync.Mutex
	calls   []call
	active  int
	maxSeen int
}

func (f *fakeDriver) Space() display.Space { return f.space }

func (f *fakeDriver) record(c call) error {
	f.mu.Lock()
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.hold != nil {
		<-f.hold
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return f.err
}

func (f *fakeDriver) MoveTo(x, y int) error { return f.record(call{op: "move", x: x, y: y}) }
func (f *fakeDriver) Click(x, y int, b input.Button) error {
	return f.record(call{op: "click", x: x, y: y, button: b})
}
func (f *fakeDriver) DoubleClick(x, y int, b input.Button) error {
	return f.record(call{op: "double", x: x, y: y, button: b})
}
func (f *fakeDriver) Drag(x1, y1, x2, y2 int, b input.Button, d time.Duration) error {
	return f.record(call{op: "drag", x: x2, y: y2, button: b})
}
func (f *fakeDriver) Press(b input.Button) error   { return f.record(call{op: "press", button: b}) }
func (f *fakeDriver) Release(b input.Button) error { return f.record(call{op: "release", button: b}) }

func (f *fakeDriver) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// firedAbort reports the abort key as already pressed
type firedAbort struct{}

func (firedAbort) Watch(string) (<-chan struct{}, func()) {
	ch := make(chan struct{})
	close(ch)
	return ch, func() {}
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func clickSpec(name string, cooldown time.Duration) Spec {
	return Spec{
		Kind:     KindClick,
		Target:   image.Pt(10, 20),
		Button:   input.ButtonLeft,
		Clicks:   1,
		Space:    display.Physical,
		Name:     name,
		Cooldown: cooldown,
	}
}

func TestCooldown(t *testing.T) {
	driver := &fakeDriver{space: display.Physical}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &manualClock{now: start}
	d := NewDispatcher(driver, nil, nil, WithClock(clock.Now))

	steps := []struct {
		at   time.Duration
		want Outcome
	}{
		{0, Performed},
		{1000 * time.Millisecond, CoolingDown},
		{2100 * time.Millisecond, Performed},
	}

	for _, step := range steps {
		clock.Set(start.Add(step.at))
		got, err := d.Execute(context.Background(), clickSpec("ok_button", 2*time.Second))
		if err != nil {
			t.Fatalf("at %v: unexpected error: %v", step.at, err)
		}
		if got != step.want {
			t.Errorf("at %v: outcome = %v, want %v", step.at, got, step.want)
		}
	}

	if n := len(driver.Calls()); n != 2 {
		t.Errorf("driver saw %d clicks, want 2", n)
	}
}

func TestCooldownIsPerName(t *testing.T) {
	driver := &fakeDriver{space: display.Physical}
	d := NewDispatcher(driver, nil, nil)

	for _, name := range []string{"a", "b"} {
		got, err := d.Execute(context.Background(), clickSpec(name, time.Minute))
		if err != nil || got != Performed {
			t.Fatalf("%s: got %v, %v", name, got, err)
		}
	}
	if got, _ := d.Execute(context.Background(), clickSpec("a", time.Minute)); got != CoolingDown {
		t.Errorf("second a: got %v, want cooling_down", got)
	}
}

func TestBusyWhileInFlight(t *testing.T) {
	driver := &fakeDriver{
		space:   display.Physical,
		hold:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	d := NewDispatcher(driver, nil, nil)

	done := make(chan Outcome, 1)
	go func() {
		o, _ := d.Execute(context.Background(), clickSpec("first", 0))
		done <- o
	}()
	<-driver.entered

	if got, _ := d.Execute(context.Background(), clickSpec("second", 0)); got != Busy {
		t.Errorf("colliding execute = %v, want busy", got)
	}
	if d.TriggerMatch(&cv.MatchResult{Template: "m", Size: image.Pt(4, 4)}) {
		t.Error("TriggerMatch spawned while an action was in flight")
	}

	close(driver.hold)
	if got := <-done; got != Performed {
		t.Errorf("first execute = %v, want performed", got)
	}
	if d.State().InFlight() {
		t.Error("in-flight flag still set after completion")
	}
}

func TestNoOverlappingActions(t *testing.T) {
	driver := &fakeDriver{space: display.Physical}
	d := NewDispatcher(driver, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spec := clickSpec("", 0)
			spec.Clicks = 3
			spec.Interval = time.Millisecond
			d.Execute(context.Background(), spec)
		}()
	}
	wg.Wait()
	d.Wait()

	if driver.maxSeen != 1 {
		t.Errorf("max concurrent driver calls = %d, want 1", driver.maxSeen)
	}
	if n := len(driver.Calls()); n == 0 || n%3 != 0 {
		t.Errorf("driver saw %d clicks, want a positive multiple of 3", n)
	}
}

func TestAbortDuringDelay(t *testing.T) {
	driver := &fakeDriver{space: display.Physical}
	d := NewDispatcher(driver, nil, firedAbort{})

	spec := clickSpec("guarded", time.Minute)
	spec.Delay = time.Hour
	spec.AbortKey = "esc"

	got, err := d.Execute(context.Background(), spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Aborted {
		t.Fatalf("outcome = %v, want aborted", got)
	}
	if n := len(driver.Calls()); n != 0 {
		t.Errorf("driver saw %d calls after abort", n)
	}
	if _, ok := d.State().LastFire("guarded"); ok {
		t.Error("aborted action kept its cooldown slot")
	}
}

func TestContextCancelDuringDelay(t *testing.T) {
	driver := &fakeDriver{space: display.Physical}
	d := NewDispatcher(driver, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	spec := clickSpec("", 0)
	spec.Delay = time.Hour
	if got, _ := d.Execute(ctx, spec); got != Aborted {
		t.Errorf("outcome = %v, want aborted", got)
	}
}

func TestInvalidSpecRejected(t *testing.T) {
	driver := &fakeDriver{space: display.Physical}
	d := NewDispatcher(driver, nil, nil)

	spec := clickSpec("", 0)
	spec.Kind = "triple"
	got, err := d.Execute(context.Background(), spec)
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("error = %v, want ErrUnknownKind", err)
	}
	if got != Failed {
		t.Errorf("outcome = %v, want failed", got)
	}

	if ok, err := d.TriggerSpec(spec); ok || err == nil {
		t.Errorf("TriggerSpec(invalid) = %v, %v", ok, err)
	}
	if n := len(driver.Calls()); n != 0 {
		t.Errorf("driver saw %d calls for an invalid spec", n)
	}
}

func TestDriverErrorReleasesCooldown(t *testing.T) {
	driver := &fakeDriver{space: display.Physical, err: errors.New("device gone")}
	d := NewDispatcher(driver, nil, nil)

	got, err := d.Execute(context.Background(), clickSpec("x", time.Minute))
	if err == nil || got != Failed {
		t.Fatalf("got %v, %v; want failed with error", got, err)
	}
	if _, ok := d.State().LastFire("x"); ok {
		t.Error("failed action kept its cooldown slot")
	}
}

func TestExecuteMatchTargetsCentre(t *testing.T) {
	driver := &fakeDriver{space: display.Physical}
	d := NewDispatcher(driver, nil, nil)

	m := &cv.MatchResult{
		Template: "play",
		Location: image.Pt(100, 100),
		Size:     image.Pt(40, 30),
		Region:   display.NewRegion(10, 20, 800, 600, display.Physical),
		Click:    &cv.ClickConfig{OffsetX: 5, OffsetY: -3, Type: "right", Count: 2},
	}

	got, err := d.ExecuteMatch(context.Background(), m)
	if err != nil || got != Performed {
		t.Fatalf("got %v, %v", got, err)
	}

	calls := driver.Calls()
	if len(calls) != 2 {
		t.Fatalf("driver saw %d calls, want 2", len(calls))
	}
	want := call{op: "click", x: 10 + 100 + 20 + 5, y: 20 + 100 + 15 - 3, button: input.ButtonRight}
	for _, c := range calls {
		if c != want {
			t.Errorf("call = %+v, want %+v", c, want)
		}
	}
}

func TestExecuteMatchDoubleClick(t *testing.T) {
	driver := &fakeDriver{space: display.Physical}
	d := NewDispatcher(driver, nil, nil)

	m := &cv.MatchResult{
		Template: "icon",
		Size:     image.Pt(10, 10),
		Region:   display.NewRegion(0, 0, 100, 100, display.Physical),
		Click:    &cv.ClickConfig{Type: "dbl"},
	}
	if _, err := d.ExecuteMatch(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	calls := driver.Calls()
	if len(calls) != 1 || calls[0].op != "double" {
		t.Errorf("calls = %+v, want one double click", calls)
	}
}

func TestLogicalTargetMappedForPhysicalDriver(t *testing.T) {
	enum := &display.StaticEnumerator{Monitors: []display.Monitor{
		{Name: "hidpi", Logical: image.Rect(0, 0, 1280, 720), Scale: 2},
	}}
	mapper := display.NewMapper(enum, nil, nil)
	driver := &fakeDriver{space: display.Physical}
	d := NewDispatcher(driver, mapper, nil)

	spec := clickSpec("", 0)
	spec.Target = image.Pt(100, 50)
	spec.Space = display.Logical

	if _, err := d.Execute(context.Background(), spec); err != nil {
		t.Fatal(err)
	}
	calls := driver.Calls()
	if len(calls) != 1 || calls[0].x != 200 || calls[0].y != 100 {
		t.Errorf("calls = %+v, want one click at (200,100)", calls)
	}
}

func TestJitterStaysInsideBox(t *testing.T) {
	d := NewDispatcher(&fakeDriver{space: display.Physical}, nil, nil, WithSeed(7))

	m := &cv.MatchResult{
		Template: "target",
		Location: image.Pt(200, 100),
		Size:     image.Pt(40, 30),
		Click:    &cv.ClickConfig{RandomOffset: true, Count: 1},
	}
	box := m.Bounds()
	centre := image.Pt(220, 115)

	moved := false
	for i := 0; i < 2000; i++ {
		p := d.SpecForMatch(m).Target
		if !p.In(box) {
			t.Fatalf("jittered point %v outside %v", p, box)
		}
		dx, dy := p.X-centre.X, p.Y-centre.Y
		if dx < -20 || dx > 20 || dy < -15 || dy > 15 {
			t.Fatalf("jitter (%d,%d) exceeds half the box", dx, dy)
		}
		if p != centre {
			moved = true
		}
	}
	if !moved {
		t.Error("random offset never moved the target")
	}
}

func TestClampInto(t *testing.T) {
	box := image.Rect(10, 10, 20, 20)
	tests := []struct {
		in, want image.Point
	}{
		{image.Pt(15, 15), image.Pt(15, 15)},
		{image.Pt(5, 15), image.Pt(10, 15)},
		{image.Pt(25, 25), image.Pt(19, 19)},
		{image.Pt(20, 9), image.Pt(19, 10)},
	}
	for _, tt := range tests {
		if got := clampInto(tt.in, box); got != tt.want {
			t.Errorf("clampInto(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package bot

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"sync"
	"testing"
	"time"

	"jordanella.com/autoclick-go/internal/actions"
	"jordanella.com/autoclick-go/internal/cv"
	"jordanella.com/autoclick-go/internal/display"
	"jordanella.com/autoclick-go/internal/events"
	"jordanella.com/autoclick-go/internal/input"
)

// staticCapturer serves the same image for every grab
type staticCapturer struct {
	img    *image.RGBA
	origin image.Point
}

func (c *staticCapturer) Grab(r display.Region) (*image.RGBA, error) {
	out := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(out, out.Bounds(), c.img, image.Point{}, draw.Src)
	return out, nil
}

func (c *staticCapturer) PrimaryBounds() (display.Region, error) {
	b := c.img.Bounds()
	return display.NewRegion(c.origin.X, c.origin.Y, b.Dx(), b.Dy(), display.Physical), nil
}

type click struct {
	x, y   int
	button input.Button
}

// recordingDriver reports every click on a channel
type recordingDriver struct {
	mu     sync.Mutex
	clicks []click
	notify chan click
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{notify: make(chan click, 16)}
}

func (d *recordingDriver) Space() display.Space  { return display.Physical }
func (d *recordingDriver) MoveTo(x, y int) error { return nil }
func (d *recordingDriver) Click(x, y int, b input.Button) error {
	c := click{x: x, y: y, button: b}
	d.mu.Lock()
	d.clicks = append(d.clicks, c)
	d.mu.Unlock()
	d.notify <- c
	return nil
}
func (d *recordingDriver) DoubleClick(x, y int, b input.Button) error { return d.Click(x, y, b) }
func (d *recordingDriver) Drag(x1, y1, x2, y2 int, b input.Button, dur time.Duration) error {
	return nil
}
func (d *recordingDriver) Press(b input.Button) error   { return nil }
func (d *recordingDriver) Release(b input.Button) error { return nil }

func (d *recordingDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clicks)
}

func waitClick(t *testing.T, d *recordingDriver) click {
	t.Helper()
	select {
	case c := <-d.notify:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a click")
		return click{}
	}
}

func waitFrames(t *testing.T, s *Session, n int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for s.Stats().Frames < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames after 3s", s.Stats().Frames)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestSession(t *testing.T, capturer cv.Capturer, driver input.Driver, opts ...SessionOption) (*Session, *cv.Engine) {
	t.Helper()
	capture := cv.NewCaptureService(capturer, display.NewMapper(nil, nil, nil), nil)
	engine := cv.NewEngine(cv.WithScales(1.0))
	dispatcher := actions.NewDispatcher(driver, display.NewMapper(nil, nil, nil), nil)
	s := NewSession(capture, engine, dispatcher, opts...)
	t.Cleanup(func() {
		s.Stop()
		s.Wait()
	})
	return s, engine
}

func TestSessionClicksMatchedTemplate(t *testing.T) {
	screen := noiseRGBA(64, 48, 3)
	patch := image.NewRGBA(image.Rect(0, 0, 24, 20))
	draw.Draw(patch, patch.Bounds(), screen, image.Pt(20, 10), draw.Src)

	driver := newRecordingDriver()
	bus := events.NewEventBus(64)
	defer bus.Stop()

	matched := make(chan events.Event, 8)
	bus.Subscribe(events.EventTypeTemplateMatched, func(e events.Event) {
		select {
		case matched <- e:
		default:
		}
	})

	s, engine := newTestSession(t, &staticCapturer{img: screen, origin: image.Pt(100, 200)}, driver,
		WithSessionEventBus(bus),
		WithDefaultClick(&cv.ClickConfig{Type: "left", Count: 1, Cooldown: time.Hour}),
	)
	if _, err := engine.Add(cv.TemplateDef{Name: "patch", Image: patch, Threshold: 0.9}); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(context.Background(), nil, 50); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c := waitClick(t, driver)
	if c.x != 100+20+12 || c.y != 200+10+10 || c.button != input.ButtonLeft {
		t.Errorf("click = %+v, want (132, 220) left", c)
	}

	select {
	case e := <-matched:
		if e.Data["name"] != "patch" {
			t.Errorf("matched event name = %v", e.Data["name"])
		}
	case <-time.After(3 * time.Second):
		t.Error("no template.matched event")
	}

	// the hour-long cooldown keeps later frames from clicking again
	frames := s.Stats().Frames
	waitFrames(t, s, frames+5)
	if n := driver.count(); n != 1 {
		t.Errorf("clicks = %d, want 1", n)
	}
	if st := s.Stats(); st.TemplateMatches < 2 || st.Triggered < 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSessionPauseSkipsRecognition(t *testing.T) {
	screen := splitRGBA(40, 20)
	driver := newRecordingDriver()
	scenes, err := NewSceneSet([]SceneRule{{
		Name: "red", Type: "color", Lower: []int{200, 0, 0}, Upper: []int{255, 50, 50}, Ratio: f64(0.4),
		Action: &actions.Config{Type: "click", X: intp(1), Y: intp(1), Delay: f64(0)},
	}}, "", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	s, _ := newTestSession(t, &staticCapturer{img: screen}, driver, WithScenes(scenes))
	if s.Pause() {
		t.Error("Pause should fail before Start")
	}
	if err := s.Start(context.Background(), nil, 50); err != nil {
		t.Fatal(err)
	}
	if !s.Pause() {
		t.Fatal("Pause failed")
	}
	// a frame already in the handler may still trigger one click
	waitFrames(t, s, s.Stats().Frames+3)
	s.Wait()
	before, scenesBefore := driver.count(), s.Stats().SceneMatches
	waitFrames(t, s, s.Stats().Frames+5)
	s.Wait()
	if driver.count() != before {
		t.Errorf("clicks while paused: %d -> %d", before, driver.count())
	}
	if n := s.Stats().SceneMatches; n != scenesBefore {
		t.Errorf("scenes evaluated while paused: %d -> %d", scenesBefore, n)
	}

	for len(driver.notify) > 0 {
		<-driver.notify
	}
	if !s.Resume() || s.Paused() {
		t.Fatal("Resume failed")
	}
	waitClick(t, driver)
}

func TestSessionSceneActionRelativeToCapture(t *testing.T) {
	screen := splitRGBA(40, 20)
	driver := newRecordingDriver()
	scenes, err := NewSceneSet([]SceneRule{
		{
			Name: "blue", Type: "color", Lower: []int{0, 0, 200}, Upper: []int{50, 50, 255}, Ratio: f64(0.4),
			Cooldown: f64(3600),
			Action:   &actions.Config{Type: "click", X: intp(5), Y: intp(7), Button: "right", Delay: f64(0)},
		},
		{
			Name: "anything", Type: "color",
			Action: &actions.Config{Type: "click", X: intp(0), Y: intp(0), Delay: f64(0)},
		},
	}, "", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	s, _ := newTestSession(t, &staticCapturer{img: screen, origin: image.Pt(300, 400)}, driver, WithScenes(scenes))
	if err := s.Start(context.Background(), nil, 50); err != nil {
		t.Fatal(err)
	}

	c := waitClick(t, driver)
	if c.x != 305 || c.y != 407 || c.button != input.ButtonRight {
		t.Errorf("click = %+v, want (305, 407) right", c)
	}

	// the first scene keeps matching while cooling down, so the second never runs
	waitFrames(t, s, s.Stats().Frames+5)
	s.Wait()
	if n := driver.count(); n != 1 {
		t.Errorf("clicks = %d, want 1", n)
	}

	st := s.dispatcher.State()
	if _, ok := st.LastFire(sceneCooldownPrefix + "blue"); !ok {
		t.Error("scene cooldown not recorded under its prefixed name")
	}
}

func TestSessionLifecycle(t *testing.T) {
	driver := newRecordingDriver()
	s, _ := newTestSession(t, &staticCapturer{img: noiseRGBA(8, 8, 1)}, driver)

	if _, err := s.Calibrate(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Calibrate before start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx, nil, 50); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx, nil, 50); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: %v", err)
	}

	cancel()
	deadline := time.Now().Add(3 * time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("session did not stop on context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.Stop() {
		t.Error("Stop on a stopped session should return false")
	}
}

func TestStaleContextDoesNotStopRestartedSession(t *testing.T) {
	driver := newRecordingDriver()
	s, _ := newTestSession(t, &staticCapturer{img: noiseRGBA(8, 8, 1)}, driver)

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	if err := s.Start(first, nil, 50); err != nil {
		t.Fatal(err)
	}
	if !s.Stop() {
		t.Fatal("Stop should report the running session")
	}
	if err := s.Start(context.Background(), nil, 50); err != nil {
		t.Fatal(err)
	}

	// the first run's watcher fires after the restart
	if s.stop(1) {
		t.Error("stopping the first run stopped the second")
	}
	cancelFirst()
	time.Sleep(50 * time.Millisecond)
	if !s.Running() {
		t.Fatal("restarted session stopped by the first run's context")
	}
	if !s.stop(2) {
		t.Error("stopping the current run by number failed")
	}
}

func TestCalibrateReportsBestCandidate(t *testing.T) {
	screen := noiseRGBA(48, 32, 8)
	driver := newRecordingDriver()
	s, engine := newTestSession(t, &staticCapturer{img: screen}, driver)

	// unrelated noise stays under any threshold but still yields a candidate
	if _, err := engine.Add(cv.TemplateDef{Name: "other", Image: noiseRGBA(10, 10, 99), Threshold: 0.99}); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background(), nil, 50); err != nil {
		t.Fatal(err)
	}
	s.Pause()
	waitFrames(t, s, 1)

	best, err := s.Calibrate()
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if best.Template != "other" || best.Confidence >= 0.99 {
		t.Errorf("best = %+v", best)
	}
}

func intp(v int) *int { return &v }

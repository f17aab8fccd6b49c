package cv

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jordanella.com/autoclick-go/internal/display"
)

// fakeCapturer returns solid frames, failing the first failFirst grabs
type fakeCapturer struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	regions   []display.Region
}

func (f *fakeCapturer) Grab(r display.Region) (*image.RGBA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.regions = append(f.regions, r)
	if f.calls <= f.failFirst {
		return nil, errors.New("device busy")
	}
	return solidRGBA(r.Width, r.Height, color.RGBA{10, 20, 30, 255}), nil
}

func (f *fakeCapturer) PrimaryBounds() (display.Region, error) {
	return display.NewRegion(0, 0, 64, 48, display.Physical), nil
}

func (f *fakeCapturer) lastRegion() display.Region {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regions[len(f.regions)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCaptureServiceLifecycle(t *testing.T) {
	capturer := &fakeCapturer{}
	svc := NewCaptureService(capturer, nil, nil)

	if svc.Stop() {
		t.Error("Stop on an idle service should return false")
	}

	if !svc.Start(nil, 100) {
		t.Fatal("expected Start to succeed")
	}
	if svc.Start(nil, 100) {
		t.Error("second Start should return false while running")
	}
	if !svc.Running() {
		t.Error("expected Running to be true")
	}

	waitFor(t, "a frame", func() bool { return svc.FramesCaptured() > 0 })

	if !svc.Stop() {
		t.Error("expected Stop to return true")
	}
	if svc.Stop() {
		t.Error("second Stop should return false")
	}
	if svc.Running() {
		t.Error("expected Running to be false after Stop")
	}

	if got := capturer.lastRegion(); got != display.NewRegion(0, 0, 64, 48, display.Physical) {
		t.Errorf("nil region should capture primary bounds, got %v", got)
	}

	// Restart after stop
	if !svc.Start(nil, 50) {
		t.Fatal("expected restart to succeed")
	}
	svc.Stop()
}

func TestCaptureServiceSurvivesErrors(t *testing.T) {
	capturer := &fakeCapturer{failFirst: 3}
	svc := NewCaptureService(capturer, nil, nil)

	var handled atomic.Int64
	svc.SetFrameHandler(func(f *Frame) { handled.Add(1) })

	region := display.NewRegion(5, 5, 20, 10, display.Physical)
	if !svc.Start(&region, 200) {
		t.Fatal("expected Start to succeed")
	}
	defer svc.Stop()

	waitFor(t, "frames after failures", func() bool { return handled.Load() >= 2 })

	if svc.CaptureErrors() != 3 {
		t.Errorf("expected 3 capture errors, got %d", svc.CaptureErrors())
	}
}

func TestLatestFrameIsACopy(t *testing.T) {
	svc := NewCaptureService(&fakeCapturer{}, nil, nil)
	if _, ok := svc.LatestFrame(); ok {
		t.Error("expected no frame before start")
	}

	region := display.NewRegion(0, 0, 8, 8, display.Physical)
	svc.Start(&region, 100)
	waitFor(t, "a frame", func() bool { return svc.FramesCaptured() > 0 })
	svc.Stop()

	a, ok := svc.LatestFrame()
	if !ok {
		t.Fatal("expected a frame")
	}
	a.Image.Pix[0] = 255

	b, _ := svc.LatestFrame()
	if b.Image.Pix[0] != 10 {
		t.Errorf("mutating a returned frame changed the stored frame")
	}
	if b.Region != region {
		t.Errorf("expected frame region %v, got %v", region, b.Region)
	}
}

func TestHandlerPanicDoesNotStopLoop(t *testing.T) {
	svc := NewCaptureService(&fakeCapturer{}, nil, nil)

	var calls atomic.Int64
	svc.SetFrameHandler(func(f *Frame) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})

	svc.Start(nil, 200)
	defer svc.Stop()

	waitFor(t, "handler calls after panic", func() bool { return calls.Load() >= 3 })
}

func TestStartRejectsBadRegions(t *testing.T) {
	svc := NewCaptureService(&fakeCapturer{}, nil, nil)

	empty := display.NewRegion(0, 0, 0, 10, display.Physical)
	if svc.Start(&empty, 10) {
		t.Error("expected empty region to be rejected")
	}

	logical := display.NewRegion(0, 0, 10, 10, display.Logical)
	if svc.Start(&logical, 10) {
		t.Error("expected logical region without mapper to be rejected")
	}
}

func TestLogicalRegionIsMapped(t *testing.T) {
	mapper := display.NewMapper(&display.StaticEnumerator{
		Monitors: []display.Monitor{{Name: "hidpi", Logical: image.Rect(0, 0, 800, 600), Scale: 2}},
	}, nil, nil)
	capturer := &fakeCapturer{}
	svc := NewCaptureService(capturer, mapper, nil)

	logical := display.NewRegion(10, 10, 20, 20, display.Logical)
	if !svc.Start(&logical, 100) {
		t.Fatal("expected Start to succeed")
	}
	waitFor(t, "a frame", func() bool { return svc.FramesCaptured() > 0 })
	svc.Stop()

	want := display.NewRegion(20, 20, 40, 40, display.Physical)
	if got := svc.Region(); got != want {
		t.Errorf("expected physical region %v, got %v", want, got)
	}
}

func TestFrameClone(t *testing.T) {
	f := &Frame{Image: solidRGBA(2, 2, color.RGBA{1, 2, 3, 255}), Captured: time.Now()}
	c := f.Clone()
	c.Image.Pix[0] = 99
	if f.Image.Pix[0] != 1 {
		t.Error("clone shares pixels with original")
	}
	if !c.Captured.Equal(f.Captured) {
		t.Error("clone lost capture time")
	}
	var nilFrame *Frame
	if nilFrame.Clone() != nil {
		t.Error("expected nil clone of nil frame")
	}
}

func TestNextDeadline(t *testing.T) {
	interval := 50 * time.Millisecond
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start time.Duration // cycle start, relative to the previous deadline
		now   time.Duration
		want  time.Duration
	}{
		{"on time", 0, 10 * time.Millisecond, 50 * time.Millisecond},
		{"short overrun keeps schedule", 0, 80 * time.Millisecond, 50 * time.Millisecond},
		{"exactly two intervals keeps schedule", 0, 100 * time.Millisecond, 50 * time.Millisecond},
		{"long overrun resyncs", 0, 130 * time.Millisecond, 130 * time.Millisecond},
		{"late start, short cycle keeps schedule", 90 * time.Millisecond, 120 * time.Millisecond, 50 * time.Millisecond},
	}

	for _, tt := range tests {
		got := nextDeadline(base, base.Add(tt.start), base.Add(tt.now), interval)
		if want := base.Add(tt.want); !got.Equal(want) {
			t.Errorf("%s: deadline +%v, want +%v", tt.name, got.Sub(base), tt.want)
		}
	}
}

// stampFrames runs a 20 fps loop whose handler stalls on the third frame and
// returns the capture times of the first six frames
func stampFrames(t *testing.T, stall time.Duration) []time.Time {
	t.Helper()
	svc := NewCaptureService(&fakeCapturer{}, nil, nil)

	var mu sync.Mutex
	var stamps []time.Time
	svc.SetFrameHandler(func(f *Frame) {
		mu.Lock()
		stamps = append(stamps, f.Captured)
		n := len(stamps)
		mu.Unlock()
		if n == 3 {
			time.Sleep(stall)
		}
	})

	region := display.NewRegion(0, 0, 4, 4, display.Physical)
	if !svc.Start(&region, 20) {
		t.Fatal("expected Start to succeed")
	}
	waitFor(t, "six frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stamps) >= 6
	})
	svc.Stop()

	mu.Lock()
	defer mu.Unlock()
	return stamps[:6]
}

func TestCaptureLoopPacing(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	interval := 50 * time.Millisecond

	t.Run("steady interval", func(t *testing.T) {
		stamps := stampFrames(t, 0)
		// each deadline is one interval after the last, so five gaps span
		// at least five intervals
		if span := stamps[5].Sub(stamps[0]); span < 5*interval-time.Millisecond {
			t.Errorf("six frames spanned %v, want at least %v", span, 5*interval)
		}
	})

	t.Run("long stall resyncs", func(t *testing.T) {
		stamps := stampFrames(t, 130*time.Millisecond)
		if gap := stamps[4].Sub(stamps[3]); gap < interval-5*time.Millisecond {
			t.Errorf("frame after a 2.6x stall came %v later, want a full interval (no catch-up burst)", gap)
		}
	})

	t.Run("short stall catches up", func(t *testing.T) {
		stamps := stampFrames(t, 80*time.Millisecond)
		if gap := stamps[4].Sub(stamps[3]); gap >= 40*time.Millisecond {
			t.Errorf("frame after a 1.6x stall came %v later, want an early catch-up frame", gap)
		}
	})
}

func TestStartWaitsForSlowLoopToExit(t *testing.T) {
	svc := NewCaptureService(&fakeCapturer{}, nil, nil)
	svc.stopTimeout = 20 * time.Millisecond

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	svc.SetFrameHandler(func(f *Frame) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	region := display.NewRegion(0, 0, 4, 4, display.Physical)
	if !svc.Start(&region, 100) {
		t.Fatal("expected Start to succeed")
	}
	<-entered

	if !svc.Stop() {
		t.Fatal("expected Stop to report the running loop")
	}
	if svc.Start(&region, 100) {
		t.Fatal("Start succeeded while the stopped loop was still in its handler")
	}

	close(release)
	waitFor(t, "restart after the old loop exits", func() bool { return svc.Start(&region, 100) })
	svc.Stop()
}

func TestFrameCloneHonoursStride(t *testing.T) {
	// a sub-image keeps its parent's stride and origin
	parent := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for i := range parent.Pix {
		parent.Pix[i] = uint8(i)
	}
	sub := parent.SubImage(image.Rect(2, 1, 5, 3)).(*image.RGBA)

	c := (&Frame{Image: sub}).Clone()
	if c.Image.Rect != sub.Rect {
		t.Fatalf("clone bounds %v, want %v", c.Image.Rect, sub.Rect)
	}
	for y := sub.Rect.Min.Y; y < sub.Rect.Max.Y; y++ {
		for x := sub.Rect.Min.X; x < sub.Rect.Max.X; x++ {
			if got, want := c.Image.RGBAAt(x, y), sub.RGBAAt(x, y); got != want {
				t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

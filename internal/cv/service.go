package cv

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"jordanella.com/autoclick-go/internal/display"
	"jordanella.com/autoclick-go/internal/events"
	"jordanella.com/autoclick-go/internal/logging"
)

const (
	// MinFPS is the floor applied to requested capture rates
	MinFPS = 0.1

	defaultStopTimeout = 2 * time.Second
)

// FrameHandler is invoked synchronously on the capture goroutine for every
// frame. A slow handler lowers the effective frame rate.
type FrameHandler func(*Frame)

// CaptureService runs a fixed-rate capture loop over one screen region and
// keeps the most recent frame in a single-slot mailbox.
type CaptureService struct {
	capturer Capturer
	mapper   *display.Mapper
	logger   *logging.Logger

	handler FrameHandler
	bus     events.EventBus

	// Latest frame slot
	latest   *Frame
	latestMu sync.Mutex

	// Loop lifecycle. doneCh outlives Stop when the loop missed the stop
	// timeout, so Start can refuse until it has exited.
	running     bool
	region      display.Region
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopTimeout time.Duration
	mu          sync.Mutex

	frames atomic.Int64
	errors atomic.Int64
}

// NewCaptureService creates a capture service. mapper may be nil when
// regions are always given in physical pixels.
func NewCaptureService(capturer Capturer, mapper *display.Mapper, logger *logging.Logger) *CaptureService {
	if logger == nil {
		logger = logging.NewDiscardLogger("Capture")
	}
	return &CaptureService{
		capturer:    capturer,
		mapper:      mapper,
		logger:      logger,
		stopTimeout: defaultStopTimeout,
	}
}

// SetFrameHandler sets the per-frame callback. Takes effect on the next frame.
func (s *CaptureService) SetFrameHandler(h FrameHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// SetEventBus enables capture failure events
func (s *CaptureService) SetEventBus(bus events.EventBus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus = bus
}

// Start launches the capture loop. A nil region captures the primary
// display. Returns false when a loop is already running, a stopped loop has
// not exited yet, or the region cannot be resolved.
func (s *CaptureService) Start(region *display.Region, fps float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("Capture already running")
		return false
	}
	if s.doneCh != nil {
		select {
		case <-s.doneCh:
		default:
			s.logger.Warn("Previous capture loop still exiting")
			return false
		}
	}

	target, err := s.resolveRegion(region)
	if err != nil {
		s.logger.Error("Cannot start capture", err)
		return false
	}

	if fps < MinFPS {
		fps = MinFPS
	}
	interval := time.Duration(float64(time.Second) / fps)

	s.running = true
	s.region = target
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(target, interval, s.stopCh, s.doneCh)

	s.logger.InfoWithContext("Capture started", logging.Fields{
		"region": target.String(), "fps": fps,
	})
	return true
}

func (s *CaptureService) resolveRegion(region *display.Region) (display.Region, error) {
	if region == nil {
		return s.capturer.PrimaryBounds()
	}

	r := *region
	if err := r.Validate(); err != nil {
		return display.Region{}, err
	}
	if r.Space == display.Logical {
		if s.mapper == nil {
			return display.Region{}, fmt.Errorf("logical region %v given without a coordinate mapper", r)
		}
		r = s.mapper.ToPhysical(r, 0)
	}
	return r, nil
}

// Stop signals the loop and waits for it, bounded by a timeout. Returns
// false when nothing was running.
func (s *CaptureService) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	timeout := s.stopTimeout
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("Capture loop did not exit within timeout")
	}

	s.logger.InfoWithContext("Capture stopped", logging.Fields{
		"frames": s.frames.Load(), "errors": s.errors.Load(),
	})
	return true
}

// Running reports whether the loop is active
func (s *CaptureService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Region returns the physical region of the current or last loop
func (s *CaptureService) Region() display.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

// LatestFrame returns a copy of the most recent frame
func (s *CaptureService) LatestFrame() (*Frame, bool) {
	s.latestMu.Lock()
	defer s.latestMu.Unlock()
	if s.latest == nil {
		return nil, false
	}
	return s.latest.Clone(), true
}

// FramesCaptured returns the number of frames grabbed since creation
func (s *CaptureService) FramesCaptured() int64 {
	return s.frames.Load()
}

// CaptureErrors returns the number of failed grabs since creation
func (s *CaptureService) CaptureErrors() int64 {
	return s.errors.Load()
}

func (s *CaptureService) run(region display.Region, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	next := time.Now()
	for {
		select {
		case <-stop:
			return
		default:
		}

		start := time.Now()
		s.cycle(region, start)

		next = nextDeadline(next, start, time.Now(), interval)
		if wait := time.Until(next); wait > 0 {
			timer.Reset(wait)
			select {
			case <-stop:
				return
			case <-timer.C:
			}
		}
	}
}

// nextDeadline moves the deadline one interval on. A cycle that started at
// start and overran by more than two intervals resyncs the deadline to now,
// so the loop does not burst to catch up. Shorter overruns keep the
// schedule and the next cycle runs early.
func nextDeadline(next, start, now time.Time, interval time.Duration) time.Time {
	next = next.Add(interval)
	if !next.After(now) && now.Sub(start) > 2*interval {
		return now
	}
	return next
}

func (s *CaptureService) cycle(region display.Region, start time.Time) {
	img, err := s.capturer.Grab(region)
	if err != nil {
		n := s.errors.Add(1)
		s.logger.ErrorWithContext("Frame capture failed", err, logging.Fields{
			"region": region.String(), "failures": n,
		})
		if bus := s.eventBus(); bus != nil {
			bus.PublishAsync(events.NewCaptureFailedEvent(region.String(), err))
		}
		return
	}

	frame := &Frame{Image: img, Captured: start, Region: region}
	s.latestMu.Lock()
	s.latest = frame
	s.latestMu.Unlock()
	s.frames.Add(1)

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		s.dispatch(handler, frame)
	}
}

// dispatch runs the frame handler, keeping the loop alive if it panics
func (s *CaptureService) dispatch(handler FrameHandler, frame *Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorWithContext("Frame handler panicked", fmt.Errorf("%v", r), nil)
		}
	}()
	handler(frame)
}

func (s *CaptureService) eventBus() events.EventBus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus
}

// Package bot runs a monitoring session: frames from the capture loop are
// matched against templates and scenes, and hits are handed to the action
// dispatcher.
package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"jordanella.com/autoclick-go/internal/actions"
	"jordanella.com/autoclick-go/internal/cv"
	"jordanella.com/autoclick-go/internal/display"
	"jordanella.com/autoclick-go/internal/events"
	"jordanella.com/autoclick-go/internal/logging"
)

// Error types
var (
	ErrAlreadyRunning = fmt.Errorf("session already running")
	ErrNotRunning     = fmt.Errorf("session not running")
	ErrCaptureFailed  = fmt.Errorf("capture loop did not start")
	ErrNoFrame        = fmt.Errorf("no frame captured yet")
)

// sceneCooldownPrefix keeps scene cooldown keys apart from template names
const sceneCooldownPrefix = "scene:"

// Stats counts what a session has seen and triggered
type Stats struct {
	Frames          int64
	TemplateMatches int64
	SceneMatches    int64
	Triggered       int64
}

// Session ties a capture loop to the matcher, the scene rules and the
// dispatcher. Only one session runs per process.
type Session struct {
	capture    *cv.CaptureService
	engine     *cv.Engine
	scenes     *SceneSet
	dispatcher *actions.Dispatcher
	bus        events.EventBus
	logger     *logging.Logger

	defaultClick *cv.ClickConfig

	mu      sync.Mutex
	running bool
	run     uint64 // numbers each Start so a stale context watcher is ignored
	cancel  context.CancelFunc
	paused  atomic.Bool

	frames          atomic.Int64
	templateMatches atomic.Int64
	sceneMatches    atomic.Int64
	triggered       atomic.Int64
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithScenes sets the scene rules evaluated when no template matches
func WithScenes(s *SceneSet) SessionOption {
	return func(se *Session) { se.scenes = s }
}

// WithSessionEventBus publishes session, match and scene events to bus
func WithSessionEventBus(bus events.EventBus) SessionOption {
	return func(se *Session) { se.bus = bus }
}

// WithDefaultClick sets the click used by templates that carry none
func WithDefaultClick(c *cv.ClickConfig) SessionOption {
	return func(se *Session) { se.defaultClick = c }
}

// WithSessionLogger sets the session logger
func WithSessionLogger(l *logging.Logger) SessionOption {
	return func(se *Session) { se.logger = l }
}

// NewSession creates a session. The capture service's frame handler is
// replaced by the session's.
func NewSession(capture *cv.CaptureService, engine *cv.Engine, dispatcher *actions.Dispatcher, opts ...SessionOption) *Session {
	s := &Session{
		capture:    capture,
		engine:     engine,
		dispatcher: dispatcher,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewDiscardLogger("Session")
	}
	if s.bus != nil {
		capture.SetEventBus(s.bus)
	}
	capture.SetFrameHandler(s.onFrame)
	return s
}

// Start begins capturing region at fps. A nil region is the primary
// display. The session stops by itself when ctx is cancelled.
func (s *Session) Start(ctx context.Context, region *display.Region, fps float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if !s.capture.Start(region, fps) {
		return ErrCaptureFailed
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.run++
	s.cancel = cancel
	s.paused.Store(false)

	run := s.run
	go func() {
		<-ctx.Done()
		s.stop(run)
	}()

	r := s.capture.Region()
	s.logger.InfoWithContext("Session started", logging.Fields{
		"region": r.String(), "fps": fps, "templates": len(s.engine.Templates()), "scenes": s.scenes.Len(),
	})
	s.publish(events.NewSessionEvent(events.EventTypeSessionStarted, r.String(), len(s.engine.Templates())))
	return nil
}

// Stop halts the capture loop. Actions already dispatched run to
// completion; use Wait to block on them. Returns false when not running.
func (s *Session) Stop() bool {
	return s.stop(0)
}

// stop halts run number run, or the current run when run is 0
func (s *Session) stop(run uint64) bool {
	s.mu.Lock()
	if !s.running || (run != 0 && run != s.run) {
		s.mu.Unlock()
		return false
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.capture.Stop()

	stats := s.Stats()
	s.logger.InfoWithContext("Session stopped", logging.Fields{
		"frames": stats.Frames, "template_matches": stats.TemplateMatches,
		"scene_matches": stats.SceneMatches, "triggered": stats.Triggered,
	})
	s.publish(events.NewSessionEvent(events.EventTypeSessionStopped, s.capture.Region().String(), len(s.engine.Templates())))
	return true
}

// Wait blocks until every dispatched action has finished
func (s *Session) Wait() {
	s.dispatcher.Wait()
}

// Running reports whether the capture loop is active
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pause skips recognition on incoming frames. Capture keeps running so
// calibration still sees fresh frames.
func (s *Session) Pause() bool {
	if !s.Running() || !s.paused.CompareAndSwap(false, true) {
		return false
	}
	s.logger.Info("Session paused")
	s.publish(events.NewSessionEvent(events.EventTypeSessionPaused, s.capture.Region().String(), len(s.engine.Templates())))
	return true
}

// Resume re-enables recognition
func (s *Session) Resume() bool {
	if !s.paused.CompareAndSwap(true, false) {
		return false
	}
	s.logger.Info("Session resumed")
	s.publish(events.NewSessionEvent(events.EventTypeSessionResumed, s.capture.Region().String(), len(s.engine.Templates())))
	return true
}

// Paused reports whether recognition is paused
func (s *Session) Paused() bool {
	return s.paused.Load()
}

// Calibrate reports the best candidate in the latest frame, ignoring
// thresholds
func (s *Session) Calibrate() (*cv.MatchResult, error) {
	frame, ok := s.capture.LatestFrame()
	if !ok {
		return nil, ErrNoFrame
	}
	best, ok := s.engine.BestConfidence(frame)
	if !ok {
		return nil, fmt.Errorf("no template fits the captured region")
	}
	return best, nil
}

// Stats returns the session counters
func (s *Session) Stats() Stats {
	return Stats{
		Frames:          s.frames.Load(),
		TemplateMatches: s.templateMatches.Load(),
		SceneMatches:    s.sceneMatches.Load(),
		Triggered:       s.triggered.Load(),
	}
}

// onFrame runs on the capture goroutine. A template hit wins over scenes
// for the same frame.
func (s *Session) onFrame(frame *cv.Frame) {
	s.frames.Add(1)
	if s.paused.Load() {
		return
	}

	if m, ok := s.engine.Match(frame); ok {
		s.templateMatches.Add(1)
		if m.Click == nil && s.defaultClick != nil {
			click := *s.defaultClick
			m.Click = &click
		}
		s.publish(events.NewTemplateMatchedEvent(m.Template, m.Confidence, m.Location.X, m.Location.Y, string(m.Metric), m.Scale))
		if s.dispatcher.TriggerMatch(m) {
			s.triggered.Add(1)
		}
		return
	}

	scene, ok := s.scenes.Evaluate(frame.Image)
	if !ok {
		return
	}
	s.sceneMatches.Add(1)
	s.publish(events.NewSceneMatchedEvent(scene.Name, string(scene.Type)))
	s.logger.DebugWithContext("Scene matched", logging.Fields{"scene": scene.Name})

	if scene.Action == nil {
		return
	}
	spec, err := s.sceneSpec(scene, frame.Region)
	if err != nil {
		s.logger.ErrorWithContext("Scene action rejected", err, logging.Fields{"scene": scene.Name})
		return
	}
	triggered, err := s.dispatcher.TriggerSpec(spec)
	if err != nil {
		s.logger.ErrorWithContext("Scene action rejected", err, logging.Fields{"scene": scene.Name})
		return
	}
	if triggered {
		s.triggered.Add(1)
	}
}

// sceneSpec converts a scene's action. Without a region of its own the
// action is relative to the captured region.
func (s *Session) sceneSpec(scene *Scene, captured display.Region) (actions.Spec, error) {
	spec, err := actions.Parse(*scene.Action)
	if err != nil {
		return actions.Spec{}, err
	}
	if scene.Action.Region == nil {
		spec.Offset = captured.Rect().Min
		spec.Space = captured.Space
	}
	spec.Name = sceneCooldownPrefix + scene.Name
	spec.Cooldown = scene.Cooldown
	return spec, nil
}

func (s *Session) publish(e events.Event) {
	if s.bus != nil {
		s.bus.PublishAsync(e)
	}
}

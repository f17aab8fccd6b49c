package actions

import (
	"sync"
	"time"
)

// Outcome is the result of a dispatch attempt that did not fail
type Outcome int

const (
	// Performed means input was synthesized
	Performed Outcome = iota
	// Busy means another action was in flight; the trigger was dropped
	Busy
	// CoolingDown means the name fired within its cooldown window
	CoolingDown
	// Aborted means the abort key or context ended the pre-action delay
	Aborted
	// Failed means the action was invalid or the driver returned an error
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Performed:
		return "performed"
	case Busy:
		return "busy"
	case CoolingDown:
		return "cooling_down"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// SharedState holds the in-flight flag and per-name last-fire times. One
// lock covers both so check-and-set is atomic.
type SharedState struct {
	inFlight bool
	lastFire map[string]time.Time
	mu       sync.Mutex
}

// NewSharedState creates empty dispatch state
func NewSharedState() *SharedState {
	return &SharedState{lastFire: make(map[string]time.Time)}
}

// InFlight reports whether an action currently holds the slot
func (s *SharedState) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// LastFire returns when name last fired
func (s *SharedState) LastFire(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastFire[name]
	return t, ok
}

// acquire claims the in-flight slot and reserves the cooldown for name. On
// Performed the caller must call release exactly once; release(false) hands
// the cooldown reservation back.
func (s *SharedState) acquire(name string, cooldown time.Duration, now time.Time) (Outcome, func(performed bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return Busy, nil
	}

	keyed := name != "" && cooldown > 0
	prev, hadPrev := s.lastFire[name]
	if keyed && hadPrev && now.Sub(prev) < cooldown {
		return CoolingDown, nil
	}

	s.inFlight = true
	if keyed {
		s.lastFire[name] = now
	}

	var once sync.Once
	return Performed, func(performed bool) {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.inFlight = false
			if keyed && !performed && s.lastFire[name].Equal(now) {
				if hadPrev {
					s.lastFire[name] = prev
				} else {
					delete(s.lastFire, name)
				}
			}
		})
	}
}

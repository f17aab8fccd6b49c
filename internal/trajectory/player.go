package trajectory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jordanella.com/autoclick-go/internal/input"
	"jordanella.com/autoclick-go/internal/logging"
)

// sleepChunk bounds how long playback sleeps before checking for stop
const sleepChunk = 50 * time.Millisecond

// Player replays a Script through an input driver
type Player struct {
	driver input.Driver
	logger *logging.Logger

	mu      sync.Mutex
	playing bool
	cancel  context.CancelFunc
	done    chan struct{}
	loops   int
}

// NewPlayer creates a player
func NewPlayer(driver input.Driver, logger *logging.Logger) *Player {
	if logger == nil {
		logger = logging.NewDiscardLogger("Player")
	}
	return &Player{driver: driver, logger: logger}
}

// Start replays script on a background goroutine, loops times or forever
// when infinite. It returns false if already playing or the script is empty.
func (p *Player) Start(script Script, loops int, infinite bool) bool {
	if len(script) == 0 {
		p.logger.Warn("No events to replay")
		return false
	}

	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		p.logger.Warn("Playback already in progress")
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.playing = true
	p.cancel = cancel
	p.done = make(chan struct{})
	p.loops = 0
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		n, err := p.Play(ctx, script, loops, infinite)
		if err != nil {
			p.logger.ErrorWithContext("Playback failed", err, logging.Fields{"loops": n})
		}
		p.mu.Lock()
		p.playing = false
		p.loops = n
		p.mu.Unlock()
	}()
	return true
}

// Stop asks the running playback to end. It returns false if nothing is
// playing.
func (p *Player) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return false
	}
	p.cancel()
	return true
}

// Wait blocks until background playback ends and returns the number of
// completed loops.
func (p *Player) Wait() int {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loops
}

// Playing reports whether background playback is running
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Play replays script on the calling goroutine and returns the number of
// completed loops. Cancelling ctx stops playback between events or within
// one sleep chunk.
func (p *Player) Play(ctx context.Context, script Script, loops int, infinite bool) (int, error) {
	if err := script.Validate(); err != nil {
		return 0, err
	}
	if loops < 1 {
		loops = 1
	}

	completed := 0
	for infinite || completed < loops {
		if infinite {
			p.logger.DebugWithContext("Playback loop", logging.Fields{"loop": completed + 1})
		}

		prev := 0.0
		for _, e := range script {
			if !sleepChunked(ctx, seconds(e.DT-prev)) {
				return completed, nil
			}
			if err := p.apply(e); err != nil {
				return completed, fmt.Errorf("event at %.3fs: %w", e.DT, err)
			}
			prev = e.DT
		}
		completed++
	}

	p.logger.InfoWithContext("Playback finished", logging.Fields{"loops": completed})
	return completed, nil
}

func (p *Player) apply(e Event) error {
	switch e.Type {
	case TypeClick:
		if err := p.driver.MoveTo(e.X, e.Y); err != nil {
			return err
		}
		if e.IsPress() {
			return p.driver.Press(e.ButtonValue())
		}
		return p.driver.Release(e.ButtonValue())
	default:
		return p.driver.MoveTo(e.X, e.Y)
	}
}

// sleepChunked sleeps d in chunks of at most sleepChunk. It returns false if
// ctx ended first.
func sleepChunked(ctx context.Context, d time.Duration) bool {
	for d > 0 {
		chunk := d
		if chunk > sleepChunk {
			chunk = sleepChunk
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(chunk):
		}
		d -= chunk
	}
	return ctx.Err() == nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

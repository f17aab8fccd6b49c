// Package input synthesizes pointer input and watches for the abort key.
package input

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-vgo/robotgo"

	"jordanella.com/autoclick-go/internal/display"
)

// Button identifies a mouse button
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// ParseButton maps configuration strings to a button. Empty means left.
func ParseButton(s string) (Button, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "left":
		return ButtonLeft, nil
	case "right":
		return ButtonRight, nil
	case "middle", "center":
		return ButtonMiddle, nil
	default:
		return "", fmt.Errorf("unknown mouse button %q", s)
	}
}

// Driver issues synthetic pointer operations. Coordinates are in the pixel
// space reported by Space.
type Driver interface {
	Space() display.Space
	MoveTo(x, y int) error
	Click(x, y int, button Button) error
	DoubleClick(x, y int, button Button) error
	Drag(x1, y1, x2, y2 int, button Button, duration time.Duration) error
	Press(button Button) error
	Release(button Button) error
}

// dragStep is the interval between interpolated moves while dragging
const dragStep = 10 * time.Millisecond

// RobotDriver drives the real pointer through robotgo
type RobotDriver struct {
	space display.Space
	mu    sync.Mutex
}

// NewRobotDriver creates a driver. macOS event taps take points (logical);
// Windows (DPI aware) and X11 take physical pixels.
func NewRobotDriver() *RobotDriver {
	space := display.Physical
	if runtime.GOOS == "darwin" {
		space = display.Logical
	}
	return &RobotDriver{space: space}
}

func robotButton(b Button) string {
	if b == ButtonMiddle {
		return "center"
	}
	if b == "" {
		return string(ButtonLeft)
	}
	return string(b)
}

func (d *RobotDriver) Space() display.Space {
	return d.space
}

func (d *RobotDriver) MoveTo(x, y int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	robotgo.Move(x, y)
	return nil
}

func (d *RobotDriver) Click(x, y int, button Button) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	robotgo.Move(x, y)
	robotgo.Click(robotButton(button), false)
	return nil
}

func (d *RobotDriver) DoubleClick(x, y int, button Button) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	robotgo.Move(x, y)
	robotgo.Click(robotButton(button), true)
	return nil
}

// Drag presses at (x1, y1), moves to (x2, y2) over duration and releases
func (d *RobotDriver) Drag(x1, y1, x2, y2 int, button Button, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	btn := robotButton(button)
	robotgo.Move(x1, y1)
	if err := robotgo.Toggle(btn); err != nil {
		return fmt.Errorf("press %s: %w", btn, err)
	}

	steps := int(duration / dragStep)
	for i := 1; i <= steps; i++ {
		f := float64(i) / float64(steps)
		robotgo.Move(x1+int(float64(x2-x1)*f), y1+int(float64(y2-y1)*f))
		time.Sleep(dragStep)
	}
	robotgo.Move(x2, y2)

	if err := robotgo.Toggle(btn, "up"); err != nil {
		return fmt.Errorf("release %s: %w", btn, err)
	}
	return nil
}

func (d *RobotDriver) Press(button Button) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return robotgo.Toggle(robotButton(button))
}

func (d *RobotDriver) Release(button Button) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return robotgo.Toggle(robotButton(button), "up")
}

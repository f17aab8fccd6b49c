package display

import (
	"fmt"
	"image"

	"github.com/go-vgo/robotgo"
	"github.com/kbinani/screenshot"
)

// SystemEnumerator reads live display state from the window system.
// Logical bounds and scale come from robotgo, raw framebuffer rectangles
// from the screenshot backend.
type SystemEnumerator struct{}

// NewSystemEnumerator creates an enumerator backed by the running desktop
func NewSystemEnumerator() *SystemEnumerator {
	return &SystemEnumerator{}
}

func (e *SystemEnumerator) Displays() ([]Monitor, error) {
	n := robotgo.DisplaysNum()
	if n <= 0 {
		return nil, fmt.Errorf("no active displays")
	}

	monitors := make([]Monitor, 0, n)
	for i := 0; i < n; i++ {
		x, y, w, h := robotgo.GetDisplayBounds(i)
		monitors = append(monitors, Monitor{
			Name:    fmt.Sprintf("display-%d", i),
			Logical: image.Rect(x, y, x+w, y+h),
			Scale:   robotgo.SysScale(i),
		})
	}
	return monitors, nil
}

func (e *SystemEnumerator) PhysicalRects() ([]image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	rects := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		rects = append(rects, screenshot.GetDisplayBounds(i))
	}
	return rects, nil
}

package cv

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"jordanella.com/autoclick-go/internal/display"
)

// Capturer grabs pixels from the screen. Regions are physical pixels.
type Capturer interface {
	Grab(r display.Region) (*image.RGBA, error)
	PrimaryBounds() (display.Region, error)
}

// ScreenCapturer captures through the platform screenshot backend
type ScreenCapturer struct{}

// NewScreenCapturer creates the default cross-platform capturer
func NewScreenCapturer() *ScreenCapturer {
	return &ScreenCapturer{}
}

func (c *ScreenCapturer) Grab(r display.Region) (*image.RGBA, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(r.Rect())
	if err != nil {
		return nil, fmt.Errorf("capture %v: %w", r, err)
	}
	return ToRGBA(img), nil
}

func (c *ScreenCapturer) PrimaryBounds() (display.Region, error) {
	if screenshot.NumActiveDisplays() < 1 {
		return display.Region{}, fmt.Errorf("no active displays")
	}
	return display.RegionFromRect(screenshot.GetDisplayBounds(0), display.Physical), nil
}

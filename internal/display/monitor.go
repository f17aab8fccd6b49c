package display

import (
	"fmt"
	"image"
)

// Monitor describes one attached display. Logical holds the geometry the
// window system reports; Physical, when the platform exposes it, holds the
// framebuffer rectangle.
type Monitor struct {
	Name     string
	Logical  image.Rectangle
	Scale    float64 // device pixel ratio, physical / logical
	Physical *image.Rectangle
}

func (m Monitor) String() string {
	phys := "?"
	if m.Physical != nil {
		phys = m.Physical.String()
	}
	return fmt.Sprintf("%s logical=%v scale=%.2f physical=%s", m.Name, m.Logical, m.Scale, phys)
}

func (m Monitor) usable() bool {
	return m.Logical.Dx() > 0 && m.Logical.Dy() > 0
}

func (m Monitor) ratio() float64 {
	if m.Scale <= 0 {
		return 1
	}
	return m.Scale
}

// scaledLogical is the logical rectangle multiplied by the device pixel
// ratio, the expected physical rectangle on a uniformly scaled desktop.
func (m Monitor) scaledLogical() image.Rectangle {
	s := m.ratio()
	return image.Rect(
		roundInt(float64(m.Logical.Min.X)*s),
		roundInt(float64(m.Logical.Min.Y)*s),
		roundInt(float64(m.Logical.Max.X)*s),
		roundInt(float64(m.Logical.Max.Y)*s),
	)
}

// DisplayEnumerator lists attached displays. Implementations query live
// state on every call.
type DisplayEnumerator interface {
	// Displays returns logical geometry and device pixel ratio per display
	Displays() ([]Monitor, error)
	// PhysicalRects returns raw physical monitor rectangles. An empty result
	// means the platform cannot enumerate them.
	PhysicalRects() ([]image.Rectangle, error)
}

// PointMapper maps a logical point to physical pixels for the monitor a
// window lives on. ok is false when the platform cannot answer.
type PointMapper interface {
	LogicalToPhysical(hwnd uintptr, x, y int) (px, py int, ok bool)
}

// StaticEnumerator serves a fixed display layout
type StaticEnumerator struct {
	Monitors []Monitor
	Rects    []image.Rectangle
}

func (s *StaticEnumerator) Displays() ([]Monitor, error) {
	out := make([]Monitor, len(s.Monitors))
	copy(out, s.Monitors)
	return out, nil
}

func (s *StaticEnumerator) PhysicalRects() ([]image.Rectangle, error) {
	out := make([]image.Rectangle, len(s.Rects))
	copy(out, s.Rects)
	return out, nil
}

// NoopEnumerator reports no displays, for platforms without enumeration
type NoopEnumerator struct{}

func (NoopEnumerator) Displays() ([]Monitor, error)              { return nil, nil }
func (NoopEnumerator) PhysicalRects() ([]image.Rectangle, error) { return nil, nil }

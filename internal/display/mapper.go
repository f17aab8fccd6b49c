package display

import (
	"image"
	"math"

	"jordanella.com/autoclick-go/internal/logging"
)

// Mapper converts regions between logical and physical pixel space.
// Display state is enumerated on every call; monitors can be hot-plugged
// between two lookups.
type Mapper struct {
	enum   DisplayEnumerator
	points PointMapper
	logger *logging.Logger
}

// NewMapper creates a coordinate mapper. points may be nil on platforms
// without a per-window point mapping primitive.
func NewMapper(enum DisplayEnumerator, points PointMapper, logger *logging.Logger) *Mapper {
	if enum == nil {
		enum = NoopEnumerator{}
	}
	if logger == nil {
		logger = logging.NewDiscardLogger("Display")
	}
	return &Mapper{enum: enum, points: points, logger: logger}
}

// binding pairs a display with the physical rectangle resolved for it
type binding struct {
	monitor Monitor
	phys    image.Rectangle
	sx, sy  float64
	source  string
}

// bindings resolves each usable display to a physical rectangle: the one the
// platform reports, else the nearest enumerated physical rectangle, else the
// logical rectangle scaled by the device pixel ratio.
func (m *Mapper) bindings() []binding {
	monitors, err := m.enum.Displays()
	if err != nil {
		m.logger.Error("Display enumeration failed", err)
		return nil
	}

	rects, err := m.enum.PhysicalRects()
	if err != nil {
		m.logger.Error("Physical monitor enumeration failed", err)
		rects = nil
	}

	out := make([]binding, 0, len(monitors))
	for _, mon := range monitors {
		if !mon.usable() {
			continue
		}

		b := binding{monitor: mon}
		switch {
		case mon.Physical != nil && !mon.Physical.Empty():
			b.phys, b.source = *mon.Physical, "reported"
		default:
			if rect, ok := nearestRect(mon.scaledLogical(), rects); ok {
				b.phys, b.source = rect, "nearest"
			} else {
				b.phys, b.source = mon.scaledLogical(), "scaled"
			}
		}
		if b.phys.Empty() {
			continue
		}

		b.sx = float64(b.phys.Dx()) / float64(mon.Logical.Dx())
		b.sy = float64(b.phys.Dy()) / float64(mon.Logical.Dy())
		out = append(out, b)
	}
	return out
}

// nearestRect returns the candidate minimising the summed absolute deltas of
// left, top, width and height against want. Empty candidates are skipped.
func nearestRect(want image.Rectangle, candidates []image.Rectangle) (image.Rectangle, bool) {
	best := image.Rectangle{}
	bestScore := math.MaxInt
	found := false

	for _, c := range candidates {
		if c.Empty() {
			continue
		}
		score := absInt(c.Min.X-want.Min.X) + absInt(c.Min.Y-want.Min.Y) +
			absInt(c.Dx()-want.Dx()) + absInt(c.Dy()-want.Dy())
		if score < bestScore {
			best, bestScore, found = c, score, true
		}
	}
	return best, found
}

// ToPhysical returns the physical-pixel equivalent of a logical region on the
// display under its centre. hwnd may be 0. It never fails: with no matching
// display the coordinates are returned as-is.
func (m *Mapper) ToPhysical(r Region, hwnd uintptr) Region {
	if r.Space == Physical {
		return r
	}

	if hwnd != 0 && m.points != nil {
		x1, y1, ok1 := m.points.LogicalToPhysical(hwnd, r.Left, r.Top)
		x2, y2, ok2 := m.points.LogicalToPhysical(hwnd, r.Left+r.Width, r.Top+r.Height)
		if ok1 && ok2 && x2 > x1 && y2 > y1 {
			return NewRegion(x1, y1, x2-x1, y2-y1, Physical)
		}
		m.logger.DebugWithContext("Point mapping unavailable, using display enumeration", logging.Fields{"hwnd": hwnd})
	}

	center := r.Center()
	for _, b := range m.bindings() {
		if !center.In(b.monitor.Logical) {
			continue
		}
		out := project(r, b.monitor.Logical, b.phys, b.sx, b.sy)
		out.Space = Physical
		m.logger.DebugWithContext("Mapped logical region", logging.Fields{
			"in": r.String(), "out": out.String(), "display": b.monitor.Name, "via": b.source,
		})
		return out
	}

	m.logger.DebugWithContext("No display under region, assuming 1:1", logging.Fields{"region": r.String()})
	r.Space = Physical
	return r
}

// ToLogical maps a physical region back to logical pixels using the display
// whose physical rectangle contains the region's centre.
func (m *Mapper) ToLogical(r Region) Region {
	if r.Space == Logical {
		return r
	}

	if b, ok := m.bindingForPhysical(r); ok {
		out := project(r, b.phys, b.monitor.Logical, 1/b.sx, 1/b.sy)
		out.Space = Logical
		return out
	}

	r.Space = Logical
	return r
}

// ScaleFactorFor returns the physical/logical scale of the display holding
// the physical region, (1, 1) when no display matches.
func (m *Mapper) ScaleFactorFor(r Region) (float64, float64) {
	if b, ok := m.bindingForPhysical(r); ok {
		return b.sx, b.sy
	}
	return 1, 1
}

// PhysicalBoundsFor returns the physical rectangle of the display holding
// the physical region.
func (m *Mapper) PhysicalBoundsFor(r Region) (image.Rectangle, bool) {
	if b, ok := m.bindingForPhysical(r); ok {
		return b.phys, true
	}
	return image.Rectangle{}, false
}

// Monitors returns the current display list, for diagnostics
func (m *Mapper) Monitors() []Monitor {
	bs := m.bindings()
	out := make([]Monitor, 0, len(bs))
	for _, b := range bs {
		mon := b.monitor
		phys := b.phys
		mon.Physical = &phys
		out = append(out, mon)
	}
	return out
}

func (m *Mapper) bindingForPhysical(r Region) (binding, bool) {
	center := r.Center()
	for _, b := range m.bindings() {
		if center.In(b.phys) {
			return b, true
		}
	}
	return binding{}, false
}

// project maps r from the from-rectangle into the to-rectangle with the
// given per-axis scale.
func project(r Region, from, to image.Rectangle, sx, sy float64) Region {
	w := roundInt(float64(r.Width) * sx)
	h := roundInt(float64(r.Height) * sy)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return Region{
		Left:   to.Min.X + roundInt(float64(r.Left-from.Min.X)*sx),
		Top:    to.Min.Y + roundInt(float64(r.Top-from.Min.Y)*sy),
		Width:  w,
		Height: h,
		Space:  r.Space,
	}
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Package display reconciles logical (UI-scaled) and physical (framebuffer)
// pixel coordinates across attached monitors.
package display

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// Space identifies the pixel space a coordinate is expressed in
type Space int

const (
	// Logical pixels are what window-system geometry APIs report
	Logical Space = iota
	// Physical pixels address the raw framebuffer
	Physical
)

func (s Space) String() string {
	switch s {
	case Logical:
		return "logical"
	case Physical:
		return "physical"
	default:
		return "unknown"
	}
}

// Error types
var (
	ErrInvalidRegion = fmt.Errorf("region width and height must be positive")
)

// Region is a rectangle together with the pixel space it lives in
type Region struct {
	Left   int   `json:"left" yaml:"left"`
	Top    int   `json:"top" yaml:"top"`
	Width  int   `json:"width" yaml:"width"`
	Height int   `json:"height" yaml:"height"`
	Space  Space `json:"-" yaml:"-"`
}

// NewRegion creates a region in the given space
func NewRegion(left, top, width, height int, space Space) Region {
	return Region{Left: left, Top: top, Width: width, Height: height, Space: space}
}

// RegionFromRect converts an image.Rectangle to a Region
func RegionFromRect(r image.Rectangle, space Space) Region {
	return Region{Left: r.Min.X, Top: r.Min.Y, Width: r.Dx(), Height: r.Dy(), Space: space}
}

// Valid reports whether width and height are positive
func (r Region) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Validate returns ErrInvalidRegion for empty regions
func (r Region) Validate() error {
	if !r.Valid() {
		return fmt.Errorf("%w: got %dx%d", ErrInvalidRegion, r.Width, r.Height)
	}
	return nil
}

// Rect converts the region to an image.Rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
}

// Center returns the region's centre point using integer division, the same
// convention click targeting uses.
func (r Region) Center() image.Point {
	return image.Pt(r.Left+r.Width/2, r.Top+r.Height/2)
}

// Contains reports whether p lies inside the region
func (r Region) Contains(p image.Point) bool {
	return p.In(r.Rect())
}

// Offset returns the region translated by (dx, dy)
func (r Region) Offset(dx, dy int) Region {
	r.Left += dx
	r.Top += dy
	return r
}

func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d(%s)", r.Left, r.Top, r.Width, r.Height, r.Space)
}

// ParseRegion parses "left,top,width,height" into a region in the given space
func ParseRegion(s string, space Space) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, fmt.Errorf("region %q: expected left,top,width,height", s)
	}

	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Region{}, fmt.Errorf("region %q: %w", s, err)
		}
		vals[i] = v
	}

	r := NewRegion(vals[0], vals[1], vals[2], vals[3], space)
	if err := r.Validate(); err != nil {
		return Region{}, fmt.Errorf("region %q: %w", s, err)
	}
	return r, nil
}

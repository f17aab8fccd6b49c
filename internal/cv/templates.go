package cv

import (
	"image"
	"strings"
	"time"
)

// SearchMode selects which scales a template is searched at
type SearchMode string

const (
	// ModeSearch searches the engine's whole scale ladder
	ModeSearch SearchMode = "search"
	// ModeFixed searches scale 1.0 only
	ModeFixed SearchMode = "fixed"
)

// ParseSearchMode maps configuration strings to a mode; unknown values
// default to search.
func ParseSearchMode(s string) SearchMode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeFixed)) {
		return ModeFixed
	}
	return ModeSearch
}

// Source records where a template image came from
type Source string

const (
	SourceProgramCapture Source = "program_capture"
	SourceLocalImage     Source = "local_image"
)

// ClickConfig is the per-template click behaviour
type ClickConfig struct {
	OffsetX      int
	OffsetY      int
	Delay        time.Duration
	Type         string // left, right, middle, double
	Count        int
	Interval     time.Duration
	Cooldown     time.Duration
	RandomOffset bool
}

// CaptureMeta is capture-time provenance, used for mismatch warnings only
type CaptureMeta struct {
	ScreenWidth  int
	ScreenHeight int
	DPIScaleX    float64
	DPIScaleY    float64
}

// TemplateDef describes a template before preprocessing
type TemplateDef struct {
	Name      string
	Path      string
	Source    Source
	Mode      SearchMode
	Threshold float64 // 0 selects the engine default
	Click     *ClickConfig
	Meta      *CaptureMeta
	Image     image.Image
}

// level is a template resized for one rung of the scale ladder
type level struct {
	scale     float64
	gray      *image.Gray
	edges     *image.Gray
	edgesNone bool

	// raw is the unblurred gray, kept for solid templates. Blurring the
	// frame smears a solid shape into its surroundings, so solid templates
	// are scored against the unblurred frame.
	raw *image.Gray
}

// Template is a preprocessed pattern. It is immutable once prepared.
type Template struct {
	Name      string
	Path      string
	Source    Source
	Mode      SearchMode
	Threshold float64
	Click     *ClickConfig
	Meta      *CaptureMeta

	Image *image.RGBA // original colour
	Gray  *image.Gray // grayscale, blurred
	Edges *image.Gray

	levels []level
}

// Size returns the template's unscaled width and height
func (t *Template) Size() image.Point {
	return t.Image.Rect.Size()
}

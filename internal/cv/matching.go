package cv

import (
	"fmt"
	"image"
	"math"
	"sync"

	"jordanella.com/autoclick-go/internal/display"
	"jordanella.com/autoclick-go/internal/logging"
)

// Error types
var (
	ErrTemplateTooLarge = fmt.Errorf("template larger than search image")
	ErrInvalidImage     = fmt.Errorf("invalid image provided")
)

// Metric names the image representation a score was computed on
type Metric string

const (
	MetricGray Metric = "gray"
	MetricEdge Metric = "edge"
)

// MatchResult is the outcome of one matching pass
type MatchResult struct {
	Template   string
	Confidence float64     // in [-1, 1]
	Location   image.Point // top-left, frame coordinates
	Size       image.Point // matched width and height
	Metric     Metric
	Scale      float64

	// Region is the physical screen region of the matched frame
	Region display.Region
	Click  *ClickConfig
}

// Bounds returns the matched rectangle in frame coordinates
func (r *MatchResult) Bounds() image.Rectangle {
	return image.Rectangle{Min: r.Location, Max: r.Location.Add(r.Size)}
}

// Engine holds prepared templates and finds the best match in a frame
// across the scale ladder and both metrics.
type Engine struct {
	opts      engineOptions
	logger    *logging.Logger
	templates []*Template
	mu        sync.RWMutex
}

// NewEngine creates a matching engine
func NewEngine(opts ...Option) *Engine {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.correlator == nil {
		o.correlator = defaultCorrelator()
	}
	if o.logger == nil {
		o.logger = logging.NewDiscardLogger("Matcher")
	}
	return &Engine{opts: o, logger: o.logger}
}

// ClampThreshold forces a threshold into the configured band
func (e *Engine) ClampThreshold(t float64) float64 {
	return math.Max(e.opts.minThreshold, math.Min(e.opts.maxThreshold, t))
}

// Scales returns a copy of the scale ladder
func (e *Engine) Scales() []float64 {
	out := make([]float64, len(e.opts.scales))
	copy(out, e.opts.scales)
	return out
}

// Prepare derives the gray, edge and per-scale images of a template
func (e *Engine) Prepare(def TemplateDef) (*Template, error) {
	if def.Image == nil || def.Image.Bounds().Empty() {
		return nil, fmt.Errorf("template %q: %w", def.Name, ErrInvalidImage)
	}

	threshold := def.Threshold
	if threshold == 0 {
		threshold = e.opts.defaultThreshold
	}
	if clamped := e.ClampThreshold(threshold); clamped != threshold {
		e.logger.WarnWithContext("Template threshold clamped", logging.Fields{
			"template": def.Name, "requested": threshold, "applied": clamped,
		})
		threshold = clamped
	}

	mode := def.Mode
	if mode == "" {
		mode = ModeSearch
	}
	source := def.Source
	if source == "" {
		source = SourceLocalImage
	}

	rgba := ToRGBA(def.Image)
	raw := Grayscale(rgba)
	gray := GaussianBlur(raw)

	t := &Template{
		Name:      def.Name,
		Path:      def.Path,
		Source:    source,
		Mode:      mode,
		Threshold: threshold,
		Click:     def.Click,
		Meta:      def.Meta,
		Image:     rgba,
		Gray:      gray,
		Edges:     Canny(gray, e.opts.cannyLow, e.opts.cannyHigh),
	}

	scales := e.opts.scales
	if mode == ModeFixed {
		scales = []float64{1.0}
	}
	for _, s := range scales {
		lv := level{scale: s, gray: gray, edges: t.Edges}
		lvRaw := raw
		if s != 1.0 {
			lv.gray = Resize(gray, s)
			if lv.gray == nil {
				continue
			}
			lv.edges = Canny(lv.gray, e.opts.cannyLow, e.opts.cannyHigh)
			lvRaw = Resize(raw, s)
		}
		if lvRaw != nil && flat(lvRaw) {
			lv.raw = lvRaw
		}
		lv.edgesNone = empty(lv.edges)
		t.levels = append(t.levels, lv)
	}

	return t, nil
}

// Add prepares a template and appends it to the engine's set. Ties between
// templates go to the one added first, so the tie-break order is the order
// of Add calls, not the order of any definition file the templates came
// from.
func (e *Engine) Add(def TemplateDef) (*Template, error) {
	t, err := e.Prepare(def)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.templates = append(e.templates, t)
	e.mu.Unlock()
	return t, nil
}

// SetTemplates replaces the template set. Slice order is the tie-break
// order.
func (e *Engine) SetTemplates(templates []*Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates = append([]*Template(nil), templates...)
}

// Templates returns the current template set in declaration order
func (e *Engine) Templates() []*Template {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Template(nil), e.templates...)
}

// Get looks a template up by name
func (e *Engine) Get(name string) (*Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, t := range e.templates {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Match returns the globally best match if it reaches its template's
// threshold.
func (e *Engine) Match(frame *Frame) (*MatchResult, bool) {
	best, threshold := e.search(frame)
	if best == nil || best.Confidence < threshold {
		return nil, false
	}
	return best, true
}

// BestConfidence returns the globally best candidate regardless of
// thresholds, for calibration.
func (e *Engine) BestConfidence(frame *Frame) (*MatchResult, bool) {
	best, _ := e.search(frame)
	return best, best != nil
}

// search returns the best candidate and the threshold of its template
func (e *Engine) search(frame *Frame) (*MatchResult, float64) {
	if frame == nil || frame.Image == nil {
		return nil, 0
	}
	templates := e.Templates()
	if len(templates) == 0 {
		return nil, 0
	}

	rawGray := Grayscale(frame.Image)
	gray := GaussianBlur(rawGray)
	var edges *image.Gray

	var best *MatchResult
	var threshold float64
	consider := func(t *Template, lv level, metric Metric, p Peak) {
		if best != nil && p.Score <= best.Confidence {
			return
		}
		threshold = t.Threshold
		best = &MatchResult{
			Template:   t.Name,
			Confidence: p.Score,
			Location:   p.Location,
			Size:       lv.gray.Rect.Size(),
			Metric:     metric,
			Scale:      lv.scale,
			Region:     frame.Region,
			Click:      t.Click,
		}
	}

	fw, fh := gray.Rect.Dx(), gray.Rect.Dy()
	for _, t := range templates {
		for _, lv := range t.levels {
			if lv.gray.Rect.Dx() > fw || lv.gray.Rect.Dy() > fh {
				continue
			}

			var peak Peak
			var err error
			if lv.raw != nil {
				peak, err = e.opts.correlator.Correlate(rawGray, lv.raw)
			} else {
				peak, err = e.opts.correlator.Correlate(gray, lv.gray)
			}
			if err != nil {
				e.logger.ErrorWithContext("Gray correlation failed", err, logging.Fields{"template": t.Name, "scale": lv.scale})
				continue
			}

			// An edge-free template carries no edge signal
			var edgePeak *Peak
			if !lv.edgesNone {
				if edges == nil {
					edges = Canny(gray, e.opts.cannyLow, e.opts.cannyHigh)
				}
				p, err := e.opts.correlator.Correlate(edges, lv.edges)
				if err != nil {
					e.logger.ErrorWithContext("Edge correlation failed", err, logging.Fields{"template": t.Name, "scale": lv.scale})
				} else {
					edgePeak = &p
				}
			}

			if edgePeak != nil && edgePeak.Score > peak.Score {
				consider(t, lv, MetricEdge, *edgePeak)
			} else {
				consider(t, lv, MetricGray, peak)
			}
		}
	}

	if best != nil {
		e.logger.DebugWithContext("Best candidate", logging.Fields{
			"template": best.Template, "confidence": fmt.Sprintf("%.4f", best.Confidence),
			"x": best.Location.X, "y": best.Location.Y, "metric": best.Metric, "scale": best.Scale,
		})
	}
	return best, threshold
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

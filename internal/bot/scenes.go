package bot

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"jordanella.com/autoclick-go/internal/actions"
	"jordanella.com/autoclick-go/internal/cv"
	"jordanella.com/autoclick-go/internal/logging"
	"jordanella.com/autoclick-go/pkg/templates"
)

// RuleType selects how a scene rule inspects the frame
type RuleType string

const (
	RuleTemplate RuleType = "template"
	RuleColor    RuleType = "color"
)

// Scene rule defaults
const (
	DefaultSceneThreshold = 0.9
	DefaultSceneRatio     = 1.0
	DefaultSceneCooldown  = time.Second
)

// Error types
var (
	ErrUnknownRuleType = fmt.Errorf("unknown scene rule type")
	ErrInvalidBounds   = fmt.Errorf("color bounds must have three components in [0, 255]")
)

// SceneRule is one entry of a scene file. Region is [x, y, width, height]
// in frame coordinates; colour bounds are [r, g, b].
type SceneRule struct {
	Name      string          `yaml:"name" json:"name"`
	Type      string          `yaml:"type" json:"type"`
	Template  string          `yaml:"template,omitempty" json:"template,omitempty"`
	Region    []int           `yaml:"region,omitempty" json:"region,omitempty"`
	Threshold *float64        `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Lower     []int           `yaml:"lower,omitempty" json:"lower,omitempty"`
	Upper     []int           `yaml:"upper,omitempty" json:"upper,omitempty"`
	Ratio     *float64        `yaml:"ratio,omitempty" json:"ratio,omitempty"`
	Cooldown  *float64        `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	Action    *actions.Config `yaml:"action,omitempty" json:"action,omitempty"`
}

// Scene is a compiled rule
type Scene struct {
	Name      string
	Type      RuleType
	Region    *image.Rectangle // nil means the whole frame
	Threshold float64
	Lower     [3]uint8
	Upper     [3]uint8
	Ratio     float64
	Cooldown  time.Duration
	Action    *actions.Config

	template *image.Gray
}

// SceneSet evaluates compiled rules in declaration order
type SceneSet struct {
	scenes     []*Scene
	correlator cv.Correlator
	logger     *logging.Logger
}

// NewSceneSet compiles rules. Relative template paths resolve against
// baseDir. Rules without a name or type are skipped with a warning.
func NewSceneSet(rules []SceneRule, baseDir string, cache *templates.ImageCache, correlator cv.Correlator, logger *logging.Logger) (*SceneSet, error) {
	if logger == nil {
		logger = logging.NewDiscardLogger("Scenes")
	}
	if correlator == nil {
		correlator = cv.DefaultCorrelator()
	}
	if cache == nil {
		cache = templates.NewImageCache()
	}

	set := &SceneSet{correlator: correlator, logger: logger}
	for i, r := range rules {
		if r.Name == "" || r.Type == "" {
			logger.WarnWithContext("Skipping scene rule without name or type", logging.Fields{"index": i + 1})
			continue
		}
		s, err := compileRule(r, baseDir, cache)
		if err != nil {
			return nil, fmt.Errorf("scene %d (%s): %w", i+1, r.Name, err)
		}
		set.scenes = append(set.scenes, s)
	}
	return set, nil
}

// LoadScenes reads a YAML or JSON list of scene rules
func LoadScenes(path string, cache *templates.ImageCache, correlator cv.Correlator, logger *logging.Logger) (*SceneSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene file %s: %w", path, err)
	}

	var rules []SceneRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse scene file %s: %w", path, err)
	}

	set, err := NewSceneSet(rules, filepath.Dir(path), cache, correlator, logger)
	if err != nil {
		return nil, err
	}
	set.logger.InfoWithContext("Loaded scenes", logging.Fields{"file": path, "count": set.Len()})
	return set, nil
}

func compileRule(r SceneRule, baseDir string, cache *templates.ImageCache) (*Scene, error) {
	s := &Scene{
		Name:      r.Name,
		Type:      RuleType(strings.ToLower(strings.TrimSpace(r.Type))),
		Threshold: DefaultSceneThreshold,
		Upper:     [3]uint8{255, 255, 255},
		Ratio:     DefaultSceneRatio,
		Cooldown:  DefaultSceneCooldown,
		Action:    r.Action,
	}
	if r.Threshold != nil {
		s.Threshold = *r.Threshold
	}
	if r.Ratio != nil {
		s.Ratio = *r.Ratio
	}
	if r.Cooldown != nil {
		if *r.Cooldown < 0 {
			return nil, actions.ErrInvalidTiming
		}
		s.Cooldown = time.Duration(*r.Cooldown * float64(time.Second))
	}

	if r.Region != nil {
		if len(r.Region) != 4 {
			return nil, fmt.Errorf("%w: got %v", actions.ErrInvalidRegion, r.Region)
		}
		x, y := max(r.Region[0], 0), max(r.Region[1], 0)
		w, h := max(r.Region[2], 0), max(r.Region[3], 0)
		rect := image.Rect(x, y, x+w, y+h)
		s.Region = &rect
	}

	if r.Action != nil {
		if _, err := actions.Parse(*r.Action); err != nil {
			return nil, fmt.Errorf("action: %w", err)
		}
	}

	switch s.Type {
	case RuleTemplate:
		if r.Template == "" {
			return nil, fmt.Errorf("template path cannot be empty")
		}
		path := r.Template
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		img, err := cache.Load(path)
		if err != nil {
			return nil, err
		}
		s.template = cv.GaussianBlur(cv.Grayscale(cv.ToRGBA(img)))
	case RuleColor:
		var err error
		if r.Lower != nil {
			if s.Lower, err = colorBound(r.Lower); err != nil {
				return nil, fmt.Errorf("lower: %w", err)
			}
		}
		if r.Upper != nil {
			if s.Upper, err = colorBound(r.Upper); err != nil {
				return nil, fmt.Errorf("upper: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleType, r.Type)
	}
	return s, nil
}

func colorBound(v []int) ([3]uint8, error) {
	var out [3]uint8
	if len(v) != 3 {
		return out, ErrInvalidBounds
	}
	for i, c := range v {
		if c < 0 || c > 255 {
			return out, ErrInvalidBounds
		}
		out[i] = uint8(c)
	}
	return out, nil
}

// Len returns the number of compiled scenes
func (ss *SceneSet) Len() int {
	if ss == nil {
		return 0
	}
	return len(ss.scenes)
}

// Scenes returns the compiled scenes in evaluation order
func (ss *SceneSet) Scenes() []*Scene {
	if ss == nil {
		return nil
	}
	return append([]*Scene(nil), ss.scenes...)
}

// Evaluate returns the first scene whose rule matches the image
func (ss *SceneSet) Evaluate(img *image.RGBA) (*Scene, bool) {
	if ss == nil || img == nil {
		return nil, false
	}
	for _, s := range ss.scenes {
		if ss.matches(s, img) {
			return s, true
		}
	}
	return nil, false
}

func (ss *SceneSet) matches(s *Scene, img *image.RGBA) bool {
	roi := img
	if s.Region != nil {
		roi = cv.CropRegion(img, s.Region.Add(img.Rect.Min))
	}
	if roi.Rect.Empty() {
		return false
	}

	switch s.Type {
	case RuleTemplate:
		return ss.matchTemplate(s, roi)
	case RuleColor:
		return colorRatio(roi, s.Lower, s.Upper) >= s.Ratio
	}
	return false
}

func (ss *SceneSet) matchTemplate(s *Scene, roi *image.RGBA) bool {
	if s.template.Rect.Dx() > roi.Rect.Dx() || s.template.Rect.Dy() > roi.Rect.Dy() {
		return false
	}
	gray := cv.GaussianBlur(cv.Grayscale(roi))
	peak, err := ss.correlator.Correlate(gray, s.template)
	if err != nil {
		ss.logger.ErrorWithContext("Scene correlation failed", err, logging.Fields{"scene": s.Name})
		return false
	}
	ss.logger.DebugWithContext("Scene score", logging.Fields{"scene": s.Name, "score": fmt.Sprintf("%.4f", peak.Score)})
	return peak.Score >= s.Threshold
}

// colorRatio is the fraction of pixels whose every channel lies within
// the inclusive bounds
func colorRatio(img *image.RGBA, lower, upper [3]uint8) float64 {
	b := img.Rect
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	inside := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+3]
			if p[0] >= lower[0] && p[0] <= upper[0] &&
				p[1] >= lower[1] && p[1] <= upper[1] &&
				p[2] >= lower[2] && p[2] <= upper[2] {
				inside++
			}
		}
	}
	return float64(inside) / float64(total)
}

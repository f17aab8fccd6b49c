// Package templates loads template definitions and images from disk.
package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"gopkg.in/yaml.v3"

	"jordanella.com/autoclick-go/internal/cv"
	"jordanella.com/autoclick-go/internal/logging"
)

// Error types
var (
	ErrTemplateMissing = fmt.Errorf("template image not found")
)

// DuplicateDistance is the largest perceptual hash distance at which two
// templates are reported as duplicates
const DuplicateDistance = 4

// ClickDefinition is the click block of a template entry. Times are in
// milliseconds.
type ClickDefinition struct {
	OffsetX      int    `yaml:"offset_x" json:"offset_x"`
	OffsetY      int    `yaml:"offset_y" json:"offset_y"`
	DelayMs      int    `yaml:"delay_ms" json:"delay_ms"`
	Type         string `yaml:"type" json:"type"`
	ClickCount   int    `yaml:"click_count" json:"click_count"`
	IntervalMs   int    `yaml:"interval_ms" json:"interval_ms"`
	CooldownMs   int    `yaml:"cooldown_ms" json:"cooldown_ms"`
	RandomOffset *bool  `yaml:"random_offset,omitempty" json:"random_offset,omitempty"`
}

// Config converts the definition to a click configuration. Random offset
// defaults to on.
func (c ClickDefinition) Config() *cv.ClickConfig {
	random := true
	if c.RandomOffset != nil {
		random = *c.RandomOffset
	}
	count := c.ClickCount
	if count < 1 {
		count = 1
	}
	kind := c.Type
	if kind == "" {
		kind = "left"
	}
	return &cv.ClickConfig{
		OffsetX:      c.OffsetX,
		OffsetY:      c.OffsetY,
		Delay:        time.Duration(c.DelayMs) * time.Millisecond,
		Type:         kind,
		Count:        count,
		Interval:     time.Duration(c.IntervalMs) * time.Millisecond,
		Cooldown:     time.Duration(c.CooldownMs) * time.Millisecond,
		RandomOffset: random,
	}
}

// TemplateDefinition is one entry of a definition file
type TemplateDefinition struct {
	Name      string           `yaml:"name" json:"name"`
	Path      string           `yaml:"path" json:"path"`
	Threshold float64          `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Mode      string           `yaml:"mode,omitempty" json:"mode,omitempty"`
	Source    string           `yaml:"source,omitempty" json:"source,omitempty"`
	Click     *ClickDefinition `yaml:"click,omitempty" json:"click,omitempty"`
}

// TemplateFile is the keyed form of a definition file
type TemplateFile struct {
	Templates []TemplateDefinition `yaml:"templates"`
}

// Registry collects template definitions with their decoded images, in the
// order they were loaded.
type Registry struct {
	mu     sync.RWMutex
	defs   []cv.TemplateDef
	cache  *ImageCache
	logger *logging.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewDiscardLogger("Templates")
	}
	return &Registry{cache: NewImageCache(), logger: logger}
}

// parseDefinitions accepts a top-level list or a {templates: [...]} mapping.
// JSON files parse as YAML.
func parseDefinitions(data []byte) ([]TemplateDefinition, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var defs []TemplateDefinition
		if err := root.Decode(&defs); err != nil {
			return nil, err
		}
		return defs, nil
	case yaml.MappingNode:
		var file TemplateFile
		if err := root.Decode(&file); err != nil {
			return nil, err
		}
		return file.Templates, nil
	default:
		return nil, fmt.Errorf("expected a list of templates or a templates key")
	}
}

// LoadFile loads a JSON or YAML definition file. Relative image paths are
// resolved against the file's directory. Nothing is added when any entry
// fails.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template file %s: %w", path, err)
	}

	entries, err := parseDefinitions(data)
	if err != nil {
		return fmt.Errorf("failed to parse template file %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	defs := make([]cv.TemplateDef, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return fmt.Errorf("template %d: name cannot be empty", i+1)
		}
		if e.Path == "" {
			return fmt.Errorf("template %d (%s): path cannot be empty", i+1, e.Name)
		}

		imagePath := e.Path
		if !filepath.IsAbs(imagePath) {
			imagePath = filepath.Join(baseDir, imagePath)
		}

		source := cv.SourceLocalImage
		if e.Source != "" {
			source = cv.Source(strings.ToLower(e.Source))
		}

		def, err := r.load(e.Name, imagePath, source)
		if err != nil {
			return fmt.Errorf("template %d (%s): %w", i+1, e.Name, err)
		}
		def.Threshold = e.Threshold
		def.Mode = cv.ParseSearchMode(e.Mode)
		if e.Click != nil {
			def.Click = e.Click.Config()
		}
		defs = append(defs, def)
	}

	r.mu.Lock()
	r.defs = append(r.defs, defs...)
	r.mu.Unlock()

	r.logger.InfoWithContext("Loaded template definitions", logging.Fields{"file": path, "count": len(defs)})
	return nil
}

// LoadImages loads loose image files, naming each after its file stem.
// Unreadable images are logged and skipped.
func (r *Registry) LoadImages(paths []string, source cv.Source) int {
	loaded := 0
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		def, err := r.load(name, p, source)
		if err != nil {
			r.logger.WarnWithContext("Skipping template image", logging.Fields{"path": p, "error": err.Error()})
			continue
		}
		if source == cv.SourceLocalImage && def.Meta == nil {
			r.logger.WarnWithContext("Local image has no capture metadata; resolution and DPI must match", logging.Fields{"template": name})
		}

		r.mu.Lock()
		r.defs = append(r.defs, def)
		r.mu.Unlock()
		loaded++
	}
	return loaded
}

func (r *Registry) load(name, path string, source cv.Source) (cv.TemplateDef, error) {
	img, err := r.cache.Load(path)
	if err != nil {
		return cv.TemplateDef{}, err
	}

	def := cv.TemplateDef{Name: name, Path: path, Source: source, Image: img}
	if side, ok := LoadSidecar(path); ok {
		def.Meta = side.Meta()
	}
	return def, nil
}

// Add appends a definition built in code
func (r *Registry) Add(def cv.TemplateDef) error {
	if def.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = append(r.defs, def)
	return nil
}

// Definitions returns the loaded definitions in load order
func (r *Registry) Definitions() []cv.TemplateDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]cv.TemplateDef(nil), r.defs...)
}

// ByPriority returns the definitions with program captures first, then by
// name. Installed in this order, it is also the engine's tie-break order,
// so file declaration order does not decide ties.
func (r *Registry) ByPriority() []cv.TemplateDef {
	defs := r.Definitions()
	rank := func(s cv.Source) int {
		switch s {
		case cv.SourceProgramCapture:
			return 0
		case cv.SourceLocalImage:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(defs, func(i, j int) bool {
		if ri, rj := rank(defs[i].Source), rank(defs[j].Source); ri != rj {
			return ri < rj
		}
		return defs[i].Name < defs[j].Name
	})
	return defs
}

// Has checks if a template with name was loaded
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.defs {
		if d.Name == name {
			return true
		}
	}
	return false
}

// Count returns the number of loaded templates
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Clear removes all definitions. Cached images are kept.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = nil
}

// ImageCache returns the registry's image cache
func (r *Registry) ImageCache() *ImageCache {
	return r.cache
}

// Install prepares every definition into engine, in the given order
func Install(engine *cv.Engine, defs []cv.TemplateDef) error {
	templates := make([]*cv.Template, 0, len(defs))
	for _, def := range defs {
		t, err := engine.Prepare(def)
		if err != nil {
			return err
		}
		templates = append(templates, t)
	}
	engine.SetTemplates(templates)
	return nil
}

// Duplicate is a pair of templates whose images are perceptually the same
type Duplicate struct {
	A, B     string
	Distance int
}

// Duplicates reports template pairs whose perceptual hashes are within
// DuplicateDistance of each other.
func (r *Registry) Duplicates() ([]Duplicate, error) {
	defs := r.Definitions()
	hashes := make([]*goimagehash.ImageHash, len(defs))
	for i, d := range defs {
		h, err := goimagehash.PerceptionHash(d.Image)
		if err != nil {
			return nil, fmt.Errorf("hash template %s: %w", d.Name, err)
		}
		hashes[i] = h
	}

	var out []Duplicate
	for i := 0; i < len(defs); i++ {
		for j := i + 1; j < len(defs); j++ {
			dist, err := hashes[i].Distance(hashes[j])
			if err != nil {
				return nil, err
			}
			if dist <= DuplicateDistance {
				out = append(out, Duplicate{A: defs[i].Name, B: defs[j].Name, Distance: dist})
			}
		}
	}
	return out, nil
}

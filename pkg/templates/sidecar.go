package templates

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jordanella.com/autoclick-go/internal/cv"
)

// Sidecar is the capture metadata stored next to a template image as
// <stem>.json
type Sidecar struct {
	Source           string    `json:"source"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	ScreenResolution []int     `json:"screen_resolution,omitempty"`
	DPIScale         []float64 `json:"dpi_scale,omitempty"`
}

// Meta converts the sidecar to capture provenance. Fields with the wrong
// arity are left zero.
func (s *Sidecar) Meta() *cv.CaptureMeta {
	m := &cv.CaptureMeta{}
	if len(s.ScreenResolution) == 2 {
		m.ScreenWidth, m.ScreenHeight = s.ScreenResolution[0], s.ScreenResolution[1]
	}
	if len(s.DPIScale) == 2 {
		m.DPIScaleX, m.DPIScaleY = s.DPIScale[0], s.DPIScale[1]
	}
	return m
}

// SidecarPath returns the metadata path for an image path
func SidecarPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".json"
}

// LoadSidecar reads the metadata next to imagePath. A missing or malformed
// sidecar yields false.
func LoadSidecar(imagePath string) (*Sidecar, bool) {
	data, err := os.ReadFile(SidecarPath(imagePath))
	if err != nil {
		return nil, false
	}
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false
	}
	return &s, true
}

// SaveCapture writes img as <dir>/<name>.png with a program_capture sidecar
// and returns the image path. An empty name gets a timestamped one.
func SaveCapture(dir, name string, img image.Image, meta cv.CaptureMeta) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", fmt.Errorf("captured image is empty")
	}
	if name == "" {
		name = fmt.Sprintf("program_capture_%d", time.Now().Unix())
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create template directory: %w", err)
	}

	imagePath := filepath.Join(dir, name+".png")
	f, err := os.Create(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to create template image: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to encode template image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	side := Sidecar{
		Source:           string(cv.SourceProgramCapture),
		Width:            img.Bounds().Dx(),
		Height:           img.Bounds().Dy(),
		ScreenResolution: []int{meta.ScreenWidth, meta.ScreenHeight},
		DPIScale:         []float64{meta.DPIScaleX, meta.DPIScaleY},
	}
	data, err := json.MarshalIndent(side, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(SidecarPath(imagePath), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write template metadata: %w", err)
	}
	return imagePath, nil
}

// CheckEnvironment compares capture provenance against the current screen
// and returns one warning per mismatch. Templates without metadata are
// skipped.
func CheckEnvironment(defs []cv.TemplateDef, current cv.CaptureMeta) []string {
	var warnings []string
	for _, def := range defs {
		m := def.Meta
		if m == nil {
			continue
		}
		if m.ScreenWidth > 0 && m.ScreenHeight > 0 &&
			(m.ScreenWidth != current.ScreenWidth || m.ScreenHeight != current.ScreenHeight) {
			warnings = append(warnings, fmt.Sprintf("template %q captured at %dx%d, current %dx%d",
				def.Name, m.ScreenWidth, m.ScreenHeight, current.ScreenWidth, current.ScreenHeight))
		}
		if m.DPIScaleX > 0 && m.DPIScaleY > 0 &&
			(math.Abs(m.DPIScaleX-current.DPIScaleX) > 0.01 || math.Abs(m.DPIScaleY-current.DPIScaleY) > 0.01) {
			warnings = append(warnings, fmt.Sprintf("template %q DPI scale %.2fx%.2f, current %.2fx%.2f",
				def.Name, m.DPIScaleX, m.DPIScaleY, current.DPIScaleX, current.DPIScaleY))
		}
	}
	return warnings
}

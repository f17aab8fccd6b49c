// Package config loads runtime settings from Settings.ini.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"jordanella.com/autoclick-go/internal/display"
)

// Settings holds the monitor and recorder configuration
type Settings struct {
	// Monitor
	FPS           float64
	Region        *display.Region // logical; nil captures the primary display
	Templates     []string        // definition files and loose images
	Scenes        string
	Threshold     float64
	ThresholdMin  float64
	ThresholdMax  float64
	Scales        []float64
	CannyLow      int
	CannyHigh     int
	ClickCount    int
	ClickInterval time.Duration
	RandomOffset  bool
	AbortKey      string
	Journal       string
	LogLevel      string
	LogDir        string
	HostWindow    uintptr

	// Recorder
	SampleHz float64
	Loops    int
	Infinite bool
}

// DefinitionFiles returns the template entries that are definition files
func (s *Settings) DefinitionFiles() []string {
	var out []string
	for _, t := range s.Templates {
		if isDefinitionFile(t) {
			out = append(out, t)
		}
	}
	return out
}

// ImageFiles returns the template entries that are loose images
func (s *Settings) ImageFiles() []string {
	var out []string
	for _, t := range s.Templates {
		if !isDefinitionFile(t) {
			out = append(out, t)
		}
	}
	return out
}

func isDefinitionFile(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Validate checks settings for values the pipeline cannot run with
func (s *Settings) Validate() error {
	if s.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %v", s.FPS)
	}
	if s.ThresholdMin > s.ThresholdMax {
		return fmt.Errorf("thresholdMin %.2f exceeds thresholdMax %.2f", s.ThresholdMin, s.ThresholdMax)
	}
	if s.CannyLow < 0 || s.CannyHigh < s.CannyLow {
		return fmt.Errorf("invalid canny thresholds %d/%d", s.CannyLow, s.CannyHigh)
	}
	if s.ClickCount < 1 {
		return fmt.Errorf("clickCount must be at least 1, got %d", s.ClickCount)
	}
	if s.Region != nil {
		if err := s.Region.Validate(); err != nil {
			return err
		}
	}
	if s.SampleHz <= 0 {
		return fmt.Errorf("sampleHz must be positive, got %v", s.SampleHz)
	}
	if s.Loops < 1 {
		return fmt.Errorf("loops must be at least 1, got %d", s.Loops)
	}
	return nil
}

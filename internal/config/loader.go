package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"jordanella.com/autoclick-go/internal/cv"
	"jordanella.com/autoclick-go/internal/display"
)

// NewDefaultSettings creates settings with default values
func NewDefaultSettings() *Settings {
	return &Settings{
		FPS:           2,
		Threshold:     0.9,
		ThresholdMin:  0.9,
		ThresholdMax:  1.0,
		Scales:        append([]float64(nil), cv.DefaultScales...),
		CannyLow:      50,
		CannyHigh:     150,
		ClickCount:    1,
		ClickInterval: 100 * time.Millisecond,
		RandomOffset:  true,
		AbortKey:      "esc",
		LogLevel:      "INFO",
		LogDir:        "logs",
		SampleHz:      60,
		Loops:         1,
	}
}

// LoadFromINI loads settings from Settings.ini. Missing keys keep their
// defaults.
func LoadFromINI(path string) (*Settings, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	s := NewDefaultSettings()
	monitor := cfg.Section("Monitor")

	s.FPS = monitor.Key("fps").MustFloat64(s.FPS)
	if v := strings.TrimSpace(monitor.Key("region").String()); v != "" {
		r, err := display.ParseRegion(v, display.Logical)
		if err != nil {
			return nil, fmt.Errorf("[Monitor] region: %w", err)
		}
		s.Region = &r
	}
	s.Templates = splitList(monitor.Key("templates").String())
	s.Scenes = monitor.Key("scenes").MustString("")
	s.Threshold = monitor.Key("threshold").MustFloat64(s.Threshold)
	s.ThresholdMin = monitor.Key("thresholdMin").MustFloat64(s.ThresholdMin)
	s.ThresholdMax = monitor.Key("thresholdMax").MustFloat64(s.ThresholdMax)
	if v := monitor.Key("scales").String(); v != "" {
		scales, err := parseScales(v)
		if err != nil {
			return nil, fmt.Errorf("[Monitor] scales: %w", err)
		}
		s.Scales = scales
	}
	s.CannyLow = monitor.Key("cannyLow").MustInt(s.CannyLow)
	s.CannyHigh = monitor.Key("cannyHigh").MustInt(s.CannyHigh)
	s.ClickCount = monitor.Key("clickCount").MustInt(s.ClickCount)
	s.ClickInterval = time.Duration(monitor.Key("clickIntervalMs").MustInt(int(s.ClickInterval/time.Millisecond))) * time.Millisecond
	s.RandomOffset = monitor.Key("randomOffset").MustBool(s.RandomOffset)
	s.AbortKey = monitor.Key("abortKey").MustString(s.AbortKey)
	s.Journal = monitor.Key("journal").MustString("")
	s.LogLevel = monitor.Key("logLevel").MustString(s.LogLevel)
	s.LogDir = monitor.Key("logDir").MustString(s.LogDir)
	s.HostWindow = uintptr(monitor.Key("hostWindow").MustUint64(0))

	recorder := cfg.Section("Recorder")
	s.SampleHz = recorder.Key("sampleHz").MustFloat64(s.SampleHz)
	s.Loops = recorder.Key("loops").MustInt(s.Loops)
	s.Infinite = recorder.Key("infinite").MustBool(false)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", path, err)
	}
	return s, nil
}

// SaveToINI writes settings to an INI file
func SaveToINI(s *Settings, path string) error {
	cfg := ini.Empty()
	monitor := cfg.Section("Monitor")

	monitor.Key("fps").SetValue(strconv.FormatFloat(s.FPS, 'f', -1, 64))
	if s.Region != nil {
		monitor.Key("region").SetValue(fmt.Sprintf("%d,%d,%d,%d", s.Region.Left, s.Region.Top, s.Region.Width, s.Region.Height))
	}
	monitor.Key("templates").SetValue(strings.Join(s.Templates, ","))
	monitor.Key("scenes").SetValue(s.Scenes)
	monitor.Key("threshold").SetValue(strconv.FormatFloat(s.Threshold, 'f', -1, 64))
	monitor.Key("thresholdMin").SetValue(strconv.FormatFloat(s.ThresholdMin, 'f', -1, 64))
	monitor.Key("thresholdMax").SetValue(strconv.FormatFloat(s.ThresholdMax, 'f', -1, 64))

	scales := make([]string, len(s.Scales))
	for i, v := range s.Scales {
		scales[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	monitor.Key("scales").SetValue(strings.Join(scales, ","))

	monitor.Key("cannyLow").SetValue(fmt.Sprintf("%d", s.CannyLow))
	monitor.Key("cannyHigh").SetValue(fmt.Sprintf("%d", s.CannyHigh))
	monitor.Key("clickCount").SetValue(fmt.Sprintf("%d", s.ClickCount))
	monitor.Key("clickIntervalMs").SetValue(fmt.Sprintf("%d", s.ClickInterval/time.Millisecond))
	monitor.Key("randomOffset").SetValue(fmt.Sprintf("%t", s.RandomOffset))
	monitor.Key("abortKey").SetValue(s.AbortKey)
	monitor.Key("journal").SetValue(s.Journal)
	monitor.Key("logLevel").SetValue(s.LogLevel)
	monitor.Key("logDir").SetValue(s.LogDir)
	monitor.Key("hostWindow").SetValue(fmt.Sprintf("%d", s.HostWindow))

	recorder := cfg.Section("Recorder")
	recorder.Key("sampleHz").SetValue(strconv.FormatFloat(s.SampleHz, 'f', -1, 64))
	recorder.Key("loops").SetValue(fmt.Sprintf("%d", s.Loops))
	recorder.Key("infinite").SetValue(fmt.Sprintf("%t", s.Infinite))

	return cfg.SaveTo(path)
}

// EngineOptions returns the matching options these settings select
func (s *Settings) EngineOptions() []cv.Option {
	return []cv.Option{
		cv.WithScales(s.Scales...),
		cv.WithCanny(float64(s.CannyLow), float64(s.CannyHigh)),
		cv.WithThresholdBand(s.ThresholdMin, s.ThresholdMax),
		cv.WithDefaultThreshold(s.Threshold),
	}
}

// DefaultClick is the click applied to templates that define none
func (s *Settings) DefaultClick() *cv.ClickConfig {
	return &cv.ClickConfig{
		Type:         "left",
		Count:        s.ClickCount,
		Interval:     s.ClickInterval,
		RandomOffset: s.RandomOffset,
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseScales(v string) ([]float64, error) {
	var out []float64
	for _, p := range splitList(v) {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		if f <= 0 {
			return nil, fmt.Errorf("scale %v must be positive", f)
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no scales given")
	}
	return out, nil
}

package cv

import "jordanella.com/autoclick-go/internal/logging"

// DefaultScales is the scale ladder searched for templates in search mode
var DefaultScales = []float64{1.0, 0.85, 0.9, 0.95, 1.05, 1.1, 1.15, 1.2, 1.25, 1.3}

// Engine options
type Option func(*engineOptions)

type engineOptions struct {
	scales           []float64
	cannyLow         float64
	cannyHigh        float64
	minThreshold     float64
	maxThreshold     float64
	defaultThreshold float64
	correlator       Correlator
	logger           *logging.Logger
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		scales:           DefaultScales,
		cannyLow:         50,
		cannyHigh:        150,
		minThreshold:     0.9,
		maxThreshold:     1.0,
		defaultThreshold: 0.9,
	}
}

// WithScales sets the scale ladder. Order is the tie-break order.
func WithScales(scales ...float64) Option {
	return func(opts *engineOptions) {
		var kept []float64
		for _, s := range scales {
			if s > 0 {
				kept = append(kept, s)
			}
		}
		if len(kept) > 0 {
			opts.scales = kept
		}
	}
}

// WithCanny sets the hysteresis thresholds of the edge detector
func WithCanny(low, high float64) Option {
	return func(opts *engineOptions) {
		opts.cannyLow = low
		opts.cannyHigh = high
	}
}

// WithThresholdBand sets the range every template threshold is clamped into
func WithThresholdBand(min, max float64) Option {
	return func(opts *engineOptions) {
		if min > max {
			min, max = max, min
		}
		opts.minThreshold = min
		opts.maxThreshold = max
	}
}

// WithDefaultThreshold sets the threshold for templates that declare none
func WithDefaultThreshold(t float64) Option {
	return func(opts *engineOptions) {
		opts.defaultThreshold = t
	}
}

// WithCorrelator replaces the correlation backend
func WithCorrelator(c Correlator) Option {
	return func(opts *engineOptions) {
		opts.correlator = c
	}
}

// WithLogger sets the engine logger
func WithLogger(l *logging.Logger) Option {
	return func(opts *engineOptions) {
		opts.logger = l
	}
}

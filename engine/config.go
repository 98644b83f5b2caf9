package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"lockin/demod"
	"lockin/reference"
)

// OutputMode selects what a Measurement carries.
type OutputMode int

const (
	XY OutputMode = iota
	Magnitude
)

func (m OutputMode) String() string {
	if m == Magnitude {
		return "magnitude"
	}
	return "xy"
}

func ParseOutputMode(s string) (OutputMode, error) {
	switch strings.ToLower(s) {
	case "", "xy":
		return XY, nil
	case "magnitude", "mag", "r":
		return Magnitude, nil
	}
	return XY, fmt.Errorf("unknown output mode %q", s)
}

// Config holds the acquisition settings. OutputPeriod and IntegrationTime
// are fixed while running; the rest can change at any time.
type Config struct {
	OutputPeriod    time.Duration
	IntegrationTime time.Duration
	VumeterTime     time.Duration
	PhaseDegrees    float64
	InvertChannels  bool
	Threshold       string // auto, zero, average
	Waveform        demod.Waveform
	Output          OutputMode
}

func DefaultConfig() Config {
	return Config{
		OutputPeriod:    500 * time.Millisecond,
		IntegrationTime: 3 * time.Second,
		VumeterTime:     10 * time.Millisecond,
		Threshold:       "auto",
	}
}

// Validate returns every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if c.OutputPeriod <= 0 {
		errs = append(errs, fmt.Errorf("output period must be positive, got %s", c.OutputPeriod))
	}
	if c.IntegrationTime <= 0 {
		errs = append(errs, fmt.Errorf("integration time must be positive, got %s", c.IntegrationTime))
	}
	if c.VumeterTime < 0 {
		errs = append(errs, fmt.Errorf("vumeter time must not be negative, got %s", c.VumeterTime))
	}
	if math.IsNaN(c.PhaseDegrees) || math.IsInf(c.PhaseDegrees, 0) {
		errs = append(errs, fmt.Errorf("phase must be finite, got %v", c.PhaseDegrees))
	}
	if _, _, err := reference.ParseStrategy(c.Threshold); err != nil {
		errs = append(errs, err)
	}
	if c.Waveform != demod.Sine && c.Waveform != demod.Square {
		errs = append(errs, fmt.Errorf("unknown waveform %d", c.Waveform))
	}
	if c.Output != XY && c.Output != Magnitude {
		errs = append(errs, fmt.Errorf("unknown output mode %d", c.Output))
	}
	return errors.Join(errs...)
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }
func radToDeg(r float64) float64 { return r * 180 / math.Pi }

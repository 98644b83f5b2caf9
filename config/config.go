// Package config persists lock-in settings as YAML between runs.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"lockin/demod"
	"lockin/engine"
	"lockin/pcm"
	"lockin/reference"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const FileName = "settings.yaml"

// Settings is the on-disk form of everything the user can tune.
type Settings struct {
	OutputPeriod    time.Duration `yaml:"output_period"`
	IntegrationTime time.Duration `yaml:"integration_time"`
	Phase           float64       `yaml:"phase"` // degrees
	VumeterTime     time.Duration `yaml:"vumeter_time"`
	InvertChannels  bool          `yaml:"invert_channels"`
	Threshold       string        `yaml:"threshold"`
	Waveform        string        `yaml:"waveform"`
	Output          string        `yaml:"output"`

	Device  string         `yaml:"device,omitempty"`
	Format  FormatSettings `yaml:"format,omitempty"`
	Metrics string         `yaml:"metrics_addr,omitempty"`
	Log     string         `yaml:"log_level,omitempty"`
}

// FormatSettings pins the capture format. Zero values mean "pick the
// device's preferred format".
type FormatSettings struct {
	SampleRate int    `yaml:"sample_rate,omitempty"`
	Encoding   string `yaml:"encoding,omitempty"` // s16le, u8, f32le...
}

func Default() Settings {
	d := engine.DefaultConfig()
	return Settings{
		OutputPeriod:    d.OutputPeriod,
		IntegrationTime: d.IntegrationTime,
		VumeterTime:     d.VumeterTime,
		Threshold:       d.Threshold,
		Waveform:        d.Waveform.String(),
		Output:          d.Output.String(),
		Format:          FormatSettings{SampleRate: 48000},
	}
}

// DefaultPath is settings.yaml under the user config directory.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "lockin", FileName), nil
}

// Load reads the settings file at path. A missing file yields defaults.
func Load(path string) (Settings, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadFromReader(f)
	if err != nil {
		return Settings{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return s, nil
}

// LoadFromReader decodes YAML over the defaults and validates the result.
// Unknown keys are an error.
func LoadFromReader(r io.Reader) (Settings, error) {
	s := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate returns every problem found, joined.
func (s Settings) Validate() error {
	var errs []error
	if s.OutputPeriod <= 0 {
		errs = append(errs, fmt.Errorf("output_period %s must be positive", s.OutputPeriod))
	}
	if s.IntegrationTime <= 0 {
		errs = append(errs, fmt.Errorf("integration_time %s must be positive", s.IntegrationTime))
	}
	if s.VumeterTime < 0 {
		errs = append(errs, fmt.Errorf("vumeter_time %s must not be negative", s.VumeterTime))
	}
	if math.IsNaN(s.Phase) || math.IsInf(s.Phase, 0) {
		errs = append(errs, fmt.Errorf("phase %v must be finite", s.Phase))
	}
	if _, _, err := reference.ParseStrategy(s.Threshold); err != nil {
		errs = append(errs, fmt.Errorf("threshold: %w; valid values: auto, zero, average", err))
	}
	if _, err := demod.ParseWaveform(s.Waveform); err != nil {
		errs = append(errs, fmt.Errorf("waveform: %w; valid values: sine, square", err))
	}
	if _, err := engine.ParseOutputMode(s.Output); err != nil {
		errs = append(errs, fmt.Errorf("output: %w; valid values: xy, magnitude", err))
	}
	if s.Format.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("format.sample_rate %d must be positive", s.Format.SampleRate))
	}
	if s.Format.Encoding != "" {
		if _, err := pcm.ParseFormat(s.Format.Encoding, max(s.Format.SampleRate, 1)); err != nil {
			errs = append(errs, fmt.Errorf("format.encoding: %w", err))
		}
	}
	if s.Log != "" {
		if _, err := zerolog.ParseLevel(s.Log); err != nil {
			errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: trace, debug, info, warn, error", s.Log))
		}
	}
	return errors.Join(errs...)
}

// Engine converts the settings into an engine configuration.
func (s Settings) Engine() (engine.Config, error) {
	if err := s.Validate(); err != nil {
		return engine.Config{}, err
	}
	wf, _ := demod.ParseWaveform(s.Waveform)
	out, _ := engine.ParseOutputMode(s.Output)
	return engine.Config{
		OutputPeriod:    s.OutputPeriod,
		IntegrationTime: s.IntegrationTime,
		VumeterTime:     s.VumeterTime,
		PhaseDegrees:    s.Phase,
		InvertChannels:  s.InvertChannels,
		Threshold:       s.Threshold,
		Waveform:        wf,
		Output:          out,
	}, nil
}

// FromEngine copies the tunable engine settings back, so changes made
// while running are persisted.
func (s *Settings) FromEngine(c engine.Config) {
	s.OutputPeriod = c.OutputPeriod
	s.IntegrationTime = c.IntegrationTime
	s.VumeterTime = c.VumeterTime
	s.Phase = c.PhaseDegrees
	s.InvertChannels = c.InvertChannels
	s.Threshold = c.Threshold
	s.Waveform = c.Waveform.String()
	s.Output = c.Output.String()
}

// CaptureFormat returns the pinned format, ok=false when the encoding is
// left to the device.
func (s Settings) CaptureFormat() (pcm.Format, bool, error) {
	if s.Format.Encoding == "" {
		return pcm.Format{}, false, nil
	}
	f, err := pcm.ParseFormat(s.Format.Encoding, s.Format.SampleRate)
	if err != nil {
		return pcm.Format{}, false, err
	}
	return f, true, nil
}

// Save writes s to path through a temporary file and a rename, so a crash
// never leaves a truncated settings file.
func Save(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("config: encode yaml: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write %q: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

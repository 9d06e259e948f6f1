// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Output types
const (
	OutputOto   = "oto"
	OutputMixer = "mixer"
	OutputMIDI  = "midi"
)

// Config represents the application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Playback PlaybackConfig `yaml:"playback"`
	Synth    SynthConfig    `yaml:"synth"`
	Output   OutputConfig   `yaml:"output"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
}

// PlaybackConfig represents playback engine configuration.
type PlaybackConfig struct {
	Loop             bool `yaml:"loop"`
	LoopStart        int  `yaml:"loop_start" validate:"gte=0"`
	LoopEnd          *int `yaml:"loop_end" validate:"omitempty,gte=-1"` // nil or -1 means the last note
	TickResolutionMs int  `yaml:"tick_resolution_ms" default:"5" validate:"gte=1,lte=100"`
}

// LoopEndIndex returns the loop end note index, or a negative value for the last note.
func (p PlaybackConfig) LoopEndIndex() int {
	if p.LoopEnd == nil {
		return -1
	}
	return *p.LoopEnd
}

// SynthConfig represents tone synthesizer configuration.
type SynthConfig struct {
	SampleRate int     `yaml:"sample_rate" default:"44100" validate:"gte=8000,lte=192000"`
	Amplitude  float64 `yaml:"amplitude" default:"1.0" validate:"gt=0,lte=1"`
}

// OutputConfig selects and configures the chord output.
type OutputConfig struct {
	Type     string         `yaml:"type" default:"oto" validate:"oneof=oto mixer midi"`
	Settings map[string]any `yaml:"settings"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	// Defaults on a zero Config cannot fail.
	_ = defaults.Set(&cfg)
	return &cfg
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return parse(data)
}

// LoadOrDefault behaves like Load but falls back to defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return parse(nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TABLOOP_OUTPUT"); v != "" {
		c.Output.Type = strings.ToLower(v)
	}
	if v := os.Getenv("TABLOOP_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if end := c.Playback.LoopEndIndex(); end >= 0 && c.Playback.LoopStart > end {
		return errors.Newf("loop_start (%d) must not be after loop_end (%d)",
			c.Playback.LoopStart, end)
	}
	return nil
}

// TickResolution returns the scheduler polling interval.
func (c *Config) TickResolution() time.Duration {
	return time.Duration(c.Playback.TickResolutionMs) * time.Millisecond
}

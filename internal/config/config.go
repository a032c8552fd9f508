// Package config holds the run configuration for vocalis. It is loaded from an
// optional YAML file, filled with defaults, then overridden by command flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SupportedSampleRates lists the PCM rates the voice classifier accepts.
var SupportedSampleRates = []int{8000, 16000, 32000, 48000}

// SupportedFrameDurations lists the frame lengths (ms) the voice classifier accepts.
var SupportedFrameDurations = []int{10, 20, 30}

// Config represents the complete run configuration
type Config struct {
	Audio    AudioConfig    `yaml:"audio"`
	Presence PresenceConfig `yaml:"presence"`
	Output   OutputConfig   `yaml:"output"`
	Run      RunConfig      `yaml:"run"`
}

// AudioConfig contains the voice segmentation parameters
type AudioConfig struct {
	FrameMs        int           `yaml:"frame_ms"`
	PaddingMs      int           `yaml:"padding_ms"`
	MinSegment     time.Duration `yaml:"min_segment"`
	TriggerRatio   float64       `yaml:"trigger_ratio"`
	Aggressiveness int           `yaml:"aggressiveness"`
}

// PresenceConfig contains the face presence parameters
type PresenceConfig struct {
	Stride         int     `yaml:"stride"`     // clock units between two sampled images
	ClockRate      float64 `yaml:"clock_rate"` // clock units per second
	MatchThreshold float64 `yaml:"match_threshold"`
}

// OutputConfig controls where clips and the report are written
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	Report      string `yaml:"report"`
	ClipPattern string `yaml:"clip_pattern"`
}

// RunConfig contains execution parameters
type RunConfig struct {
	Engines int `yaml:"engines"` // presence periods segmented in parallel
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			FrameMs:        30,
			PaddingMs:      300,
			MinSegment:     7 * time.Second,
			TriggerRatio:   0.9,
			Aggressiveness: 3,
		},
		Presence: PresenceConfig{
			Stride:         15,
			ClockRate:      30,
			MatchThreshold: 0.09,
		},
		Output: OutputConfig{
			Dir:         "output",
			Report:      "speech_seg",
			ClipPattern: "clip-%02d-%02d.wav",
		},
		Run: RunConfig{
			Engines: 1,
		},
	}
}

// Load reads a YAML file on top of the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks every section of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Presence.Validate(); err != nil {
		return fmt.Errorf("presence config: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}
	if err := c.Run.Validate(); err != nil {
		return fmt.Errorf("run config: %w", err)
	}
	return nil
}

// Validate validates the audio configuration
func (a *AudioConfig) Validate() error {
	if !contains(SupportedFrameDurations, a.FrameMs) {
		return fmt.Errorf("frame_ms must be one of %v, got %d", SupportedFrameDurations, a.FrameMs)
	}
	if a.PaddingMs < a.FrameMs {
		return fmt.Errorf("padding_ms must be at least frame_ms (%d), got %d", a.FrameMs, a.PaddingMs)
	}
	if a.MinSegment < 0 {
		return fmt.Errorf("min_segment must not be negative, got %s", a.MinSegment)
	}
	if a.TriggerRatio <= 0 || a.TriggerRatio > 1 {
		return fmt.Errorf("trigger_ratio must be in (0, 1], got %f", a.TriggerRatio)
	}
	if a.Aggressiveness < 0 || a.Aggressiveness > 3 {
		return fmt.Errorf("aggressiveness must be between 0 and 3, got %d", a.Aggressiveness)
	}
	return nil
}

// PaddingFrames returns the ring window capacity.
func (a *AudioConfig) PaddingFrames() int {
	return a.PaddingMs / a.FrameMs
}

// Validate validates the presence configuration
func (p *PresenceConfig) Validate() error {
	if p.Stride <= 0 {
		return fmt.Errorf("stride must be positive, got %d", p.Stride)
	}
	if p.ClockRate <= 0 {
		return fmt.Errorf("clock_rate must be positive, got %f", p.ClockRate)
	}
	if p.MatchThreshold <= 0 {
		return fmt.Errorf("match_threshold must be positive, got %f", p.MatchThreshold)
	}
	return nil
}

// Validate validates the output configuration
func (o *OutputConfig) Validate() error {
	if o.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}
	if o.Report == "" {
		return fmt.Errorf("report cannot be empty")
	}
	if o.ClipPattern == "" {
		return fmt.Errorf("clip_pattern cannot be empty")
	}
	return nil
}

// Validate validates the run configuration
func (r *RunConfig) Validate() error {
	if r.Engines < 1 {
		return fmt.Errorf("engines must be at least 1, got %d", r.Engines)
	}
	return nil
}

// IsSupportedSampleRate reports whether the classifier accepts the rate.
func IsSupportedSampleRate(rate int) bool {
	return contains(SupportedSampleRates, rate)
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Decoding starts from [Default], so a file only needs to name the fields it
// overrides. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Pool. A non-positive turns_per_lap would make the per-turn distance
	// arithmetic divide by zero, so it is rejected here.
	if cfg.Pool.LaneLengthMeters <= 0 {
		errs = append(errs, fmt.Errorf("pool.lane_length_meters %d must be positive", cfg.Pool.LaneLengthMeters))
	}
	if cfg.Pool.TurnsPerLap <= 0 {
		errs = append(errs, fmt.Errorf("pool.turns_per_lap %d must be positive", cfg.Pool.TurnsPerLap))
	}

	// Detect
	if cfg.Detect.Sensitivity < 0 || cfg.Detect.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("detect.sensitivity %.2f is out of range [0, 1]", cfg.Detect.Sensitivity))
	}
	if cfg.Detect.MinIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("detect.min_interval_ms %d must not be negative", cfg.Detect.MinIntervalMs))
	}
	if cfg.Detect.SoundBlockSize < 0 {
		errs = append(errs, fmt.Errorf("detect.sound_block_size %d must not be negative", cfg.Detect.SoundBlockSize))
	}
	if !cfg.Detect.CameraFacing.IsValid() {
		errs = append(errs, fmt.Errorf("detect.camera_facing %q is invalid; valid values: back, front", cfg.Detect.CameraFacing))
	}
	if err := cfg.Detect.ROI.Back.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detect.roi.back: %w", err))
	}
	if err := cfg.Detect.ROI.Front.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detect.roi.front: %w", err))
	}

	return errors.Join(errs...)
}

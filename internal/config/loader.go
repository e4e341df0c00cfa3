package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidClassifierNames lists known frame classifier implementations.
var ValidClassifierNames = []string{"energy"}

// ValidSTTNames lists known transcriber implementations.
var ValidSTTNames = []string{"whisper", "openai"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
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

	// Capture
	if cfg.Capture.UserID == "" {
		errs = append(errs, errors.New("capture.user_id is required"))
	}
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.FrameDuration < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_duration %v must be positive", cfg.Capture.FrameDuration.Std()))
	}

	// Classifier
	if cfg.Classifier.Name != "" && !slices.Contains(ValidClassifierNames, cfg.Classifier.Name) {
		slog.Warn("unknown classifier name — may be a typo",
			"name", cfg.Classifier.Name,
			"known", ValidClassifierNames,
		)
	}
	if cfg.Classifier.EnergyGate < 0 {
		errs = append(errs, fmt.Errorf("classifier.energy_gate %.1f must not be negative", cfg.Classifier.EnergyGate))
	}

	// STT
	if cfg.STT.Name == "" {
		errs = append(errs, errors.New("stt.name is required"))
	} else if !slices.Contains(ValidSTTNames, cfg.STT.Name) {
		errs = append(errs, fmt.Errorf("stt.name %q is invalid; valid values: whisper, openai", cfg.STT.Name))
	}
	if cfg.STT.Name == "openai" && cfg.STT.APIKey == "" {
		errs = append(errs, errors.New("stt.api_key is required for the openai transcriber"))
	}

	// Thresholds
	if cfg.Thresholds.ThinkingScale < 0 || cfg.Thresholds.ThinkingScale > 1 {
		if cfg.Thresholds.ThinkingScale != 0 {
			errs = append(errs, fmt.Errorf("thresholds.thinking_scale %.2f is out of range (0, 1]", cfg.Thresholds.ThinkingScale))
		}
	}
	if cfg.Thresholds.InterruptScale < 0 {
		errs = append(errs, fmt.Errorf("thresholds.interrupt_scale %.2f must not be negative", cfg.Thresholds.InterruptScale))
	}

	// Learning
	if cfg.Learning.Rate < 0 || cfg.Learning.Rate > 1 {
		errs = append(errs, fmt.Errorf("learning.rate %.2f is out of range [0, 1]", cfg.Learning.Rate))
	}

	// Profiles
	if cfg.Profiles.Store != "" && !cfg.Profiles.Store.IsValid() {
		errs = append(errs, fmt.Errorf("profiles.store %q is invalid; valid values: postgres, file, memory", cfg.Profiles.Store))
	}
	switch cfg.Profiles.Store {
	case StorePostgres:
		if cfg.Profiles.PostgresDSN == "" {
			errs = append(errs, errors.New("profiles.postgres_dsn is required for the postgres store"))
		}
	case StoreFile:
		if cfg.Profiles.Dir == "" {
			errs = append(errs, errors.New("profiles.dir is required for the file store"))
		}
	case StoreMemory:
		slog.Warn("profiles.store is \"memory\"; learned profiles will not survive a restart")
	}

	return errors.Join(errs...)
}

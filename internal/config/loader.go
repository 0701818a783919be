package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued audio settings before validation, so
// band specs are checked against the rate the pipeline will actually run at.
func applyDefaults(cfg *Config) {
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.ChunkSeconds == 0 {
		cfg.Audio.ChunkSeconds = DefaultChunkSeconds
	}
	if cfg.Audio.IngestTimeout == 0 {
		cfg.Audio.IngestTimeout = DefaultIngestTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.ChunkSeconds < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_seconds %.2f must be positive", cfg.Audio.ChunkSeconds))
	}

	// Bands — each spec must be realisable at the processing rate.
	bandsSeen := make(map[string]int, len(cfg.Bands))
	for i, spec := range cfg.Bands {
		prefix := fmt.Sprintf("bands[%d]", i)
		if spec.Band == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := bandsSeen[spec.Band]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of bands[%d]", prefix, spec.Band, prev))
		} else {
			bandsSeen[spec.Band] = i
		}
		if err := spec.Validate(cfg.Audio.SampleRate); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	// Threshold
	if cfg.Threshold.Min != 0 && cfg.Threshold.Max != 0 && cfg.Threshold.Min >= cfg.Threshold.Max {
		errs = append(errs, fmt.Errorf("threshold.min %.1f must be below threshold.max %.1f", cfg.Threshold.Min, cfg.Threshold.Max))
	}

	// Patterns
	patternsSeen := make(map[string]int, len(cfg.Patterns))
	for i, p := range cfg.Patterns {
		prefix := fmt.Sprintf("patterns[%d]", i)
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if prev, ok := patternsSeen[string(p.Type)]; ok {
			errs = append(errs, fmt.Errorf("%s.type %q is a duplicate of patterns[%d]", prefix, p.Type, prev))
		} else {
			patternsSeen[string(p.Type)] = i
		}
	}

	// Streams
	streamsSeen := make(map[string]int, len(cfg.Streams))
	for i, s := range cfg.Streams {
		prefix := fmt.Sprintf("streams[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := streamsSeen[s.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of streams[%d]", prefix, s.Name, prev))
		} else {
			streamsSeen[s.Name] = i
		}
		if s.Context.Vibration < 0 || s.Context.Vibration > 1 {
			errs = append(errs, fmt.Errorf("%s.context.vibration %.2f is out of range [0, 1]", prefix, s.Context.Vibration))
		}
		if s.Context.PowerKW < 0 {
			errs = append(errs, fmt.Errorf("%s.context.power_kw %.2f must not be negative", prefix, s.Context.PowerKW))
		}
	}

	// Workers
	if cfg.Workers.MaxStreams < 0 {
		errs = append(errs, fmt.Errorf("workers.max_streams %d must not be negative", cfg.Workers.MaxStreams))
	}
	if cfg.Workers.MaxBandParallel < 0 {
		errs = append(errs, fmt.Errorf("workers.max_band_parallel %d must not be negative", cfg.Workers.MaxBandParallel))
	}

	// Storage availability warnings
	if cfg.Storage.PostgresURL == "" && len(cfg.Streams) > 0 {
		slog.Warn("storage.postgres_url is empty; detection history will not survive restarts")
	}
	if cfg.Storage.RedisAddr == "" && len(cfg.Streams) > 0 {
		slog.Warn("storage.redis_addr is empty; reports will be rebuilt on every request")
	}

	return errors.Join(errs...)
}

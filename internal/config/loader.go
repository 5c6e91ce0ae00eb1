package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields [Default].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
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
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Catalog
	switch cfg.Catalog.Driver {
	case "", DriverMemory:
	case DriverSQLite:
		if cfg.Catalog.Path == "" {
			errs = append(errs, errors.New("catalog.path is required when driver is sqlite"))
		}
	case DriverPostgres:
		if cfg.Catalog.DSN == "" {
			errs = append(errs, errors.New("catalog.dsn is required when driver is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("catalog.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Catalog.Driver))
	}
	if cfg.Catalog.Driver == DriverMemory {
		slog.Warn("catalog.driver is memory; catalog entries will not survive a restart")
	}

	// Resolver
	sources := make(map[string]int, len(cfg.Resolver.Mirrors))
	for i, m := range cfg.Resolver.Mirrors {
		prefix := fmt.Sprintf("resolver.mirrors[%d]", i)
		if m.Source == "" {
			errs = append(errs, fmt.Errorf("%s.source is required", prefix))
		} else {
			if prev, ok := sources[m.Source]; ok {
				errs = append(errs, fmt.Errorf("%s.source %q is a duplicate of resolver.mirrors[%d]", prefix, m.Source, prev))
			}
			sources[m.Source] = i
		}
		if m.Template != "" && !strings.Contains(m.Template, "{word}") {
			errs = append(errs, fmt.Errorf("%s.template %q must contain {word}", prefix, m.Template))
		}
	}
	if cfg.Resolver.ProbeTimeout < 0 {
		errs = append(errs, fmt.Errorf("resolver.probe_timeout %s must not be negative", cfg.Resolver.ProbeTimeout))
	}
	b := cfg.Resolver.Breaker
	if b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("resolver.breaker values must not be negative"))
	}

	// Library
	if cfg.Library.BrowseCount < 0 {
		errs = append(errs, fmt.Errorf("library.browse_count %d must not be negative", cfg.Library.BrowseCount))
	}
	if cfg.Library.Debounce < 0 {
		errs = append(errs, fmt.Errorf("library.debounce %s must not be negative", cfg.Library.Debounce))
	}

	// Playback
	if cfg.Playback.PreviousThreshold < 0 {
		errs = append(errs, fmt.Errorf("playback.previous_threshold %s must not be negative", cfg.Playback.PreviousThreshold))
	}
	if cfg.Playback.ClipDuration < 0 {
		errs = append(errs, fmt.Errorf("playback.clip_duration %s must not be negative", cfg.Playback.ClipDuration))
	}

	// Capture
	if cfg.Capture.Countdown < 0 {
		errs = append(errs, fmt.Errorf("capture.countdown %d must not be negative", cfg.Capture.Countdown))
	}
	if cfg.Capture.Tick < 0 {
		errs = append(errs, fmt.Errorf("capture.tick %s must not be negative", cfg.Capture.Tick))
	}

	// Transcript
	c := cfg.Transcript.Correction
	if c.PhoneticThreshold < 0 || c.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcript.correction.phonetic_threshold %.2f is out of range [0, 1]", c.PhoneticThreshold))
	}
	if c.FuzzyThreshold < 0 || c.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcript.correction.fuzzy_threshold %.2f is out of range [0, 1]", c.FuzzyThreshold))
	}

	return errors.Join(errs...)
}

// Package config provides the configuration schema, loader, validation and
// hot-reload watcher for the signdeck service.
package config

import "time"

// LogLevel controls log verbosity for the signdeck server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CatalogDriver selects the catalog storage backend.
type CatalogDriver string

const (
	DriverMemory   CatalogDriver = "memory"
	DriverSQLite   CatalogDriver = "sqlite"
	DriverPostgres CatalogDriver = "postgres"
)

// IsValid reports whether d is a recognised catalog driver.
func (d CatalogDriver) IsValid() bool {
	switch d {
	case DriverMemory, DriverSQLite, DriverPostgres:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultSQLitePath        = "signdeck.db"
	DefaultProbeTimeout      = 5 * time.Second
	DefaultBrowseCount       = 6
	DefaultDebounce          = 300 * time.Millisecond
	DefaultPreviousThreshold = 2 * time.Second
	DefaultClipDuration      = 2 * time.Second
	DefaultCountdown         = 3
	DefaultTick              = time.Second
	DefaultClipsDir          = "clips"
	DefaultMinWordLength     = 4
)

// Config is the root configuration structure for signdeck.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Library    LibraryConfig    `yaml:"library"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Capture    CaptureConfig    `yaml:"capture"`
	Clips      ClipsConfig      `yaml:"clips"`
	WordPool   WordPoolConfig   `yaml:"word_pool"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds network and logging settings for the signdeck server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// CatalogConfig selects where catalog entries are stored.
type CatalogConfig struct {
	// Driver is one of memory, sqlite or postgres. Default: sqlite.
	Driver CatalogDriver `yaml:"driver"`

	// Path is the SQLite database file. ":memory:" keeps it in process.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string. Required for postgres.
	DSN string `yaml:"dsn"`
}

// ResolverConfig configures the remote mirror lookup.
type ResolverConfig struct {
	// Mirrors are probed in order. Empty selects the built-in mirror list.
	Mirrors []MirrorConfig `yaml:"mirrors"`

	// ProbeTimeout bounds a single HTTP probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// UserAgent is sent with every probe.
	UserAgent string `yaml:"user_agent"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// MirrorConfig is one remote clip source.
type MirrorConfig struct {
	Source string `yaml:"source"`

	// Template overrides the locator template. It must contain {word}.
	Template string `yaml:"template"`
}

// BreakerConfig tunes the per-mirror circuit breaker. Zero values select
// the breaker's own defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// LibraryConfig tunes search and browse. Both fields are hot-reloadable.
type LibraryConfig struct {
	// BrowseCount is how many remote suggestions an idle browse collects.
	BrowseCount int `yaml:"browse_count"`

	// Debounce delays the remote lookup of a search query.
	Debounce time.Duration `yaml:"debounce"`
}

// PlaybackConfig tunes the playback queue.
type PlaybackConfig struct {
	// PreviousThreshold is how far into a clip "previous" restarts it
	// instead of stepping back. Hot-reloadable.
	PreviousThreshold time.Duration `yaml:"previous_threshold"`

	// ClipDuration is the nominal clip length used by the headless player.
	ClipDuration time.Duration `yaml:"clip_duration"`
}

// CaptureConfig tunes the recording countdown.
type CaptureConfig struct {
	Countdown int           `yaml:"countdown"`
	Tick      time.Duration `yaml:"tick"`
}

// ClipsConfig locates the permanent clip directory.
type ClipsConfig struct {
	Dir string `yaml:"dir"`
}

// WordPoolConfig selects the candidate words for idle browsing.
type WordPoolConfig struct {
	// Path is a newline-separated word file. Empty uses the embedded list.
	Path string `yaml:"path"`
}

// TranscriptConfig controls phonetic correction of incoming transcripts.
type TranscriptConfig struct {
	Correction CorrectionConfig `yaml:"correction"`
}

// CorrectionConfig configures the phonetic corrector. Zero thresholds select
// the matcher defaults.
type CorrectionConfig struct {
	Enabled           bool    `yaml:"enabled"`
	MinWordLength     int     `yaml:"min_word_length"`
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
	FuzzyThreshold    float64 `yaml:"fuzzy_threshold"`
}

// ApplyDefaults fills unset fields of cfg with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Catalog.Driver == "" {
		cfg.Catalog.Driver = DriverSQLite
	}
	if cfg.Catalog.Driver == DriverSQLite && cfg.Catalog.Path == "" {
		cfg.Catalog.Path = DefaultSQLitePath
	}
	if cfg.Resolver.ProbeTimeout == 0 {
		cfg.Resolver.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Library.BrowseCount == 0 {
		cfg.Library.BrowseCount = DefaultBrowseCount
	}
	if cfg.Library.Debounce == 0 {
		cfg.Library.Debounce = DefaultDebounce
	}
	if cfg.Playback.PreviousThreshold == 0 {
		cfg.Playback.PreviousThreshold = DefaultPreviousThreshold
	}
	if cfg.Playback.ClipDuration == 0 {
		cfg.Playback.ClipDuration = DefaultClipDuration
	}
	if cfg.Capture.Countdown == 0 {
		cfg.Capture.Countdown = DefaultCountdown
	}
	if cfg.Capture.Tick == 0 {
		cfg.Capture.Tick = DefaultTick
	}
	if cfg.Clips.Dir == "" {
		cfg.Clips.Dir = DefaultClipsDir
	}
	if cfg.Transcript.Correction.MinWordLength == 0 {
		cfg.Transcript.Correction.MinWordLength = DefaultMinWordLength
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

package config

import "time"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LibraryChanged bool // browse_count or debounce
	NewBrowseCount int
	NewDebounce    time.Duration

	PreviousThresholdChanged bool
	NewPreviousThreshold     time.Duration

	// RestartRequired lists sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LibraryChanged || d.PreviousThresholdChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Library != new.Library {
		d.LibraryChanged = true
		d.NewBrowseCount = new.Library.BrowseCount
		d.NewDebounce = new.Library.Debounce
	}

	if old.Playback.PreviousThreshold != new.Playback.PreviousThreshold {
		d.PreviousThresholdChanged = true
		d.NewPreviousThreshold = new.Playback.PreviousThreshold
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Catalog != new.Catalog {
		d.RestartRequired = append(d.RestartRequired, "catalog")
	}
	if !sameResolver(old.Resolver, new.Resolver) {
		d.RestartRequired = append(d.RestartRequired, "resolver")
	}
	if old.Playback.ClipDuration != new.Playback.ClipDuration {
		d.RestartRequired = append(d.RestartRequired, "playback.clip_duration")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Clips != new.Clips {
		d.RestartRequired = append(d.RestartRequired, "clips")
	}
	if old.WordPool != new.WordPool {
		d.RestartRequired = append(d.RestartRequired, "word_pool")
	}
	if old.Transcript != new.Transcript {
		d.RestartRequired = append(d.RestartRequired, "transcript")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameResolver(a, b ResolverConfig) bool {
	if a.ProbeTimeout != b.ProbeTimeout || a.UserAgent != b.UserAgent || a.Breaker != b.Breaker {
		return false
	}
	if len(a.Mirrors) != len(b.Mirrors) {
		return false
	}
	for i := range a.Mirrors {
		if a.Mirrors[i] != b.Mirrors[i] {
			return false
		}
	}
	return true
}

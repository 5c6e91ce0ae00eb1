// Package types defines the shared value types used across signdeck packages.
//
// These types form the lingua franca between the catalog, the resolver, the
// library coordinator and the playback controller. Each package defines its
// own domain types; only cross-cutting values live here to avoid circular
// imports.
package types

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Locator is an opaque reference to a playable clip. It is either a local
// file path (inside the clip directory) or a remote address (http/https URL).
// The empty Locator means "no clip".
type Locator string

// IsZero reports whether l references no clip.
func (l Locator) IsZero() bool { return l == "" }

// IsRemote reports whether l is an http or https address.
func (l Locator) IsRemote() bool {
	u, err := url.Parse(string(l))
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Base returns the last path element of the locator (the file name for local
// clips, the last URL path segment for remote ones).
func (l Locator) Base() string {
	if l.IsRemote() {
		u, _ := url.Parse(string(l))
		return filepath.Base(u.Path)
	}
	return filepath.Base(string(l))
}

// String implements fmt.Stringer.
func (l Locator) String() string { return string(l) }

// Provenance records where a displayed item originates from.
type Provenance int

const (
	// ProvenanceLocal marks an item backed by a catalog entry.
	ProvenanceLocal Provenance = iota

	// ProvenanceRemote marks an item suggested by a remote mirror.
	ProvenanceRemote
)

// String returns the human-readable name of the provenance.
func (p Provenance) String() string {
	switch p {
	case ProvenanceLocal:
		return "local"
	case ProvenanceRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Transcript is a single update from a speech-to-text stream. Text always
// carries the full transcript recognised so far, not a delta.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether the recogniser committed to this text.
	IsFinal bool
}

// NormalizeWord lowercases w and trims surrounding whitespace. It is the
// canonical form used for catalog keys and case-insensitive comparison.
func NormalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

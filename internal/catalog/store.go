// Package catalog holds the locally persisted set of known words and their
// clip references.
//
// A [Store] is the persistence collaborator. Three implementations ship with
// signdeck: [MemStore] for tests and ephemeral runs, [SQLiteStore] for the
// default on-disk catalog and [PostgresStore] for shared deployments.
// [Notifying] wraps any Store and publishes an [Event] on a [Notifier] after
// every successful write so that coordinators can recompute their views.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/signdeck/pkg/types"
)

// ErrNotFound is returned when no entry exists for the requested key.
var ErrNotFound = errors.New("catalog: entry not found")

// ErrDuplicateKey is returned by Insert when an entry with the same key exists.
var ErrDuplicateKey = errors.New("catalog: entry with that key already exists")

// ErrEmptyKey is returned when an entry key is empty after normalisation.
var ErrEmptyKey = errors.New("catalog: key must be non-empty")

// Entry is a single catalog record.
type Entry struct {
	// Key is the lowercased, unique word.
	Key string

	// Clip references the playable clip. Empty when the word is known but no
	// clip was recorded or saved for it yet.
	Clip types.Locator

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Order selects the sort order of [Store.List].
type Order int

const (
	// OrderAlphabetical sorts by key ascending.
	OrderAlphabetical Order = iota

	// OrderRecentlyUpdated sorts by UpdatedAt descending, then by key.
	OrderRecentlyUpdated
)

// Store is the catalog persistence contract. Implementations must be safe for
// concurrent use and must return copies: callers may not observe later
// mutations through a returned Entry.
type Store interface {
	// List returns all entries in the requested order.
	List(ctx context.Context, order Order) ([]Entry, error)

	// Get returns the entry for key (normalised before lookup).
	// Returns [ErrNotFound] when absent.
	Get(ctx context.Context, key string) (Entry, error)

	// Insert creates a new entry. The key is normalised; CreatedAt and
	// UpdatedAt are set by the store. Returns [ErrDuplicateKey] if the key
	// exists and [ErrEmptyKey] if the key is empty.
	Insert(ctx context.Context, e Entry) (Entry, error)

	// Update replaces the clip of an existing entry and bumps UpdatedAt.
	// Returns [ErrNotFound] when absent.
	Update(ctx context.Context, e Entry) (Entry, error)

	// Delete removes the entry for key. Returns [ErrNotFound] when absent.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every entry.
	DeleteAll(ctx context.Context) error
}

// Keys returns the set of keys of entries. The result is suitable as the
// known-word set of the unknown-word extractor.
func Keys(entries []Entry) map[string]struct{} {
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		out[e.Key] = struct{}{}
	}
	return out
}

// normalizeKey validates and normalises e.Key in place.
func normalizeKey(e *Entry) error {
	e.Key = types.NormalizeWord(e.Key)
	if e.Key == "" {
		return ErrEmptyKey
	}
	return nil
}

// IsNotFound reports whether err wraps [ErrNotFound].
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("catalog: %s: %w", op, err)
}

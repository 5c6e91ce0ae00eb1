// Package mock provides test doubles for the clipstore package.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/signdeck/internal/clipstore"
	"github.com/MrWong99/signdeck/pkg/types"
)

// MoveCall records one Move invocation.
type MoveCall struct {
	Temp types.Locator
	Name string
}

// Store is a mock implementation of clipstore.Mover and clipstore.Remover.
// Moves succeed with Root + "/" + name unless MoveErr is set.
type Store struct {
	mu sync.Mutex

	// Root prefixes the locators returned by Move.
	Root string

	// MoveErr, when non-nil, is returned by every Move.
	MoveErr error

	// RemoveErr, when non-nil, is returned by every Remove.
	RemoveErr error

	MoveCalls   []MoveCall
	RemoveCalls []types.Locator
}

// Move records the call and returns a locator under Root.
func (s *Store) Move(_ context.Context, temp types.Locator, name string) (types.Locator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MoveCalls = append(s.MoveCalls, MoveCall{Temp: temp, Name: name})
	if s.MoveErr != nil {
		return "", s.MoveErr
	}
	return types.Locator(s.Root + "/" + name), nil
}

// Remove records the call.
func (s *Store) Remove(_ context.Context, clip types.Locator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RemoveCalls = append(s.RemoveCalls, clip)
	return s.RemoveErr
}

// Removed returns a copy of RemoveCalls. Thread-safe.
func (s *Store) Removed() []types.Locator {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Locator, len(s.RemoveCalls))
	copy(out, s.RemoveCalls)
	return out
}

// Ensure Store implements the clipstore interfaces at compile time.
var (
	_ clipstore.Mover   = (*Store)(nil)
	_ clipstore.Remover = (*Store)(nil)
)

// Package mock provides test doubles for the capture package.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/signdeck/internal/capture"
	"github.com/MrWong99/signdeck/internal/catalog"
	"github.com/MrWong99/signdeck/pkg/types"
)

// Recorder is a mock implementation of capture.Recorder.
type Recorder struct {
	mu sync.Mutex

	StartErr error
	StopErr  error

	// Clip is returned by StopRecording when StopErr is nil.
	Clip types.Locator

	Starts int
	Stops  int
}

// StartRecording records the call and returns StartErr.
func (r *Recorder) StartRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Starts++
	return r.StartErr
}

// StopRecording records the call and returns Clip or StopErr.
func (r *Recorder) StopRecording(context.Context) (types.Locator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stops++
	if r.StopErr != nil {
		return "", r.StopErr
	}
	return r.Clip, nil
}

// StartCount returns Starts. Thread-safe.
func (r *Recorder) StartCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Starts
}

// SaveCall records one SaveCapture invocation.
type SaveCall struct {
	Word string
	Temp types.Locator
}

// Saver is a mock implementation of capture.Saver.
type Saver struct {
	mu sync.Mutex

	Err   error
	Calls []SaveCall
}

// SaveCapture records the call and returns Err or an entry for word.
func (s *Saver) SaveCapture(_ context.Context, word string, temp types.Locator) (catalog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, SaveCall{Word: word, Temp: temp})
	if s.Err != nil {
		return catalog.Entry{}, s.Err
	}
	return catalog.Entry{Key: word, Clip: temp}, nil
}

// Compile-time interface checks.
var (
	_ capture.Recorder = (*Recorder)(nil)
	_ capture.Saver    = (*Saver)(nil)
)

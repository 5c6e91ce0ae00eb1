package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/signdeck/pkg/types"
)

// errNoUpload is returned when recording stops before a clip was uploaded.
var errNoUpload = errors.New("app: no clip uploaded")

// uploadRecorder is the capture recorder used when no camera is attached to
// the service: the client records the clip itself and uploads it when it
// stops recording. The upload is staged in a temporary file that the clip
// store later moves into place.
type uploadRecorder struct {
	mu     sync.Mutex
	staged string
}

// StartRecording implements capture.Recorder. A leftover staged upload
// from an abandoned take is discarded.
func (r *uploadRecorder) StartRecording() error {
	r.discard()
	return nil
}

// StopRecording implements capture.Recorder and hands over the staged
// upload.
func (r *uploadRecorder) StopRecording(_ context.Context) (types.Locator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staged == "" {
		return "", errNoUpload
	}
	loc := types.Locator(r.staged)
	r.staged = ""
	return loc, nil
}

// stage copies body into a temporary file with the given extension,
// replacing any previous upload.
func (r *uploadRecorder) stage(body io.Reader, ext string) error {
	f, err := os.CreateTemp("", "signdeck-take-*"+ext)
	if err != nil {
		return fmt.Errorf("app: stage upload: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("app: stage upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("app: stage upload: %w", err)
	}

	r.mu.Lock()
	prev := r.staged
	r.staged = f.Name()
	r.mu.Unlock()
	if prev != "" {
		removeStaged(prev)
	}
	return nil
}

func (r *uploadRecorder) discard() {
	r.mu.Lock()
	prev := r.staged
	r.staged = ""
	r.mu.Unlock()
	if prev != "" {
		removeStaged(prev)
	}
}

func removeStaged(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove staged upload", "path", path, "err", err)
	}
}

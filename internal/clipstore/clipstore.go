// Package clipstore keeps captured clips in a permanent directory.
//
// Recorders write to temporary locations; when the user saves a capture the
// library moves the file here with a [Mover] and stores the returned locator
// in the catalog. Every path handled by [Dir] is confined to its root.
package clipstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"unicode"

	"github.com/google/uuid"

	"github.com/MrWong99/signdeck/pkg/types"
)

// ErrEscapesRoot is returned when a name or locator would resolve outside the
// clip directory.
var ErrEscapesRoot = errors.New("clipstore: path escapes the clip directory")

// Mover moves a temporary clip into permanent storage under name and
// returns the permanent locator. A failed move leaves no permanent file.
type Mover interface {
	Move(ctx context.Context, temp types.Locator, name string) (types.Locator, error)
}

// Remover deletes a permanently stored clip. Removing a clip that no longer
// exists is not an error.
type Remover interface {
	Remove(ctx context.Context, clip types.Locator) error
}

// Dir is a [Mover] and [Remover] backed by a local directory.
type Dir struct {
	root string
}

// Compile-time interface checks.
var (
	_ Mover   = (*Dir)(nil)
	_ Remover = (*Dir)(nil)
)

// NewDir returns a [Dir] rooted at root, creating the directory if needed.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("clipstore: root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("clipstore: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("clipstore: create root: %w", err)
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute clip directory.
func (d *Dir) Root() string { return d.root }

// NameFor returns a fresh permanent file name for a clip of word, keeping
// the extension of temp. The name is unique per call.
func NameFor(word string, temp types.Locator) string {
	var b strings.Builder
	for _, r := range types.NormalizeWord(word) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('-')
		}
	}
	stem := b.String()
	if stem == "" {
		stem = "clip"
	}
	ext := filepath.Ext(temp.Base())
	if ext == "" {
		ext = ".mov"
	}
	return stem + "-" + uuid.NewString() + ext
}

// safePath joins name onto the root and rejects results outside it.
func (d *Dir) safePath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("clipstore: name must not be empty")
	}
	joined := filepath.Join(d.root, name)
	if !strings.HasPrefix(joined, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, name)
	}
	return joined, nil
}

// Move implements [Mover]. temp must be a local file locator. An empty name
// gets a generated one.
func (d *Dir) Move(ctx context.Context, temp types.Locator, name string) (types.Locator, error) {
	if temp.IsZero() || temp.IsRemote() {
		return "", fmt.Errorf("clipstore: move: %q is not a local clip", temp)
	}
	if name == "" {
		name = NameFor("", temp)
	}
	dst, err := d.safePath(name)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src := temp.String()
	if err := os.Rename(src, dst); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return "", fmt.Errorf("clipstore: move %q: %w", src, err)
		}
		if err := copyFile(src, dst); err != nil {
			return "", fmt.Errorf("clipstore: move %q: %w", src, err)
		}
		_ = os.Remove(src)
	}
	return types.Locator(dst), nil
}

// copyFile copies src to dst, removing dst again on failure.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

// Remove implements [Remover]. Remote and empty locators are ignored; local
// locators outside the root are rejected with [ErrEscapesRoot].
func (d *Dir) Remove(_ context.Context, clip types.Locator) error {
	if clip.IsZero() || clip.IsRemote() {
		return nil
	}
	rel, err := filepath.Rel(d.root, filepath.Clean(clip.String()))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %q", ErrEscapesRoot, clip)
	}
	path, err := d.safePath(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clipstore: remove %q: %w", path, err)
	}
	return nil
}

// Check verifies the clip directory exists and is writable. It is suitable
// as a readiness check.
func (d *Dir) Check(_ context.Context) error {
	f, err := os.CreateTemp(d.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("clipstore: %s not writable: %w", d.root, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

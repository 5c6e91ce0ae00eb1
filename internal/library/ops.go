package library

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/signdeck/internal/catalog"
	"github.com/MrWong99/signdeck/internal/clipstore"
	"github.com/MrWong99/signdeck/pkg/types"
)

// SaveRemote adds a remote suggestion to the catalog with its remote clip.
func (c *Coordinator) SaveRemote(ctx context.Context, it Item) (catalog.Entry, error) {
	if it.Provenance != types.ProvenanceRemote {
		return catalog.Entry{}, ErrNotRemote
	}
	e, err := c.store.Insert(ctx, catalog.Entry{Key: it.Word, Clip: it.Clip})
	c.metrics.RecordCatalogWrite(ctx, "insert", err)
	if err != nil {
		return catalog.Entry{}, fmt.Errorf("library: save remote %q: %w", it.Word, err)
	}
	slog.Info("saved remote sign", "word", e.Key)
	c.refreshUnlessAttached()
	return e, nil
}

// SaveCapture moves the recorded clip at temp into the clip store and
// points the catalog entry for word at it, creating the entry if needed.
// When the move fails nothing is written. When the entry already had a
// local clip, that file is removed once the catalog points at the new one.
func (c *Coordinator) SaveCapture(ctx context.Context, word string, temp types.Locator) (catalog.Entry, error) {
	key := types.NormalizeWord(word)
	if key == "" {
		return catalog.Entry{}, catalog.ErrEmptyKey
	}
	if c.mover == nil {
		return catalog.Entry{}, ErrNoClipStore
	}

	existing, err := c.store.Get(ctx, key)
	exists := err == nil
	if err != nil && !catalog.IsNotFound(err) {
		return catalog.Entry{}, fmt.Errorf("library: save capture %q: %w", key, err)
	}

	clip, err := c.mover.Move(ctx, temp, clipstore.NameFor(key, temp))
	if err != nil {
		return catalog.Entry{}, fmt.Errorf("library: save capture %q: %w", key, err)
	}

	var e catalog.Entry
	if exists {
		e, err = c.store.Update(ctx, catalog.Entry{Key: key, Clip: clip})
		c.metrics.RecordCatalogWrite(ctx, "update", err)
	} else {
		e, err = c.store.Insert(ctx, catalog.Entry{Key: key, Clip: clip})
		c.metrics.RecordCatalogWrite(ctx, "insert", err)
	}
	if err != nil {
		c.removeClip(ctx, clip)
		return catalog.Entry{}, fmt.Errorf("library: save capture %q: %w", key, err)
	}
	if exists && existing.Clip != clip {
		c.removeClip(ctx, existing.Clip)
	}
	slog.Info("saved captured sign", "word", key, "clip", clip.Base(), "replaced", exists)
	c.refreshUnlessAttached()
	return e, nil
}

// Delete removes a local item and its clip file.
func (c *Coordinator) Delete(ctx context.Context, it Item) error {
	if it.Provenance != types.ProvenanceLocal || it.Entry == nil {
		return ErrNotLocal
	}
	err := c.store.Delete(ctx, it.Entry.Key)
	c.metrics.RecordCatalogWrite(ctx, "delete", err)
	if err != nil {
		return fmt.Errorf("library: delete %q: %w", it.Entry.Key, err)
	}
	c.removeClip(ctx, it.Entry.Clip)
	c.refreshUnlessAttached()
	return nil
}

// DeleteAll empties the catalog and removes every local clip file.
func (c *Coordinator) DeleteAll(ctx context.Context) error {
	entries, err := c.store.List(ctx, catalog.OrderAlphabetical)
	if err != nil {
		return fmt.Errorf("library: delete all: %w", err)
	}
	err = c.store.DeleteAll(ctx)
	c.metrics.RecordCatalogWrite(ctx, "delete_all", err)
	if err != nil {
		return fmt.Errorf("library: delete all: %w", err)
	}
	for _, e := range entries {
		c.removeClip(ctx, e.Clip)
	}
	slog.Info("library cleared", "entries", len(entries))
	c.refreshUnlessAttached()
	return nil
}

// removeClip deletes a local clip file. Failures are logged and ignored.
func (c *Coordinator) removeClip(ctx context.Context, clip types.Locator) {
	if c.remover == nil || clip.IsZero() || clip.IsRemote() {
		return
	}
	if err := c.remover.Remove(ctx, clip); err != nil {
		slog.Warn("failed to remove clip file", "clip", clip.String(), "err", err)
	}
}

// refreshUnlessAttached refreshes the view after a write when no catalog
// subscription will do it.
func (c *Coordinator) refreshUnlessAttached() {
	c.mu.Lock()
	attached := c.unsub != nil
	c.mu.Unlock()
	if !attached {
		c.Refresh()
	}
}

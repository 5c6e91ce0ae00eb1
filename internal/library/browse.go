package library

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/signdeck/internal/catalog"
	"github.com/MrWong99/signdeck/internal/observe"
)

func (c *Coordinator) startBrowse() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.browse.stop()
	ctx, h := c.newTaskLocked()
	c.browse = h
	c.loadingInitial = true
	count := c.browseCount
	c.wg.Add(1)
	c.unlockAndNotify()

	go func() {
		defer c.wg.Done()
		defer h.cancel()
		c.runBrowse(ctx, h.gen, count)
	}()
}

func (c *Coordinator) runBrowse(ctx context.Context, gen uint64, count int) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "library.browse")
	var spanErr error
	defer func() { observe.EndSpan(span, spanErr) }()

	entries, err := c.store.List(ctx, catalog.OrderAlphabetical)
	if err != nil {
		spanErr = err
		if ctx.Err() == nil {
			observe.Logger(ctx).Warn("browse: list catalog failed", "err", err)
		}
		c.finishBrowse(ctx, gen, nil, false)
		return
	}
	items := make([]Item, 0, len(entries)+count)
	for _, e := range entries {
		items = append(items, localItem(e))
	}

	remote := c.suggest(ctx, catalog.Keys(entries), count)
	span.SetAttributes(
		observe.KeyLocal.Int(len(entries)),
		observe.KeyRemote.Int(len(remote)),
	)
	items = append(items, remote...)

	if c.finishBrowse(ctx, gen, items, true) {
		c.metrics.BrowseDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// finishBrowse publishes items when the browse identified by gen is still
// current and the query is still empty. It reports whether it published.
func (c *Coordinator) finishBrowse(ctx context.Context, gen uint64, items []Item, publish bool) bool {
	c.mu.Lock()
	if c.browse.gen != gen {
		c.mu.Unlock()
		c.metrics.RecordCancellation(ctx, "browse")
		return false
	}
	c.loadingInitial = false
	published := false
	switch {
	case ctx.Err() != nil:
		c.metrics.RecordCancellation(ctx, "browse")
	case publish && strings.TrimSpace(c.query) == "":
		c.items = items
		published = true
	}
	c.unlockAndNotify()
	return published
}

// suggest resolves randomly sampled pool words, one batch of count words at
// a time, until count of them resolved or the candidates run out. The
// result is sorted by word.
func (c *Coordinator) suggest(ctx context.Context, exclude map[string]struct{}, count int) []Item {
	if c.words == nil || c.resolver == nil || count <= 0 {
		return nil
	}
	c.mu.Lock()
	candidates := c.words.Sample(c.rng, count*candidateFactor, exclude)
	c.mu.Unlock()

	var (
		accMu sync.Mutex
		acc   []Item
	)
	found := func() int {
		accMu.Lock()
		defer accMu.Unlock()
		return len(acc)
	}

	for start := 0; start < len(candidates) && found() < count; start += count {
		if ctx.Err() != nil {
			return nil
		}
		batch := candidates[start:min(start+count, len(candidates))]
		g, gctx := errgroup.WithContext(ctx)
		for _, w := range batch {
			g.Go(func() error {
				loc, ok := c.resolver.Resolve(gctx, w)
				if !ok {
					return nil
				}
				accMu.Lock()
				if len(acc) < count {
					acc = append(acc, remoteItem(w, loc))
				}
				accMu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}
	sortByWord(acc)
	return acc
}

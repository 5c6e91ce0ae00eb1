package library

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/signdeck/internal/catalog"
	"github.com/MrWong99/signdeck/internal/match"
	"github.com/MrWong99/signdeck/internal/observe"
	"github.com/MrWong99/signdeck/pkg/types"
)

func (c *Coordinator) startSearch(ctx context.Context, q string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	taskCtx, h := c.newTaskLocked()
	c.search = h
	debounce := c.debounce
	c.mu.Unlock()

	local, ok := c.searchLocal(ctx, taskCtx, h.gen, q)
	if !ok {
		h.cancel()
		return
	}

	c.mu.Lock()
	if c.search.gen != h.gen || c.closed {
		c.mu.Unlock()
		h.cancel()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer h.cancel()
		c.searchRemote(taskCtx, h.gen, types.NormalizeWord(q), local, debounce)
	}()
}

// searchLocal ranks the catalog against q and publishes the ranking. It
// reports false when the search was superseded or the catalog could not be
// read.
func (c *Coordinator) searchLocal(ctx, taskCtx context.Context, gen uint64, q string) ([]Item, bool) {
	entries, err := c.store.List(ctx, catalog.OrderRecentlyUpdated)
	if err != nil {
		if ctx.Err() == nil {
			observe.Logger(ctx).Warn("search: list catalog failed", "query", q, "err", err)
		}
		return nil, false
	}
	ranked := match.Rank(entries, func(e catalog.Entry) string { return e.Key }, strings.TrimSpace(q))
	local := make([]Item, len(ranked))
	for i, r := range ranked {
		local[i] = localItem(r.Item)
	}
	c.metrics.RecordSearch(ctx, "local")

	c.mu.Lock()
	if c.search.gen != gen || taskCtx.Err() != nil {
		c.mu.Unlock()
		return nil, false
	}
	c.items = local
	c.unlockAndNotify()
	return local, true
}

// searchRemote waits out the debounce window and then looks the cleaned
// query up remotely unless a local item already matches it exactly.
func (c *Coordinator) searchRemote(ctx context.Context, gen uint64, cleaned string, local []Item, debounce time.Duration) {
	t := time.NewTimer(debounce)
	defer t.Stop()
	select {
	case <-ctx.Done():
		c.metrics.RecordCancellation(ctx, "search")
		return
	case <-t.C:
	}

	if cleaned == "" || slices.ContainsFunc(local, func(it Item) bool { return strings.EqualFold(it.Word, cleaned) }) {
		return
	}
	if c.resolver == nil {
		return
	}

	c.mu.Lock()
	if c.search.gen != gen || ctx.Err() != nil {
		c.mu.Unlock()
		c.metrics.RecordCancellation(ctx, "search")
		return
	}
	c.searchingRemote = true
	c.unlockAndNotify()

	c.metrics.RecordSearch(ctx, "remote")
	loc, ok := c.resolver.Resolve(ctx, cleaned)

	c.mu.Lock()
	if c.search.gen != gen || ctx.Err() != nil {
		// The superseding SetQuery already cleared searchingRemote.
		c.mu.Unlock()
		c.metrics.RecordCancellation(ctx, "search")
		return
	}
	c.searchingRemote = false
	if ok {
		c.items = MergeRemote(c.items, cleaned, loc)
	}
	c.unlockAndNotify()
}

func sortByWord(items []Item) {
	slices.SortFunc(items, func(a, b Item) int { return strings.Compare(a.Word, b.Word) })
}

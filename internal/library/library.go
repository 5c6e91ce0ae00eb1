// Package library coordinates what the sign library shows.
//
// With an empty query the [Coordinator] browses: it lists the local catalog
// and tops it up with a handful of randomly sampled words that a remote
// mirror can play. With a query it searches: local entries are ranked
// immediately, and after a short debounce the query itself is looked up
// remotely when no local entry matches it exactly.
//
// At most one browse task and one search task run at a time. Starting a
// task cancels the previous task of the same kind, and a superseded task
// never publishes.
package library

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/signdeck/internal/catalog"
	"github.com/MrWong99/signdeck/internal/clipstore"
	"github.com/MrWong99/signdeck/internal/observe"
	"github.com/MrWong99/signdeck/pkg/types"
)

const (
	// DefaultBrowseCount is the number of remote suggestions a browse aims for.
	DefaultBrowseCount = 6

	// DefaultDebounce is the pause between the local and the remote phase
	// of a search.
	DefaultDebounce = 300 * time.Millisecond

	// candidateFactor bounds how many pool words a browse will try per
	// wanted suggestion.
	candidateFactor = 5
)

var (
	// ErrNotLocal is returned when an operation needs a catalog-backed item.
	ErrNotLocal = errors.New("library: item is not in the local catalog")

	// ErrNotRemote is returned by SaveRemote for items without a remote clip.
	ErrNotRemote = errors.New("library: item is not a remote suggestion")

	// ErrNoClipStore is returned by SaveCapture when no mover is configured.
	ErrNoClipStore = errors.New("library: no clip store configured")
)

// Resolver finds a remote clip for a word. [resolve.Gateway] satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, word string) (types.Locator, bool)
}

// WordSource supplies browse candidates. [wordpool.Pool] satisfies it.
type WordSource interface {
	Sample(rng *rand.Rand, n int, exclude map[string]struct{}) []string
}

// Item is one displayed library entry.
type Item struct {
	Word       string
	Provenance types.Provenance

	// Entry is set for local items.
	Entry *catalog.Entry

	// Clip is set for remote items.
	Clip types.Locator
}

// Locator returns the playable clip of the item, if any.
func (it Item) Locator() types.Locator {
	if it.Entry != nil {
		return it.Entry.Clip
	}
	return it.Clip
}

func localItem(e catalog.Entry) Item {
	return Item{Word: e.Key, Provenance: types.ProvenanceLocal, Entry: &e}
}

func remoteItem(word string, clip types.Locator) Item {
	return Item{Word: word, Provenance: types.ProvenanceRemote, Clip: clip}
}

// MergeRemote appends a remote item for word to items unless an item with
// the same word (case-insensitively) is already present. The input slice is
// never modified.
func MergeRemote(items []Item, word string, clip types.Locator) []Item {
	if slices.ContainsFunc(items, func(it Item) bool { return strings.EqualFold(it.Word, word) }) {
		return items
	}
	return append(slices.Clone(items), remoteItem(word, clip))
}

// Snapshot is a copy of the coordinator's observable state.
type Snapshot struct {
	Query           string
	Items           []Item
	LoadingInitial  bool
	SearchingRemote bool
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithBrowseCount sets how many remote suggestions a browse collects.
func WithBrowseCount(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.browseCount = n
		}
	}
}

// WithDebounce sets the search debounce window.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.debounce = d
		}
	}
}

// WithRand sets the random source used to shuffle browse candidates.
func WithRand(r *rand.Rand) Option {
	return func(c *Coordinator) { c.rng = r }
}

// WithClipStore enables [Coordinator.SaveCapture] and clip removal on
// delete.
func WithClipStore(m clipstore.Mover, r clipstore.Remover) Option {
	return func(c *Coordinator) {
		c.mover = m
		c.remover = r
	}
}

// WithMetrics records library metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// taskHandle identifies one running browse or search task.
type taskHandle struct {
	cancel context.CancelFunc
	gen    uint64
}

func (h taskHandle) stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Coordinator owns the library view. It is safe for concurrent use;
// change listeners run outside the lock.
type Coordinator struct {
	store    catalog.Store
	resolver Resolver
	words    WordSource
	mover    clipstore.Mover
	remover  clipstore.Remover
	metrics  *observe.Metrics

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu              sync.Mutex
	rng             *rand.Rand
	browseCount     int
	debounce        time.Duration
	query           string
	items           []Item
	loadingInitial  bool
	searchingRemote bool
	gen             uint64
	browse          taskHandle
	search          taskHandle
	nextID          int
	listeners       map[int]func(Snapshot)
	unsub           func()
	closed          bool
}

// New returns a Coordinator. It starts idle; call [Coordinator.SetQuery]
// or [Coordinator.Refresh] to load content.
func New(store catalog.Store, resolver Resolver, words WordSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		resolver:    resolver,
		words:       words,
		browseCount: DefaultBrowseCount,
		debounce:    DefaultDebounce,
		listeners:   make(map[int]func(Snapshot)),
	}
	for _, o := range opts {
		o(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.baseCtx, c.cancelBase = context.WithCancel(context.Background())
	return c
}

// Attach subscribes c to catalog changes on n. Every change refreshes the
// view. [Coordinator.Close] removes the subscription.
func (c *Coordinator) Attach(n *catalog.Notifier) {
	unsub := n.Subscribe(func(catalog.Event) { c.Refresh() })
	c.mu.Lock()
	if c.unsub != nil {
		c.unsub()
	}
	c.unsub = unsub
	c.mu.Unlock()
}

// OnChange registers fn to receive a snapshot after every published
// change. The returned function removes fn.
func (c *Coordinator) OnChange(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SetConfig updates the browse count and debounce window. Running tasks
// keep the values they started with.
func (c *Coordinator) SetConfig(browseCount int, debounce time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if browseCount > 0 {
		c.browseCount = browseCount
	}
	if debounce >= 0 {
		c.debounce = debounce
	}
}

// SetQuery stores q and cancels the running search. An empty (or blank) q
// starts a browse. Otherwise the local catalog is ranked against q and
// published before SetQuery returns, and the remote phase continues in the
// background.
func (c *Coordinator) SetQuery(ctx context.Context, q string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.query = q
	c.search.stop()
	c.search = taskHandle{}
	c.searchingRemote = false
	c.mu.Unlock()

	if strings.TrimSpace(q) == "" {
		c.startBrowse()
		return
	}
	c.startSearch(ctx, q)
}

// Refresh re-runs the protocol selected by the current query.
func (c *Coordinator) Refresh() {
	c.mu.Lock()
	q := c.query
	c.mu.Unlock()
	c.SetQuery(context.Background(), q)
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until every running browse and search task has returned.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Close cancels all tasks, drops the catalog subscription and waits for
// running tasks to exit. Further queries are ignored.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.browse.stop()
	c.search.stop()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.cancelBase()
	c.wg.Wait()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	items := make([]Item, len(c.items))
	for i, it := range c.items {
		if it.Entry != nil {
			e := *it.Entry
			it.Entry = &e
		}
		items[i] = it
	}
	return Snapshot{
		Query:           c.query,
		Items:           items,
		LoadingInitial:  c.loadingInitial,
		SearchingRemote: c.searchingRemote,
	}
}

// unlockAndNotify releases c.mu and delivers a snapshot to listeners.
func (c *Coordinator) unlockAndNotify() {
	snap := c.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// newTaskLocked allocates a generation and a cancellable context.
func (c *Coordinator) newTaskLocked() (context.Context, taskHandle) {
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.gen++
	return ctx, taskHandle{cancel: cancel, gen: c.gen}
}

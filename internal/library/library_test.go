package library_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/signdeck/internal/catalog"
	clipmock "github.com/MrWong99/signdeck/internal/clipstore/mock"
	"github.com/MrWong99/signdeck/internal/library"
	"github.com/MrWong99/signdeck/internal/observe"
	resolvemock "github.com/MrWong99/signdeck/internal/resolve/mock"
	"github.com/MrWong99/signdeck/internal/wordpool"
	"github.com/MrWong99/signdeck/pkg/types"
)

// steppedClock returns increasing timestamps one second apart.
func steppedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 10, 9, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newStore(t *testing.T, words ...string) *catalog.MemStore {
	t.Helper()
	s := catalog.NewMemStore(catalog.WithClock(steppedClock()))
	for _, w := range words {
		if _, err := s.Insert(context.Background(), catalog.Entry{Key: w, Clip: types.Locator("/clips/" + w + ".mov")}); err != nil {
			t.Fatalf("Insert %q: %v", w, err)
		}
	}
	return s
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counter returns the int64 sum of metric name for data points carrying
// attribute key=value.
func counter(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func words(items []library.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Word
	}
	return out
}

func TestCoordinator_SearchRanksLocalImmediately(t *testing.T) {
	t.Parallel()

	store := newStore(t, "hello", "help", "world")
	c := library.New(store, &resolvemock.Resolver{}, nil, library.WithDebounce(time.Hour))
	t.Cleanup(c.Close)

	c.SetQuery(context.Background(), "hel")

	snap := c.Snapshot()
	if got, want := words(snap.Items), []string{"help", "hello"}; !slices.Equal(got, want) {
		t.Errorf("items = %q, want %q (prefix ties in recency order)", got, want)
	}
	for _, it := range snap.Items {
		if it.Provenance != types.ProvenanceLocal || it.Entry == nil {
			t.Errorf("item %q is not local", it.Word)
		}
	}
	if snap.Query != "hel" {
		t.Errorf("Query = %q", snap.Query)
	}
}

func TestCoordinator_SearchSupersededNeverResolves(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	r := &resolvemock.Resolver{}
	c := library.New(newStore(t), r, nil,
		library.WithDebounce(50*time.Millisecond),
		library.WithMetrics(m),
	)
	t.Cleanup(c.Close)

	c.SetQuery(context.Background(), "a")
	c.SetQuery(context.Background(), "ab")
	c.Wait()

	if calls := r.CallsSnapshot(); !slices.Equal(calls, []string{"ab"}) {
		t.Errorf("remote lookups = %q, want [ab]", calls)
	}
	if got := counter(t, reader, "signdeck.library.cancellations", "kind", "search"); got != 1 {
		t.Errorf("search cancellations = %d, want 1", got)
	}
}

func TestCoordinator_SearchAppendsRemote(t *testing.T) {
	t.Parallel()

	r := &resolvemock.Resolver{Results: map[string]types.Locator{"zebra": "https://m/zebra.mp4"}}
	c := library.New(newStore(t, "moon"), r, nil, library.WithDebounce(0))
	t.Cleanup(c.Close)

	var sawSearching atomic.Bool
	c.OnChange(func(s library.Snapshot) {
		if s.SearchingRemote {
			sawSearching.Store(true)
		}
	})

	c.SetQuery(context.Background(), "  Zebra ")
	c.Wait()

	snap := c.Snapshot()
	if got, want := words(snap.Items), []string{"zebra"}; !slices.Equal(got, want) {
		t.Fatalf("items = %q, want %q", got, want)
	}
	if it := snap.Items[0]; it.Provenance != types.ProvenanceRemote || it.Locator() != "https://m/zebra.mp4" {
		t.Errorf("remote item = %+v", it)
	}
	if snap.SearchingRemote {
		t.Error("SearchingRemote still set after the lookup finished")
	}
	if !sawSearching.Load() {
		t.Error("SearchingRemote was never published")
	}
	if calls := r.CallsSnapshot(); !slices.Equal(calls, []string{"zebra"}) {
		t.Errorf("lookup used %q, want cleaned query", calls)
	}
}

func TestCoordinator_SearchExactLocalSkipsRemote(t *testing.T) {
	t.Parallel()

	r := &resolvemock.Resolver{Results: map[string]types.Locator{"hello": "https://m/hello.mp4"}}
	c := library.New(newStore(t, "hello"), r, nil, library.WithDebounce(0))
	t.Cleanup(c.Close)

	c.SetQuery(context.Background(), "HELLO")
	c.Wait()

	if calls := r.CallsSnapshot(); len(calls) != 0 {
		t.Errorf("remote lookups = %q, want none", calls)
	}
}

func TestMergeRemote_Idempotent(t *testing.T) {
	t.Parallel()

	var items []library.Item
	items = library.MergeRemote(items, "zebra", "https://a/zebra.mp4")
	items = library.MergeRemote(items, "Zebra", "https://b/zebra.mp4")
	if len(items) != 1 {
		t.Fatalf("merged %d items, want 1", len(items))
	}
	if items[0].Clip != "https://a/zebra.mp4" {
		t.Errorf("second merge replaced the first: %q", items[0].Clip)
	}
}

func TestCoordinator_RepeatedSearchNoDuplicates(t *testing.T) {
	t.Parallel()

	r := &resolvemock.Resolver{Results: map[string]types.Locator{"zebra": "https://m/zebra.mp4"}}
	c := library.New(newStore(t), r, nil, library.WithDebounce(0))
	t.Cleanup(c.Close)

	for range 2 {
		c.SetQuery(context.Background(), "zebra")
		c.Wait()
	}
	if got := words(c.Snapshot().Items); !slices.Equal(got, []string{"zebra"}) {
		t.Errorf("items = %q, want a single zebra", got)
	}
}

func TestCoordinator_Browse(t *testing.T) {
	t.Parallel()

	pool := wordpool.New([]string{"apple", "hello", "kite", "moon", "star", "tree"})
	r := &resolvemock.Resolver{Results: map[string]types.Locator{
		"kite": "https://m/kite.mp4",
		"moon": "https://m/moon.mp4",
		"star": "https://m/star.mp4",
	}}
	c := library.New(newStore(t, "world", "hello"), r, pool,
		library.WithBrowseCount(2),
		library.WithRand(rand.New(rand.NewPCG(1, 2))),
	)
	t.Cleanup(c.Close)

	c.SetQuery(context.Background(), "")
	c.Wait()

	snap := c.Snapshot()
	if snap.LoadingInitial {
		t.Error("LoadingInitial still set after browse finished")
	}
	if len(snap.Items) != 4 {
		t.Fatalf("items = %q, want 2 local + 2 remote", words(snap.Items))
	}
	if got := words(snap.Items[:2]); !slices.Equal(got, []string{"hello", "world"}) {
		t.Errorf("local items = %q, want alphabetical", got)
	}
	remote := snap.Items[2:]
	if !slices.IsSortedFunc(remote, func(a, b library.Item) int {
		switch {
		case a.Word < b.Word:
			return -1
		case a.Word > b.Word:
			return 1
		}
		return 0
	}) {
		t.Errorf("remote items not sorted: %q", words(remote))
	}
	for _, it := range remote {
		if it.Provenance != types.ProvenanceRemote {
			t.Errorf("item %q provenance = %v", it.Word, it.Provenance)
		}
	}
	for _, w := range r.CallsSnapshot() {
		if w == "hello" {
			t.Error("browse probed a word already in the catalog")
		}
	}
}

func TestCoordinator_BrowseSupersededDoesNotPublish(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	entered := make(chan struct{})
	var n atomic.Int32
	r := &resolvemock.Resolver{
		Results: map[string]types.Locator{"kite": "https://m/kite.mp4"},
		Before: func(ctx context.Context, _ string) {
			if n.Add(1) == 1 {
				close(entered)
				<-ctx.Done()
			}
		},
	}
	pool := wordpool.New([]string{"kite"})
	c := library.New(newStore(t), r, pool, library.WithBrowseCount(1), library.WithMetrics(m))
	t.Cleanup(c.Close)

	var mu sync.Mutex
	var published [][]string
	c.OnChange(func(s library.Snapshot) {
		if !s.LoadingInitial {
			mu.Lock()
			published = append(published, words(s.Items))
			mu.Unlock()
		}
	})

	c.SetQuery(context.Background(), "")
	<-entered
	c.Refresh()
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 1 || !slices.Equal(published[0], []string{"kite"}) {
		t.Errorf("published %q, want exactly one [kite]", published)
	}
	if got := counter(t, reader, "signdeck.library.cancellations", "kind", "browse"); got != 1 {
		t.Errorf("browse cancellations = %d, want 1", got)
	}
}

func TestCoordinator_BrowseCancelledByClose(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	var once sync.Once
	r := &resolvemock.Resolver{
		Results: map[string]types.Locator{"kite": "https://m/kite.mp4"},
		Before: func(ctx context.Context, _ string) {
			once.Do(func() { close(entered) })
			<-ctx.Done()
		},
	}
	c := library.New(newStore(t, "hello"), r, wordpool.New([]string{"kite"}))

	c.SetQuery(context.Background(), "")
	<-entered
	c.Close()

	snap := c.Snapshot()
	if len(snap.Items) != 0 {
		t.Errorf("cancelled browse published %q", words(snap.Items))
	}
	if snap.LoadingInitial {
		t.Error("LoadingInitial left set by the cancelled browse")
	}
}

func TestCoordinator_AttachRefreshesOnCatalogChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := catalog.NewNotifying(newStore(t), &catalog.Notifier{})
	c := library.New(store, &resolvemock.Resolver{}, nil, library.WithDebounce(0))
	t.Cleanup(c.Close)
	c.Attach(store.Notifier())

	c.SetQuery(ctx, "")
	c.Wait()
	if _, err := store.Insert(ctx, catalog.Entry{Key: "river"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	c.Wait()

	if got := words(c.Snapshot().Items); !slices.Equal(got, []string{"river"}) {
		t.Errorf("items after insert = %q, want [river]", got)
	}
}

func TestCoordinator_SaveRemote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	c := library.New(store, &resolvemock.Resolver{}, nil)
	t.Cleanup(c.Close)

	if _, err := c.SaveRemote(ctx, library.Item{Word: "Hello", Provenance: types.ProvenanceLocal}); !errors.Is(err, library.ErrNotRemote) {
		t.Errorf("SaveRemote(local) err = %v, want ErrNotRemote", err)
	}
	e, err := c.SaveRemote(ctx, library.Item{Word: "Hello", Provenance: types.ProvenanceRemote, Clip: "https://m/hello.mp4"})
	if err != nil {
		t.Fatalf("SaveRemote: %v", err)
	}
	if e.Key != "hello" || e.Clip != "https://m/hello.mp4" {
		t.Errorf("entry = %+v", e)
	}
	c.Wait()
}

func TestCoordinator_SaveCapture(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("new word inserts moved clip", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		clips := &clipmock.Store{Root: "/clips"}
		c := library.New(store, nil, nil, library.WithClipStore(clips, clips))
		t.Cleanup(c.Close)

		e, err := c.SaveCapture(ctx, "Brave", "/tmp/rec.mov")
		if err != nil {
			t.Fatalf("SaveCapture: %v", err)
		}
		if len(clips.MoveCalls) != 1 || clips.MoveCalls[0].Temp != "/tmp/rec.mov" {
			t.Fatalf("move calls = %+v", clips.MoveCalls)
		}
		if want := types.Locator("/clips/" + clips.MoveCalls[0].Name); e.Clip != want {
			t.Errorf("entry clip = %q, want %q", e.Clip, want)
		}
		if len(clips.Removed()) != 0 {
			t.Errorf("unexpected removals %v", clips.Removed())
		}
	})

	t.Run("existing word replaces old clip", func(t *testing.T) {
		t.Parallel()
		store := newStore(t, "brave")
		clips := &clipmock.Store{Root: "/clips"}
		c := library.New(store, nil, nil, library.WithClipStore(clips, clips))
		t.Cleanup(c.Close)

		e, err := c.SaveCapture(ctx, "brave", "/tmp/rec.mov")
		if err != nil {
			t.Fatalf("SaveCapture: %v", err)
		}
		if got := clips.Removed(); !slices.Equal(got, []types.Locator{"/clips/brave.mov"}) {
			t.Errorf("removed = %v, want old clip", got)
		}
		if !e.UpdatedAt.After(e.CreatedAt) {
			t.Errorf("UpdatedAt %v not after CreatedAt %v", e.UpdatedAt, e.CreatedAt)
		}
	})

	t.Run("move failure aborts", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		boom := errors.New("no space left")
		clips := &clipmock.Store{MoveErr: boom}
		c := library.New(store, nil, nil, library.WithClipStore(clips, clips))
		t.Cleanup(c.Close)

		if _, err := c.SaveCapture(ctx, "brave", "/tmp/rec.mov"); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want %v", err, boom)
		}
		if _, err := store.Get(ctx, "brave"); !catalog.IsNotFound(err) {
			t.Errorf("entry written despite failed move: err = %v", err)
		}
	})

	t.Run("no clip store", func(t *testing.T) {
		t.Parallel()
		c := library.New(newStore(t), nil, nil)
		t.Cleanup(c.Close)
		if _, err := c.SaveCapture(ctx, "brave", "/tmp/rec.mov"); !errors.Is(err, library.ErrNoClipStore) {
			t.Errorf("err = %v, want ErrNoClipStore", err)
		}
	})
}

func TestCoordinator_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t, "hello", "world")
	clips := &clipmock.Store{}
	c := library.New(store, nil, nil, library.WithClipStore(clips, clips))
	t.Cleanup(c.Close)

	if err := c.Delete(ctx, library.Item{Word: "x", Provenance: types.ProvenanceRemote}); !errors.Is(err, library.ErrNotLocal) {
		t.Errorf("Delete(remote) err = %v, want ErrNotLocal", err)
	}

	e, _ := store.Get(ctx, "hello")
	if err := c.Delete(ctx, library.Item{Word: "hello", Provenance: types.ProvenanceLocal, Entry: &e}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "hello"); !catalog.IsNotFound(err) {
		t.Errorf("hello still present: err = %v", err)
	}

	if err := c.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	c.Wait()
	if got := clips.Removed(); !slices.Equal(got, []types.Locator{"/clips/hello.mov", "/clips/world.mov"}) {
		t.Errorf("removed clips = %v", got)
	}
	if entries, _ := store.List(ctx, catalog.OrderAlphabetical); len(entries) != 0 {
		t.Errorf("catalog not empty: %+v", entries)
	}
}

// failingWrites wraps a store so that Update, Delete and DeleteAll fail.
type failingWrites struct {
	catalog.Store
	err error
}

func (f failingWrites) Update(context.Context, catalog.Entry) (catalog.Entry, error) {
	return catalog.Entry{}, f.err
}

func (f failingWrites) Delete(context.Context, string) error { return f.err }

func (f failingWrites) DeleteAll(context.Context) error { return f.err }

func TestCoordinator_FailedWriteKeepsClipFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	diskFull := errors.New("disk full")

	t.Run("save capture over existing word", func(t *testing.T) {
		t.Parallel()
		base := newStore(t, "hello")
		clips := &clipmock.Store{Root: "/clips"}
		c := library.New(failingWrites{Store: base, err: diskFull}, nil, nil, library.WithClipStore(clips, clips))
		t.Cleanup(c.Close)

		if _, err := c.SaveCapture(ctx, "hello", "/tmp/rec.mov"); !errors.Is(err, diskFull) {
			t.Fatalf("err = %v, want %v", err, diskFull)
		}
		e, err := base.Get(ctx, "hello")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if e.Clip != "/clips/hello.mov" {
			t.Errorf("entry clip = %q, want unchanged", e.Clip)
		}
		// Only the freshly moved take is cleaned up.
		removed := clips.Removed()
		if len(removed) != 1 || removed[0] == e.Clip {
			t.Errorf("removed = %v, want only the new take", removed)
		}
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		base := newStore(t, "hello")
		clips := &clipmock.Store{}
		c := library.New(failingWrites{Store: base, err: diskFull}, nil, nil, library.WithClipStore(clips, clips))
		t.Cleanup(c.Close)

		e, _ := base.Get(ctx, "hello")
		if err := c.Delete(ctx, library.Item{Word: "hello", Provenance: types.ProvenanceLocal, Entry: &e}); !errors.Is(err, diskFull) {
			t.Fatalf("err = %v, want %v", err, diskFull)
		}
		if got := clips.Removed(); len(got) != 0 {
			t.Errorf("removed %v although the entry survived", got)
		}
	})

	t.Run("delete all", func(t *testing.T) {
		t.Parallel()
		base := newStore(t, "hello", "world")
		clips := &clipmock.Store{}
		c := library.New(failingWrites{Store: base, err: diskFull}, nil, nil, library.WithClipStore(clips, clips))
		t.Cleanup(c.Close)

		if err := c.DeleteAll(ctx); !errors.Is(err, diskFull) {
			t.Fatalf("err = %v, want %v", err, diskFull)
		}
		if got := clips.Removed(); len(got) != 0 {
			t.Errorf("removed %v although the catalog is intact", got)
		}
	})
}

func TestCoordinator_ClearingQueryBrowses(t *testing.T) {
	t.Parallel()

	t.Run("within debounce window", func(t *testing.T) {
		t.Parallel()
		r := &resolvemock.Resolver{Results: map[string]types.Locator{"zebra": "https://m/zebra.mp4"}}
		c := library.New(newStore(t, "moon"), r, nil, library.WithDebounce(50*time.Millisecond))
		t.Cleanup(c.Close)

		c.SetQuery(context.Background(), "zebra")
		c.SetQuery(context.Background(), "")
		c.Wait()

		snap := c.Snapshot()
		if got := words(snap.Items); !slices.Equal(got, []string{"moon"}) {
			t.Errorf("items = %q, want browse result [moon]", got)
		}
		if snap.SearchingRemote || snap.LoadingInitial {
			t.Errorf("flags left set: searching=%v loading=%v", snap.SearchingRemote, snap.LoadingInitial)
		}
		if calls := r.CallsSnapshot(); len(calls) != 0 {
			t.Errorf("remote lookups = %q, want none", calls)
		}
	})

	t.Run("during remote lookup", func(t *testing.T) {
		t.Parallel()
		entered := make(chan struct{})
		r := &resolvemock.Resolver{
			Results: map[string]types.Locator{"zebra": "https://m/zebra.mp4"},
			Before: func(ctx context.Context, word string) {
				if word == "zebra" {
					close(entered)
					<-ctx.Done()
				}
			},
		}
		c := library.New(newStore(t, "moon"), r, nil, library.WithDebounce(0))
		t.Cleanup(c.Close)

		c.SetQuery(context.Background(), "zebra")
		<-entered
		if !c.Snapshot().SearchingRemote {
			t.Fatal("SearchingRemote not set while the lookup runs")
		}
		c.SetQuery(context.Background(), "")
		c.Wait()

		snap := c.Snapshot()
		if got := words(snap.Items); !slices.Equal(got, []string{"moon"}) {
			t.Errorf("items = %q, want browse result [moon]", got)
		}
		if snap.SearchingRemote {
			t.Error("SearchingRemote still set after the query was cleared")
		}
	})
}

package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/signdeck/internal/app"
	"github.com/MrWong99/signdeck/internal/catalog"
	"github.com/MrWong99/signdeck/internal/config"
	"github.com/MrWong99/signdeck/internal/observe"
	resolvemock "github.com/MrWong99/signdeck/internal/resolve/mock"
	"github.com/MrWong99/signdeck/internal/wordpool"
	"github.com/MrWong99/signdeck/pkg/types"
)

const mirrorTemplate = "https://clips.test/{word}.mp4"

// testConfig returns a config with an in-memory catalog, a single scripted
// mirror and timings short enough for tests.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server:   config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogDebug},
		Catalog:  config.CatalogConfig{Driver: config.DriverMemory},
		Resolver: config.ResolverConfig{Mirrors: []config.MirrorConfig{{Source: "test", Template: mirrorTemplate}}},
		Library:  config.LibraryConfig{BrowseCount: 2, Debounce: time.Millisecond},
		Capture:  config.CaptureConfig{Countdown: 1, Tick: time.Millisecond},
		Clips:    config.ClipsConfig{Dir: t.TempDir()},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

type fixture struct {
	app    *app.App
	store  *catalog.MemStore
	prober *resolvemock.Prober
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *fixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		store:  catalog.NewMemStore(),
		prober: &resolvemock.Prober{Existing: map[types.Locator]bool{
			"https://clips.test/new.mp4":  true,
			"https://clips.test/help.mp4": true,
			"https://clips.test/moon.mp4": true,
		}},
	}
	all := append([]app.Option{
		app.WithStore(f.store),
		app.WithProber(f.prober),
		app.WithWordSource(wordpool.New([]string{"apple", "river"})),
		app.WithMetrics(m),
	}, opts...)

	a, err := app.New(context.Background(), cfg, all...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	f.app = a
	return f
}

// seed adds word to the catalog through the HTTP surface so that every
// subscriber sees the change. It returns the stored clip.
func (f *fixture) seed(t *testing.T, word string) string {
	t.Helper()
	clip := "https://cdn.test/" + word + ".mp4"
	code, body := f.do(t, "POST", "/v1/library/save", map[string]any{"word": word, "clip": clip})
	if code != http.StatusCreated {
		t.Fatalf("seed %q = %d %v", word, code, body)
	}
	return clip
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func strs(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		s, _ := x.(string)
		out = append(out, s)
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_HealthAndReadiness(t *testing.T) {
	t.Parallel()
	f := newApp(t, testConfig(t))

	for _, path := range []string{"/healthz", "/readyz"} {
		code, body := f.do(t, "GET", path, nil)
		if code != http.StatusOK || body["status"] != "ok" {
			t.Errorf("GET %s = %d %v", path, code, body)
		}
	}
}

func TestNew_InvalidWordPoolPath(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.WordPool.Path = filepath.Join(t.TempDir(), "missing.txt")

	_, err := app.New(context.Background(), cfg, app.WithStore(catalog.NewMemStore()), app.WithProber(&resolvemock.Prober{}))
	if err == nil {
		t.Fatal("New() with missing word pool file succeeded")
	}
}

func TestTranscript_UnknownWordsAndQueue(t *testing.T) {
	t.Parallel()
	f := newApp(t, testConfig(t))
	hello := f.seed(t, "hello")
	world := f.seed(t, "world")

	code, body := f.do(t, "POST", "/v1/transcript", map[string]any{"text": "Hello brave new world", "final": true})
	if code != http.StatusOK {
		t.Fatalf("POST /v1/transcript = %d %v", code, body)
	}
	if got := strs(body["unknown"]); !slices.Equal(got, []string{"brave", "new"}) {
		t.Errorf("unknown = %v, want [brave new]", got)
	}
	if body["current"] != "brave" {
		t.Errorf("current = %v, want brave", body["current"])
	}

	_, q := f.do(t, "GET", "/v1/queue", nil)
	if got := strs(q["queue"]); !slices.Equal(got, []string{hello, world}) {
		t.Errorf("queue = %v", got)
	}
	_, pb := f.do(t, "GET", "/v1/playback", nil)
	if pb["playing"] != true || len(strs(pb["queue"])) != 2 {
		t.Errorf("playback = %v, want playing the two clips", pb)
	}
}

func TestUnknown_NavigateFetchConfirm(t *testing.T) {
	t.Parallel()
	f := newApp(t, testConfig(t))
	f.do(t, "POST", "/v1/transcript", map[string]any{"text": "brave new day"})

	_, body := f.do(t, "POST", "/v1/unknown/next", nil)
	if body["current"] != "new" {
		t.Fatalf("current after next = %v, want new", body["current"])
	}

	_, fetched := f.do(t, "POST", "/v1/unknown/fetch", nil)
	if fetched["found"] != true || fetched["clip"] != "https://clips.test/new.mp4" {
		t.Fatalf("fetch = %v", fetched)
	}

	code, body := f.do(t, "POST", "/v1/unknown/confirm", map[string]any{"clip": fetched["clip"]})
	if code != http.StatusOK {
		t.Fatalf("confirm = %d %v", code, body)
	}
	if got := strs(body["unknown"]); !slices.Equal(got, []string{"brave", "day"}) {
		t.Errorf("unknown after confirm = %v", got)
	}
	if body["current"] != "day" {
		t.Errorf("current after confirm = %v, want day (index kept)", body["current"])
	}
	e, err := f.store.Get(context.Background(), "new")
	if err != nil || e.Clip != "https://clips.test/new.mp4" {
		t.Errorf("catalog entry = %+v, %v", e, err)
	}
	_, q := f.do(t, "GET", "/v1/queue", nil)
	if got := strs(q["queue"]); !slices.Equal(got, []string{"https://clips.test/new.mp4"}) {
		t.Errorf("queue = %v", got)
	}
}

func TestUnknown_ConfirmWithoutSelection(t *testing.T) {
	t.Parallel()
	f := newApp(t, testConfig(t))
	if code, _ := f.do(t, "POST", "/v1/unknown/confirm", nil); code != http.StatusConflict {
		t.Errorf("confirm with nothing selected = %d, want 409", code)
	}
	if code, _ := f.do(t, "POST", "/v1/unknown/fetch", nil); code != http.StatusConflict {
		t.Errorf("fetch with nothing selected = %d, want 409", code)
	}
}

func TestLibrary_SearchSaveDelete(t *testing.T) {
	t.Parallel()
	f := newApp(t, testConfig(t))
	f.seed(t, "hello")

	code, body := f.do(t, "PUT", "/v1/library/query", map[string]any{"query": "hel"})
	if code != http.StatusOK {
		t.Fatalf("set query = %d %v", code, body)
	}
	items, _ := body["items"].([]any)
	if len(items) == 0 || items[0].(map[string]any)["word"] != "hello" {
		t.Errorf("local ranking = %v, want hello first", items)
	}

	code, saved := f.do(t, "POST", "/v1/library/save", map[string]any{"word": "Help"})
	if code != http.StatusCreated || saved["clip"] != "https://clips.test/help.mp4" {
		t.Fatalf("save = %d %v", code, saved)
	}
	if code, _ := f.do(t, "POST", "/v1/library/save", map[string]any{"word": "zzz"}); code != http.StatusNotFound {
		t.Errorf("save unresolvable = %d, want 404", code)
	}
	if code, _ := f.do(t, "POST", "/v1/library/save", map[string]any{"word": "help"}); code != http.StatusConflict {
		t.Errorf("duplicate save = %d, want 409", code)
	}

	if code, _ := f.do(t, "DELETE", "/v1/library/help", nil); code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", code)
	}
	if code, _ := f.do(t, "DELETE", "/v1/library/help", nil); code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", code)
	}
	if code, _ := f.do(t, "DELETE", "/v1/library", nil); code != http.StatusNoContent {
		t.Errorf("delete all = %d, want 204", code)
	}
	if entries, _ := f.store.List(context.Background(), catalog.OrderAlphabetical); len(entries) != 0 {
		t.Errorf("catalog after delete all = %v", entries)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	f := newApp(t, testConfig(t))

	_, body := f.do(t, "GET", "/v1/resolve?word=Moon", nil)
	if body["found"] != true || body["clip"] != "https://clips.test/moon.mp4" {
		t.Errorf("resolve = %v", body)
	}
	if code, _ := f.do(t, "GET", "/v1/resolve", nil); code != http.StatusBadRequest {
		t.Errorf("resolve without word = %d, want 400", code)
	}
}

func TestCapture_UploadFlow(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	f := newApp(t, cfg)

	if code, _ := f.do(t, "POST", "/v1/capture/stop", []byte("x")); code != http.StatusConflict {
		t.Errorf("stop while idle = %d, want 409", code)
	}

	if code, _ := f.do(t, "POST", "/v1/capture/start", nil); code != http.StatusAccepted {
		t.Fatalf("start = %d", code)
	}
	eventually(t, "recording phase", func() bool {
		_, st := f.do(t, "GET", "/v1/capture", nil)
		return st["phase"] == "recording"
	})

	code, st := f.do(t, "POST", "/v1/capture/stop?ext=mov", []byte("fake video"))
	if code != http.StatusOK || st["phase"] != "review" {
		t.Fatalf("stop = %d %v", code, st)
	}
	take, _ := st["result"].(string)
	if !strings.HasSuffix(take, ".mov") {
		t.Errorf("staged take = %q, want .mov", take)
	}

	code, saved := f.do(t, "POST", "/v1/capture/save", map[string]any{"word": "Wave"})
	if code != http.StatusCreated {
		t.Fatalf("save = %d %v", code, saved)
	}
	clip, _ := saved["clip"].(string)
	if filepath.Dir(clip) != cfg.Clips.Dir {
		t.Errorf("saved clip %q not in clip dir %q", clip, cfg.Clips.Dir)
	}
	if data, err := os.ReadFile(clip); err != nil || string(data) != "fake video" {
		t.Errorf("saved clip content = %q, %v", data, err)
	}
	if _, err := os.Stat(take); !os.IsNotExist(err) {
		t.Errorf("staged take still present: %v", err)
	}
	if _, st := f.do(t, "GET", "/v1/capture", nil); st["phase"] != "idle" {
		t.Errorf("phase after save = %v, want idle", st["phase"])
	}
}

func TestCapture_RetakeDropsUpload(t *testing.T) {
	t.Parallel()
	f := newApp(t, testConfig(t))

	f.do(t, "POST", "/v1/capture/start", nil)
	eventually(t, "recording phase", func() bool {
		_, st := f.do(t, "GET", "/v1/capture", nil)
		return st["phase"] == "recording"
	})
	_, st := f.do(t, "POST", "/v1/capture/stop", []byte("take one"))
	take, _ := st["result"].(string)

	if code, st := f.do(t, "POST", "/v1/capture/retake", nil); code != http.StatusOK || st["phase"] != "idle" {
		t.Fatalf("retake = %d %v", code, st)
	}
	if _, err := os.Stat(take); !os.IsNotExist(err) {
		t.Errorf("discarded take still present: %v", err)
	}
	if code, _ := f.do(t, "POST", "/v1/capture/retake", nil); code != http.StatusConflict {
		t.Errorf("retake while idle = %d, want 409", code)
	}
}

func TestPlayback_Actions(t *testing.T) {
	t.Parallel()
	f := newApp(t, testConfig(t))
	f.seed(t, "one")
	f.seed(t, "two")
	f.do(t, "POST", "/v1/transcript", map[string]any{"text": "one two"})

	_, pb := f.do(t, "POST", "/v1/playback/next", nil)
	if pb["index"] != float64(1) {
		t.Errorf("index after next = %v, want 1", pb["index"])
	}
	_, pb = f.do(t, "POST", "/v1/playback/play-pause", nil)
	if pb["playing"] != false {
		t.Errorf("playing after pause = %v", pb["playing"])
	}
	_, pb = f.do(t, "PUT", "/v1/playback/rate", map[string]any{"rate": 1.5})
	if pb["rate"] != 1.5 {
		t.Errorf("rate = %v, want 1.5", pb["rate"])
	}
	if code, _ := f.do(t, "PUT", "/v1/playback/rate", map[string]any{"rate": 0}); code != http.StatusBadRequest {
		t.Errorf("zero rate = %d, want 400", code)
	}
	if code, _ := f.do(t, "POST", "/v1/playback/rewind", nil); code != http.StatusNotFound {
		t.Errorf("unknown action = %d, want 404", code)
	}
}

func TestSeedDefaults(t *testing.T) {
	t.Parallel()
	f := newApp(t, testConfig(t))
	if code, _ := f.do(t, "POST", "/v1/catalog/seed", nil); code != http.StatusNoContent {
		t.Fatalf("seed = %d", code)
	}
	if _, err := f.store.Get(context.Background(), "hello"); err != nil {
		t.Errorf("seeded word missing: %v", err)
	}
}

func TestRun_ReadsTranscriptSource(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	f := newApp(t, cfg, app.WithTranscriptSource(strings.NewReader("good morning\n")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()

	eventually(t, "transcript from source", func() bool {
		return f.app.Feed().Latest().Text == "good morning"
	})
	_, body := f.do(t, "GET", "/v1/unknown", nil)
	if got := strs(body["unknown"]); !slices.Equal(got, []string{"good", "morning"}) {
		t.Errorf("unknown = %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	f := newApp(t, testConfig(t))
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

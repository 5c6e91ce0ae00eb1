// Package app wires all signdeck subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP control surface until the context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithProber, WithPlayer, ...). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/signdeck/internal/capture"
	"github.com/MrWong99/signdeck/internal/catalog"
	"github.com/MrWong99/signdeck/internal/clipstore"
	"github.com/MrWong99/signdeck/internal/config"
	"github.com/MrWong99/signdeck/internal/health"
	"github.com/MrWong99/signdeck/internal/library"
	"github.com/MrWong99/signdeck/internal/observe"
	"github.com/MrWong99/signdeck/internal/playback"
	"github.com/MrWong99/signdeck/internal/resilience"
	"github.com/MrWong99/signdeck/internal/resolve"
	"github.com/MrWong99/signdeck/internal/transcript"
	"github.com/MrWong99/signdeck/internal/transcript/phonetic"
	"github.com/MrWong99/signdeck/internal/translate"
	"github.com/MrWong99/signdeck/internal/wordpool"
)

// shutdownGrace bounds the HTTP server drain in Run.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	rawStore   catalog.Store
	store      *catalog.Notifying
	clips      *clipstore.Dir
	prober     resolve.Prober
	gateway    *resolve.Gateway
	words      library.WordSource
	library    *library.Coordinator
	feed       *transcript.Feed
	translator *translate.Translator
	player     playback.Player
	playback   *playback.Controller
	recorder   capture.Recorder
	uploads    *uploadRecorder
	capture    *capture.Session
	health     *health.Handler

	metricsHandler http.Handler
	transcripts    io.Reader
	handler        http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects the catalog backend instead of opening one from config.
// The caller keeps ownership of the store's resources.
func WithStore(s catalog.Store) Option {
	return func(a *App) { a.rawStore = s }
}

// WithProber injects the mirror prober instead of an HTTP prober.
func WithProber(p resolve.Prober) Option {
	return func(a *App) { a.prober = p }
}

// WithWordSource injects the browse candidate pool.
func WithWordSource(w library.WordSource) Option {
	return func(a *App) { a.words = w }
}

// WithPlayer injects the clip player instead of a [playback.HeadlessPlayer].
// A player with a SetEvents(playback.Events) method is connected to the
// playback controller automatically.
func WithPlayer(p playback.Player) Option {
	return func(a *App) { a.player = p }
}

// WithRecorder injects the capture recorder instead of the upload recorder
// fed by POST /v1/capture/stop.
func WithRecorder(r capture.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithTranscriptSource makes Run read newline-separated transcript updates
// from r (typically stdin) in addition to POST /v1/transcript.
func WithTranscriptSource(r io.Reader) Option {
	return func(a *App) { a.transcripts = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Defaults are applied
// to cfg. On error, everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	config.ApplyDefaults(cfg)
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.runClosers()
		}
	}()

	// ── 1. Catalog ───────────────────────────────────────────────────────
	if err := a.initCatalog(ctx); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 2. Clip directory ────────────────────────────────────────────────
	if a.clips, err = clipstore.NewDir(cfg.Clips.Dir); err != nil {
		return nil, fmt.Errorf("app: init clip dir: %w", err)
	}

	// ── 3. Resolver ──────────────────────────────────────────────────────
	a.initResolver()

	// ── 4. Library ───────────────────────────────────────────────────────
	if err := a.initLibrary(); err != nil {
		return nil, fmt.Errorf("app: init library: %w", err)
	}

	// ── 5. Transcript + translator ───────────────────────────────────────
	if err := a.initTranslator(ctx); err != nil {
		return nil, fmt.Errorf("app: init translator: %w", err)
	}

	// ── 6. Playback ──────────────────────────────────────────────────────
	a.initPlayback()

	// ── 7. Capture ───────────────────────────────────────────────────────
	a.initCapture()

	// ── 8. Health + HTTP surface ─────────────────────────────────────────
	a.health = health.New(
		health.CatalogChecker(a.store),
		health.ClipDirChecker(a.clips.Check),
		health.MirrorChecker(a.gateway.MirrorStates),
	)
	a.handler = observe.Middleware(a.metrics)(a.routes())

	slog.Info("app initialised",
		"catalog", cfg.Catalog.Driver,
		"mirrors", len(a.gateway.Mirrors()),
		"clips", a.clips.Root(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCatalog opens the configured backend unless one was injected, and
// wraps it so writes publish change events.
func (a *App) initCatalog(ctx context.Context) error {
	if a.rawStore == nil {
		switch a.cfg.Catalog.Driver {
		case config.DriverMemory:
			a.rawStore = catalog.NewMemStore()
		case config.DriverSQLite:
			s, db, err := catalog.OpenSQLite(ctx, a.cfg.Catalog.Path)
			if err != nil {
				return err
			}
			a.rawStore = s
			a.closers = append(a.closers, db.Close)
		case config.DriverPostgres:
			pool, err := pgxpool.New(ctx, a.cfg.Catalog.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})
			s := catalog.NewPostgresStore(pool)
			if err := s.Migrate(ctx); err != nil {
				return err
			}
			a.rawStore = s
		default:
			return fmt.Errorf("unknown catalog driver %q", a.cfg.Catalog.Driver)
		}
	}
	a.store = catalog.NewNotifying(a.rawStore, &catalog.Notifier{})
	return nil
}

func (a *App) initResolver() {
	rc := a.cfg.Resolver
	if a.prober == nil {
		a.prober = resolve.NewHTTPProber(
			resolve.WithHTTPClient(&http.Client{Timeout: rc.ProbeTimeout}),
			resolve.WithUserAgent(rc.UserAgent),
		)
	}

	opts := []resolve.Option{
		resolve.WithMetrics(a.metrics),
		resolve.WithBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  rc.Breaker.MaxFailures,
			ResetTimeout: rc.Breaker.ResetTimeout,
			HalfOpenMax:  rc.Breaker.HalfOpenMax,
		}),
	}
	if len(rc.Mirrors) > 0 {
		mirrors := make([]resolve.Mirror, len(rc.Mirrors))
		for i, m := range rc.Mirrors {
			mirrors[i] = resolve.Mirror{Source: m.Source, Template: m.Template}
		}
		opts = append(opts, resolve.WithMirrors(mirrors))
	}
	a.gateway = resolve.New(a.prober, opts...)
}

func (a *App) initLibrary() error {
	if a.words == nil {
		if path := a.cfg.WordPool.Path; path != "" {
			pool, err := wordpool.Load(path)
			if err != nil {
				return err
			}
			a.words = pool
		} else {
			a.words = wordpool.Default()
		}
	}

	a.library = library.New(a.store, a.gateway, a.words,
		library.WithBrowseCount(a.cfg.Library.BrowseCount),
		library.WithDebounce(a.cfg.Library.Debounce),
		library.WithClipStore(a.clips, a.clips),
		library.WithMetrics(a.metrics),
	)
	a.library.Attach(a.store.Notifier())
	a.library.Refresh()
	a.closers = append(a.closers, func() error {
		a.library.Close()
		return nil
	})
	return nil
}

func (a *App) initTranslator(ctx context.Context) error {
	a.feed = &transcript.Feed{}

	opts := []translate.Option{translate.WithResolver(a.gateway)}
	if c := a.cfg.Transcript.Correction; c.Enabled {
		var popts []phonetic.Option
		if c.PhoneticThreshold > 0 {
			popts = append(popts, phonetic.WithPhoneticThreshold(c.PhoneticThreshold))
		}
		if c.FuzzyThreshold > 0 {
			popts = append(popts, phonetic.WithFuzzyThreshold(c.FuzzyThreshold))
		}
		opts = append(opts, translate.WithCorrector(
			transcript.NewCorrector(phonetic.New(popts...), transcript.WithMinWordLength(c.MinWordLength)),
		))
	}

	a.translator = translate.New(a.store, opts...)
	if err := a.translator.Refresh(ctx); err != nil {
		return err
	}
	a.translator.Attach(a.feed, a.store.Notifier())
	a.closers = append(a.closers, func() error {
		a.translator.Close()
		return nil
	})
	return nil
}

// initPlayback creates the controller and keeps its queue in step with the
// translator: whenever the clips of the recognised words change, playback
// restarts from the first one.
func (a *App) initPlayback() {
	if a.player == nil {
		a.player = playback.NewHeadlessPlayer(a.cfg.Playback.ClipDuration)
	}
	a.playback = playback.New(a.player,
		playback.WithPreviousThreshold(a.cfg.Playback.PreviousThreshold),
		playback.WithMetrics(a.metrics),
	)
	if p, ok := a.player.(interface{ SetEvents(playback.Events) }); ok {
		p.SetEvents(a.playback)
	}

	a.translator.OnChange(func(st translate.State) {
		a.playback.Configure(st.Queue)
	})
	a.playback.Configure(a.translator.Queue())
	a.closers = append(a.closers, func() error {
		a.playback.Configure(nil)
		return nil
	})
}

func (a *App) initCapture() {
	if a.recorder == nil {
		a.uploads = &uploadRecorder{}
		a.recorder = a.uploads
	}
	a.capture = capture.New(a.recorder,
		capture.WithCountdown(a.cfg.Capture.Countdown),
		capture.WithTick(a.cfg.Capture.Tick),
		capture.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, func() error {
		a.capture.Reset()
		if a.uploads != nil {
			a.uploads.discard()
		}
		return nil
	})
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP control surface.
func (a *App) Handler() http.Handler { return a.handler }

// Feed returns the transcript feed the translator listens to.
func (a *App) Feed() *transcript.Feed { return a.feed }

// ApplyConfig applies the hot-reloadable parts of a config change.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LibraryChanged {
		a.library.SetConfig(d.NewBrowseCount, d.NewDebounce)
		slog.Info("library settings reloaded", "browse_count", d.NewBrowseCount, "debounce", d.NewDebounce)
	}
	if d.PreviousThresholdChanged {
		a.playback.SetPreviousThreshold(d.NewPreviousThreshold)
		slog.Info("playback settings reloaded", "previous_threshold", d.NewPreviousThreshold)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP control surface on the configured address and blocks
// until ctx is cancelled or the server fails. With a transcript source
// configured, it is read concurrently.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if a.transcripts != nil {
		g.Go(func() error {
			err := transcript.ReadLines(gctx, a.transcripts, a.feed)
			if err != nil && gctx.Err() == nil {
				slog.Warn("transcript source failed", "err", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. If ctx expires
// before all closers finish, the remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

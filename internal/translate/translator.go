package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/signdeck/internal/catalog"
	"github.com/MrWong99/signdeck/internal/transcript"
	"github.com/MrWong99/signdeck/pkg/types"
)

// ErrNoSelection is returned by [Translator.ConfirmCurrent] when no unknown
// word is selected.
var ErrNoSelection = errors.New("translate: no unknown word selected")

// DefaultSeedWords are inserted by [Translator.SeedDefaults] into an empty
// catalog.
var DefaultSeedWords = []string{"hello", "world", "goodbye", "weather", "sport"}

// Resolver finds a remote clip for a word. [resolve.Gateway] satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, word string) (types.Locator, bool)
}

// State is a point-in-time copy of a [Translator]'s observable state.
type State struct {
	// Transcript is the text as received from the feed.
	Transcript string

	// Text is Transcript after phonetic correction. Equal to Transcript
	// when no corrector is configured.
	Text string

	Corrections []transcript.Correction

	// Unknown lists the words of Text lacking a catalog entry.
	Unknown []string

	// Index is the selected position in Unknown. Meaningless when Unknown
	// is empty.
	Index int

	// Queue holds the clips of the known words of Text in spoken order.
	Queue []types.Locator
}

// Current returns the selected unknown word, or "" when none is selected.
func (s State) Current() string {
	if s.Index < 0 || s.Index >= len(s.Unknown) {
		return ""
	}
	return s.Unknown[s.Index]
}

// Option configures a [Translator].
type Option func(*Translator)

// WithResolver sets the resolver used by [Translator.FetchCurrent].
func WithResolver(r Resolver) Option {
	return func(t *Translator) { t.resolver = r }
}

// WithCorrector enables phonetic correction of the transcript against the
// catalog's words before unknown words are extracted.
func WithCorrector(c *transcript.Corrector) Option {
	return func(t *Translator) { t.corrector = c }
}

// WithSeedWords replaces [DefaultSeedWords].
func WithSeedWords(words []string) Option {
	return func(t *Translator) { t.seed = words }
}

// Translator tracks the unknown words of the live transcript.
//
// The unknown list is recomputed whenever the transcript or the catalog
// changes. The selection survives a recompute that yields the same list and
// is reset to the first word otherwise.
//
// Translator is safe for concurrent use. Change listeners run outside the
// lock on the goroutine that caused the change.
type Translator struct {
	store     catalog.Store
	resolver  Resolver
	corrector *transcript.Corrector
	seed      []string

	mu          sync.Mutex
	raw         string
	text        string
	corrections []transcript.Correction
	clips       map[string]types.Locator
	knownWords  []string
	unknown     []string
	index       int
	queue       []types.Locator
	feed        *transcript.Feed
	nextID      int
	listeners   map[int]func(State)
	unsubs      []func()
}

// New returns a Translator backed by store. Call [Translator.Refresh] (or
// [Translator.Attach]) to load the known words.
func New(store catalog.Store, opts ...Option) *Translator {
	t := &Translator{
		store:     store,
		seed:      DefaultSeedWords,
		clips:     make(map[string]types.Locator),
		listeners: make(map[int]func(State)),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Attach subscribes t to transcript updates from feed and, when n is
// non-nil, to catalog changes announced on n. [Translator.Close] removes
// both subscriptions.
func (t *Translator) Attach(feed *transcript.Feed, n *catalog.Notifier) {
	var unsubs []func()
	if feed != nil {
		unsubs = append(unsubs, feed.Subscribe(func(tr types.Transcript) {
			t.SetTranscript(tr.Text)
		}))
	}
	if n != nil {
		unsubs = append(unsubs, n.Subscribe(func(ev catalog.Event) {
			if err := t.Refresh(context.Background()); err != nil {
				slog.Warn("translator refresh after catalog change failed", "event", ev.Kind.String(), "err", err)
			}
		}))
	}

	t.mu.Lock()
	t.feed = feed
	t.unsubs = append(t.unsubs, unsubs...)
	t.mu.Unlock()
}

// Close removes the subscriptions made by [Translator.Attach].
func (t *Translator) Close() {
	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.feed = nil
	t.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// OnChange registers fn to receive the state after every change. The
// returned function removes fn.
func (t *Translator) OnChange(fn func(State)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Refresh reloads the known words from the catalog and recomputes.
func (t *Translator) Refresh(ctx context.Context) error {
	entries, err := t.store.List(ctx, catalog.OrderAlphabetical)
	if err != nil {
		return fmt.Errorf("translate: refresh: %w", err)
	}
	clips := make(map[string]types.Locator, len(entries))
	words := make([]string, 0, len(entries))
	for _, e := range entries {
		clips[e.Key] = e.Clip
		words = append(words, e.Key)
	}

	t.mu.Lock()
	t.clips = clips
	t.knownWords = words
	t.recomputeLocked()
	t.unlockAndNotify()
	return nil
}

// SetTranscript replaces the transcript and recomputes.
func (t *Translator) SetTranscript(text string) {
	t.mu.Lock()
	t.raw = text
	t.recomputeLocked()
	t.unlockAndNotify()
}

// Recompute re-derives the unknown list and the queue from the current
// transcript and known words.
func (t *Translator) Recompute() {
	t.mu.Lock()
	t.recomputeLocked()
	t.unlockAndNotify()
}

func (t *Translator) recomputeLocked() {
	known := make(map[string]struct{}, len(t.clips))
	for k := range t.clips {
		known[k] = struct{}{}
	}

	t.text, t.corrections = t.raw, nil
	if t.corrector != nil {
		t.text, t.corrections = t.corrector.Correct(t.raw, t.knownWords)
	}

	next := Extract(t.text, known)
	if !slices.Equal(next, t.unknown) {
		t.unknown = next
		t.index = 0
		slog.Debug("unknown words changed", "count", len(next))
	}

	t.queue = nil
	for _, tok := range Tokens(t.text) {
		if clip := t.clips[strings.ToLower(tok)]; !clip.IsZero() {
			t.queue = append(t.queue, clip)
		}
	}
}

// SelectNext moves the selection one word forward. It never wraps.
func (t *Translator) SelectNext() {
	t.mu.Lock()
	if t.index < len(t.unknown)-1 {
		t.index++
	}
	t.unlockAndNotify()
}

// SelectPrevious moves the selection one word back. It never wraps.
func (t *Translator) SelectPrevious() {
	t.mu.Lock()
	if t.index > 0 {
		t.index--
	}
	t.unlockAndNotify()
}

// Current returns the selected unknown word and whether there is one.
func (t *Translator) Current() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.currentLocked()
	return w, w != ""
}

func (t *Translator) currentLocked() string {
	if t.index < 0 || t.index >= len(t.unknown) {
		return ""
	}
	return t.unknown[t.index]
}

// Skip dismisses every unknown word of the current transcript until the
// next recompute.
func (t *Translator) Skip() {
	t.mu.Lock()
	t.unknown = nil
	t.index = 0
	t.unlockAndNotify()
}

// ResetTranscript clears the transcript, the unknown list and the
// selection. When attached to a feed, an empty transcript is published on
// it as well.
func (t *Translator) ResetTranscript() {
	t.mu.Lock()
	t.raw, t.text = "", ""
	t.corrections = nil
	t.unknown = nil
	t.index = 0
	t.queue = nil
	feed := t.feed
	t.unlockAndNotify()

	if feed != nil {
		feed.Publish(types.Transcript{IsFinal: true})
	}
}

// FetchCurrent resolves the selected word remotely. It reports false when
// nothing is selected, no resolver is configured, or no mirror has a clip.
func (t *Translator) FetchCurrent(ctx context.Context) (types.Locator, bool) {
	word, ok := t.Current()
	if !ok || t.resolver == nil {
		return "", false
	}
	return t.resolver.Resolve(ctx, word)
}

// ConfirmCurrent adds the selected word to the catalog with clip (which may
// be empty) and removes it from the unknown list. The selection is clamped
// to the last word when it falls off the end. On a persistence error the
// state is left as it was and the error is returned.
func (t *Translator) ConfirmCurrent(ctx context.Context, clip types.Locator) error {
	t.mu.Lock()
	word := t.currentLocked()
	key := types.NormalizeWord(Clean(word))
	if key == "" {
		t.mu.Unlock()
		return ErrNoSelection
	}

	// Apply the removal before the write so that the recompute triggered by
	// the catalog notification sees an unchanged list.
	prevUnknown, prevIndex := t.unknown, t.index
	prevClip, hadClip := t.clips[key]
	t.unknown = slices.DeleteFunc(slices.Clone(t.unknown), func(w string) bool {
		return strings.EqualFold(w, word)
	})
	if t.index >= len(t.unknown) {
		t.index = max(0, len(t.unknown)-1)
	}
	t.clips[key] = clip
	t.mu.Unlock()

	err := t.persist(ctx, key, clip)

	t.mu.Lock()
	if err != nil {
		t.unknown, t.index = prevUnknown, prevIndex
		if hadClip {
			t.clips[key] = prevClip
		} else {
			delete(t.clips, key)
		}
		t.mu.Unlock()
		return err
	}
	t.knownWords = appendSorted(t.knownWords, key)
	t.recomputeLocked()
	t.unlockAndNotify()
	slog.Info("word confirmed", "word", key, "has_clip", !clip.IsZero())
	return nil
}

func (t *Translator) persist(ctx context.Context, key string, clip types.Locator) error {
	_, err := t.store.Insert(ctx, catalog.Entry{Key: key, Clip: clip})
	if errors.Is(err, catalog.ErrDuplicateKey) {
		if clip.IsZero() {
			return nil
		}
		_, err = t.store.Update(ctx, catalog.Entry{Key: key, Clip: clip})
	}
	if err != nil {
		return fmt.Errorf("translate: confirm %q: %w", key, err)
	}
	return nil
}

// SeedDefaults inserts the seed words when the catalog is empty and
// refreshes. A non-empty catalog is left alone.
func (t *Translator) SeedDefaults(ctx context.Context) error {
	entries, err := t.store.List(ctx, catalog.OrderAlphabetical)
	if err != nil {
		return fmt.Errorf("translate: seed: %w", err)
	}
	if len(entries) > 0 {
		return nil
	}
	var errs []error
	for _, w := range t.seed {
		if _, err := t.store.Insert(ctx, catalog.Entry{Key: w}); err != nil && !errors.Is(err, catalog.ErrDuplicateKey) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("translate: seed: %w", err)
	}
	slog.Info("seeded empty catalog", "words", len(t.seed))
	return t.Refresh(ctx)
}

// Queue returns the clip locators of the transcript's known words in
// spoken order. Words without a clip are left out.
func (t *Translator) Queue() []types.Locator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.queue)
}

// State returns a copy of the current state.
func (t *Translator) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

func (t *Translator) stateLocked() State {
	return State{
		Transcript:  t.raw,
		Text:        t.text,
		Corrections: slices.Clone(t.corrections),
		Unknown:     slices.Clone(t.unknown),
		Index:       t.index,
		Queue:       slices.Clone(t.queue),
	}
}

// unlockAndNotify releases t.mu and delivers the new state to listeners.
func (t *Translator) unlockAndNotify() {
	st := t.stateLocked()
	fns := make([]func(State), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func appendSorted(words []string, w string) []string {
	i, found := slices.BinarySearch(words, w)
	if found {
		return words
	}
	return slices.Insert(slices.Clone(words), i, w)
}

// Package playback sequences sign clips.
//
// A [Controller] owns the ordered clip queue and the playback settings and
// drives a [Player] that does the actual rendering. The player reports back
// which item became active; that report, not a counter kept by the
// controller, determines the current index.
package playback

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/signdeck/internal/observe"
	"github.com/MrWong99/signdeck/pkg/types"
)

// DefaultPreviousThreshold is how far into a clip Previous restarts the clip
// instead of stepping back.
const DefaultPreviousThreshold = 2 * time.Second

// Item is one queued clip. Index is its position in the controller's full
// queue and stays stable when the player is loaded with a suffix of it.
type Item struct {
	Index int
	Clip  types.Locator
}

// Player renders a queue of clips. Implementations report progress through
// the [Events] they were given.
type Player interface {
	// Load replaces the player's queue and makes its first item current
	// without changing whether the player is playing.
	Load(items []Item)

	// Play starts or resumes playback at rate.
	Play(rate float64)

	Pause()

	// SeekToStart rewinds the current item.
	SeekToStart()

	// Advance skips to the next queued item.
	Advance()

	// Position is the playback offset within the current item.
	Position() time.Duration
}

// Exhauster is implemented by players that can tell when they have played
// past their last item. [Controller.PlayPause] rewinds such a player before
// resuming it.
type Exhauster interface {
	Exhausted() bool
}

// Events receives player progress. [Controller] implements it.
type Events interface {
	ItemStarted(Item)
	ItemFinished(Item)
	PlayingChanged(playing bool)
}

// State is a copy of the controller's observable state.
type State struct {
	Queue   []types.Locator
	Index   int
	Playing bool
	Rate    float64
}

// Option configures a [Controller].
type Option func(*Controller)

// WithPreviousThreshold overrides [DefaultPreviousThreshold].
func WithPreviousThreshold(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.threshold = d
		}
	}
}

// WithMetrics records queue rebuilds on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the playback state machine over queue, index, playing
// flag and rate.
//
// Operations are serialised; player calls are made without holding the
// state lock so that players may report events synchronously.
type Controller struct {
	player  Player
	metrics *observe.Metrics

	op sync.Mutex // serialises operations and their player calls

	mu        sync.Mutex
	threshold time.Duration
	queue     []types.Locator
	index     int
	playing   bool
	exhausted bool // last item finished and no item started since
	rate      float64
	nextID    int
	listeners map[int]func(State)
}

var _ Events = (*Controller)(nil)

// New returns a Controller driving p. Rate starts at 1.
func New(p Player, opts ...Option) *Controller {
	c := &Controller{
		player:    p,
		threshold: DefaultPreviousThreshold,
		rate:      1,
		listeners: make(map[int]func(State)),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// SetPreviousThreshold changes the Previous threshold at runtime.
func (c *Controller) SetPreviousThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.threshold = d
	c.mu.Unlock()
}

// OnChange registers fn to receive the state after every change. The
// returned function removes fn.
func (c *Controller) OnChange(fn func(State)) (unsubscribe func()) {
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

// Configure replaces the queue and starts playing it from the start at the
// current rate. A queue equal to the current one is ignored. An empty queue
// stops playback.
func (c *Controller) Configure(queue []types.Locator) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if slices.Equal(queue, c.queue) {
		c.mu.Unlock()
		return
	}
	c.queue = slices.Clone(queue)
	c.index = 0
	c.exhausted = false
	rate := c.rate
	items := c.itemsFromLocked(0)
	if len(items) == 0 {
		c.playing = false
	}
	c.unlockAndNotify()

	c.metrics.RecordQueueRebuild(context.Background(), "configure")
	slog.Debug("playback queue configured", "items", len(items))
	c.player.Load(items)
	if len(items) == 0 {
		c.player.Pause()
		return
	}
	c.player.Play(rate)
	c.setPlaying(true)
}

// PlayPause pauses when playing and resumes otherwise. An exhausted queue
// restarts from the first clip. With an empty queue it does nothing.
func (c *Controller) PlayPause() {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	playing, rate, n, exhausted := c.playing, c.rate, len(c.queue), c.exhausted
	c.mu.Unlock()

	switch {
	case playing:
		c.player.Pause()
		c.setPlaying(false)
	case n > 0:
		if ex, ok := c.player.(Exhauster); exhausted || (ok && ex.Exhausted()) {
			c.replay()
		}
		c.player.Play(rate)
		c.setPlaying(true)
	}
}

// Next skips to the following clip. It never wraps past the last one.
func (c *Controller) Next() {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	ok := c.index < len(c.queue)-1
	c.mu.Unlock()
	if ok {
		c.player.Advance()
	}
}

// Previous restarts the current clip when it has played past the
// threshold or is the first one. Otherwise it reloads the player from the
// preceding clip onwards, keeping the play state and rate.
func (c *Controller) Previous() {
	c.op.Lock()
	defer c.op.Unlock()

	pos := c.player.Position()
	c.mu.Lock()
	index, threshold := c.index, c.threshold
	playing, rate := c.playing, c.rate
	if index == 0 || pos > threshold {
		c.mu.Unlock()
		c.player.SeekToStart()
		return
	}
	items := c.itemsFromLocked(index - 1)
	c.mu.Unlock()

	c.metrics.RecordQueueRebuild(context.Background(), "previous")
	c.player.Load(items)
	if playing {
		c.player.Play(rate)
	}
}

// Replay reloads the whole queue from the start, keeping the play state.
func (c *Controller) Replay() {
	c.op.Lock()
	defer c.op.Unlock()
	c.replay()
}

func (c *Controller) replay() {
	c.mu.Lock()
	items := c.itemsFromLocked(0)
	playing, rate := c.playing, c.rate
	c.mu.Unlock()
	if len(items) == 0 {
		return
	}

	c.metrics.RecordQueueRebuild(context.Background(), "replay")
	c.player.Load(items)
	if playing {
		c.player.Play(rate)
	}
}

// SetRate stores r and applies it right away when playing.
func (c *Controller) SetRate(r float64) {
	if r <= 0 {
		return
	}
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	c.rate = r
	playing := c.playing
	c.unlockAndNotify()
	if playing {
		c.player.Play(r)
	}
}

// ItemStarted implements [Events]. It makes it.Index the current index.
func (c *Controller) ItemStarted(it Item) {
	c.mu.Lock()
	if it.Index < 0 || it.Index >= len(c.queue) || c.queue[it.Index] != it.Clip {
		c.mu.Unlock()
		return
	}
	c.index = it.Index
	c.exhausted = false
	c.unlockAndNotify()
}

// ItemFinished implements [Events]. When the last clip finishes the queue
// is rewound to the start and paused.
func (c *Controller) ItemFinished(it Item) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	last := len(c.queue) - 1
	if it.Index != last || last < 0 || c.queue[last] != it.Clip {
		c.mu.Unlock()
		return
	}
	c.exhausted = true
	c.mu.Unlock()

	c.setPlaying(false)
	c.replay()
	c.player.Pause()
	slog.Debug("playback queue finished")
}

// PlayingChanged implements [Events].
func (c *Controller) PlayingChanged(playing bool) {
	c.setPlaying(playing)
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) setPlaying(p bool) {
	c.mu.Lock()
	if c.playing == p {
		c.mu.Unlock()
		return
	}
	c.playing = p
	c.unlockAndNotify()
}

func (c *Controller) itemsFromLocked(start int) []Item {
	if start >= len(c.queue) {
		return nil
	}
	items := make([]Item, 0, len(c.queue)-start)
	for i := start; i < len(c.queue); i++ {
		items = append(items, Item{Index: i, Clip: c.queue[i]})
	}
	return items
}

func (c *Controller) stateLocked() State {
	return State{
		Queue:   slices.Clone(c.queue),
		Index:   c.index,
		Playing: c.playing,
		Rate:    c.rate,
	}
}

// unlockAndNotify releases c.mu and delivers the new state to listeners.
func (c *Controller) unlockAndNotify() {
	st := c.stateLocked()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

package playback

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultClipDuration is the nominal length of one clip at rate 1 for a
// [HeadlessPlayer].
const DefaultClipDuration = 2 * time.Second

// AfterFunc schedules f after d and returns a function that cancels it.
// [time.AfterFunc] wrapped as
//
//	func(d time.Duration, f func()) func() bool { return time.AfterFunc(d, f).Stop }
//
// is the production implementation.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// HeadlessOption configures a [HeadlessPlayer].
type HeadlessOption func(*HeadlessPlayer)

// WithClock injects the scheduling and time functions.
func WithClock(after AfterFunc, now func() time.Time) HeadlessOption {
	return func(p *HeadlessPlayer) {
		if after != nil {
			p.after = after
		}
		if now != nil {
			p.now = now
		}
	}
}

// HeadlessPlayer is a [Player] that renders nothing. It treats every clip
// as lasting a fixed duration and reports progress on schedule, which makes
// a controller fully operable without a display.
type HeadlessPlayer struct {
	clipDuration time.Duration
	after        AfterFunc
	now          func() time.Time

	mu      sync.Mutex
	events  Events
	items   []Item
	cur     int
	playing bool
	rate    float64
	started time.Time
	elapsed time.Duration
	stop    func() bool
	gen     uint64
}

var (
	_ Player    = (*HeadlessPlayer)(nil)
	_ Exhauster = (*HeadlessPlayer)(nil)
)

// NewHeadlessPlayer returns a player whose clips last clipDuration at rate
// 1. A non-positive clipDuration selects [DefaultClipDuration].
func NewHeadlessPlayer(clipDuration time.Duration, opts ...HeadlessOption) *HeadlessPlayer {
	if clipDuration <= 0 {
		clipDuration = DefaultClipDuration
	}
	p := &HeadlessPlayer{
		clipDuration: clipDuration,
		after:        timeAfterFunc,
		now:          time.Now,
		rate:         1,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetEvents sets the receiver of progress reports.
func (p *HeadlessPlayer) SetEvents(e Events) {
	p.mu.Lock()
	p.events = e
	p.mu.Unlock()
}

// Load implements [Player].
func (p *HeadlessPlayer) Load(items []Item) {
	p.mu.Lock()
	p.items = append([]Item(nil), items...)
	p.cur = 0
	p.resetClockLocked()
	var started *Item
	if len(p.items) > 0 {
		started = &p.items[0]
	} else if p.playing {
		p.playing = false
	}
	p.scheduleLocked()
	ev := p.events
	p.mu.Unlock()

	if ev != nil && started != nil {
		ev.ItemStarted(*started)
	}
}

// Play implements [Player].
func (p *HeadlessPlayer) Play(rate float64) {
	p.mu.Lock()
	if len(p.items) == 0 || p.cur >= len(p.items) {
		p.mu.Unlock()
		return
	}
	p.elapsed = p.positionLocked()
	p.started = p.now()
	wasPlaying := p.playing
	p.playing = true
	p.rate = rate
	p.scheduleLocked()
	ev := p.events
	p.mu.Unlock()

	if ev != nil && !wasPlaying {
		ev.PlayingChanged(true)
	}
}

// Pause implements [Player].
func (p *HeadlessPlayer) Pause() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.elapsed = p.positionLocked()
	p.playing = false
	p.scheduleLocked()
	ev := p.events
	p.mu.Unlock()

	if ev != nil {
		ev.PlayingChanged(false)
	}
}

// SeekToStart implements [Player].
func (p *HeadlessPlayer) SeekToStart() {
	p.mu.Lock()
	p.resetClockLocked()
	p.scheduleLocked()
	p.mu.Unlock()
}

// Advance implements [Player].
func (p *HeadlessPlayer) Advance() {
	p.mu.Lock()
	if p.cur >= len(p.items)-1 {
		p.mu.Unlock()
		return
	}
	p.cur++
	it := p.items[p.cur]
	p.resetClockLocked()
	p.scheduleLocked()
	ev := p.events
	p.mu.Unlock()

	if ev != nil {
		ev.ItemStarted(it)
	}
}

// Exhausted implements [Exhauster]. It reports true once the last loaded
// item played to its end.
func (p *HeadlessPlayer) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items) > 0 && p.cur >= len(p.items)
}

// Position implements [Player].
func (p *HeadlessPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *HeadlessPlayer) positionLocked() time.Duration {
	if !p.playing {
		return p.elapsed
	}
	return p.elapsed + time.Duration(float64(p.now().Sub(p.started))*p.rate)
}

func (p *HeadlessPlayer) resetClockLocked() {
	p.elapsed = 0
	p.started = p.now()
}

// scheduleLocked replaces the pending end-of-clip timer. Nothing is
// scheduled while paused.
func (p *HeadlessPlayer) scheduleLocked() {
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	p.gen++
	if !p.playing || p.cur >= len(p.items) {
		return
	}
	remaining := p.clipDuration - p.elapsed
	if remaining < 0 {
		remaining = 0
	}
	gen := p.gen
	p.stop = p.after(time.Duration(float64(remaining)/p.rate), func() { p.clipEnded(gen) })
}

func (p *HeadlessPlayer) clipEnded(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.playing || p.cur >= len(p.items) {
		p.mu.Unlock()
		return
	}
	finished := p.items[p.cur]
	var next *Item
	if p.cur < len(p.items)-1 {
		p.cur++
		next = &p.items[p.cur]
		p.resetClockLocked()
	} else {
		p.cur = len(p.items)
		p.elapsed = 0
		p.playing = false
	}
	p.scheduleLocked()
	ev := p.events
	p.mu.Unlock()

	slog.Debug("clip finished", "index", finished.Index, "clip", finished.Clip.Base())
	if ev == nil {
		return
	}
	ev.ItemFinished(finished)
	if next != nil {
		ev.ItemStarted(*next)
	} else {
		ev.PlayingChanged(false)
	}
}

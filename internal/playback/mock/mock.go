// Package mock provides a test double for playback.Player.
//
// Player behaves like a minimal queue player: Load makes the first item
// current and Advance moves to the next one, each reported to Events as
// ItemStarted. Position returns whatever the test sets.
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/signdeck/internal/playback"
)

// Player is a mock implementation of playback.Player.
type Player struct {
	mu sync.Mutex

	// Events receives ItemStarted reports. May be nil.
	Events playback.Events

	// PositionValue is returned by Position.
	PositionValue time.Duration

	// Done is returned by Exhausted. Load clears it.
	Done bool

	Items   []playback.Item
	Current int
	Playing bool
	Rate    float64

	// Calls records method names in call order.
	Calls []string

	// Loads records the items of every Load call.
	Loads [][]playback.Item
}

// Load records the call, replaces the queue and reports the first item.
func (p *Player) Load(items []playback.Item) {
	p.mu.Lock()
	p.Calls = append(p.Calls, "load")
	p.Loads = append(p.Loads, append([]playback.Item(nil), items...))
	p.Items = append([]playback.Item(nil), items...)
	p.Current = 0
	p.Done = false
	ev := p.Events
	p.mu.Unlock()

	if ev != nil && len(items) > 0 {
		ev.ItemStarted(items[0])
	}
}

// Play records the call.
func (p *Player) Play(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, "play")
	p.Playing = true
	p.Rate = rate
}

// Pause records the call.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, "pause")
	p.Playing = false
}

// SeekToStart records the call.
func (p *Player) SeekToStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, "seek")
}

// Advance records the call and reports the next item, if any.
func (p *Player) Advance() {
	p.mu.Lock()
	p.Calls = append(p.Calls, "advance")
	if p.Current >= len(p.Items)-1 {
		p.mu.Unlock()
		return
	}
	p.Current++
	it := p.Items[p.Current]
	ev := p.Events
	p.mu.Unlock()

	if ev != nil {
		ev.ItemStarted(it)
	}
}

// Exhausted returns Done.
func (p *Player) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Done
}

// Position returns PositionValue.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PositionValue
}

// CallsSnapshot returns a copy of Calls. Thread-safe.
func (p *Player) CallsSnapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Calls...)
}

// LastLoad returns the items of the most recent Load, or nil. Thread-safe.
func (p *Player) LastLoad() []playback.Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Loads) == 0 {
		return nil
	}
	return p.Loads[len(p.Loads)-1]
}

// Ensure Player implements the playback interfaces at compile time.
var (
	_ playback.Player    = (*Player)(nil)
	_ playback.Exhauster = (*Player)(nil)
)

// Package transcript carries speech transcript text into signdeck.
//
// Speech recognition itself happens elsewhere. Whatever recogniser is in use
// pushes the full transcript-so-far into a [Feed]; components that care
// (the translator) subscribe to it. [ReadLines] turns any line-oriented
// reader (stdin, a pipe from an external recogniser) into feed updates.
//
// The optional [Corrector] snaps misheard tokens onto known catalog words
// by pronunciation before unknown words are extracted.
package transcript

import (
	"sync"

	"github.com/MrWong99/signdeck/pkg/types"
)

// Feed is a push-based transcript stream. Listeners run synchronously on
// the publishing goroutine, outside the feed's lock, in subscription order.
// The zero value is ready to use.
type Feed struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(types.Transcript)
	order  []int
	latest types.Transcript
}

// Subscribe registers fn and returns a function that removes it. Calling
// the returned function more than once is safe.
func (f *Feed) Subscribe(fn func(types.Transcript)) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs == nil {
		f.subs = make(map[int]func(types.Transcript))
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.order = append(f.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			for i, v := range f.order {
				if v == id {
					f.order = append(f.order[:i], f.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish records t as the latest transcript and delivers it to every
// listener.
func (f *Feed) Publish(t types.Transcript) {
	f.mu.Lock()
	f.latest = t
	fns := make([]func(types.Transcript), 0, len(f.order))
	for _, id := range f.order {
		fns = append(fns, f.subs[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}

// Latest returns the most recently published transcript.
func (f *Feed) Latest() types.Transcript {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

package catalog

import (
	"context"
	"sync"
)

// EventKind classifies a catalog change.
type EventKind int

const (
	EventInserted EventKind = iota
	EventUpdated
	EventDeleted
	EventCleared
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventInserted:
		return "inserted"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Event announces that the catalog snapshot changed. Key is empty for
// [EventCleared].
type Event struct {
	Kind EventKind
	Key  string
}

// Notifier fans catalog change events out to registered listeners.
// Listeners are invoked synchronously on the publishing goroutine, outside
// the notifier's lock, in registration order. The zero value is ready to use.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
	order  []int
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is safe.
func (n *Notifier) Subscribe(fn func(Event)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[int]func(Event))
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.order = append(n.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			for i, v := range n.order {
				if v == id {
					n.order = append(n.order[:i], n.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev to every current listener.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	fns := make([]func(Event), 0, len(n.order))
	for _, id := range n.order {
		fns = append(fns, n.subs[id])
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Notifying decorates a [Store] so that every successful write publishes an
// [Event]. Failed writes publish nothing.
type Notifying struct {
	Store
	notifier *Notifier
}

// Compile-time interface check.
var _ Store = (*Notifying)(nil)

// NewNotifying wraps store. Events are published on n.
func NewNotifying(store Store, n *Notifier) *Notifying {
	return &Notifying{Store: store, notifier: n}
}

// Notifier returns the notifier events are published on.
func (s *Notifying) Notifier() *Notifier { return s.notifier }

// Insert implements [Store.Insert].
func (s *Notifying) Insert(ctx context.Context, e Entry) (Entry, error) {
	out, err := s.Store.Insert(ctx, e)
	if err == nil {
		s.notifier.Publish(Event{Kind: EventInserted, Key: out.Key})
	}
	return out, err
}

// Update implements [Store.Update].
func (s *Notifying) Update(ctx context.Context, e Entry) (Entry, error) {
	out, err := s.Store.Update(ctx, e)
	if err == nil {
		s.notifier.Publish(Event{Kind: EventUpdated, Key: out.Key})
	}
	return out, err
}

// Delete implements [Store.Delete].
func (s *Notifying) Delete(ctx context.Context, key string) error {
	err := s.Store.Delete(ctx, key)
	if err == nil {
		e := Entry{Key: key}
		_ = normalizeKey(&e)
		s.notifier.Publish(Event{Kind: EventDeleted, Key: e.Key})
	}
	return err
}

// DeleteAll implements [Store.DeleteAll].
func (s *Notifying) DeleteAll(ctx context.Context) error {
	err := s.Store.DeleteAll(ctx)
	if err == nil {
		s.notifier.Publish(Event{Kind: EventCleared})
	}
	return err
}

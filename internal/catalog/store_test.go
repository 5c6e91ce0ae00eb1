package catalog

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stepClock returns a clock that advances by one second on every call so
// that UpdatedAt ordering is deterministic.
func stepClock() func() time.Time {
	t := time.Date(2025, 10, 12, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

// storeFactories lists every Store implementation that runs without
// external services.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"mem": func(t *testing.T) Store {
			return NewMemStore(WithClock(stepClock()))
		},
		"sqlite": func(t *testing.T) Store {
			s, conn, err := OpenSQLite(context.Background(), ":memory:")
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			t.Cleanup(func() { conn.Close() })
			s.now = stepClock()
			return s
		},
	}
}

func TestStore_InsertGet(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			got, err := s.Insert(ctx, Entry{Key: "  Hello ", Clip: "https://example.com/hello.mp4"})
			if err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if got.Key != "hello" {
				t.Errorf("Key = %q, want normalised %q", got.Key, "hello")
			}
			if got.CreatedAt.IsZero() || !got.CreatedAt.Equal(got.UpdatedAt) {
				t.Errorf("timestamps not set consistently: %+v", got)
			}

			e, err := s.Get(ctx, "HELLO")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if e.Clip != "https://example.com/hello.mp4" {
				t.Errorf("Clip = %q", e.Clip)
			}
		})
	}
}

func TestStore_InsertDuplicate(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			if _, err := s.Insert(ctx, Entry{Key: "world"}); err != nil {
				t.Fatalf("Insert: %v", err)
			}
			_, err := s.Insert(ctx, Entry{Key: "World"})
			if !errors.Is(err, ErrDuplicateKey) {
				t.Fatalf("second Insert err = %v, want ErrDuplicateKey", err)
			}
		})
	}
}

func TestStore_InsertEmptyKey(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			_, err := s.Insert(context.Background(), Entry{Key: "   "})
			if !errors.Is(err, ErrEmptyKey) {
				t.Fatalf("Insert err = %v, want ErrEmptyKey", err)
			}
		})
	}
}

func TestStore_UpdateAndOrder(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			for _, k := range []string{"cherry", "apple", "banana"} {
				if _, err := s.Insert(ctx, Entry{Key: k}); err != nil {
					t.Fatalf("Insert %q: %v", k, err)
				}
			}
			if _, err := s.Update(ctx, Entry{Key: "apple", Clip: "/clips/apple.mov"}); err != nil {
				t.Fatalf("Update: %v", err)
			}

			alpha, err := s.List(ctx, OrderAlphabetical)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			assertKeys(t, alpha, "apple", "banana", "cherry")

			recent, err := s.List(ctx, OrderRecentlyUpdated)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			assertKeys(t, recent, "apple", "banana", "cherry")
			if recent[0].Clip != "/clips/apple.mov" {
				t.Errorf("updated clip = %q", recent[0].Clip)
			}
			if !recent[0].UpdatedAt.After(recent[0].CreatedAt) {
				t.Errorf("UpdatedAt %v not after CreatedAt %v", recent[0].UpdatedAt, recent[0].CreatedAt)
			}
		})
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			_, err := s.Update(context.Background(), Entry{Key: "ghost"})
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Update err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_DeleteAndDeleteAll(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			for _, k := range []string{"a", "b", "c"} {
				if _, err := s.Insert(ctx, Entry{Key: k}); err != nil {
					t.Fatalf("Insert: %v", err)
				}
			}
			if err := s.Delete(ctx, "B"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete(ctx, "b"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second Delete err = %v, want ErrNotFound", err)
			}
			if _, err := s.Get(ctx, "b"); !IsNotFound(err) {
				t.Fatalf("Get after Delete err = %v, want ErrNotFound", err)
			}

			if err := s.DeleteAll(ctx); err != nil {
				t.Fatalf("DeleteAll: %v", err)
			}
			all, err := s.List(ctx, OrderAlphabetical)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 0 {
				t.Errorf("List after DeleteAll = %d entries, want 0", len(all))
			}
		})
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	keys := Keys([]Entry{{Key: "hello"}, {Key: "world"}})
	if _, ok := keys["hello"]; !ok || len(keys) != 2 {
		t.Errorf("Keys = %v", keys)
	}
}

func assertKeys(t *testing.T, entries []Entry, want ...string) {
	t.Helper()
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].Key != w {
			got := make([]string, len(entries))
			for j, e := range entries {
				got[j] = e.Key
			}
			t.Fatalf("keys = %v, want %v", got, want)
		}
	}
}

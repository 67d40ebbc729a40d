package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/tripadmin/internal/domain/user"
)

var t0 = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func records(ids ...string) []user.Record {
	out := make([]user.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, user.Record{
			UserID:      id,
			Email:       id + "@example.com",
			Role:        user.RoleUser,
			FunnelStage: user.StageNone,
		})
	}
	return out
}

func ids(snap Snapshot) []string {
	out := make([]string, 0, len(snap.Users))
	for _, u := range snap.Users {
		out = append(out, u.UserID)
	}
	return out
}

func sameIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("load empty", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Load(ctx); !errors.Is(err, ErrCacheEmpty) {
			t.Fatalf("expected ErrCacheEmpty, got %v", err)
		}
	})

	t.Run("save then load", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, Snapshot{Users: records("a", "b"), FetchedAt: t0}); err != nil {
			t.Fatalf("save: %v", err)
		}
		snap, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if !sameIDs(ids(snap), "a", "b") {
			t.Fatalf("unexpected users: %v", ids(snap))
		}
		if !snap.FetchedAt.Equal(t0) {
			t.Fatalf("fetchedAt: got %v want %v", snap.FetchedAt, t0)
		}
	})

	t.Run("save empty list is not the empty marker", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, Snapshot{FetchedAt: t0}); err != nil {
			t.Fatalf("save: %v", err)
		}
		snap, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(snap.Users) != 0 {
			t.Fatalf("expected no users, got %v", ids(snap))
		}
	})

	t.Run("last writer wins", func(t *testing.T) {
		s := newStore(t)
		_ = s.Save(ctx, Snapshot{Users: records("a"), FetchedAt: t0.Add(time.Hour)})
		_ = s.Save(ctx, Snapshot{Users: records("b"), FetchedAt: t0})

		snap, _ := s.Load(ctx)
		if !sameIDs(ids(snap), "b") {
			t.Fatalf("expected plain save to overwrite, got %v", ids(snap))
		}
	})

	t.Run("save if newer", func(t *testing.T) {
		s := newStore(t)

		ok, err := s.SaveIfNewer(ctx, Snapshot{Users: records("new"), FetchedAt: t0.Add(time.Minute)})
		if err != nil || !ok {
			t.Fatalf("first save: ok=%v err=%v", ok, err)
		}

		ok, err = s.SaveIfNewer(ctx, Snapshot{Users: records("old"), FetchedAt: t0})
		if err != nil {
			t.Fatalf("stale save: %v", err)
		}
		if ok {
			t.Fatalf("stale snapshot must not be saved")
		}

		snap, _ := s.Load(ctx)
		if !sameIDs(ids(snap), "new") {
			t.Fatalf("newer snapshot was clobbered: %v", ids(snap))
		}

		ok, err = s.SaveIfNewer(ctx, Snapshot{Users: records("newer"), FetchedAt: t0.Add(2 * time.Minute)})
		if err != nil || !ok {
			t.Fatalf("newer save: ok=%v err=%v", ok, err)
		}
	})

	t.Run("remove", func(t *testing.T) {
		s := newStore(t)
		_ = s.Save(ctx, Snapshot{Users: records("a", "b", "c"), FetchedAt: t0})

		if err := s.Remove(ctx, "b"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := s.Remove(ctx, "missing"); err != nil {
			t.Fatalf("remove missing: %v", err)
		}

		snap, _ := s.Load(ctx)
		if !sameIDs(ids(snap), "a", "c") {
			t.Fatalf("unexpected users: %v", ids(snap))
		}
		if !snap.FetchedAt.Equal(t0) {
			t.Fatalf("remove must keep fetchedAt")
		}
	})

	t.Run("remove many", func(t *testing.T) {
		s := newStore(t)
		_ = s.Save(ctx, Snapshot{Users: records("a", "b", "c", "d"), FetchedAt: t0})

		n, err := s.RemoveMany(ctx, []string{"a", "c", "zzz", ""})
		if err != nil {
			t.Fatalf("remove many: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 removed, got %d", n)
		}

		snap, _ := s.Load(ctx)
		if !sameIDs(ids(snap), "b", "d") {
			t.Fatalf("unexpected users: %v", ids(snap))
		}
	})

	t.Run("remove on empty cache", func(t *testing.T) {
		s := newStore(t)
		n, err := s.RemoveMany(ctx, []string{"a"})
		if err != nil || n != 0 {
			t.Fatalf("expected no-op, got n=%d err=%v", n, err)
		}
		if _, err := s.Load(ctx); !errors.Is(err, ErrCacheEmpty) {
			t.Fatalf("remove must not create a snapshot, got %v", err)
		}
	})

	t.Run("update user", func(t *testing.T) {
		s := newStore(t)
		_ = s.Save(ctx, Snapshot{Users: records("a", "b"), FetchedAt: t0})

		found, err := s.UpdateUser(ctx, "b", func(u *user.Record) { u.UserState = "abandoned" })
		if err != nil || !found {
			t.Fatalf("update: found=%v err=%v", found, err)
		}
		found, err = s.UpdateUser(ctx, "missing", func(u *user.Record) { u.UserState = "active" })
		if err != nil || found {
			t.Fatalf("update missing: found=%v err=%v", found, err)
		}

		snap, _ := s.Load(ctx)
		if !sameIDs(ids(snap), "a", "b") {
			t.Fatalf("update must keep membership: %v", ids(snap))
		}
		if snap.Users[0].UserState != "" || snap.Users[1].UserState != "abandoned" {
			t.Fatalf("unexpected states: %+v", snap.Users)
		}
		if !snap.FetchedAt.Equal(t0) {
			t.Fatalf("update must keep fetchedAt")
		}
	})

	t.Run("update on empty cache", func(t *testing.T) {
		s := newStore(t)
		found, err := s.UpdateUser(ctx, "a", func(u *user.Record) { u.UserState = "active" })
		if err != nil || found {
			t.Fatalf("expected no-op, got found=%v err=%v", found, err)
		}
		if _, err := s.Load(ctx); !errors.Is(err, ErrCacheEmpty) {
			t.Fatalf("update must not create a snapshot, got %v", err)
		}
	})

	t.Run("clear", func(t *testing.T) {
		s := newStore(t)
		_ = s.Save(ctx, Snapshot{Users: records("a"), FetchedAt: t0})

		if err := s.Clear(ctx); err != nil {
			t.Fatalf("clear: %v", err)
		}
		if _, err := s.Load(ctx); !errors.Is(err, ErrCacheEmpty) {
			t.Fatalf("expected ErrCacheEmpty after clear, got %v", err)
		}
	})

	t.Run("concurrent remove and save", func(t *testing.T) {
		s := newStore(t)
		_ = s.Save(ctx, Snapshot{Users: records("a", "b", "c"), FetchedAt: t0})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _ = s.RemoveMany(ctx, []string{"a"})
			}()
			go func() {
				defer wg.Done()
				_ = s.Save(ctx, Snapshot{Users: records("a", "b", "c"), FetchedAt: t0})
			}()
		}
		wg.Wait()

		snap, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		got := ids(snap)
		// every interleaving ends in one of the two whole states
		if !sameIDs(got, "a", "b", "c") && !sameIDs(got, "b", "c") {
			t.Fatalf("torn snapshot: %v", got)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_CopiesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	in := records("a")
	_ = s.Save(ctx, Snapshot{Users: in, FetchedAt: t0})
	in[0].UserID = "mutated"

	snap, _ := s.Load(ctx)
	snap.Users[0].Email = "changed@example.com"

	again, _ := s.Load(ctx)
	if again.Users[0].UserID != "a" || again.Users[0].Email != "a@example.com" {
		t.Fatalf("store shares memory with callers: %+v", again.Users[0])
	}
}

func TestDecodeSnapshot_LegacyRecords(t *testing.T) {
	raw := []byte(`[
		{"_id":"legacy-1","email":"l@example.com"},
		{"userId":"u2","email":"u2@example.com","role":"ADMIN","profileComplete":"true"},
		{"firstName":"no id or email"}
	]`)

	snap, err := decodeSnapshot(raw, "2026-10-16T09:00:00Z")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !sameIDs(ids(snap), "legacy-1", "u2") {
		t.Fatalf("unexpected users: %v", ids(snap))
	}
	if snap.Users[1].Role != user.RoleAdmin || !snap.Users[1].ProfileComplete {
		t.Fatalf("legacy fields not normalized: %+v", snap.Users[1])
	}
	if !snap.FetchedAt.Equal(t0) {
		t.Fatalf("fetchedAt: got %v", snap.FetchedAt)
	}
}

func TestDecodeSnapshot_BadFetchedAtIsZero(t *testing.T) {
	snap, err := decodeSnapshot([]byte(`[]`), "yesterday")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.FetchedAt.IsZero() {
		t.Fatalf("expected zero fetchedAt, got %v", snap.FetchedAt)
	}
}

func TestDecodeSnapshot_Unreadable(t *testing.T) {
	if _, err := decodeSnapshot([]byte(`{not json`), ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestIsStale(t *testing.T) {
	stored := encodeFetchedAt(t0)
	if !isStale(t0.Add(-time.Nanosecond), stored) {
		t.Fatalf("older candidate should be stale")
	}
	if isStale(t0, stored) {
		t.Fatalf("equal candidate should not be stale")
	}
	if isStale(t0, "garbage") {
		t.Fatalf("unreadable stored value should not block a save")
	}
}

package cache

import (
	"context"
	"errors"

	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/geocoder89/tripadmin/internal/observability"
)

// Instrumented records latency and error class for every call on the wrapped store.
type Instrumented struct {
	next    Store
	backend string
	prom    *observability.Prom
}

func NewInstrumented(next Store, backend string, prom *observability.Prom) Store {
	if prom == nil {
		return next
	}
	return &Instrumented{next: next, backend: backend, prom: prom}
}

func (s *Instrumented) observe(op string, fn func() error) error {
	return s.prom.ObserveCache(s.backend, op, fn)
}

func (s *Instrumented) Save(ctx context.Context, snap Snapshot) error {
	err := s.observe("save", func() error {
		return s.next.Save(ctx, snap)
	})
	if err == nil {
		s.prom.CachedUsers.Set(float64(len(snap.Users)))
	}
	return err
}

func (s *Instrumented) SaveIfNewer(ctx context.Context, snap Snapshot) (bool, error) {
	var saved bool
	err := s.observe("save_if_newer", func() error {
		var err error
		saved, err = s.next.SaveIfNewer(ctx, snap)
		return err
	})
	if saved {
		s.prom.CachedUsers.Set(float64(len(snap.Users)))
	}
	return saved, err
}

func (s *Instrumented) Load(ctx context.Context) (Snapshot, error) {
	var (
		snap  Snapshot
		empty bool
	)
	err := s.observe("load", func() error {
		var err error
		snap, err = s.next.Load(ctx)
		if errors.Is(err, ErrCacheEmpty) {
			// an empty cache is a normal state, not a store failure
			empty = true
			return nil
		}
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	if empty {
		return Snapshot{}, ErrCacheEmpty
	}
	return snap, nil
}

// Remove goes through RemoveMany so the cached-users gauge can drop by what was pruned.
func (s *Instrumented) Remove(ctx context.Context, userID string) error {
	var n int
	err := s.observe("remove", func() error {
		var err error
		n, err = s.next.RemoveMany(ctx, []string{userID})
		return err
	})
	s.pruned(n, err)
	return err
}

func (s *Instrumented) RemoveMany(ctx context.Context, userIDs []string) (int, error) {
	var n int
	err := s.observe("remove_many", func() error {
		var err error
		n, err = s.next.RemoveMany(ctx, userIDs)
		return err
	})
	s.pruned(n, err)
	return n, err
}

func (s *Instrumented) pruned(n int, err error) {
	if err == nil && n > 0 {
		s.prom.CachedUsers.Sub(float64(n))
	}
}

func (s *Instrumented) UpdateUser(ctx context.Context, userID string, fn func(*user.Record)) (bool, error) {
	var found bool
	err := s.observe("update_user", func() error {
		var err error
		found, err = s.next.UpdateUser(ctx, userID, fn)
		return err
	})
	return found, err
}

func (s *Instrumented) Clear(ctx context.Context) error {
	err := s.observe("clear", func() error {
		return s.next.Clear(ctx)
	})
	if err == nil {
		s.prom.CachedUsers.Set(0)
	}
	return err
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/tripadmin/internal/domain/user"
)

// Persisted slot names. The browser console used the same two keys, so snapshots written by
// either side stay readable.
const (
	UsersSlot     = "hydratedUsers"
	FetchedAtSlot = "lastHydrated"
)

var (
	ErrCacheEmpty = errors.New("cache empty")
	ErrConflict   = errors.New("cache write conflict")
)

// Snapshot is the last successful directory fetch.
type Snapshot struct {
	Users     []user.Record `json:"users"`
	FetchedAt time.Time     `json:"fetchedAt"`
}

func (s Snapshot) clone() Snapshot {
	users := make([]user.Record, len(s.Users))
	copy(users, s.Users)
	return Snapshot{Users: users, FetchedAt: s.FetchedAt}
}

// Store is the cache port. Load reports ErrCacheEmpty when nothing has been saved; every
// mutation is atomic with respect to concurrent Save calls.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	// SaveIfNewer writes only when snap is not older than the stored snapshot, so a slow
	// fetch that finishes late cannot replace a newer one.
	SaveIfNewer(ctx context.Context, snap Snapshot) (bool, error)
	Load(ctx context.Context) (Snapshot, error)
	Remove(ctx context.Context, userID string) error
	RemoveMany(ctx context.Context, userIDs []string) (int, error)
	// UpdateUser rewrites one cached record in place and reports whether it was cached.
	// fn may run more than once when a backend retries on a conflicting write.
	UpdateUser(ctx context.Context, userID string, fn func(*user.Record)) (bool, error)
	Clear(ctx context.Context) error
}

func encodeUsers(users []user.Record) ([]byte, error) {
	if users == nil {
		users = []user.Record{}
	}
	b, err := json.Marshal(users)
	if err != nil {
		return nil, fmt.Errorf("encode cached users: %w", err)
	}
	return b, nil
}

func encodeFetchedAt(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// decodeSnapshot reads both slots. Records go through the same tolerant decoder the
// directory uses, so legacy entries (missing fields, "_id") still load.
func decodeSnapshot(usersRaw []byte, fetchedAtRaw string) (Snapshot, error) {
	res, err := user.DecodeRecords(usersRaw)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode cached users: %w", err)
	}

	fetchedAt, _ := parseFetchedAt(fetchedAtRaw)

	return Snapshot{Users: res.Records, FetchedAt: fetchedAt}, nil
}

func parseFetchedAt(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// isStale reports whether candidate predates the currently stored fetch time.
func isStale(candidate time.Time, storedRaw string) bool {
	stored, ok := parseFetchedAt(storedRaw)
	if !ok {
		return false
	}
	return candidate.Before(stored)
}

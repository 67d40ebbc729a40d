package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps both slots as plain string keys. Mutations that read before writing run
// under WATCH so a concurrent Save aborts and retries them instead of interleaving.
type RedisStore struct {
	rdb        *redis.Client
	usersKey   string
	fetchedKey string
	maxRetries int
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		rdb:        rdb,
		usersKey:   prefix + UsersSlot,
		fetchedKey: prefix + FetchedAtSlot,
		maxRetries: 5,
	}
}

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := encodeUsers(snap.Users)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.usersKey, data, 0)
		pipe.Set(ctx, s.fetchedKey, encodeFetchedAt(snap.FetchedAt), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveIfNewer(ctx context.Context, snap Snapshot) (bool, error) {
	data, err := encodeUsers(snap.Users)
	if err != nil {
		return false, err
	}

	saved := false
	err = s.watch(ctx, func(tx *redis.Tx) error {
		saved = false

		current, err := tx.Get(ctx, s.fetchedKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && isStale(snap.FetchedAt, current) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.usersKey, data, 0)
			pipe.Set(ctx, s.fetchedKey, encodeFetchedAt(snap.FetchedAt), 0)
			return nil
		})
		if err == nil {
			saved = true
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("redis save snapshot: %w", err)
	}
	return saved, nil
}

func (s *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	vals, err := s.rdb.MGet(ctx, s.usersKey, s.fetchedKey).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis load snapshot: %w", err)
	}

	usersRaw, ok := vals[0].(string)
	if !ok {
		return Snapshot{}, ErrCacheEmpty
	}
	fetchedRaw, _ := vals[1].(string)

	return decodeSnapshot([]byte(usersRaw), fetchedRaw)
}

func (s *RedisStore) Remove(ctx context.Context, userID string) error {
	_, err := s.RemoveMany(ctx, []string{userID})
	return err
}

func (s *RedisStore) RemoveMany(ctx context.Context, userIDs []string) (int, error) {
	ids := user.IDSet(userIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	removed := 0
	err := s.watch(ctx, func(tx *redis.Tx) error {
		removed = 0

		raw, err := tx.Get(ctx, s.usersKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := user.DecodeRecords(raw)
		if err != nil {
			return err
		}

		kept, n := user.Without(res.Records, ids)
		if n == 0 {
			return nil
		}

		data, err := encodeUsers(kept)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.usersKey, data, 0)
			return nil
		})
		if err == nil {
			removed = n
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("redis remove users: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) UpdateUser(ctx context.Context, userID string, fn func(*user.Record)) (bool, error) {
	found := false
	err := s.watch(ctx, func(tx *redis.Tx) error {
		found = false

		raw, err := tx.Get(ctx, s.usersKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := user.DecodeRecords(raw)
		if err != nil {
			return err
		}
		if !user.Patch(res.Records, userID, fn) {
			return nil
		}

		data, err := encodeUsers(res.Records)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.usersKey, data, 0)
			return nil
		})
		found = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("redis update user: %w", err)
	}
	return found, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.usersKey, s.fetchedKey).Err(); err != nil {
		return fmt.Errorf("redis clear snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) watch(ctx context.Context, fn func(tx *redis.Tx) error) error {
	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, s.usersKey, s.fetchedKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// snapshotLockKey serializes every snapshot mutation across instances sharing the table.
const snapshotLockKey int64 = 0x7472_6970_6164_6d

const createSlotsTable = `CREATE TABLE IF NOT EXISTS admin_cache_slots (
	slot       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSlot = `INSERT INTO admin_cache_slots (slot, value, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (slot) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the slot table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createSlotsTable); err != nil {
		return fmt.Errorf("postgres migrate cache slots: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := encodeUsers(snap.Users)
	if err != nil {
		return err
	}

	return s.locked(ctx, func(tx pgx.Tx) error {
		return writeSnapshot(ctx, tx, data, snap)
	})
}

func (s *PostgresStore) SaveIfNewer(ctx context.Context, snap Snapshot) (bool, error) {
	data, err := encodeUsers(snap.Users)
	if err != nil {
		return false, err
	}

	saved := false
	err = s.locked(ctx, func(tx pgx.Tx) error {
		current, found, err := readSlot(ctx, tx, FetchedAtSlot)
		if err != nil {
			return err
		}
		if found && isStale(snap.FetchedAt, current) {
			return nil
		}
		if err := writeSnapshot(ctx, tx, data, snap); err != nil {
			return err
		}
		saved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return saved, nil
}

func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT slot, value FROM admin_cache_slots WHERE slot = ANY($1)`,
		[]string{UsersSlot, FetchedAtSlot},
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("postgres load snapshot: %w", err)
	}
	defer rows.Close()

	slots := map[string]string{}
	for rows.Next() {
		var slot, value string
		if err := rows.Scan(&slot, &value); err != nil {
			return Snapshot{}, fmt.Errorf("postgres load snapshot: %w", err)
		}
		slots[slot] = value
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("postgres load snapshot: %w", err)
	}

	usersRaw, ok := slots[UsersSlot]
	if !ok {
		return Snapshot{}, ErrCacheEmpty
	}
	return decodeSnapshot([]byte(usersRaw), slots[FetchedAtSlot])
}

func (s *PostgresStore) Remove(ctx context.Context, userID string) error {
	_, err := s.RemoveMany(ctx, []string{userID})
	return err
}

func (s *PostgresStore) RemoveMany(ctx context.Context, userIDs []string) (int, error) {
	ids := user.IDSet(userIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	removed := 0
	err := s.locked(ctx, func(tx pgx.Tx) error {
		raw, found, err := readSlot(ctx, tx, UsersSlot)
		if err != nil || !found {
			return err
		}

		res, err := user.DecodeRecords([]byte(raw))
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
		if _, err := tx.Exec(ctx, upsertSlot, UsersSlot, string(data)); err != nil {
			return err
		}
		removed = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, userID string, fn func(*user.Record)) (bool, error) {
	found := false
	err := s.locked(ctx, func(tx pgx.Tx) error {
		raw, ok, err := readSlot(ctx, tx, UsersSlot)
		if err != nil || !ok {
			return err
		}

		res, err := user.DecodeRecords([]byte(raw))
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
		if _, err := tx.Exec(ctx, upsertSlot, UsersSlot, string(data)); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	return s.locked(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`DELETE FROM admin_cache_slots WHERE slot = ANY($1)`,
			[]string{UsersSlot, FetchedAtSlot},
		)
		return err
	})
}

// locked runs fn in a transaction holding the snapshot advisory lock.
func (s *PostgresStore) locked(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, snapshotLockKey); err != nil {
		return fmt.Errorf("postgres lock snapshot: %w", err)
	}

	if err := fn(tx); err != nil {
		return fmt.Errorf("postgres snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit: %w", err)
	}
	return nil
}

func readSlot(ctx context.Context, tx pgx.Tx, slot string) (string, bool, error) {
	var value string
	err := tx.QueryRow(ctx, `SELECT value FROM admin_cache_slots WHERE slot = $1`, slot).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func writeSnapshot(ctx context.Context, tx pgx.Tx, data []byte, snap Snapshot) error {
	if _, err := tx.Exec(ctx, upsertSlot, UsersSlot, string(data)); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, upsertSlot, FetchedAtSlot, encodeFetchedAt(snap.FetchedAt))
	return err
}

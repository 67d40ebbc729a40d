package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/tripadmin/internal/domain/user"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const snapshotDocID = "admin-snapshot"

// snapshotDoc holds both slots in a single document so every write is atomic.
// Version guards read-modify-write mutations against a concurrent Save.
type snapshotDoc struct {
	ID             string `bson:"_id"`
	Users          string `bson:"hydratedUsers"`
	FetchedAt      string `bson:"lastHydrated"`
	FetchedAtNanos int64  `bson:"fetchedAtNanos"`
	Version        int64  `bson:"version"`
}

type MongoStore struct {
	collection *mongo.Collection
	maxRetries int
}

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = "admin_cache"
	}
	return &MongoStore{collection: db.Collection(collection), maxRetries: 5}
}

func (s *MongoStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := encodeUsers(snap.Users)
	if err != nil {
		return err
	}

	_, err = s.collection.UpdateOne(ctx,
		bson.M{"_id": snapshotDocID},
		snapshotUpdate(data, snap),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo save snapshot: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveIfNewer(ctx context.Context, snap Snapshot) (bool, error) {
	data, err := encodeUsers(snap.Users)
	if err != nil {
		return false, err
	}

	filter := bson.M{
		"_id": snapshotDocID,
		"$or": bson.A{
			bson.M{"fetchedAtNanos": bson.M{"$lte": snap.FetchedAt.UnixNano()}},
			bson.M{"fetchedAtNanos": bson.M{"$exists": false}},
		},
	}

	res, err := s.collection.UpdateOne(ctx, filter, snapshotUpdate(data, snap), options.UpdateOne().SetUpsert(true))
	if err != nil {
		// The filter missed an existing newer document and the upsert collided on _id.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("mongo save snapshot: %w", err)
	}
	return res.MatchedCount > 0 || res.UpsertedCount > 0, nil
}

func (s *MongoStore) Load(ctx context.Context) (Snapshot, error) {
	doc, err := s.find(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if doc == nil {
		return Snapshot{}, ErrCacheEmpty
	}
	return decodeSnapshot([]byte(doc.Users), doc.FetchedAt)
}

func (s *MongoStore) Remove(ctx context.Context, userID string) error {
	_, err := s.RemoveMany(ctx, []string{userID})
	return err
}

func (s *MongoStore) RemoveMany(ctx context.Context, userIDs []string) (int, error) {
	ids := user.IDSet(userIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	for i := 0; i < s.maxRetries; i++ {
		doc, err := s.find(ctx)
		if err != nil || doc == nil {
			return 0, err
		}

		res, err := user.DecodeRecords([]byte(doc.Users))
		if err != nil {
			return 0, fmt.Errorf("mongo remove users: %w", err)
		}

		kept, n := user.Without(res.Records, ids)
		if n == 0 {
			return 0, nil
		}

		data, err := encodeUsers(kept)
		if err != nil {
			return 0, err
		}

		upd, err := s.collection.UpdateOne(ctx,
			bson.M{"_id": snapshotDocID, "version": doc.Version},
			bson.M{
				"$set": bson.M{"hydratedUsers": string(data)},
				"$inc": bson.M{"version": 1},
			},
		)
		if err != nil {
			return 0, fmt.Errorf("mongo remove users: %w", err)
		}
		if upd.MatchedCount == 1 {
			return n, nil
		}
	}
	return 0, ErrConflict
}

func (s *MongoStore) UpdateUser(ctx context.Context, userID string, fn func(*user.Record)) (bool, error) {
	for i := 0; i < s.maxRetries; i++ {
		doc, err := s.find(ctx)
		if err != nil || doc == nil {
			return false, err
		}

		res, err := user.DecodeRecords([]byte(doc.Users))
		if err != nil {
			return false, fmt.Errorf("mongo update user: %w", err)
		}
		if !user.Patch(res.Records, userID, fn) {
			return false, nil
		}

		data, err := encodeUsers(res.Records)
		if err != nil {
			return false, err
		}

		upd, err := s.collection.UpdateOne(ctx,
			bson.M{"_id": snapshotDocID, "version": doc.Version},
			bson.M{
				"$set": bson.M{"hydratedUsers": string(data)},
				"$inc": bson.M{"version": 1},
			},
		)
		if err != nil {
			return false, fmt.Errorf("mongo update user: %w", err)
		}
		if upd.MatchedCount == 1 {
			return true, nil
		}
	}
	return false, ErrConflict
}

func (s *MongoStore) Clear(ctx context.Context) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": snapshotDocID}); err != nil {
		return fmt.Errorf("mongo clear snapshot: %w", err)
	}
	return nil
}

func (s *MongoStore) find(ctx context.Context) (*snapshotDoc, error) {
	var doc snapshotDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": snapshotDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo load snapshot: %w", err)
	}
	return &doc, nil
}

func snapshotUpdate(data []byte, snap Snapshot) bson.M {
	return bson.M{
		"$set": bson.M{
			"hydratedUsers":  string(data),
			"lastHydrated":   encodeFetchedAt(snap.FetchedAt),
			"fetchedAtNanos": snap.FetchedAt.UnixNano(),
		},
		"$inc": bson.M{"version": 1},
	}
}

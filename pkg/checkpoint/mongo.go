package checkpoint

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/errors"
)

// MongoStore persists checkpoints in a MongoDB collection keyed by
// canonical identifier. The claim operation is a single conditional
// FindOneAndUpdate, which MongoDB executes atomically per document; that
// is the sole serialization point between workers.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore wraps the checkpoints collection of db and ensures the
// unique canonical-identifier index exists.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	coll := db.Collection("checkpoints")
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "canonical_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "state", Value: 1}, {Key: "updated_at", Value: 1}},
		},
	})
	if err != nil {
		return nil, err
	}
	return &MongoStore{coll: coll}, nil
}

// Enqueue creates a pending checkpoint if none exists; with refresh it
// also re-queues completed or failed checkpoints.
func (s *MongoStore) Enqueue(ctx context.Context, target catalog.Target, refresh bool) error {
	now := time.Now()
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"canonical_id": target.CanonicalID},
		bson.M{"$setOnInsert": bson.M{
			"canonical_id": target.CanonicalID,
			"channel":      target.Channel,
			"state":        StatePending,
			"attempts":     0,
			"updated_at":   now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return err
	}
	if !refresh {
		return nil
	}
	// Refresh re-queues terminal records, but never skipped ones: a
	// skipped target was excluded on purpose.
	_, err = s.coll.UpdateOne(ctx,
		bson.M{
			"canonical_id": target.CanonicalID,
			"state":        bson.M{"$in": []State{StateCompleted, StateFailed}},
		},
		bson.M{
			"$set": bson.M{
				"state":      StatePending,
				"attempts":   0,
				"updated_at": now,
			},
			"$unset": bson.M{"not_before": "", "last_error": "", "last_error_code": ""},
		},
	)
	return err
}

// Claim atomically transitions a claimable checkpoint to processing.
func (s *MongoStore) Claim(ctx context.Context, canonicalID, worker string, staleAfter time.Duration) (*Checkpoint, error) {
	now := time.Now()
	claimable := bson.M{
		"canonical_id": canonicalID,
		"$or": []bson.M{
			{
				"state": StatePending,
				"$or": []bson.M{
					{"not_before": bson.M{"$exists": false}},
					{"not_before": bson.M{"$lte": now}},
				},
			},
			// A stale processing claim may be reclaimed: the holder is
			// presumed dead.
			{
				"state":      StateProcessing,
				"claimed_at": bson.M{"$lt": now.Add(-staleAfter)},
			},
		},
	}
	update := bson.M{"$set": bson.M{
		"state":      StateProcessing,
		"worker":     worker,
		"claimed_at": now,
		"updated_at": now,
	}}

	var cp Checkpoint
	err := s.coll.FindOneAndUpdate(ctx, claimable, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&cp)
	if err == nil {
		return &cp, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	// Distinguish the refusal: missing target, backoff delay, a live
	// claim, or a terminal state.
	switch err := s.coll.FindOne(ctx, bson.M{"canonical_id": canonicalID}).Decode(&cp); {
	case err == mongo.ErrNoDocuments:
		return nil, errors.New(errors.ErrCodeNotFound, "no checkpoint for %s", canonicalID)
	case err != nil:
		return nil, err
	}
	if cp.State == StatePending && cp.NotBefore != nil && cp.NotBefore.After(now) {
		return nil, errors.New(errors.ErrCodeAlreadyProcessing, "target is backing off until %s", cp.NotBefore.Format(time.RFC3339))
	}
	if _, terr := Transition(cp.State, EventClaim); terr != nil {
		return nil, terr
	}
	// The checkpoint became claimable between the two reads; let the
	// caller's next sweep pick it up.
	return nil, errors.New(errors.ErrCodeAlreadyProcessing, "target is being processed")
}

// MarkCompleted records terminal success.
func (s *MongoStore) MarkCompleted(ctx context.Context, canonicalID string) error {
	now := time.Now()
	return s.transition(ctx, canonicalID, StateProcessing, bson.M{
		"$set": bson.M{
			"state":        StateCompleted,
			"completed_at": now,
			"updated_at":   now,
		},
		"$unset": bson.M{"worker": "", "claimed_at": "", "not_before": "", "last_error": "", "last_error_code": ""},
	})
}

// MarkSkipped records terminal intentional exclusion.
func (s *MongoStore) MarkSkipped(ctx context.Context, canonicalID string, failure Failure) error {
	return s.transition(ctx, canonicalID, StateProcessing, bson.M{
		"$set": bson.M{
			"state":           StateSkipped,
			"last_error":      failure.Message,
			"last_error_code": failure.Code,
			"updated_at":      time.Now(),
		},
		"$unset": bson.M{"worker": "", "claimed_at": ""},
	})
}

// MarkFailed records terminal failure directly, bypassing the retry
// budget.
func (s *MongoStore) MarkFailed(ctx context.Context, canonicalID string, failure Failure) error {
	return s.transition(ctx, canonicalID, StateProcessing, bson.M{
		"$set": bson.M{
			"state":           StateFailed,
			"last_error":      failure.Message,
			"last_error_code": failure.Code,
			"updated_at":      time.Now(),
		},
		"$unset": bson.M{"worker": "", "claimed_at": "", "not_before": ""},
		"$inc":   bson.M{"attempts": 1},
	})
}

// RecordFailure increments attempts and re-queues or terminally fails.
func (s *MongoStore) RecordFailure(ctx context.Context, canonicalID string, failure Failure, maxAttempts int, retryIn time.Duration) (State, error) {
	now := time.Now()

	// Budget remains: requeue with backoff. The attempts guard makes the
	// requeue-vs-exhaust decision atomic per document.
	requeue := bson.M{
		"$set": bson.M{
			"state":           StatePending,
			"not_before":      now.Add(retryIn),
			"last_error":      failure.Message,
			"last_error_code": failure.Code,
			"updated_at":      now,
		},
		"$unset": bson.M{"worker": "", "claimed_at": ""},
		"$inc":   bson.M{"attempts": 1},
	}
	err := s.coll.FindOneAndUpdate(ctx, bson.M{
		"canonical_id": canonicalID,
		"state":        StateProcessing,
		"attempts":     bson.M{"$lt": maxAttempts - 1},
	}, requeue).Err()
	if err == nil {
		return StatePending, nil
	}
	if err != mongo.ErrNoDocuments {
		return "", err
	}

	exhaust := bson.M{
		"$set": bson.M{
			"state":           StateFailed,
			"last_error":      failure.Message,
			"last_error_code": failure.Code,
			"updated_at":      now,
		},
		"$unset": bson.M{"worker": "", "claimed_at": "", "not_before": ""},
		"$inc":   bson.M{"attempts": 1},
	}
	err = s.coll.FindOneAndUpdate(ctx, bson.M{
		"canonical_id": canonicalID,
		"state":        StateProcessing,
	}, exhaust).Err()
	if err == mongo.ErrNoDocuments {
		return "", errors.New(errors.ErrCodeInternal, "checkpoint %s not in processing", canonicalID)
	}
	if err != nil {
		return "", err
	}
	return StateFailed, nil
}

// Release returns a processing claim to pending without an attempt.
func (s *MongoStore) Release(ctx context.Context, canonicalID string) error {
	return s.transition(ctx, canonicalID, StateProcessing, bson.M{
		"$set":   bson.M{"state": StatePending, "updated_at": time.Now()},
		"$unset": bson.M{"worker": "", "claimed_at": ""},
	})
}

// Get returns the checkpoint for one target.
func (s *MongoStore) Get(ctx context.Context, canonicalID string) (*Checkpoint, error) {
	var cp Checkpoint
	err := s.coll.FindOne(ctx, bson.M{"canonical_id": canonicalID}).Decode(&cp)
	if err == mongo.ErrNoDocuments {
		return nil, errors.New(errors.ErrCodeNotFound, "no checkpoint for %s", canonicalID)
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// NextPending returns claimable pending targets, oldest first.
func (s *MongoStore) NextPending(ctx context.Context, limit int) ([]catalog.Target, error) {
	now := time.Now()
	filter := bson.M{
		"state": StatePending,
		"$or": []bson.M{
			{"not_before": bson.M{"$exists": false}},
			{"not_before": bson.M{"$lte": now}},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var targets []catalog.Target
	for cur.Next(ctx) {
		var cp Checkpoint
		if err := cur.Decode(&cp); err != nil {
			return nil, err
		}
		targets = append(targets, catalog.Target{CanonicalID: cp.CanonicalID, Channel: cp.Channel})
	}
	return targets, cur.Err()
}

// Counts returns the number of checkpoints per state.
func (s *MongoStore) Counts(ctx context.Context) (map[State]int64, error) {
	cur, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$state", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	counts := make(map[State]int64, len(States))
	for _, st := range States {
		counts[st] = 0
	}
	for cur.Next(ctx) {
		var row struct {
			State State `bson:"_id"`
			Count int64 `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.State] = row.Count
	}
	return counts, cur.Err()
}

// Close is a no-op; the owning process closes the shared mongo client.
func (s *MongoStore) Close(ctx context.Context) error { return nil }

func (s *MongoStore) transition(ctx context.Context, canonicalID string, from State, update bson.M) error {
	err := s.coll.FindOneAndUpdate(ctx, bson.M{
		"canonical_id": canonicalID,
		"state":        from,
	}, update).Err()
	if err == mongo.ErrNoDocuments {
		return errors.New(errors.ErrCodeInternal, "checkpoint %s not in %s", canonicalID, from)
	}
	return err
}

// Ensure MongoStore implements Store.
var _ Store = (*MongoStore)(nil)

package docstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
)

var finished = bson.A{string(models.OutboxDone), string(models.OutboxFailed)}

func (s *Store) ClaimOutbox(ctx context.Context, id string) (*models.OutboxEntry, error) {
	var doc projectDoc
	err := s.projects().FindOneAndUpdate(ctx,
		bson.M{"outbox": bson.M{"$elemMatch": bson.M{"id": id, "status": models.OutboxPending}}},
		bson.M{"$set": bson.M{"outbox.$.status": models.OutboxDispatching}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.claimMiss(ctx, id)
	}
	if err != nil {
		return nil, perrors.NewStoreError("claim outbox", err)
	}
	for i := range doc.Outbox {
		if doc.Outbox[i].ID == id {
			e := doc.Outbox[i]
			return &e, nil
		}
	}
	return nil, perrors.NotFound("outbox entry", id)
}

// claimMiss explains why a claim matched nothing.
func (s *Store) claimMiss(ctx context.Context, id string) error {
	var doc projectDoc
	err := s.projects().FindOne(ctx, bson.M{"outbox.id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return perrors.NotFound("outbox entry", id)
	}
	if err != nil {
		return perrors.NewStoreError("claim outbox", err)
	}
	for _, e := range doc.Outbox {
		if e.ID == id {
			return perrors.Conflict("outbox entry %s is %s", id, e.Status)
		}
	}
	return perrors.NotFound("outbox entry", id)
}

func (s *Store) CompleteOutbox(ctx context.Context, id string, status models.OutboxStatus, errMsg string) error {
	res, err := s.projects().UpdateOne(ctx,
		bson.M{"outbox.id": id},
		bson.M{"$set": bson.M{
			"outbox.$.status":      status,
			"outbox.$.error":       errMsg,
			"outbox.$.completedAt": time.Now().UTC(),
		}})
	if err != nil {
		return perrors.NewStoreError("complete outbox", err)
	}
	if res.MatchedCount == 0 {
		return perrors.NotFound("outbox entry", id)
	}
	return nil
}

// PendingPipeline unwinds embedded intents into a flat, oldest-first list.
func PendingPipeline(olderThan time.Time, limit int) mongo.Pipeline {
	match := bson.M{"outbox.status": models.OutboxPending, "outbox.createdAt": bson.M{"$lt": olderThan}}
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"outbox": bson.M{"$elemMatch": bson.M{
			"status": models.OutboxPending, "createdAt": bson.M{"$lt": olderThan},
		}}}}},
		{{Key: "$unwind", Value: "$outbox"}},
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "outbox.createdAt", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$outbox"}}},
	}
}

func (s *Store) PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]*models.OutboxEntry, error) {
	if limit <= 0 || limit > maxPage {
		limit = maxPage
	}
	cur, err := s.projects().Aggregate(ctx, PendingPipeline(olderThan, limit))
	if err != nil {
		return nil, perrors.NewStoreError("pending outbox", err)
	}
	var out []*models.OutboxEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, perrors.NewStoreError("pending outbox", err)
	}
	return out, nil
}

func (s *Store) PurgeOutbox(ctx context.Context, before time.Time) (int, error) {
	cond := bson.M{"status": bson.M{"$in": finished}, "completedAt": bson.M{"$lt": before}}

	cur, err := s.projects().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"outbox": bson.M{"$elemMatch": cond}}}},
		{{Key: "$unwind", Value: "$outbox"}},
		{{Key: "$match", Value: bson.M{
			"outbox.status":      bson.M{"$in": finished},
			"outbox.completedAt": bson.M{"$lt": before},
		}}},
		{{Key: "$count", Value: "n"}},
	})
	if err != nil {
		return 0, perrors.NewStoreError("purge outbox", err)
	}
	var counts []struct {
		N int `bson:"n"`
	}
	if err := cur.All(ctx, &counts); err != nil {
		return 0, perrors.NewStoreError("purge outbox", err)
	}
	if len(counts) == 0 || counts[0].N == 0 {
		return 0, nil
	}

	_, err = s.projects().UpdateMany(ctx,
		bson.M{"outbox": bson.M{"$elemMatch": cond}},
		bson.M{"$pull": bson.M{"outbox": cond}})
	if err != nil {
		return 0, perrors.NewStoreError("purge outbox", err)
	}
	return counts[0].N, nil
}

package docstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/store"
)

const maxPage = 500

var newestFirst = bson.D{{Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}}

func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	if err := store.PrepareMessage(s.operator, m, time.Now().UTC()); err != nil {
		return err
	}
	seq, err := s.nextSeq(ctx, CollectionMessages)
	if err != nil {
		return perrors.NewStoreError("insert message", err)
	}
	m.Seq = seq
	_, err = s.messages().InsertOne(ctx, m)
	return perrors.NewStoreError("insert message", err)
}

func (s *Store) ListMessages(ctx context.Context) ([]*models.Message, error) {
	return s.findMessages(ctx, "list messages", bson.M{}, options.Find().SetSort(newestFirst))
}

// PageFilter builds the query for one page of a thread.
func PageFilter(pair []string, before *models.Cursor) bson.M {
	filter := bson.M{"contactEmailPair": pair}
	if before != nil {
		filter["$or"] = bson.A{
			bson.M{"timestamp": bson.M{"$lt": before.Timestamp}},
			bson.M{"timestamp": before.Timestamp, "seq": bson.M{"$lt": before.Seq}},
		}
	}
	return filter
}

func (s *Store) PageMessages(ctx context.Context, contact string, before *models.Cursor, limit int) ([]*models.Message, error) {
	if limit <= 0 || limit > maxPage {
		limit = maxPage
	}
	pair := models.ContactPair(s.operator, models.NormalizeAddress(contact))
	opts := options.Find().SetSort(newestFirst).SetLimit(int64(limit))
	return s.findMessages(ctx, "page messages", PageFilter(pair, before), opts)
}

func (s *Store) LatestMessage(ctx context.Context, contact string) (*models.Message, error) {
	msgs, err := s.PageMessages(ctx, contact, nil, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, perrors.NotFound("thread", contact)
	}
	return msgs[0], nil
}

func (s *Store) UpdateStatusByProviderID(ctx context.Context, providerID, status string) (int, error) {
	if providerID == "" {
		return 0, perrors.NewValidationError("providerMessageId", "is required")
	}
	res, err := s.messages().UpdateMany(ctx,
		bson.M{"twilioMessageId": providerID},
		bson.M{"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return 0, perrors.NewStoreError("update message status", err)
	}
	return int(res.ModifiedCount), nil
}

func (s *Store) MarkThreadRead(ctx context.Context, contact string) (int, error) {
	res, err := s.messages().UpdateMany(ctx,
		bson.M{"from": models.NormalizeAddress(contact), "to": s.operator, "read": false},
		bson.M{"$set": bson.M{"read": true, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return 0, perrors.NewStoreError("mark thread read", err)
	}
	return int(res.ModifiedCount), nil
}

func (s *Store) findMessages(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]*models.Message, error) {
	cur, err := s.messages().Find(ctx, filter, opts)
	if err != nil {
		return nil, perrors.NewStoreError(op, err)
	}
	var out []*models.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, perrors.NewStoreError(op, err)
	}
	return out, nil
}

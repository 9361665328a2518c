// Package docstore implements store.Backend on MongoDB.
//
// Outbox intents are embedded in their project document so that a step
// change and its intent are written by one single-document update.
package docstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/store"
)

// Collection names
const (
	CollectionProjects = "projects"
	CollectionMessages = "messages"
	CollectionCounters = "counters"
)

const defaultDBName = "projecthub"

// Store is the MongoDB backend.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	operator string
	logger   zerolog.Logger
}

var _ store.Backend = (*Store)(nil)

// New connects to uri, verifies the connection and ensures indexes.
func New(ctx context.Context, uri, operator string, logger zerolog.Logger) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := DBName(uri)
	s := &Store{
		client:   client,
		db:       client.Database(dbName),
		operator: models.NormalizeEmail(operator),
		logger:   logger.With().Str("component", "store.mongo").Logger(),
	}
	if err := s.Initialize(connectCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	s.logger.Info().Str("database", dbName).Msg("store initialized")
	return s, nil
}

// DBName extracts the database name from a MongoDB URI path.
func DBName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultDBName
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return defaultDBName
	}
	return name
}

// Initialize creates the indexes the queries rely on.
func (s *Store) Initialize(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		CollectionProjects: {
			{Keys: bson.D{{Key: "trackingLinkId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "startDate", Value: 1}}},
			{Keys: bson.D{{Key: "outbox.id", Value: 1}}},
			{Keys: bson.D{{Key: "outbox.status", Value: 1}, {Key: "outbox.createdAt", Value: 1}}},
		},
		CollectionMessages: {
			{Keys: bson.D{{Key: "contactEmailPair", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}}},
			{Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}}},
			{Keys: bson.D{{Key: "twilioMessageId", Value: 1}}},
		},
	}
	for coll, idx := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", coll, err)
		}
	}
	return nil
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Drop removes the database. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) projects() *mongo.Collection { return s.db.Collection(CollectionProjects) }
func (s *Store) messages() *mongo.Collection { return s.db.Collection(CollectionMessages) }

// nextSeq returns a monotonically increasing sequence for name.
func (s *Store) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(CollectionCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/store"
)

// projectDoc is the stored shape of a project with its embedded outbox.
type projectDoc struct {
	models.Project `bson:",inline"`
	Outbox         []models.OutboxEntry `bson:"outbox,omitempty"`
}

func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.SelectedSteps == nil {
		p.SelectedSteps = []string{}
	}

	_, err := s.projects().InsertOne(ctx, projectDoc{Project: *p})
	if mongo.IsDuplicateKeyError(err) {
		return perrors.Conflict("project with tracking id %q already exists", p.TrackingLinkID)
	}
	return perrors.NewStoreError("create project", err)
}

func (s *Store) findProject(ctx context.Context, op string, filter bson.M, key string) (*models.Project, error) {
	var doc projectDoc
	err := s.projects().FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, perrors.NotFound("project", key)
	}
	if err != nil {
		return nil, perrors.NewStoreError(op, err)
	}
	return &doc.Project, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return s.findProject(ctx, "get project", bson.M{"_id": id}, id)
}

func (s *Store) GetProjectByTrackingID(ctx context.Context, trackingID string) (*models.Project, error) {
	p, err := s.findProject(ctx, "get project by tracking id", bson.M{"trackingLinkId": trackingID}, trackingID)
	if errors.Is(err, perrors.ErrNotFound) {
		return nil, perrors.NotFound("tracking link", trackingID)
	}
	return p, err
}

func (s *Store) ListProjects(ctx context.Context, f models.ProjectFilter) ([]*models.Project, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"outbox": 0})
	cur, err := s.projects().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, perrors.NewStoreError("list projects", err)
	}
	defer cur.Close(ctx)

	var out []*models.Project
	for cur.Next(ctx) {
		var p models.Project
		if err := cur.Decode(&p); err != nil {
			return nil, perrors.NewStoreError("list projects", err)
		}
		if !f.Matches(&p) {
			continue
		}
		out = append(out, &p)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, perrors.NewStoreError("list projects", cur.Err())
}

func (s *Store) ListProjectsByStartDate(ctx context.Context, from, to time.Time) ([]*models.Project, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "startDate", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"outbox": 0})
	cur, err := s.projects().Find(ctx, bson.M{"startDate": bson.M{"$gte": from, "$lt": to}}, opts)
	if err != nil {
		return nil, perrors.NewStoreError("list projects by start date", err)
	}
	var out []*models.Project
	if err := cur.All(ctx, &out); err != nil {
		return nil, perrors.NewStoreError("list projects by start date", err)
	}
	return out, nil
}

func (s *Store) UpdateNotes(ctx context.Context, id, notes string) (*models.Project, error) {
	return s.updateProject(ctx, "update notes", id, bson.M{"$set": bson.M{"internalNotes": notes, "updatedAt": time.Now().UTC()}})
}

func (s *Store) UpdateStartDate(ctx context.Context, id string, start *time.Time) (*models.Project, error) {
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{"startDate": start, "updatedAt": now}}
	if start == nil {
		update = bson.M{"$unset": bson.M{"startDate": ""}, "$set": bson.M{"updatedAt": now}}
	}
	return s.updateProject(ctx, "update start date", id, update)
}

func (s *Store) updateProject(ctx context.Context, op, id string, update bson.M) (*models.Project, error) {
	var doc projectDoc
	err := s.projects().FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, perrors.NotFound("project", id)
	}
	if err != nil {
		return nil, perrors.NewStoreError(op, err)
	}
	return &doc.Project, nil
}

// TransitionStep is a single conditional document update: the filter pins
// the expected index and bounds the target by the step count.
func (s *Store) TransitionStep(ctx context.Context, id string, from, to int, intent *models.OutboxEntry) (*models.Project, error) {
	filter := bson.M{
		"_id":              id,
		"currentStepIndex": from,
		"$expr": bson.M{"$and": bson.A{
			bson.M{"$gte": bson.A{to, 0}},
			bson.M{"$lte": bson.A{to, bson.M{"$size": "$selectedSteps"}}},
		}},
	}
	update := bson.M{"$set": bson.M{"currentStepIndex": to, "updatedAt": time.Now().UTC()}}
	if intent != nil {
		intent.ProjectID = id
		if intent.Status == "" {
			intent.Status = models.OutboxPending
		}
		if intent.CreatedAt.IsZero() {
			intent.CreatedAt = time.Now().UTC()
		}
		update["$push"] = bson.M{"outbox": intent}
	}

	var doc projectDoc
	err := s.projects().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return &doc.Project, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, perrors.NewStoreError("transition step", err)
	}

	current, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.CurrentStepIndex != from {
		return nil, perrors.Conflict("project %s: expected step %d, found %d", id, from, current.CurrentStepIndex)
	}
	if err := store.ValidateTransition(current, to); err != nil {
		return nil, err
	}
	return nil, perrors.Conflict("project %s changed during transition", id)
}

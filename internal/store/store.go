// Package store defines the persistence contract for projects, the message
// log and the notification outbox, plus the SQLite and in-memory backends.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
)

// Projects persists project records.
type Projects interface {
	// CreateProject assigns an id when empty. A duplicate tracking link id
	// yields ErrConflict.
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByTrackingID(ctx context.Context, trackingID string) (*models.Project, error)
	// ListProjects returns projects newest first.
	ListProjects(ctx context.Context, f models.ProjectFilter) ([]*models.Project, error)
	// ListProjectsByStartDate returns projects starting in [from, to), ordered by start date.
	ListProjectsByStartDate(ctx context.Context, from, to time.Time) ([]*models.Project, error)
	UpdateNotes(ctx context.Context, id, notes string) (*models.Project, error)
	UpdateStartDate(ctx context.Context, id string, start *time.Time) (*models.Project, error)
	// TransitionStep moves the step index from one value to another only if
	// the stored index still equals from, returning ErrConflict otherwise.
	// A non-nil intent is saved atomically with the index change.
	TransitionStep(ctx context.Context, id string, from, to int, intent *models.OutboxEntry) (*models.Project, error)
}

// Messages persists the append-only conversation log.
type Messages interface {
	// InsertMessage enforces the thread key invariant and assigns id and sequence.
	InsertMessage(ctx context.Context, m *models.Message) error
	// ListMessages returns every message, newest first.
	ListMessages(ctx context.Context) ([]*models.Message, error)
	// PageMessages returns up to limit messages exchanged with contact that sort
	// strictly older than before (nil for the newest page), newest first.
	PageMessages(ctx context.Context, contact string, before *models.Cursor, limit int) ([]*models.Message, error)
	// LatestMessage returns the newest message with contact or ErrNotFound.
	LatestMessage(ctx context.Context, contact string) (*models.Message, error)
	// UpdateStatusByProviderID sets the status of messages carrying the
	// provider id and reports how many were changed.
	UpdateStatusByProviderID(ctx context.Context, providerID, status string) (int, error)
	// MarkThreadRead marks every inbound message from contact as read.
	MarkThreadRead(ctx context.Context, contact string) (int, error)
}

// Outbox persists notification intents written alongside step changes.
type Outbox interface {
	// ClaimOutbox moves a pending entry to dispatching. An entry that is no
	// longer pending yields ErrConflict.
	ClaimOutbox(ctx context.Context, id string) (*models.OutboxEntry, error)
	CompleteOutbox(ctx context.Context, id string, status models.OutboxStatus, errMsg string) error
	// PendingOutbox lists pending entries created before olderThan, oldest first.
	PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]*models.OutboxEntry, error)
	// PurgeOutbox deletes finished entries completed before the cutoff.
	PurgeOutbox(ctx context.Context, before time.Time) (int, error)
}

// Backend is a complete storage implementation.
type Backend interface {
	Projects
	Messages
	Outbox
	Ping(ctx context.Context) error
	Close() error
}

// PrepareMessage normalizes m and enforces the message invariants: one side
// is the operator and the thread key is the sorted operator/contact pair.
func PrepareMessage(operator string, m *models.Message, now time.Time) error {
	operator = models.NormalizeEmail(operator)
	m.From = models.NormalizeAddress(m.From)
	m.To = models.NormalizeAddress(m.To)

	var contact string
	switch operator {
	case m.From:
		contact = m.To
	case m.To:
		contact = m.From
	default:
		return perrors.NewValidationError("from", "message must be sent to or from "+operator)
	}
	if contact == "" {
		return perrors.NewValidationError("to", "contact address is required")
	}
	m.ContactEmailPair = models.ContactPair(operator, contact)

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.Timestamp = m.Timestamp.UTC().Truncate(time.Millisecond)
	if m.Source == "" {
		m.Source = models.SourceEmail
	}
	return nil
}

// ValidateTransition checks that to is a legal step index for p.
func ValidateTransition(p *models.Project, to int) error {
	if to < 0 || to > len(p.SelectedSteps) {
		return perrors.NewValidationError("currentStepIndex", "out of range")
	}
	return nil
}

// NewOutboxEntry builds a pending intent to notify about target.
func NewOutboxEntry(projectID string, target int, now time.Time) *models.OutboxEntry {
	return &models.OutboxEntry{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		TargetStepIndex: target,
		Status:          models.OutboxPending,
		CreatedAt:       now,
	}
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// Package outbox delivers the notification intents written alongside step
// transitions, and sweeps up intents a crash left behind.
package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/notify"
)

// Store is the slice of the backend the outbox works against.
type Store interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ClaimOutbox(ctx context.Context, id string) (*models.OutboxEntry, error)
	CompleteOutbox(ctx context.Context, id string, status models.OutboxStatus, errMsg string) error
	PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]*models.OutboxEntry, error)
	PurgeOutbox(ctx context.Context, before time.Time) (int, error)
}

// Dispatcher sends the notification for a step change.
type Dispatcher interface {
	Dispatch(ctx context.Context, p *models.Project, target int) (*notify.Outcome, error)
}

// Deliverer turns one pending intent into one dispatch.
type Deliverer struct {
	store      Store
	dispatcher Dispatcher
	logger     zerolog.Logger
}

// NewDeliverer creates a deliverer.
func NewDeliverer(st Store, d Dispatcher, logger zerolog.Logger) *Deliverer {
	return &Deliverer{
		store:      st,
		dispatcher: d,
		logger:     logger.With().Str("component", "outbox").Logger(),
	}
}

// Deliver claims entry id, dispatches it and records the result. An entry
// is dispatched at most once: losing the claim returns ErrConflict without
// sending, and a failed dispatch is marked failed rather than retried.
func (d *Deliverer) Deliver(ctx context.Context, id string) (*notify.Outcome, error) {
	entry, err := d.store.ClaimOutbox(ctx, id)
	if err != nil {
		return nil, err
	}
	log := d.logger.With().Str("outbox_id", entry.ID).Str("project_id", entry.ProjectID).Logger()

	p, err := d.store.GetProject(ctx, entry.ProjectID)
	if err != nil {
		d.complete(ctx, log, entry.ID, err)
		return nil, err
	}

	out, dispatchErr := d.dispatcher.Dispatch(ctx, p, entry.TargetStepIndex)
	d.complete(ctx, log, entry.ID, dispatchErr)
	return out, dispatchErr
}

func (d *Deliverer) complete(ctx context.Context, log zerolog.Logger, id string, cause error) {
	status, msg := models.OutboxDone, ""
	if cause != nil {
		status, msg = models.OutboxFailed, cause.Error()
	}
	if err := d.store.CompleteOutbox(ctx, id, status, msg); err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("failed to record outbox result")
		return
	}
	if cause != nil {
		log.Warn().Err(cause).Str("kind", perrors.Kind(cause)).Msg("notification failed")
		return
	}
	log.Debug().Msg("notification delivered")
}

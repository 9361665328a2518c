// Package steps moves projects through their checklist and triggers the
// customer notification for each forward move.
package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/metrics"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/notify"
	"github.com/p-blackswan/project-hub/internal/store"
)

// Kind names a step transition.
type Kind string

const (
	KindAdvance  Kind = "advance"
	KindRevert   Kind = "revert"
	KindComplete Kind = "complete"
)

// ParseKind validates a transition name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindAdvance, KindRevert, KindComplete:
		return k, nil
	}
	return "", perrors.NewValidationError("transition", fmt.Sprintf("unknown transition %q", s))
}

// Store is the project persistence the engine needs.
type Store interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	TransitionStep(ctx context.Context, id string, from, to int, intent *models.OutboxEntry) (*models.Project, error)
}

// Deliverer dispatches a saved notification intent.
type Deliverer interface {
	Deliver(ctx context.Context, outboxID string) (*notify.Outcome, error)
}

// Result is the project after a transition and what happened to its
// notification. A failed notification does not undo the transition.
type Result struct {
	Project           *models.Project `json:"project"`
	Notification      *notify.Outcome `json:"notification,omitempty"`
	NotificationError string          `json:"notificationError,omitempty"`

	notifyErr error
}

// NotifyErr returns the notification failure, if any.
func (r *Result) NotifyErr() error { return r.notifyErr }

// Engine applies step transitions with compare-and-swap on the step index.
type Engine struct {
	store     Store
	deliverer Deliverer
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEngine creates a step engine. metrics may be nil.
func NewEngine(st Store, d Deliverer, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		store:     st,
		deliverer: d,
		metrics:   m,
		logger:    logger.With().Str("component", "steps").Logger(),
		now:       time.Now,
	}
}

// Advance moves p one step forward and notifies the customer.
func (e *Engine) Advance(ctx context.Context, p *models.Project) (*Result, error) {
	return e.apply(ctx, KindAdvance, p)
}

// Revert moves p one step back. Customers are not notified of corrections.
func (e *Engine) Revert(ctx context.Context, p *models.Project) (*Result, error) {
	return e.apply(ctx, KindRevert, p)
}

// Complete jumps p to the end of its checklist and notifies the customer.
func (e *Engine) Complete(ctx context.Context, p *models.Project) (*Result, error) {
	return e.apply(ctx, KindComplete, p)
}

// Apply runs kind against the stored project id. When expected is set the
// transition only succeeds if the stored index still equals it.
func (e *Engine) Apply(ctx context.Context, kind Kind, id string, expected *int) (*Result, error) {
	p, err := e.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if expected != nil {
		p.CurrentStepIndex = *expected
	}
	return e.apply(ctx, kind, p)
}

// target computes the index kind moves p to, or a validation error when the
// transition is unavailable from p's index.
func target(kind Kind, p *models.Project) (int, error) {
	n, cur := len(p.SelectedSteps), p.CurrentStepIndex
	switch kind {
	case KindAdvance:
		if cur >= n {
			return 0, perrors.NewValidationError("currentStepIndex", "project is already complete")
		}
		return cur + 1, nil
	case KindRevert:
		if cur <= 0 {
			return 0, perrors.NewValidationError("currentStepIndex", "project is at its first step")
		}
		return cur - 1, nil
	case KindComplete:
		if cur >= n {
			return 0, perrors.NewValidationError("currentStepIndex", "project is already complete")
		}
		return n, nil
	}
	return 0, perrors.NewValidationError("transition", fmt.Sprintf("unknown transition %q", kind))
}

func (e *Engine) apply(ctx context.Context, kind Kind, p *models.Project) (*Result, error) {
	if p == nil || p.ID == "" {
		return nil, perrors.NewValidationError("projectId", "is required")
	}
	to, err := target(kind, p)
	if err != nil {
		e.metrics.RecordTransition(string(kind), perrors.Kind(err))
		return nil, err
	}

	var intent *models.OutboxEntry
	if kind != KindRevert {
		intent = store.NewOutboxEntry(p.ID, to, e.now().UTC())
	}

	updated, err := e.store.TransitionStep(ctx, p.ID, p.CurrentStepIndex, to, intent)
	if err != nil {
		e.metrics.RecordTransition(string(kind), perrors.Kind(err))
		e.logger.Warn().Err(err).Str("project_id", p.ID).Str("transition", string(kind)).
			Int("from", p.CurrentStepIndex).Int("to", to).Msg("transition rejected")
		return nil, err
	}
	e.metrics.RecordTransition(string(kind), "ok")
	e.logger.Info().Str("project_id", p.ID).Str("transition", string(kind)).
		Int("from", p.CurrentStepIndex).Int("to", to).Msg("step changed")

	res := &Result{Project: updated}
	if intent == nil {
		return res, nil
	}

	// The step change is committed; the notification runs to completion even
	// if the caller goes away.
	out, err := e.deliverer.Deliver(context.WithoutCancel(ctx), intent.ID)
	res.Notification = out
	if err != nil {
		res.notifyErr = err
		res.NotificationError = err.Error()
	}
	return res, nil
}

// Package projects manages the project records behind the dashboard: creation,
// search, notes, scheduling and the customer tracking view.
package projects

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/templates"
)

const (
	trackingIDLength   = 8
	trackingIDAttempts = 5
	trackingAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Store is the project persistence the manager needs.
type Store interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByTrackingID(ctx context.Context, trackingID string) (*models.Project, error)
	ListProjects(ctx context.Context, f models.ProjectFilter) ([]*models.Project, error)
	ListProjectsByStartDate(ctx context.Context, from, to time.Time) ([]*models.Project, error)
	UpdateNotes(ctx context.Context, id, notes string) (*models.Project, error)
	UpdateStartDate(ctx context.Context, id string, start *time.Time) (*models.Project, error)
}

// Invalidator drops cached views of the project set.
type Invalidator interface {
	Invalidate()
}

// NewProject is the input for creating a project.
type NewProject struct {
	Name          string               `json:"name"`
	Email         string               `json:"email"`
	Phone         string               `json:"phone"`
	ContactMethod models.ContactMethod `json:"contactMethod"`
	FixType       string               `json:"fixType"`
	ProjectType   string               `json:"projectType"`
	Description   string               `json:"description"`
	SelectedSteps []string             `json:"selectedSteps"`
	InternalNotes string               `json:"internalNotes"`
	StartDate     *time.Time           `json:"startDate"`
}

// TrackingView is what a customer sees at their tracking link.
type TrackingView struct {
	Name             string   `json:"name"`
	FixType          string   `json:"fixType,omitempty"`
	ProjectType      string   `json:"projectType,omitempty"`
	Steps            []string `json:"steps"`
	CurrentStepIndex int      `json:"currentStepIndex"`
	CurrentStep      string   `json:"currentStep"`
	Status           string   `json:"status"`
	Complete         bool     `json:"complete"`
}

// Manager handles the project lifecycle outside of step transitions.
type Manager struct {
	store    Store
	catalog  *templates.Catalog
	contacts Invalidator
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() (string, error)
}

// NewManager creates a project manager. contacts may be nil.
func NewManager(st Store, catalog *templates.Catalog, contacts Invalidator, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    st,
		catalog:  catalog,
		contacts: contacts,
		logger:   logger.With().Str("component", "projects").Logger(),
		now:      time.Now,
		newID:    NewTrackingID,
	}
}

// NewTrackingID returns a random 8-character lowercase base36 token.
func NewTrackingID() (string, error) {
	var b strings.Builder
	base := big.NewInt(int64(len(trackingAlphabet)))
	for i := 0; i < trackingIDLength; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("generating tracking id: %w", err)
		}
		b.WriteByte(trackingAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Create validates in and stores a new project at step 0. Steps default to
// the template for the fix and project type. A tracking id collision is
// retried with a fresh token.
func (m *Manager) Create(ctx context.Context, in NewProject) (*models.Project, error) {
	steps := cleanSteps(in.SelectedSteps)
	if len(steps) == 0 && m.catalog != nil {
		if tmpl, ok := m.catalog.Steps(in.FixType, in.ProjectType); ok {
			steps = tmpl
		}
	}
	if len(steps) == 0 {
		return nil, perrors.NewValidationError("selectedSteps", "at least one step is required")
	}

	p := &models.Project{
		Name:          strings.TrimSpace(in.Name),
		Email:         models.NormalizeEmail(in.Email),
		Phone:         strings.TrimSpace(in.Phone),
		ContactMethod: in.ContactMethod,
		FixType:       strings.TrimSpace(in.FixType),
		ProjectType:   strings.TrimSpace(in.ProjectType),
		Description:   strings.TrimSpace(in.Description),
		SelectedSteps: steps,
		InternalNotes: in.InternalNotes,
		StartDate:     in.StartDate,
		CreatedAt:     m.now().UTC(),
	}
	if p.ContactMethod == "" {
		p.ContactMethod = models.ContactBoth
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < trackingIDAttempts; attempt++ {
		id, err := m.newID()
		if err != nil {
			return nil, err
		}
		p.ID = ""
		p.TrackingLinkID = id
		lastErr = m.store.CreateProject(ctx, p)
		if lastErr == nil {
			break
		}
		if !errors.Is(lastErr, perrors.ErrConflict) {
			return nil, lastErr
		}
		m.logger.Debug().Str("tracking_id", id).Msg("tracking id collision, retrying")
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if m.contacts != nil {
		m.contacts.Invalidate()
	}
	m.logger.Info().Str("project_id", p.ID).Str("tracking_id", p.TrackingLinkID).Int("steps", len(steps)).Msg("project created")
	return p, nil
}

func cleanSteps(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Get returns one project.
func (m *Manager) Get(ctx context.Context, id string) (*models.Project, error) {
	return m.store.GetProject(ctx, id)
}

// Search lists projects whose name, fix type or tracking id contains q.
func (m *Manager) Search(ctx context.Context, q string, limit int) ([]*models.Project, error) {
	return m.store.ListProjects(ctx, models.ProjectFilter{Query: q, Limit: limit})
}

// Update applies the editable fields that are set in u.
func (m *Manager) Update(ctx context.Context, id string, u models.ProjectUpdate) (*models.Project, error) {
	if u.InternalNotes == nil && u.StartDate == nil {
		return nil, perrors.NewValidationError("body", "nothing to update")
	}
	var (
		p   *models.Project
		err error
	)
	if u.InternalNotes != nil {
		if p, err = m.store.UpdateNotes(ctx, id, *u.InternalNotes); err != nil {
			return nil, err
		}
	}
	if u.StartDate != nil {
		start := u.StartDate.UTC()
		if p, err = m.store.UpdateStartDate(ctx, id, &start); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ClearStartDate unschedules a project.
func (m *Manager) ClearStartDate(ctx context.Context, id string) (*models.Project, error) {
	return m.store.UpdateStartDate(ctx, id, nil)
}

// Calendar lists projects starting in month, given as YYYY-MM.
func (m *Manager) Calendar(ctx context.Context, month string) ([]*models.Project, error) {
	var start time.Time
	if month == "" {
		now := m.now().UTC()
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	} else {
		t, err := time.Parse("2006-01", month)
		if err != nil {
			return nil, perrors.NewValidationError("month", "must be YYYY-MM")
		}
		start = t
	}
	return m.store.ListProjectsByStartDate(ctx, start, start.AddDate(0, 1, 0))
}

// Track returns the customer view for a tracking link id.
func (m *Manager) Track(ctx context.Context, trackingID string) (*TrackingView, error) {
	trackingID = strings.ToLower(strings.TrimSpace(trackingID))
	if trackingID == "" {
		return nil, perrors.NotFound("project", trackingID)
	}
	p, err := m.store.GetProjectByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	return Tracking(p), nil
}

// Tracking builds the customer view of p.
func Tracking(p *models.Project) *TrackingView {
	v := &TrackingView{
		Name:             p.Name,
		FixType:          p.FixType,
		ProjectType:      p.ProjectType,
		Steps:            append([]string{}, p.SelectedSteps...),
		CurrentStepIndex: p.CurrentStepIndex,
		Complete:         p.IsComplete(),
	}
	if v.Complete {
		v.CurrentStep = "Complete"
		v.Status = "Complete"
	} else {
		v.CurrentStep = p.CurrentStep()
		v.Status = fmt.Sprintf("Step %d of %d", p.CurrentStepIndex+1, len(p.SelectedSteps))
	}
	return v
}

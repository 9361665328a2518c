package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
)

const projectColumns = `id, name, email, phone, contact_method, fix_type, project_type, description, selected_steps, current_step_index, tracking_link_id, internal_notes, start_date, created_at, updated_at`

// CreateProject inserts a new project.
func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	steps, err := json.Marshal(stepsOrEmpty(p.SelectedSteps))
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	var start sql.NullInt64
	if p.StartDate != nil {
		start = nullMillis(p.StartDate.UnixMilli(), true)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO projects (` + projectColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Email, p.Phone, string(p.ContactMethod), p.FixType, p.ProjectType,
		p.Description, string(steps), p.CurrentStepIndex, p.TrackingLinkID, p.InternalNotes,
		start, p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return perrors.Conflict("project with tracking id %q already exists", p.TrackingLinkID)
		}
		return perrors.NewStoreError("create project", err)
	}
	return nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("project", id)
	}
	return p, perrors.NewStoreError("get project", err)
}

// GetProjectByTrackingID retrieves a project by its public tracking token.
func (s *Store) GetProjectByTrackingID(ctx context.Context, trackingID string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE tracking_link_id = ?`, trackingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("tracking link", trackingID)
	}
	return p, perrors.NewStoreError("get project by tracking id", err)
}

// ListProjects returns projects newest first, filtered in Go so that the
// same matching rules apply across backends.
func (s *Store) ListProjects(ctx context.Context, f models.ProjectFilter) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, perrors.NewStoreError("list projects", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, perrors.NewStoreError("list projects", err)
		}
		if !f.Matches(p) {
			continue
		}
		out = append(out, p)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, perrors.NewStoreError("list projects", rows.Err())
}

// ListProjectsByStartDate returns projects whose start date is in [from, to).
func (s *Store) ListProjectsByStartDate(ctx context.Context, from, to time.Time) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE start_date >= ? AND start_date < ? ORDER BY start_date, id`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, perrors.NewStoreError("list projects by start date", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, perrors.NewStoreError("list projects by start date", err)
		}
		out = append(out, p)
	}
	return out, perrors.NewStoreError("list projects by start date", rows.Err())
}

// UpdateNotes replaces a project's internal notes.
func (s *Store) UpdateNotes(ctx context.Context, id, notes string) (*models.Project, error) {
	return s.updateProject(ctx, "update notes", id, `internal_notes = ?`, notes)
}

// UpdateStartDate sets or clears a project's start date.
func (s *Store) UpdateStartDate(ctx context.Context, id string, start *time.Time) (*models.Project, error) {
	var v sql.NullInt64
	if start != nil {
		v = nullMillis(start.UnixMilli(), true)
	}
	return s.updateProject(ctx, "update start date", id, `start_date = ?`, v)
}

func (s *Store) updateProject(ctx context.Context, op, id, set string, arg any) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE projects SET `+set+`, updated_at = ? WHERE id = ?`,
		arg, time.Now().UnixMilli(), id)
	if err != nil {
		return nil, perrors.NewStoreError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, perrors.NotFound("project", id)
	}
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	return p, perrors.NewStoreError(op, err)
}

// TransitionStep performs a compare-and-swap on current_step_index and saves
// the outbox intent in the same transaction.
func (s *Store) TransitionStep(ctx context.Context, id string, from, to int, intent *models.OutboxEntry) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, perrors.NewStoreError("transition step", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
	UPDATE projects SET current_step_index = ?, updated_at = ?
	WHERE id = ? AND current_step_index = ? AND ? BETWEEN 0 AND json_array_length(selected_steps)
	`, to, now.UnixMilli(), id, from, to)
	if err != nil {
		return nil, perrors.NewStoreError("transition step", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, perrors.NotFound("project", id)
		}
		if err != nil {
			return nil, perrors.NewStoreError("transition step", err)
		}
		if current.CurrentStepIndex != from {
			return nil, perrors.Conflict("project %s: expected step %d, found %d", id, from, current.CurrentStepIndex)
		}
		if err := ValidateTransition(current, to); err != nil {
			return nil, err
		}
		return nil, perrors.Conflict("project %s changed during transition", id)
	}

	if intent != nil {
		intent.ProjectID = id
		if err := insertOutbox(ctx, tx, intent); err != nil {
			return nil, err
		}
	}

	p, err := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		return nil, perrors.NewStoreError("transition step", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, perrors.NewStoreError("transition step", err)
	}
	return p, nil
}

func scanProject(row rowScanner) (*models.Project, error) {
	p := &models.Project{}
	var method, steps string
	var start sql.NullInt64
	var created, updated int64

	err := row.Scan(
		&p.ID, &p.Name, &p.Email, &p.Phone, &method, &p.FixType, &p.ProjectType,
		&p.Description, &steps, &p.CurrentStepIndex, &p.TrackingLinkID, &p.InternalNotes,
		&start, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	p.ContactMethod = models.ContactMethod(method)
	if err := json.Unmarshal([]byte(steps), &p.SelectedSteps); err != nil {
		return nil, fmt.Errorf("failed to decode steps for project %s: %w", p.ID, err)
	}
	if start.Valid {
		t := time.UnixMilli(start.Int64).UTC()
		p.StartDate = &t
	}
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

func stepsOrEmpty(steps []string) []string {
	if steps == nil {
		return []string{}
	}
	return steps
}

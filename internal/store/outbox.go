package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
)

const outboxColumns = `id, project_id, target_step_index, status, error, created_at, completed_at`

func insertOutbox(ctx context.Context, tx *sql.Tx, e *models.OutboxEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = models.OutboxPending
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO outbox (`+outboxColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		e.ID, e.ProjectID, e.TargetStepIndex, string(e.Status), e.Error, e.CreatedAt.UnixMilli())
	return perrors.NewStoreError("insert outbox", err)
}

// ClaimOutbox moves a pending entry to dispatching.
func (s *Store) ClaimOutbox(ctx context.Context, id string) (*models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE outbox SET status = ? WHERE id = ? AND status = ?`,
		string(models.OutboxDispatching), id, string(models.OutboxPending))
	if err != nil {
		return nil, perrors.NewStoreError("claim outbox", err)
	}
	e, err := scanOutbox(s.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("outbox entry", id)
	}
	if err != nil {
		return nil, perrors.NewStoreError("claim outbox", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, perrors.Conflict("outbox entry %s is %s", id, e.Status)
	}
	return e, nil
}

// CompleteOutbox records the terminal state of an entry.
func (s *Store) CompleteOutbox(ctx context.Context, id string, status models.OutboxStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE outbox SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UnixMilli(), id)
	if err != nil {
		return perrors.NewStoreError("complete outbox", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.NotFound("outbox entry", id)
	}
	return nil
}

// PendingOutbox lists pending entries created before olderThan.
func (s *Store) PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]*models.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
	SELECT `+outboxColumns+` FROM outbox
	WHERE status = ? AND created_at < ?
	ORDER BY created_at LIMIT ?
	`, string(models.OutboxPending), olderThan.UnixMilli(), clampLimit(limit, maxPage))
	if err != nil {
		return nil, perrors.NewStoreError("pending outbox", err)
	}
	defer rows.Close()

	var out []*models.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, perrors.NewStoreError("pending outbox", err)
		}
		out = append(out, e)
	}
	return out, perrors.NewStoreError("pending outbox", rows.Err())
}

func scanOutbox(row rowScanner) (*models.OutboxEntry, error) {
	e := &models.OutboxEntry{}
	var status string
	var created int64
	var completed sql.NullInt64
	if err := row.Scan(&e.ID, &e.ProjectID, &e.TargetStepIndex, &status, &e.Error, &created, &completed); err != nil {
		return nil, err
	}
	e.Status = models.OutboxStatus(status)
	e.CreatedAt = time.UnixMilli(created).UTC()
	if completed.Valid {
		t := time.UnixMilli(completed.Int64).UTC()
		e.CompletedAt = &t
	}
	return e, nil
}

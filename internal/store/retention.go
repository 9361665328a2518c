package store

import (
	"context"
	"fmt"
	"time"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
)

// PurgeOutbox deletes done and failed outbox entries completed before the cutoff.
// Messages and projects are never deleted.
func (s *Store) PurgeOutbox(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM outbox WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?",
		string(models.OutboxDone), string(models.OutboxFailed), before.UnixMilli(),
	)
	if err != nil {
		return 0, perrors.NewStoreError("purge outbox", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DBSizeBytes returns the database size in bytes.
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pageCount * pageSize, nil
}

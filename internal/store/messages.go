package store

import (
	"context"
	"database/sql"
	"time"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
)

const messageColumns = `seq, id, from_addr, to_addr, phone, subject, body, timestamp, read, source, status, type, project_id, provider_message_id, error, pair_low, pair_high, updated_at`

// maxPage bounds a single page of messages.
const maxPage = 500

// InsertMessage appends m to the log.
func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	if err := PrepareMessage(s.operator, m, time.Now().UTC()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO messages (id, from_addr, to_addr, phone, subject, body, timestamp, read, source, status, type, project_id, provider_message_id, error, pair_low, pair_high)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.From, m.To, m.Phone, m.Subject, m.Text, m.Timestamp.UnixMilli(), m.Read,
		string(m.Source), m.Status, m.Type, m.ProjectID, m.ProviderMessageID, m.Error,
		m.ContactEmailPair[0], m.ContactEmailPair[1],
	)
	if err != nil {
		return perrors.NewStoreError("insert message", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return perrors.NewStoreError("insert message", err)
	}
	m.Seq = seq
	return nil
}

// ListMessages returns the whole log, newest first.
func (s *Store) ListMessages(ctx context.Context) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryMessages(ctx, "list messages",
		`SELECT `+messageColumns+` FROM messages ORDER BY timestamp DESC, seq DESC`)
}

// PageMessages returns one page of a thread, newest first.
func (s *Store) PageMessages(ctx context.Context, contact string, before *models.Cursor, limit int) ([]*models.Message, error) {
	pair := models.ContactPair(s.operator, models.NormalizeAddress(contact))
	limit = clampLimit(limit, maxPage)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if before == nil {
		return s.queryMessages(ctx, "page messages", `
		SELECT `+messageColumns+` FROM messages
		WHERE pair_low = ? AND pair_high = ?
		ORDER BY timestamp DESC, seq DESC LIMIT ?
		`, pair[0], pair[1], limit)
	}
	ts := before.Timestamp.UnixMilli()
	return s.queryMessages(ctx, "page messages", `
	SELECT `+messageColumns+` FROM messages
	WHERE pair_low = ? AND pair_high = ? AND (timestamp < ? OR (timestamp = ? AND seq < ?))
	ORDER BY timestamp DESC, seq DESC LIMIT ?
	`, pair[0], pair[1], ts, ts, before.Seq, limit)
}

// LatestMessage returns the newest message exchanged with contact.
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

// UpdateStatusByProviderID records a delivery status reported by the SMS provider.
func (s *Store) UpdateStatusByProviderID(ctx context.Context, providerID, status string) (int, error) {
	if providerID == "" {
		return 0, perrors.NewValidationError("providerMessageId", "is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, updated_at = ? WHERE provider_message_id = ?`,
		status, time.Now().UnixMilli(), providerID)
	if err != nil {
		return 0, perrors.NewStoreError("update message status", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkThreadRead marks inbound messages from contact as read.
func (s *Store) MarkThreadRead(ctx context.Context, contact string) (int, error) {
	contact = models.NormalizeAddress(contact)
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read = 1, updated_at = ? WHERE from_addr = ? AND to_addr = ? AND read = 0`,
		time.Now().UnixMilli(), contact, s.operator)
	if err != nil {
		return 0, perrors.NewStoreError("mark thread read", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) queryMessages(ctx context.Context, op, query string, args ...any) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, perrors.NewStoreError(op, err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, perrors.NewStoreError(op, err)
		}
		out = append(out, m)
	}
	return out, perrors.NewStoreError(op, rows.Err())
}

func scanMessage(row rowScanner) (*models.Message, error) {
	m := &models.Message{}
	var source string
	var ts int64
	var low, high string
	var updated sql.NullInt64

	err := row.Scan(
		&m.Seq, &m.ID, &m.From, &m.To, &m.Phone, &m.Subject, &m.Text, &ts, &m.Read,
		&source, &m.Status, &m.Type, &m.ProjectID, &m.ProviderMessageID, &m.Error,
		&low, &high, &updated,
	)
	if err != nil {
		return nil, err
	}
	m.Source = models.Source(source)
	m.Timestamp = time.UnixMilli(ts).UTC()
	m.ContactEmailPair = []string{low, high}
	if updated.Valid {
		u := time.UnixMilli(updated.Int64).UTC()
		m.UpdatedAt = &u
	}
	return m, nil
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
)

// Memory is an in-process backend for development and tests. Values are
// copied on the way in and out so callers never share state with the store.
type Memory struct {
	mu       sync.RWMutex
	operator string
	projects map[string]*models.Project
	messages []*models.Message
	outbox   map[string]*models.OutboxEntry
	seq      int64
	closed   bool
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty in-memory backend.
func NewMemory(operator string) *Memory {
	return &Memory{
		operator: models.NormalizeEmail(operator),
		projects: make(map[string]*models.Project),
		outbox:   make(map[string]*models.OutboxEntry),
	}
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return perrors.ErrUnavailable
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) CreateProject(ctx context.Context, p *models.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.projects {
		if existing.TrackingLinkID == p.TrackingLinkID {
			return perrors.Conflict("project with tracking id %q already exists", p.TrackingLinkID)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := m.projects[p.ID]; ok {
		return perrors.Conflict("project %s already exists", p.ID)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.SelectedSteps == nil {
		p.SelectedSteps = []string{}
	}
	m.projects[p.ID] = p.Clone()
	return nil
}

func (m *Memory) GetProject(ctx context.Context, id string) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, perrors.NotFound("project", id)
	}
	return p.Clone(), nil
}

func (m *Memory) GetProjectByTrackingID(ctx context.Context, trackingID string) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.TrackingLinkID == trackingID {
			return p.Clone(), nil
		}
	}
	return nil, perrors.NotFound("tracking link", trackingID)
}

func (m *Memory) ListProjects(ctx context.Context, f models.ProjectFilter) ([]*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*models.Project, 0, len(m.projects))
	for _, p := range m.projects {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	var out []*models.Project
	for _, p := range all {
		if !f.Matches(p) {
			continue
		}
		out = append(out, p.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListProjectsByStartDate(ctx context.Context, from, to time.Time) ([]*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Project
	for _, p := range m.projects {
		if p.StartDate == nil || p.StartDate.Before(from) || !p.StartDate.Before(to) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(*out[j].StartDate) {
			return out[i].StartDate.Before(*out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateNotes(ctx context.Context, id, notes string) (*models.Project, error) {
	return m.update(id, func(p *models.Project) { p.InternalNotes = notes })
}

func (m *Memory) UpdateStartDate(ctx context.Context, id string, start *time.Time) (*models.Project, error) {
	return m.update(id, func(p *models.Project) {
		if start == nil {
			p.StartDate = nil
			return
		}
		t := start.UTC().Truncate(time.Millisecond)
		p.StartDate = &t
	})
}

func (m *Memory) update(id string, fn func(p *models.Project)) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, perrors.NotFound("project", id)
	}
	fn(p)
	p.UpdatedAt = time.Now().UTC()
	return p.Clone(), nil
}

func (m *Memory) TransitionStep(ctx context.Context, id string, from, to int, intent *models.OutboxEntry) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, perrors.NotFound("project", id)
	}
	if p.CurrentStepIndex != from {
		return nil, perrors.Conflict("project %s: expected step %d, found %d", id, from, p.CurrentStepIndex)
	}
	if err := ValidateTransition(p, to); err != nil {
		return nil, err
	}
	p.CurrentStepIndex = to
	p.UpdatedAt = time.Now().UTC()
	if intent != nil {
		intent.ProjectID = id
		if intent.Status == "" {
			intent.Status = models.OutboxPending
		}
		if intent.CreatedAt.IsZero() {
			intent.CreatedAt = time.Now().UTC()
		}
		e := *intent
		m.outbox[e.ID] = &e
	}
	return p.Clone(), nil
}

func (m *Memory) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := PrepareMessage(m.operator, msg, time.Now().UTC()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	msg.Seq = m.seq
	m.messages = append(m.messages, msg.Clone())
	return nil
}

func (m *Memory) ListMessages(ctx context.Context) ([]*models.Message, error) {
	m.mu.RLock()
	out := make([]*models.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, msg.Clone())
	}
	m.mu.RUnlock()
	models.NewestFirst(out)
	return out, nil
}

func (m *Memory) PageMessages(ctx context.Context, contact string, before *models.Cursor, limit int) ([]*models.Message, error) {
	pair := models.ContactPair(m.operator, models.NormalizeAddress(contact))
	limit = clampLimit(limit, maxPage)

	m.mu.RLock()
	var thread []*models.Message
	for _, msg := range m.messages {
		if msg.ContactEmailPair[0] != pair[0] || msg.ContactEmailPair[1] != pair[1] {
			continue
		}
		if before != nil && !before.After(msg) {
			continue
		}
		thread = append(thread, msg.Clone())
	}
	m.mu.RUnlock()

	models.NewestFirst(thread)
	if len(thread) > limit {
		thread = thread[:limit]
	}
	return thread, nil
}

func (m *Memory) LatestMessage(ctx context.Context, contact string) (*models.Message, error) {
	msgs, _ := m.PageMessages(ctx, contact, nil, 1)
	if len(msgs) == 0 {
		return nil, perrors.NotFound("thread", contact)
	}
	return msgs[0], nil
}

func (m *Memory) UpdateStatusByProviderID(ctx context.Context, providerID, status string) (int, error) {
	if providerID == "" {
		return 0, perrors.NewValidationError("providerMessageId", "is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, msg := range m.messages {
		if msg.ProviderMessageID == providerID {
			msg.Status = status
			u := now
			msg.UpdatedAt = &u
			n++
		}
	}
	return n, nil
}

func (m *Memory) MarkThreadRead(ctx context.Context, contact string) (int, error) {
	contact = models.NormalizeAddress(contact)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.From == contact && msg.To == m.operator && !msg.Read {
			msg.Read = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) ClaimOutbox(ctx context.Context, id string) (*models.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.outbox[id]
	if !ok {
		return nil, perrors.NotFound("outbox entry", id)
	}
	if e.Status != models.OutboxPending {
		return nil, perrors.Conflict("outbox entry %s is %s", id, e.Status)
	}
	e.Status = models.OutboxDispatching
	c := *e
	return &c, nil
}

func (m *Memory) CompleteOutbox(ctx context.Context, id string, status models.OutboxStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.outbox[id]
	if !ok {
		return perrors.NotFound("outbox entry", id)
	}
	now := time.Now().UTC()
	e.Status = status
	e.Error = errMsg
	e.CompletedAt = &now
	return nil
}

func (m *Memory) PendingOutbox(ctx context.Context, olderThan time.Time, limit int) ([]*models.OutboxEntry, error) {
	m.mu.RLock()
	var out []*models.OutboxEntry
	for _, e := range m.outbox {
		if e.Status == models.OutboxPending && e.CreatedAt.Before(olderThan) {
			c := *e
			out = append(out, &c)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit = clampLimit(limit, maxPage); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PurgeOutbox(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.outbox {
		if (e.Status == models.OutboxDone || e.Status == models.OutboxFailed) &&
			e.CompletedAt != nil && e.CompletedAt.Before(before) {
			delete(m.outbox, id)
			n++
		}
	}
	return n, nil
}

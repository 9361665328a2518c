// Package storetest holds a conformance suite every store.Backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/store"
)

// Operator is the operator address backends under test must be opened with.
const Operator = "admin@irongraad.com"

// Factory opens a fresh, empty backend for one subtest.
type Factory func(t *testing.T) store.Backend

// Run executes the suite against backends produced by open.
func Run(t *testing.T, open Factory) {
	tests := map[string]func(t *testing.T, b store.Backend){
		"ProjectCRUD":          testProjectCRUD,
		"TrackingIDUnique":     testTrackingIDUnique,
		"ListAndSearch":        testListAndSearch,
		"StartDateWindow":      testStartDateWindow,
		"TransitionCAS":        testTransitionCAS,
		"TransitionBounds":     testTransitionBounds,
		"ConcurrentAdvance":    testConcurrentAdvance,
		"MessagePairInvariant": testMessagePairInvariant,
		"PageMessages":         testPageMessages,
		"TimestampTies":        testTimestampTies,
		"StatusAndRead":        testStatusAndRead,
		"OutboxLifecycle":      testOutboxLifecycle,
	}
	for name, fn := range tests {
		fn := fn
		t.Run(name, func(t *testing.T) {
			b := open(t)
			t.Cleanup(func() { b.Close() })
			fn(t, b)
		})
	}
}

// NewProject returns a valid project with the given tracking id.
func NewProject(trackingID string, steps ...string) *models.Project {
	return &models.Project{
		Name:           "Jane Roe",
		Email:          "jane@example.com",
		Phone:          "+15551234567",
		ContactMethod:  models.ContactBoth,
		FixType:        "Plumbing",
		ProjectType:    "Leak Repair",
		SelectedSteps:  steps,
		TrackingLinkID: trackingID,
	}
}

func testProjectCRUD(t *testing.T, b store.Backend) {
	ctx := context.Background()
	p := NewProject("trk00001", "Inspect", "Repair")
	require.NoError(t, b.CreateProject(ctx, p))
	require.NotEmpty(t, p.ID)

	got, err := b.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", got.Name)
	assert.Equal(t, []string{"Inspect", "Repair"}, got.SelectedSteps)
	assert.Equal(t, models.ContactBoth, got.ContactMethod)
	assert.Equal(t, 0, got.CurrentStepIndex)

	byTrk, err := b.GetProjectByTrackingID(ctx, "trk00001")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byTrk.ID)

	_, err = b.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	_, err = b.GetProjectByTrackingID(ctx, "missing")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	updated, err := b.UpdateNotes(ctx, p.ID, "gate code 1234")
	require.NoError(t, err)
	assert.Equal(t, "gate code 1234", updated.InternalNotes)

	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	updated, err = b.UpdateStartDate(ctx, p.ID, &start)
	require.NoError(t, err)
	require.NotNil(t, updated.StartDate)
	assert.True(t, start.Equal(*updated.StartDate))

	updated, err = b.UpdateStartDate(ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, updated.StartDate)

	_, err = b.UpdateNotes(ctx, "missing", "x")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	err = b.CreateProject(ctx, &models.Project{TrackingLinkID: "trk00002"})
	assert.ErrorIs(t, err, perrors.ErrValidation)
}

func testTrackingIDUnique(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateProject(ctx, NewProject("dup00001", "A")))
	err := b.CreateProject(ctx, NewProject("dup00001", "A"))
	assert.ErrorIs(t, err, perrors.ErrConflict)
}

func testListAndSearch(t *testing.T, b store.Backend) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"Alice", "Bob", "Carol"} {
		p := NewProject(fmt.Sprintf("lst%05d", i), "A")
		p.Name = name
		p.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if name == "Bob" {
			p.FixType = "Roofing"
		}
		require.NoError(t, b.CreateProject(ctx, p))
	}

	all, err := b.ListProjects(ctx, models.ProjectFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Carol", all[0].Name)
	assert.Equal(t, "Alice", all[2].Name)

	roof, err := b.ListProjects(ctx, models.ProjectFilter{Query: "roof"})
	require.NoError(t, err)
	require.Len(t, roof, 1)
	assert.Equal(t, "Bob", roof[0].Name)

	limited, err := b.ListProjects(ctx, models.ProjectFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func testStartDateWindow(t *testing.T, b store.Backend) {
	ctx := context.Background()
	dates := []time.Time{
		time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	for i, d := range dates {
		d := d
		p := NewProject(fmt.Sprintf("cal%05d", i), "A")
		p.StartDate = &d
		require.NoError(t, b.CreateProject(ctx, p))
	}
	require.NoError(t, b.CreateProject(ctx, NewProject("cal99999", "A")))

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := b.ListProjectsByStartDate(ctx, from, from.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cal00001", got[0].TrackingLinkID)
	assert.Equal(t, "cal00002", got[1].TrackingLinkID)
}

func testTransitionCAS(t *testing.T, b store.Backend) {
	ctx := context.Background()
	p := NewProject("cas00001", "A", "B")
	require.NoError(t, b.CreateProject(ctx, p))

	intent := store.NewOutboxEntry(p.ID, 1, time.Now().Add(-time.Hour))
	got, err := b.TransitionStep(ctx, p.ID, 0, 1, intent)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStepIndex)

	_, err = b.TransitionStep(ctx, p.ID, 0, 1, nil)
	assert.ErrorIs(t, err, perrors.ErrConflict)

	_, err = b.TransitionStep(ctx, "missing", 0, 1, nil)
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	pending, err := b.PendingOutbox(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, intent.ID, pending[0].ID)
	assert.Equal(t, p.ID, pending[0].ProjectID)
	assert.Equal(t, 1, pending[0].TargetStepIndex)
}

func testTransitionBounds(t *testing.T, b store.Backend) {
	ctx := context.Background()
	p := NewProject("bnd00001", "A", "B")
	require.NoError(t, b.CreateProject(ctx, p))

	_, err := b.TransitionStep(ctx, p.ID, 0, 3, nil)
	assert.ErrorIs(t, err, perrors.ErrValidation)
	_, err = b.TransitionStep(ctx, p.ID, 0, -1, nil)
	assert.ErrorIs(t, err, perrors.ErrValidation)

	got, err := b.TransitionStep(ctx, p.ID, 0, 2, nil)
	require.NoError(t, err)
	assert.True(t, got.IsComplete())

	pending, err := b.PendingOutbox(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "failed transitions must not leave intents behind")
}

func testConcurrentAdvance(t *testing.T, b store.Backend) {
	ctx := context.Background()
	p := NewProject("con00001", "A", "B", "C")
	require.NoError(t, b.CreateProject(ctx, p))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.TransitionStep(ctx, p.ID, 0, 1, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, perrors.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, conflicts)

	got, err := b.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStepIndex)
}

func testMessagePairInvariant(t *testing.T, b store.Backend) {
	ctx := context.Background()
	m := &models.Message{From: "Jane@Example.com", To: Operator, Text: "hi"}
	require.NoError(t, b.InsertMessage(ctx, m))
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, models.ContactPair(Operator, "jane@example.com"), m.ContactEmailPair)
	assert.Equal(t, models.SourceEmail, m.Source)

	err := b.InsertMessage(ctx, &models.Message{From: "a@example.com", To: "b@example.com", Text: "x"})
	assert.ErrorIs(t, err, perrors.ErrValidation)

	err = b.InsertMessage(ctx, &models.Message{From: Operator, To: "", Text: "x"})
	assert.ErrorIs(t, err, perrors.ErrValidation)

	all, err := b.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.ContactPair(Operator, all[0].Contact(Operator)), all[0].ContactEmailPair)
}

func insertThread(t *testing.T, b store.Backend, contact string, n int, base time.Time) []*models.Message {
	t.Helper()
	var out []*models.Message
	for i := 0; i < n; i++ {
		m := &models.Message{
			From:      contact,
			To:        Operator,
			Text:      fmt.Sprintf("msg %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if i%2 == 1 {
			m.From, m.To = Operator, contact
		}
		require.NoError(t, b.InsertMessage(context.Background(), m))
		out = append(out, m)
	}
	return out
}

func testPageMessages(t *testing.T, b store.Backend) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	msgs := insertThread(t, b, "a@example.com", 5, base)
	insertThread(t, b, "b@example.com", 3, base)

	page, err := b.PageMessages(ctx, "a@example.com", nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, msgs[4].ID, page[0].ID)
	assert.Equal(t, msgs[3].ID, page[1].ID)

	cursor := page[1].Cursor()
	older, err := b.PageMessages(ctx, "a@example.com", &cursor, 2)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, msgs[2].ID, older[0].ID)
	assert.Equal(t, msgs[1].ID, older[1].ID)

	cursor = older[1].Cursor()
	last, err := b.PageMessages(ctx, "a@example.com", &cursor, 2)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, msgs[0].ID, last[0].ID)

	latest, err := b.LatestMessage(ctx, "A@example.com")
	require.NoError(t, err)
	assert.Equal(t, msgs[4].ID, latest.ID)

	_, err = b.LatestMessage(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func testTimestampTies(t *testing.T, b store.Backend) {
	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		m := &models.Message{From: "tie@example.com", To: Operator, Text: "t", Timestamp: ts}
		require.NoError(t, b.InsertMessage(ctx, m))
		ids = append(ids, m.ID)
	}

	page, err := b.PageMessages(ctx, "tie@example.com", nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	cursor := page[1].Cursor()
	rest, err := b.PageMessages(ctx, "tie@example.com", &cursor, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)
}

func testStatusAndRead(t *testing.T, b store.Backend) {
	ctx := context.Background()
	out := &models.Message{From: Operator, To: "c@example.com", Source: models.SourceSMS, ProviderMessageID: "SM1", Status: "queued"}
	require.NoError(t, b.InsertMessage(ctx, out))
	in1 := &models.Message{From: "c@example.com", To: Operator, Text: "1"}
	in2 := &models.Message{From: "c@example.com", To: Operator, Text: "2"}
	require.NoError(t, b.InsertMessage(ctx, in1))
	require.NoError(t, b.InsertMessage(ctx, in2))

	n, err := b.UpdateStatusByProviderID(ctx, "SM1", "delivered")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = b.UpdateStatusByProviderID(ctx, "SM-unknown", "delivered")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = b.MarkThreadRead(ctx, "c@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := b.PageMessages(ctx, "c@example.com", nil, 10)
	require.NoError(t, err)
	for _, m := range all {
		if m.ID == out.ID {
			assert.Equal(t, "delivered", m.Status)
			assert.NotNil(t, m.UpdatedAt)
			assert.False(t, m.Read, "outbound messages are not touched by mark-read")
		} else {
			assert.True(t, m.Read)
		}
	}
}

func testOutboxLifecycle(t *testing.T, b store.Backend) {
	ctx := context.Background()
	p := NewProject("obx00001", "A", "B")
	require.NoError(t, b.CreateProject(ctx, p))
	intent := store.NewOutboxEntry(p.ID, 1, time.Now().Add(-time.Hour))
	_, err := b.TransitionStep(ctx, p.ID, 0, 1, intent)
	require.NoError(t, err)

	claimed, err := b.ClaimOutbox(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxDispatching, claimed.Status)

	_, err = b.ClaimOutbox(ctx, intent.ID)
	assert.ErrorIs(t, err, perrors.ErrConflict)
	_, err = b.ClaimOutbox(ctx, "missing")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	pending, err := b.PendingOutbox(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, b.CompleteOutbox(ctx, intent.ID, models.OutboxDone, ""))
	assert.ErrorIs(t, b.CompleteOutbox(ctx, "missing", models.OutboxDone, ""), perrors.ErrNotFound)

	n, err := b.PurgeOutbox(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = b.PurgeOutbox(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
)

const operator = "admin@irongraad.com"

func TestContactPair_RoundTrip(t *testing.T) {
	contacts := []string{"a@example.com", "zed@example.com", "+15551234567", operator}
	for _, c := range contacts {
		pair := ContactPair(operator, c)
		require.Len(t, pair, 2)
		assert.True(t, pair[0] <= pair[1], "pair must be sorted")

		inbound := &Message{From: c, To: operator, ContactEmailPair: pair}
		outbound := &Message{From: operator, To: c, ContactEmailPair: pair}
		assert.Equal(t, pair, ContactPair(operator, inbound.Contact(operator)))
		assert.Equal(t, pair, ContactPair(operator, outbound.Contact(operator)))
	}
}

func TestMessage_InboundAndContact(t *testing.T) {
	m := &Message{From: "a@example.com", To: operator}
	assert.True(t, m.Inbound(operator))
	assert.Equal(t, "a@example.com", m.Contact(operator))

	m = &Message{From: operator, To: "a@example.com"}
	assert.False(t, m.Inbound(operator))
	assert.Equal(t, "a@example.com", m.Contact(operator))
}

func TestCursor_After(t *testing.T) {
	ts := time.Unix(100, 0)
	c := Cursor{Timestamp: ts, Seq: 5}

	assert.True(t, c.After(&Message{Timestamp: ts.Add(-time.Second), Seq: 9}))
	assert.True(t, c.After(&Message{Timestamp: ts, Seq: 4}))
	assert.False(t, c.After(&Message{Timestamp: ts, Seq: 5}))
	assert.False(t, c.After(&Message{Timestamp: ts.Add(time.Second), Seq: 1}))
}

func TestNewestFirst_TieBreaksOnSeq(t *testing.T) {
	ts := time.Unix(100, 0)
	msgs := []*Message{
		{ID: "a", Timestamp: ts, Seq: 1},
		{ID: "b", Timestamp: ts.Add(time.Second), Seq: 2},
		{ID: "c", Timestamp: ts, Seq: 3},
	}
	NewestFirst(msgs)
	assert.Equal(t, "b", msgs[0].ID)
	assert.Equal(t, "c", msgs[1].ID)
	assert.Equal(t, "a", msgs[2].ID)
}

func TestProject_Validate(t *testing.T) {
	valid := &Project{Name: "Jane", Email: "jane@example.com", ContactMethod: ContactEmail, SelectedSteps: []string{"A"}}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name  string
		p     Project
		field string
	}{
		{"missing name", Project{Email: "x@y.z"}, "name"},
		{"bad method", Project{Name: "n", Email: "x@y.z", ContactMethod: "fax"}, "contactMethod"},
		{"no address", Project{Name: "n"}, "email"},
		{"sms without phone", Project{Name: "n", Email: "x@y.z", ContactMethod: ContactSMS}, "phone"},
		{"index past end", Project{Name: "n", Email: "x@y.z", CurrentStepIndex: 2, SelectedSteps: []string{"A"}}, "currentStepIndex"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, perrors.ErrValidation)
			var vErr *perrors.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestProject_StepsAndCompletion(t *testing.T) {
	p := &Project{SelectedSteps: []string{"A", "B"}}
	assert.Equal(t, "A", p.CurrentStep())
	assert.False(t, p.IsComplete())

	p.CurrentStepIndex = 2
	assert.Equal(t, "", p.CurrentStep())
	assert.True(t, p.IsComplete())
}

func TestProject_ContactKeyFallsBackToPhone(t *testing.T) {
	assert.Equal(t, "jane@example.com", (&Project{Email: " Jane@Example.com "}).ContactKey())
	assert.Equal(t, "+15551234567", (&Project{Phone: "+1 (555) 123-4567"}).ContactKey())
}

func TestContactMethod_Channels(t *testing.T) {
	assert.True(t, ContactEmail.Email())
	assert.False(t, ContactEmail.SMS())
	assert.True(t, ContactSMS.SMS())
	assert.False(t, ContactSMS.Email())
	assert.True(t, ContactBoth.Email() && ContactBoth.SMS())
	assert.True(t, ContactMethod("").Email() && ContactMethod("").SMS())
}

func TestSamePhone(t *testing.T) {
	assert.True(t, SamePhone("+1 555 123 4567", "(555) 123-4567"))
	assert.False(t, SamePhone("5551234567", "5551234568"))
	assert.False(t, SamePhone("", ""))
}

func TestProjectFilter_Matches(t *testing.T) {
	p := &Project{Name: "Jane Roe", FixType: "Plumbing", TrackingLinkID: "ab12cd34"}
	assert.True(t, ProjectFilter{}.Matches(p))
	assert.True(t, ProjectFilter{Query: "jane"}.Matches(p))
	assert.True(t, ProjectFilter{Query: "PLUMB"}.Matches(p))
	assert.True(t, ProjectFilter{Query: "12cd"}.Matches(p))
	assert.False(t, ProjectFilter{Query: "roofing"}.Matches(p))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeAddress(" JANE@example.com"))
	assert.Equal(t, "+15551234567", NormalizeAddress("+1 555-123-4567"))
}

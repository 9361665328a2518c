package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/metrics"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/store"
)

const operator = "admin@irongraad.com"

type fakeEmail struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (f *fakeEmail) SendEmail(ctx context.Context, e Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, e)
	return nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []SMS
	err  error
}

func (f *fakeSMS) SendSMS(ctx context.Context, s SMS) (SMSResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return SMSResult{}, f.err
	}
	f.sent = append(f.sent, s)
	return SMSResult{ProviderMessageID: "SM123", Status: "queued"}, nil
}

type failingLog struct{}

func (failingLog) InsertMessage(ctx context.Context, m *models.Message) error {
	return perrors.NewStoreError("insert message", errors.New("disk full"))
}

func newDispatcher(email EmailSender, sms SMSSender, log MessageLog) *Dispatcher {
	cfg := Config{
		Operator:        operator,
		EmailFrom:       operator,
		SMSFrom:         "+18884891932",
		TrackingBaseURL: "https://hub.example.com/",
	}
	return NewDispatcher(cfg, email, sms, log, metrics.New(), zerolog.Nop())
}

func project(method models.ContactMethod) *models.Project {
	return &models.Project{
		ID:             "p1",
		Name:           "Jane",
		Email:          "jane@example.com",
		Phone:          "+15551234567",
		ContactMethod:  method,
		SelectedSteps:  []string{"A", "B"},
		TrackingLinkID: "abc12345",
	}
}

func TestDispatch_StepText(t *testing.T) {
	email, sms := &fakeEmail{}, &fakeSMS{}
	mem := store.NewMemory(operator)
	d := newDispatcher(email, sms, mem)

	out, err := d.Dispatch(context.Background(), project(models.ContactEmail), 1)
	require.NoError(t, err)
	assert.Contains(t, out.Text, `"B"`)
	assert.Contains(t, out.Text, "Track it here: https://hub.example.com/track/abc12345")
	require.Len(t, email.sent, 1)
	assert.Equal(t, subjectUpdate, email.sent[0].Subject)
	assert.Empty(t, sms.sent)

	out, err = d.Dispatch(context.Background(), project(models.ContactEmail), 2)
	require.NoError(t, err)
	assert.Contains(t, out.Text, "complete")
	assert.Equal(t, subjectComplete, email.sent[1].Subject)
}

func TestDispatch_LogsOneProjectUpdate(t *testing.T) {
	mem := store.NewMemory(operator)
	d := newDispatcher(&fakeEmail{}, &fakeSMS{}, mem)

	out, err := d.Dispatch(context.Background(), project(models.ContactBoth), 1)
	require.NoError(t, err)
	require.NotNil(t, out.Message)

	msgs, err := mem.ListMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, models.TypeProjectUpdate, m.Type)
	assert.Equal(t, "p1", m.ProjectID)
	assert.Equal(t, operator, m.From)
	assert.Equal(t, "jane@example.com", m.To)
	assert.Equal(t, models.ContactPair(operator, "jane@example.com"), m.ContactEmailPair)
	assert.Equal(t, "SM123", m.ProviderMessageID)
	assert.Equal(t, "queued", m.Status)
	assert.Equal(t, models.SourceEmail, m.Source)
	assert.True(t, m.Read)
}

func TestDispatch_BothWithFailingSMS(t *testing.T) {
	email := &fakeEmail{}
	sms := &fakeSMS{err: perrors.NewChannelError("sms", 400, "invalid number")}
	mem := store.NewMemory(operator)
	d := newDispatcher(email, sms, mem)

	out, err := d.Dispatch(context.Background(), project(models.ContactBoth), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrChannel)
	assert.NotErrorIs(t, err, perrors.ErrStore)

	require.Len(t, email.sent, 1, "email half still goes out")
	assert.NoError(t, out.Email.Err)
	assert.Error(t, out.SMS.Err)

	msgs, _ := mem.ListMessages(context.Background())
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusError, msgs[0].Status)
	assert.Contains(t, msgs[0].Error, "invalid number")
}

func TestDispatch_BothChannelsFail(t *testing.T) {
	d := newDispatcher(&fakeEmail{err: errors.New("smtp down")}, &fakeSMS{err: errors.New("twilio down")}, store.NewMemory(operator))
	out, err := d.Dispatch(context.Background(), project(models.ContactBoth), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Contains(t, err.Error(), "twilio down")
	var chErr *perrors.ChannelError
	require.ErrorAs(t, out.Email.Err, &chErr)
	assert.Equal(t, "email", chErr.Channel)
}

func TestDispatch_SMSOnlyWithoutEmailKeysByPhone(t *testing.T) {
	mem := store.NewMemory(operator)
	d := newDispatcher(&fakeEmail{}, &fakeSMS{}, mem)
	p := project(models.ContactSMS)
	p.Email = ""

	_, err := d.Dispatch(context.Background(), p, 1)
	require.NoError(t, err)
	msgs, _ := mem.ListMessages(context.Background())
	require.Len(t, msgs, 1)
	assert.Equal(t, "+15551234567", msgs[0].To)
	assert.Equal(t, models.SourceSMS, msgs[0].Source)
}

func TestDispatch_SMSOnlyWithEmailKeysByEmail(t *testing.T) {
	mem := store.NewMemory(operator)
	email := &fakeEmail{}
	d := newDispatcher(email, &fakeSMS{}, mem)

	_, err := d.Dispatch(context.Background(), project(models.ContactSMS), 1)
	require.NoError(t, err)
	assert.Empty(t, email.sent)
	msgs, _ := mem.ListMessages(context.Background())
	require.Len(t, msgs, 1)
	assert.Equal(t, "jane@example.com", msgs[0].To)
	assert.Equal(t, models.SourceSMS, msgs[0].Source)
}

func TestDispatch_Validation(t *testing.T) {
	d := newDispatcher(&fakeEmail{}, &fakeSMS{}, store.NewMemory(operator))

	p := project(models.ContactBoth)
	p.ID = ""
	_, err := d.Dispatch(context.Background(), p, 1)
	assert.ErrorIs(t, err, perrors.ErrValidation)

	_, err = d.Send(context.Background(), Notice{ProjectID: "p1"})
	assert.ErrorIs(t, err, perrors.ErrValidation)
}

func TestDispatch_StoreFailureSurfaces(t *testing.T) {
	email := &fakeEmail{}
	d := newDispatcher(email, &fakeSMS{}, failingLog{})
	out, err := d.Dispatch(context.Background(), project(models.ContactEmail), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrStore)
	assert.Len(t, email.sent, 1)
	assert.Nil(t, out.Message)
}

func TestLogSender(t *testing.T) {
	l := NewLogSender(zerolog.Nop())
	assert.NoError(t, l.SendEmail(context.Background(), Email{To: "a@b.c", Subject: "s", Body: "b"}))
	assert.ErrorIs(t, l.SendEmail(context.Background(), Email{To: "a@b.c"}), perrors.ErrValidation)

	res, err := l.SendSMS(context.Background(), SMS{To: "+1555", Body: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ProviderMessageID)
}

package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-hub/internal/contacts"
	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/health"
	"github.com/p-blackswan/project-hub/internal/inbox"
	"github.com/p-blackswan/project-hub/internal/metrics"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/notify"
	"github.com/p-blackswan/project-hub/internal/outbox"
	"github.com/p-blackswan/project-hub/internal/projects"
	"github.com/p-blackswan/project-hub/internal/steps"
	"github.com/p-blackswan/project-hub/internal/store"
	"github.com/p-blackswan/project-hub/internal/templates"
	"github.com/p-blackswan/project-hub/internal/twilio"
)

const (
	op          = "admin@irongraad.com"
	webhookURL  = "https://hub.example.com/api/twilio-webhook"
	twilioToken = "token"
	janePhone   = "+15551234567"
)

type fakeEmail struct {
	mu   sync.Mutex
	sent []notify.Email
	err  error
}

func (f *fakeEmail) SendEmail(ctx context.Context, e notify.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := e.Validate(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, e)
	return nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []notify.SMS
	err  error
}

func (f *fakeSMS) SendSMS(ctx context.Context, s notify.SMS) (notify.SMSResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return notify.SMSResult{}, f.err
	}
	f.sent = append(f.sent, s)
	return notify.SMSResult{ProviderMessageID: fmt.Sprintf("SM%d", len(f.sent)), Status: "queued"}, nil
}

type fixture struct {
	app   *fiber.App
	mem   *store.Memory
	email *fakeEmail
	sms   *fakeSMS
}

// testApp wires the real services on an in-memory store behind the server.
func testApp(t *testing.T, rl RateLimitConfig) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	mem := store.NewMemory(op)
	m := metrics.New()
	email, sms := &fakeEmail{}, &fakeSMS{}

	catalog, err := templates.Default()
	require.NoError(t, err)
	dir := contacts.NewDirectory(mem, 64, logger)
	disp := notify.NewDispatcher(notify.Config{
		Operator:        op,
		EmailFrom:       op,
		SMSFrom:         "+15550000000",
		TrackingBaseURL: "https://hub.example.com",
	}, email, sms, mem, m, logger)
	engine := steps.NewEngine(mem, outbox.NewDeliverer(mem, disp, logger), m, logger)
	ctrl := inbox.NewController(inbox.Config{Operator: op, SMSFrom: "+15550000000"},
		mem, dir, email, sms, inbox.NewPrefs(time.Hour), m, logger)
	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(mem))

	srv := NewServer(ServerConfig{RateLimit: rl, WebhookURL: webhookURL}, Deps{
		Projects:   projects.NewManager(mem, catalog, dir, logger),
		Steps:      engine,
		Inbox:      ctrl,
		Dispatcher: disp,
		Messages:   mem,
		Contacts:   dir,
		Templates:  catalog,
		Checker:    checker,
		Metrics:    m,
		Webhook:    twilio.NewValidator(twilioToken),
	}, logger)
	t.Cleanup(srv.stop)

	return &fixture{app: srv.App(), mem: mem, email: email, sms: sms}
}

func newFixture(t *testing.T) *fixture {
	return testApp(t, RateLimitConfig{RPS: 100, Burst: 200})
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (f *fixture) webhook(t *testing.T, form url.Values, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "/api/twilio-webhook", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", signature)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (f *fixture) createProject(t *testing.T) *models.Project {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/v1/projects",
		`{"name":"Jane","email":"Jane@Example.com","phone":"+15551234567","contactMethod":"both","selectedSteps":["Inspect","Repair"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var p models.Project
	decode(t, resp, &p)
	return &p
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func bodyString(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// sign computes X-Twilio-Signature the way Twilio documents it.
func sign(callbackURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := callbackURL
	for _, k := range keys {
		s += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(twilioToken))
	mac.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestServer_Probes(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])

	resp = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.do(t, http.MethodGet, "/api/v1/templates", "")
	resp = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, bodyString(t, resp), "hub_http_requests_total")
}

func TestServer_RequestIDEchoed(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", "", "X-Request-ID", "req-1")
	assert.Equal(t, "req-1", resp.Header.Get("X-Request-ID"))
}

func TestLegacyNotification_Preflight(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodOptions, "/api/sendNotification", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, bodyString(t, resp))
}

func TestLegacyNotification_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/sendNotification", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestLegacyNotification_MissingFields(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/sendNotification", `{"name":"Jane","email":"jane@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Contains(t, body["error"], "projectId")
	assert.Empty(t, f.email.sent)
}

func TestLegacyNotification_Success(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/sendNotification",
		`{"name":"Jane","email":"jane@example.com","phone":"+15551234567","contactMethod":"both","currentStep":"Repair","trackingLinkId":"abc12345","isComplete":false,"projectId":"p1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, true, body["success"])

	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "Project Update", f.email.sent[0].Subject)
	assert.Contains(t, f.email.sent[0].Body, "https://hub.example.com/track/abc12345")
	require.Len(t, f.sms.sent, 1)

	msgs, err := f.mem.ListMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.TypeProjectUpdate, msgs[0].Type)
}

func TestLegacyNotification_DispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.sms.err = perrors.NewChannelError("sms", 400, "invalid number")

	resp := f.do(t, http.MethodPost, "/api/sendNotification",
		`{"email":"jane@example.com","phone":"+15551234567","currentStep":"Repair","trackingLinkId":"abc12345","projectId":"p1"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Contains(t, body["error"], "invalid number")
	assert.Len(t, f.email.sent, 1)
}

func TestProjects_CreateGetSearch(t *testing.T) {
	f := newFixture(t)
	p := f.createProject(t)
	assert.NotEmpty(t, p.ID)
	assert.Len(t, p.TrackingLinkID, 8)
	assert.Equal(t, "jane@example.com", p.Email)
	assert.Equal(t, 0, p.CurrentStepIndex)

	resp := f.do(t, http.MethodGet, "/api/v1/projects/"+p.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Project
	decode(t, resp, &got)
	assert.Equal(t, p.ID, got.ID)

	resp = f.do(t, http.MethodGet, "/api/v1/projects?q=JAN", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Projects []models.Project `json:"projects"`
		Count    int              `json:"count"`
	}
	decode(t, resp, &list)
	assert.Equal(t, 1, list.Count)

	resp = f.do(t, http.MethodGet, "/api/v1/projects?q=nomatch", "")
	decode(t, resp, &list)
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Projects)
}

func TestProjects_CreateValidation(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/projects", `{"name":"Jane","email":"jane@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var prob ProblemDetail
	decode(t, resp, &prob)
	assert.Equal(t, "validation", prob.Type)
	assert.Equal(t, "selectedSteps", prob.Field)
	assert.Equal(t, "/api/v1/projects", prob.Instance)
}

func TestProjects_NotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/v1/projects/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var prob ProblemDetail
	decode(t, resp, &prob)
	assert.Equal(t, "not_found", prob.Type)
}

func TestProjects_NotesAndCalendar(t *testing.T) {
	f := newFixture(t)
	p := f.createProject(t)

	resp := f.do(t, http.MethodPatch, "/api/v1/projects/"+p.ID, `{"internalNotes":"gate code 42","startDate":"2026-11-03"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Project
	decode(t, resp, &got)
	assert.Equal(t, "gate code 42", got.InternalNotes)
	require.NotNil(t, got.StartDate)
	assert.Equal(t, time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC), got.StartDate.UTC())

	var cal struct {
		Projects []models.Project `json:"projects"`
	}
	decode(t, f.do(t, http.MethodGet, "/api/v1/calendar?month=2026-11", ""), &cal)
	require.Len(t, cal.Projects, 1)
	decode(t, f.do(t, http.MethodGet, "/api/v1/calendar?month=2026-12", ""), &cal)
	assert.Empty(t, cal.Projects)

	resp = f.do(t, http.MethodPatch, "/api/v1/projects/"+p.ID, `{"startDate":null}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = models.Project{}
	decode(t, resp, &got)
	assert.Nil(t, got.StartDate)
	assert.Equal(t, "gate code 42", got.InternalNotes)

	resp = f.do(t, http.MethodPatch, "/api/v1/projects/"+p.ID, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/calendar?month=November", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProjects_Transitions(t *testing.T) {
	f := newFixture(t)
	p := f.createProject(t)
	base := "/api/v1/projects/" + p.ID

	resp := f.do(t, http.MethodPost, base+"/advance", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res steps.Result
	decode(t, resp, &res)
	assert.Equal(t, 1, res.Project.CurrentStepIndex)
	require.NotNil(t, res.Notification)
	assert.Contains(t, res.Notification.Text, `"Repair"`)
	assert.Empty(t, res.NotificationError)

	// Stale view of the index loses the compare-and-swap.
	resp = f.do(t, http.MethodPost, base+"/advance", `{"expectedIndex":0}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, base+"/revert", `{"expectedIndex":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = steps.Result{}
	decode(t, resp, &res)
	assert.Equal(t, 0, res.Project.CurrentStepIndex)
	assert.Nil(t, res.Notification)

	resp = f.do(t, http.MethodPost, base+"/revert", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, base+"/complete", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = steps.Result{}
	decode(t, resp, &res)
	assert.Equal(t, 2, res.Project.CurrentStepIndex)
	assert.Contains(t, res.Notification.Text, "complete")

	resp = f.do(t, http.MethodPost, base+"/advance", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Len(t, f.email.sent, 2)
	assert.Equal(t, "Project Complete", f.email.sent[1].Subject)
}

func TestProjects_TransitionNotificationFailureKeepsStep(t *testing.T) {
	f := newFixture(t)
	p := f.createProject(t)
	f.email.err = perrors.NewChannelError("email", 503, "unavailable")

	resp := f.do(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/advance", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res steps.Result
	decode(t, resp, &res)
	assert.Equal(t, 1, res.Project.CurrentStepIndex)
	assert.Contains(t, res.NotificationError, "unavailable")
}

func TestTrack(t *testing.T) {
	f := newFixture(t)
	p := f.createProject(t)

	resp := f.do(t, http.MethodGet, "/api/v1/track/"+p.TrackingLinkID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view projects.TrackingView
	decode(t, resp, &view)
	assert.Equal(t, "Jane", view.Name)
	assert.Equal(t, "Inspect", view.CurrentStep)
	assert.Equal(t, "Step 1 of 2", view.Status)

	resp = f.do(t, http.MethodGet, "/api/v1/track/zzzzzzzz", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTemplates(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/v1/templates", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cat templates.Catalog
	decode(t, resp, &cat)
	assert.NotEmpty(t, cat.FixTypes)
}

func TestSendSMS_LogsUnderContact(t *testing.T) {
	f := newFixture(t)
	f.createProject(t)

	resp := f.do(t, http.MethodPost, "/api/send-sms", `{"to":"+1 (555) 123-4567","text":"On our way"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out SendResponse
	decode(t, resp, &out)
	assert.True(t, out.Success)
	assert.Equal(t, "SM1", out.ProviderMessageID)
	assert.Equal(t, "queued", out.Status)
	assert.NotEmpty(t, out.MessageID)

	msgs, err := f.mem.ListMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "jane@example.com", msgs[0].To)
	assert.Equal(t, op, msgs[0].From)
	assert.True(t, msgs[0].Read)
	assert.Equal(t, models.SourceSMS, msgs[0].Source)
}

func TestSendSMS_ProviderRejection(t *testing.T) {
	f := newFixture(t)
	f.sms.err = perrors.NewChannelError("sms", 400, "invalid number")

	resp := f.do(t, http.MethodPost, "/api/send-sms", `{"to":"+15551234567","text":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	msgs, _ := f.mem.ListMessages(context.Background())
	assert.Empty(t, msgs)
}

func TestSendEmail(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/send-email", `{"to":"bob@example.com","text":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var prob ProblemDetail
	decode(t, resp, &prob)
	assert.Equal(t, "subject", prob.Field)

	resp = f.do(t, http.MethodPost, "/api/send-email", `{"to":"Bob@Example.com","subject":"Quote","text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "bob@example.com", f.email.sent[0].To)

	msgs, _ := f.mem.ListMessages(context.Background())
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusSent, msgs[0].Status)
	assert.Equal(t, "Quote", msgs[0].Subject)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	resp := f.webhook(t, form, "bogus")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhook_InboundAndStatus(t *testing.T) {
	f := newFixture(t)
	f.createProject(t)
	ctx := context.Background()

	inbound := url.Values{"MessageSid": {"SMin"}, "From": {janePhone}, "To": {"+15550000000"}, "Body": {"When do you arrive?"}}
	resp := f.webhook(t, inbound, sign(webhookURL, inbound))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/xml")
	assert.Equal(t, twilio.EmptyResponse, bodyString(t, resp))

	msgs, err := f.mem.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "jane@example.com", msgs[0].From)
	assert.Equal(t, op, msgs[0].To)
	assert.False(t, msgs[0].Read)
	assert.Equal(t, models.StatusReceived, msgs[0].Status)

	status := url.Values{"MessageSid": {"SMin"}, "MessageStatus": {"read"}}
	resp = f.webhook(t, status, sign(webhookURL, status))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msgs, _ = f.mem.ListMessages(ctx)
	assert.Equal(t, "read", msgs[0].Status)
}

func TestWebhook_InvalidData(t *testing.T) {
	f := newFixture(t)
	form := url.Values{"From": {janePhone}}
	resp := f.webhook(t, form, sign(webhookURL, form))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInbox_Flow(t *testing.T) {
	f := newFixture(t)
	f.createProject(t)

	inbound := url.Values{"MessageSid": {"SMin"}, "From": {janePhone}, "To": {"+15550000000"}, "Body": {"Hello?"}}
	require.Equal(t, http.StatusOK, f.webhook(t, inbound, sign(webhookURL, inbound)).StatusCode)

	var list struct {
		Threads []models.Thread `json:"threads"`
	}
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/threads?read=unread", "", "X-Session-ID", "s1"), &list)
	require.Len(t, list.Threads, 1)
	assert.Equal(t, "jane@example.com", list.Threads[0].ContactEmail)
	assert.Equal(t, 1, list.Threads[0].UnreadCount)
	require.NotNil(t, list.Threads[0].Contact)
	assert.Equal(t, "Jane", list.Threads[0].Contact.Name)

	// The latest message came over SMS, so the reply goes out by text.
	resp := f.do(t, http.MethodPost, "/api/v1/inbox/threads/jane@example.com/messages", `{"text":"Tomorrow at 9"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent inbox.SendResult
	decode(t, resp, &sent)
	assert.Equal(t, models.SourceSMS, sent.Message.Source)
	assert.Equal(t, 0, sent.Thread.UnreadCount)
	require.Len(t, f.sms.sent, 1)
	assert.Equal(t, janePhone, f.sms.sent[0].To)

	var page inbox.Page
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/threads/jane@example.com/messages?pageSize=10", "", "X-Session-ID", "s1"), &page)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "Hello?", page.Messages[0].Text)
	assert.Equal(t, "Tomorrow at 9", page.Messages[1].Text)
	assert.False(t, page.HasMore)

	page = inbox.Page{}
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/threads/jane@example.com/messages/older", "", "X-Session-ID", "s1"), &page)
	assert.Empty(t, page.Messages)

	resp = f.do(t, http.MethodPost, "/api/v1/inbox/threads/jane@example.com/hide", "", "X-Session-ID", "s1")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/threads", "", "X-Session-ID", "s1"), &list)
	assert.Empty(t, list.Threads)
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/threads", "", "X-Session-ID", "s2"), &list)
	assert.Len(t, list.Threads, 1)

	var hidden struct {
		Hidden []string `json:"hidden"`
	}
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/hidden", "", "X-Session-ID", "s1"), &hidden)
	assert.Equal(t, []string{"jane@example.com"}, hidden.Hidden)

	resp = f.do(t, http.MethodDelete, "/api/v1/inbox/hidden", "", "X-Session-ID", "s1")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/threads", "", "X-Session-ID", "s1"), &list)
	assert.Len(t, list.Threads, 1)
}

func TestInbox_HiddenStateIsPerSession(t *testing.T) {
	f := newFixture(t)
	f.createProject(t)
	inbound := url.Values{"MessageSid": {"SMin"}, "From": {janePhone}, "To": {"+15550000000"}, "Body": {"Hello?"}}
	require.Equal(t, http.StatusOK, f.webhook(t, inbound, sign(webhookURL, inbound)).StatusCode)

	resp := f.do(t, http.MethodPost, "/api/v1/inbox/threads/jane@example.com/hide", "", "X-Session-ID", "s1")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	for i := 0; i < 5; i++ {
		resp = f.do(t, http.MethodPost, "/api/v1/inbox/threads/zzzz@example.com/hide", "", "X-Session-ID", "s9")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	var hidden struct {
		Hidden []string `json:"hidden"`
	}
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/hidden", "", "X-Session-ID", "s1"), &hidden)
	assert.Equal(t, []string{"jane@example.com"}, hidden.Hidden)
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/hidden", "", "X-Session-ID", "s9"), &hidden)
	assert.Equal(t, []string{"zzzz@example.com"}, hidden.Hidden)

	var list struct {
		Threads []models.Thread `json:"threads"`
	}
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/threads", "", "X-Session-ID", "s9"), &list)
	assert.Len(t, list.Threads, 1)
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/threads", "", "X-Session-ID", "s1"), &list)
	assert.Empty(t, list.Threads)
}

func TestInbox_MarkRead(t *testing.T) {
	f := newFixture(t)
	f.createProject(t)
	inbound := url.Values{"MessageSid": {"SMin"}, "From": {janePhone}, "To": {"+15550000000"}, "Body": {"Hi"}}
	require.Equal(t, http.StatusOK, f.webhook(t, inbound, sign(webhookURL, inbound)).StatusCode)

	resp := f.do(t, http.MethodPost, "/api/v1/inbox/threads/jane@example.com/read", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]int
	decode(t, resp, &out)
	assert.Equal(t, 1, out["updated"])

	var list struct {
		Threads []models.Thread `json:"threads"`
	}
	decode(t, f.do(t, http.MethodGet, "/api/v1/inbox/threads?read=unread", ""), &list)
	assert.Empty(t, list.Threads)
}

func TestInbox_InvalidFilter(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/v1/inbox/threads?source=fax", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	f := testApp(t, RateLimitConfig{RPS: 1, Burst: 1})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/templates", "").StatusCode)
	resp := f.do(t, http.MethodGet, "/api/v1/templates", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var prob ProblemDetail
	decode(t, resp, &prob)
	assert.Equal(t, "rate_limit_exceeded", prob.Type)

	// Probes are never limited.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").StatusCode)
}

func TestRateLimit_LegacyPreflightPassesThrough(t *testing.T) {
	f := testApp(t, RateLimitConfig{RPS: 1, Burst: 1})

	for i := 0; i < 3; i++ {
		resp := f.do(t, http.MethodOptions, "/api/sendNotification", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, bodyString(t, resp))
	}

	// Preflights do not spend the caller's budget.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/templates", "").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodGet, "/api/v1/templates", "").StatusCode)
}

func TestTokenBucket_Refills(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{RPS: 2, Burst: 1})
	now := start
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.allow("a"))

	now = now.Add(time.Hour)
	rl.evict(10 * time.Minute)
	assert.Empty(t, rl.clients)
}

package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/metrics"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/notify"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
	replySubject    = "New message about your project"
)

// MessageStore is the part of the message log the inbox reads and appends to.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context) ([]*models.Message, error)
	PageMessages(ctx context.Context, contact string, before *models.Cursor, limit int) ([]*models.Message, error)
	LatestMessage(ctx context.Context, contact string) (*models.Message, error)
	MarkThreadRead(ctx context.Context, contact string) (int, error)
}

// ContactDirectory resolves thread keys to customer names and phones.
type ContactDirectory interface {
	Lookup(ctx context.Context, key string) (models.Contact, bool, error)
	All(ctx context.Context) ([]models.Contact, error)
}

// Config controls inbox behaviour.
type Config struct {
	Operator          string
	PageSize          int
	EmailReplies      bool
	EmailFrom         string
	SMSFrom           string
	StatusCallbackURL string
}

// Filters narrow the thread list. Empty fields match everything.
type Filters struct {
	Search string
	Source string
	Read   string
	Name   string
}

// Validate rejects unknown source and read-status values.
func (f Filters) Validate() error {
	switch f.Source {
	case "", "all", string(models.SourceEmail), string(models.SourceSMS):
	default:
		return perrors.NewValidationError("source", "must be all, sms or email")
	}
	switch f.Read {
	case "", "all", "read", "unread":
	default:
		return perrors.NewValidationError("read", "must be all, read or unread")
	}
	return nil
}

// Page is one slice of a thread in display order, oldest first.
type Page struct {
	Messages []*models.Message `json:"messages"`
	Cursor   *models.Cursor    `json:"cursor,omitempty"`
	HasMore  bool              `json:"hasMore"`
}

// SendResult is the logged message and the thread as it stands after it.
type SendResult struct {
	Message *models.Message `json:"message"`
	Thread  *models.Thread  `json:"thread"`
}

// Controller serves the operator's inbox.
type Controller struct {
	cfg      Config
	store    MessageStore
	contacts ContactDirectory
	email    notify.EmailSender
	sms      notify.SMSSender
	prefs    *Prefs
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewController creates an inbox controller. metrics may be nil.
func NewController(cfg Config, st MessageStore, dir ContactDirectory, email notify.EmailSender, sms notify.SMSSender, prefs *Prefs, m *metrics.Metrics, logger zerolog.Logger) *Controller {
	cfg.Operator = models.NormalizeEmail(cfg.Operator)
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Controller{
		cfg:      cfg,
		store:    st,
		contacts: dir,
		email:    email,
		sms:      sms,
		prefs:    prefs,
		metrics:  m,
		logger:   logger.With().Str("component", "inbox").Logger(),
		now:      time.Now,
	}
}

// Prefs exposes the session view state.
func (c *Controller) Prefs() *Prefs { return c.prefs }

// ListThreads builds the thread list and applies f, then drops threads the
// session has hidden.
func (c *Controller) ListThreads(ctx context.Context, sessionID string, f Filters) ([]*models.Thread, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	msgs, err := c.store.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	contacts, err := c.contacts.All(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]models.Contact, len(contacts))
	for _, ct := range contacts {
		byKey[ct.Email] = ct
	}

	search := strings.ToLower(strings.TrimSpace(f.Search))
	name := strings.ToLower(strings.TrimSpace(f.Name))

	threads := BuildThreads(c.cfg.Operator, msgs)
	out := make([]*models.Thread, 0, len(threads))
	for _, th := range threads {
		if ct, ok := byKey[th.ContactEmail]; ok {
			th.Contact = &ct
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(th.LastMessage.Text), search) &&
			!strings.Contains(th.ContactEmail, search) {
			continue
		}
		if f.Source != "" && f.Source != "all" && string(th.LastMessage.Source) != f.Source {
			continue
		}
		if (f.Read == "unread" && th.UnreadCount == 0) || (f.Read == "read" && th.UnreadCount > 0) {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(displayName(th)), name) {
			continue
		}
		if c.prefs.isHidden(sessionID, th.ContactEmail) {
			continue
		}
		out = append(out, th)
	}
	return out, nil
}

func displayName(th *models.Thread) string {
	if th.Contact != nil {
		return th.Contact.DisplayName()
	}
	return th.ContactEmail
}

// LoadMessages returns the newest page of the thread with contact and
// resets the session's pagination position for it.
func (c *Controller) LoadMessages(ctx context.Context, sessionID, contact string, pageSize int) (*Page, error) {
	key, err := c.threadKey(contact)
	if err != nil {
		return nil, err
	}
	size := c.pageSize(pageSize)
	msgs, err := c.store.PageMessages(ctx, key, nil, size)
	if err != nil {
		return nil, err
	}
	page := newPage(msgs, size)
	c.prefs.resetPager(sessionID, key, page.Cursor, page.HasMore)
	return page, nil
}

// LoadOlderMessages continues the thread strictly older than the last page
// loaded in this session. It returns an empty page without querying when a
// load is already in flight, the thread is exhausted, or no page was loaded.
func (c *Controller) LoadOlderMessages(ctx context.Context, sessionID, contact string, pageSize int) (*Page, error) {
	key, err := c.threadKey(contact)
	if err != nil {
		return nil, err
	}
	cursor, ok := c.prefs.beginOlder(sessionID, key)
	if !ok {
		return &Page{Messages: []*models.Message{}}, nil
	}

	size := c.pageSize(pageSize)
	msgs, err := c.store.PageMessages(ctx, key, &cursor, size)
	if err != nil {
		c.prefs.endOlder(sessionID, key, nil, false, false)
		return nil, err
	}
	page := newPage(msgs, size)
	c.prefs.endOlder(sessionID, key, page.Cursor, page.HasMore, true)
	if page.Cursor == nil {
		page.Cursor = &cursor
	}
	return page, nil
}

// newPage turns a newest-first fetch into display order.
func newPage(newestFirst []*models.Message, size int) *Page {
	n := len(newestFirst)
	page := &Page{Messages: make([]*models.Message, n), HasMore: n == size}
	for i, m := range newestFirst {
		page.Messages[n-1-i] = m
	}
	if n > 0 {
		cur := newestFirst[n-1].Cursor()
		page.Cursor = &cur
	}
	return page
}

// SendMessage sends text to contact and logs it. The channel follows the
// thread: SMS when the latest message came over SMS and the contact has a
// phone, email otherwise. Email replies are only logged unless EmailReplies
// is set. A failed provider call logs nothing. A logged reply also marks the
// thread's inbound messages read in the store, not only on the returned
// Thread.
func (c *Controller) SendMessage(ctx context.Context, contact, text string) (*SendResult, error) {
	key, err := c.threadKey(contact)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, perrors.NewValidationError("text", "is required")
	}

	phone, err := c.phoneFor(ctx, key)
	if err != nil {
		return nil, err
	}
	latest, err := c.store.LatestMessage(ctx, key)
	if err != nil && !errors.Is(err, perrors.ErrNotFound) {
		return nil, err
	}

	msg := &models.Message{
		From:      c.cfg.Operator,
		To:        key,
		Text:      text,
		Timestamp: c.now().UTC(),
		Read:      true,
		Source:    models.SourceEmail,
		Status:    models.StatusLogged,
	}

	if latest != nil && latest.Source == models.SourceSMS && phone != "" {
		res, err := c.sms.SendSMS(ctx, notify.SMS{To: phone, From: c.cfg.SMSFrom, Body: text, StatusCallback: c.cfg.StatusCallbackURL})
		if err != nil {
			c.metrics.RecordInboxSend("sms", "error")
			c.logger.Warn().Err(err).Str("contact", key).Msg("sms reply failed")
			return nil, err
		}
		c.metrics.RecordInboxSend("sms", "sent")
		msg.Source = models.SourceSMS
		msg.Phone = phone
		msg.Status = res.Status
		msg.ProviderMessageID = res.ProviderMessageID
	} else if c.cfg.EmailReplies && !isPhoneKey(key) {
		err := c.email.SendEmail(ctx, notify.Email{To: key, From: c.cfg.EmailFrom, Subject: replySubject, Body: text})
		if err != nil {
			c.metrics.RecordInboxSend("email", "error")
			c.logger.Warn().Err(err).Str("contact", key).Msg("email reply failed")
			return nil, err
		}
		c.metrics.RecordInboxSend("email", "sent")
		msg.Status = models.StatusSent
	} else {
		c.metrics.RecordInboxSend("email", "logged")
	}

	if err := c.store.InsertMessage(ctx, msg); err != nil {
		if msg.ProviderMessageID != "" {
			c.logger.Error().Err(err).Str("contact", key).Str("sid", msg.ProviderMessageID).
				Msg("sms delivered but not logged")
			return nil, &perrors.StoreError{Op: fmt.Sprintf("log sms %s", msg.ProviderMessageID), Err: err}
		}
		return nil, err
	}

	if _, err := c.store.MarkThreadRead(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("contact", key).Msg("marking thread read after reply")
	}

	th := &models.Thread{ContactEmail: key, LastMessage: msg, UnreadCount: 0}
	if ct, ok, _ := c.contacts.Lookup(ctx, key); ok {
		th.Contact = &ct
	}
	return &SendResult{Message: msg, Thread: th}, nil
}

// MarkRead marks every inbound message in the thread read.
func (c *Controller) MarkRead(ctx context.Context, contact string) (int, error) {
	key, err := c.threadKey(contact)
	if err != nil {
		return 0, err
	}
	return c.store.MarkThreadRead(ctx, key)
}

// HideThread hides contact's thread for the session.
func (c *Controller) HideThread(sessionID, contact string) error {
	key, err := c.threadKey(contact)
	if err != nil {
		return err
	}
	c.prefs.Hide(sessionID, key)
	return nil
}

// ShowAllThreads clears the session's hidden set.
func (c *Controller) ShowAllThreads(sessionID string) {
	c.prefs.ShowAll(sessionID)
}

func (c *Controller) threadKey(contact string) (string, error) {
	key := models.NormalizeAddress(contact)
	if key == "" {
		return "", perrors.NewValidationError("contact", "is required")
	}
	if key == c.cfg.Operator {
		return "", perrors.NewValidationError("contact", "cannot be the operator address")
	}
	return key, nil
}

func (c *Controller) pageSize(n int) int {
	if n <= 0 {
		return c.cfg.PageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

// phoneFor returns the phone for a thread key: the contact's phone when the
// key is a known customer, or the key itself for phone-keyed threads.
func (c *Controller) phoneFor(ctx context.Context, key string) (string, error) {
	ct, ok, err := c.contacts.Lookup(ctx, key)
	if err != nil {
		return "", err
	}
	if ok && ct.Phone != "" {
		return ct.Phone, nil
	}
	if isPhoneKey(key) {
		return key, nil
	}
	return "", nil
}

func isPhoneKey(key string) bool {
	return key != "" && !strings.Contains(key, "@")
}

// Package notify composes step notifications and delivers them by email
// and SMS, logging one message per notification.
package notify

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
)

const (
	subjectUpdate   = "Project Update"
	subjectComplete = "Project Complete"
)

// Config holds the addresses the dispatcher sends from.
type Config struct {
	Operator          string
	EmailFrom         string
	SMSFrom           string
	StatusCallbackURL string
	TrackingBaseURL   string
}

// Notice is the content of one customer notification.
type Notice struct {
	ProjectID      string
	Name           string
	Email          string
	Phone          string
	ContactMethod  models.ContactMethod
	StepName       string
	Complete       bool
	TrackingLinkID string
}

// ThreadKey is the contact side of the logged message: the email, or the
// phone number for customers without one.
func (n Notice) ThreadKey() string {
	if n.Email != "" {
		return models.NormalizeEmail(n.Email)
	}
	return models.NormalizePhone(n.Phone)
}

// NoticeFor builds the notice for moving p to step index target.
func NoticeFor(p *models.Project, target int) (Notice, error) {
	if p == nil || p.ID == "" {
		return Notice{}, perrors.NewValidationError("projectId", "is required")
	}
	return Notice{
		ProjectID:      p.ID,
		Name:           p.Name,
		Email:          p.Email,
		Phone:          p.Phone,
		ContactMethod:  p.ContactMethod,
		StepName:       p.StepName(target),
		Complete:       target >= len(p.SelectedSteps),
		TrackingLinkID: p.TrackingLinkID,
	}, nil
}

// ChannelResult is what happened on one channel.
type ChannelResult struct {
	Attempted         bool   `json:"attempted"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	Status            string `json:"status,omitempty"`
	Err               error  `json:"-"`
}

// Outcome summarizes a dispatch. It is returned even when an error is.
type Outcome struct {
	Text    string          `json:"text"`
	Email   ChannelResult   `json:"email"`
	SMS     ChannelResult   `json:"sms"`
	Message *models.Message `json:"message,omitempty"`
}

// Dispatcher sends step notifications.
type Dispatcher struct {
	cfg     Config
	email   EmailSender
	sms     SMSSender
	log     MessageLog
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(cfg Config, email EmailSender, sms SMSSender, log MessageLog, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	cfg.Operator = models.NormalizeEmail(cfg.Operator)
	cfg.TrackingBaseURL = strings.TrimRight(cfg.TrackingBaseURL, "/")
	return &Dispatcher{
		cfg:     cfg,
		email:   email,
		sms:     sms,
		log:     log,
		metrics: m,
		logger:  logger.With().Str("component", "notify").Logger(),
		now:     time.Now,
	}
}

// EmailSender exposes the configured email sender.
func (d *Dispatcher) EmailSender() EmailSender { return d.email }

// SMSSender exposes the configured SMS sender.
func (d *Dispatcher) SMSSender() SMSSender { return d.sms }

// Config returns the dispatcher's sending configuration.
func (d *Dispatcher) Config() Config { return d.cfg }

// Dispatch notifies the customer of p that it moved to step index target.
func (d *Dispatcher) Dispatch(ctx context.Context, p *models.Project, target int) (*Outcome, error) {
	n, err := NoticeFor(p, target)
	if err != nil {
		return nil, err
	}
	return d.Send(ctx, n)
}

// Text composes the notification body.
func (d *Dispatcher) Text(n Notice) string {
	var msg string
	if n.Complete {
		msg = "Your project is now complete. Thank you!"
	} else {
		msg = fmt.Sprintf("Your project has moved to the next step: %q", n.StepName)
	}
	return fmt.Sprintf("%s\nTrack it here: %s/track/%s", msg, d.cfg.TrackingBaseURL, n.TrackingLinkID)
}

// Send delivers n on every enabled channel. A failure on one channel does
// not prevent the other; failures are joined into the returned error. One
// project_update message is logged regardless, with status "error" when any
// channel failed.
func (d *Dispatcher) Send(ctx context.Context, n Notice) (*Outcome, error) {
	if n.ProjectID == "" {
		return nil, perrors.NewValidationError("projectId", "is required")
	}
	key := n.ThreadKey()
	if key == "" {
		return nil, perrors.NewValidationError("email", "an email or phone number is required")
	}

	out := &Outcome{Text: d.Text(n)}
	subject := subjectUpdate
	if n.Complete {
		subject = subjectComplete
	}

	if n.ContactMethod.Email() && n.Email != "" {
		out.Email.Attempted = true
		err := d.email.SendEmail(ctx, Email{To: n.Email, From: d.cfg.EmailFrom, Subject: subject, Body: out.Text})
		if err != nil {
			out.Email.Err = asChannelError("email", err)
		} else {
			out.Email.Status = models.StatusSent
		}
		d.record("email", out.Email)
	}

	if n.ContactMethod.SMS() && n.Phone != "" {
		out.SMS.Attempted = true
		res, err := d.sms.SendSMS(ctx, SMS{To: n.Phone, From: d.cfg.SMSFrom, Body: out.Text, StatusCallback: d.cfg.StatusCallbackURL})
		if err != nil {
			out.SMS.Err = asChannelError("sms", err)
		} else {
			out.SMS.ProviderMessageID = res.ProviderMessageID
			out.SMS.Status = res.Status
		}
		d.record("sms", out.SMS)
	}

	sendErr := errors.Join(out.Email.Err, out.SMS.Err)
	msg := d.logEntry(n, key, subject, out, sendErr)
	storeErr := d.log.InsertMessage(ctx, msg)
	if storeErr == nil {
		out.Message = msg
	}

	ev := d.logger.Info()
	if sendErr != nil || storeErr != nil {
		ev = d.logger.Error().AnErr("send_error", sendErr).AnErr("store_error", storeErr)
	}
	ev.Str("project_id", n.ProjectID).
		Bool("complete", n.Complete).
		Bool("email", out.Email.Attempted).
		Bool("sms", out.SMS.Attempted).
		Str("status", msg.Status).
		Msg("notification dispatched")

	return out, errors.Join(sendErr, storeErr)
}

func (d *Dispatcher) logEntry(n Notice, key, subject string, out *Outcome, sendErr error) *models.Message {
	msg := &models.Message{
		From:              d.cfg.Operator,
		To:                key,
		Subject:           subject,
		Text:              out.Text,
		Timestamp:         d.now().UTC(),
		Read:              true,
		Source:            models.SourceEmail,
		Type:              models.TypeProjectUpdate,
		ProjectID:         n.ProjectID,
		ProviderMessageID: out.SMS.ProviderMessageID,
	}
	if out.SMS.Attempted {
		msg.Phone = n.Phone
		if !out.Email.Attempted {
			msg.Source = models.SourceSMS
		}
	}
	switch {
	case sendErr != nil:
		msg.Status = models.StatusError
		msg.Error = sendErr.Error()
	case out.SMS.Attempted && out.SMS.Status != "":
		msg.Status = out.SMS.Status
	case out.SMS.Attempted || out.Email.Attempted:
		msg.Status = models.StatusSent
	default:
		msg.Status = models.StatusSkipped
	}
	return msg
}

func (d *Dispatcher) record(channel string, r ChannelResult) {
	result := "sent"
	if r.Err != nil {
		result = "error"
	}
	d.metrics.RecordNotification(channel, result)
}

// asChannelError keeps provider and validation errors as they are and
// wraps anything else as a rejection on channel.
func asChannelError(channel string, err error) error {
	var chErr *perrors.ChannelError
	if errors.As(err, &chErr) || errors.Is(err, perrors.ErrValidation) {
		return err
	}
	return &perrors.ChannelError{Channel: channel, Message: "send failed", Err: err}
}

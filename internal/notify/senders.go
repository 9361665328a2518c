package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
)

// Email is one outbound email.
type Email struct {
	To      string
	From    string
	Subject string
	Body    string
}

// Validate reports missing required fields.
func (e Email) Validate() error {
	switch {
	case e.To == "":
		return perrors.NewValidationError("to", "is required")
	case e.Subject == "":
		return perrors.NewValidationError("subject", "is required")
	case e.Body == "":
		return perrors.NewValidationError("text", "is required")
	}
	return nil
}

// SMS is one outbound text message.
type SMS struct {
	To             string
	From           string
	Body           string
	StatusCallback string
}

// Validate reports missing required fields.
func (s SMS) Validate() error {
	switch {
	case s.To == "":
		return perrors.NewValidationError("to", "is required")
	case s.Body == "":
		return perrors.NewValidationError("text", "is required")
	}
	return nil
}

// SMSResult is the provider's acknowledgement of an accepted SMS.
type SMSResult struct {
	ProviderMessageID string
	Status            string
}

// EmailSender delivers email through a provider.
type EmailSender interface {
	SendEmail(ctx context.Context, e Email) error
}

// SMSSender delivers text messages through a provider.
type SMSSender interface {
	SendSMS(ctx context.Context, s SMS) (SMSResult, error)
}

// MessageLog is the append side of the message store.
type MessageLog interface {
	InsertMessage(ctx context.Context, m *models.Message) error
}

// LogSender stands in for both providers when real delivery is disabled.
// It validates and logs every message and reports SMS as sent.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a dry-run sender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notify.dryrun").Logger()}
}

func (l *LogSender) SendEmail(ctx context.Context, e Email) error {
	if err := e.Validate(); err != nil {
		return err
	}
	l.logger.Info().Str("to", e.To).Str("subject", e.Subject).Msg("dry run: email not sent")
	return nil
}

func (l *LogSender) SendSMS(ctx context.Context, s SMS) (SMSResult, error) {
	if err := s.Validate(); err != nil {
		return SMSResult{}, err
	}
	id := "dry-" + uuid.NewString()
	l.logger.Info().Str("to", s.To).Str("sid", id).Msg("dry run: sms not sent")
	return SMSResult{ProviderMessageID: id, Status: models.StatusSent}, nil
}

package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/notify"
)

// NotificationRequest is the legacy step notification payload.
type NotificationRequest struct {
	Name           string               `json:"name"`
	Email          string               `json:"email"`
	Phone          string               `json:"phone"`
	ContactMethod  models.ContactMethod `json:"contactMethod"`
	CurrentStep    string               `json:"currentStep"`
	TrackingLinkID string               `json:"trackingLinkId"`
	IsComplete     bool                 `json:"isComplete"`
	ProjectID      string               `json:"projectId"`
}

// Validate reports the first missing required field.
func (r NotificationRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.ProjectID) == "":
		return perrors.NewValidationError("projectId", "is required")
	case strings.TrimSpace(r.TrackingLinkID) == "":
		return perrors.NewValidationError("trackingLinkId", "is required")
	case strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.Phone) == "":
		return perrors.NewValidationError("email", "an email or phone number is required")
	case !r.IsComplete && strings.TrimSpace(r.CurrentStep) == "":
		return perrors.NewValidationError("currentStep", "is required unless isComplete")
	case r.ContactMethod != "" && !r.ContactMethod.Valid():
		return perrors.NewValidationError("contactMethod", "must be email, sms or both")
	}
	return nil
}

// Notice converts the payload into a dispatcher notice.
func (r NotificationRequest) Notice() notify.Notice {
	return notify.Notice{
		ProjectID:      strings.TrimSpace(r.ProjectID),
		Name:           r.Name,
		Email:          strings.TrimSpace(r.Email),
		Phone:          strings.TrimSpace(r.Phone),
		ContactMethod:  r.ContactMethod,
		StepName:       r.CurrentStep,
		Complete:       r.IsComplete,
		TrackingLinkID: strings.TrimSpace(r.TrackingLinkID),
	}
}

// SendNotification handles /api/sendNotification. It keeps the original
// contract: preflight 200 with no body, 405 for other methods, plain
// {error} bodies and 500 for any dispatch failure.
func (s *Server) SendNotification(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderAccessControlAllowMethods, "POST, OPTIONS")
	c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type")

	switch c.Method() {
	case fiber.MethodOptions:
		c.Status(fiber.StatusOK)
		return nil
	case fiber.MethodPost:
	default:
		return c.Status(fiber.StatusMethodNotAllowed).SendString("Method Not Allowed")
	}

	var req NotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	n := req.Notice()
	if _, err := s.deps.Dispatcher.Send(c.UserContext(), n); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, perrors.ErrValidation) {
			status = fiber.StatusBadRequest
		}
		s.logger.Error().Err(err).Str("project_id", n.ProjectID).Msg("legacy notification failed")
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true})
}

// SendSMSRequest is the body of POST /api/send-sms.
type SendSMSRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendEmailRequest is the body of POST /api/send-email.
type SendEmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SendResponse acknowledges a direct send.
type SendResponse struct {
	Success           bool   `json:"success"`
	MessageID         string `json:"messageId"`
	ProviderMessageID string `json:"twilioMessageId,omitempty"`
	Status            string `json:"status"`
}

// SendSMS handles POST /api/send-sms: one text to any number, logged in the
// thread of the contact owning that number.
func (s *Server) SendSMS(c *fiber.Ctx) error {
	var req SendSMSRequest
	if err := c.BodyParser(&req); err != nil {
		return perrors.NewValidationError("body", "invalid JSON")
	}
	cfg := s.deps.Dispatcher.Config()
	sms := notify.SMS{
		To:             strings.TrimSpace(req.To),
		From:           cfg.SMSFrom,
		Body:           strings.TrimSpace(req.Text),
		StatusCallback: cfg.StatusCallbackURL,
	}
	if err := sms.Validate(); err != nil {
		return err
	}

	ctx := c.UserContext()
	contact, err := s.deps.Contacts.ResolvePhone(ctx, sms.To)
	if err != nil {
		return err
	}

	res, err := s.deps.Dispatcher.SMSSender().SendSMS(ctx, sms)
	if err != nil {
		s.deps.Metrics.RecordNotification("sms", "error")
		return err
	}
	s.deps.Metrics.RecordNotification("sms", "sent")

	msg := &models.Message{
		From:              cfg.Operator,
		To:                contact.Email,
		Phone:             models.NormalizePhone(sms.To),
		Text:              sms.Body,
		Timestamp:         time.Now().UTC(),
		Read:              true,
		Source:            models.SourceSMS,
		Status:            res.Status,
		ProviderMessageID: res.ProviderMessageID,
	}
	if err := s.deps.Messages.InsertMessage(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("sid", res.ProviderMessageID).Msg("sms delivered but not logged")
		return &perrors.StoreError{Op: "log sms " + res.ProviderMessageID, Err: err}
	}

	return c.JSON(SendResponse{
		Success:           true,
		MessageID:         msg.ID,
		ProviderMessageID: res.ProviderMessageID,
		Status:            res.Status,
	})
}

// SendEmail handles POST /api/send-email.
func (s *Server) SendEmail(c *fiber.Ctx) error {
	var req SendEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return perrors.NewValidationError("body", "invalid JSON")
	}
	cfg := s.deps.Dispatcher.Config()
	email := notify.Email{
		To:      models.NormalizeEmail(req.To),
		From:    cfg.EmailFrom,
		Subject: strings.TrimSpace(req.Subject),
		Body:    strings.TrimSpace(req.Text),
	}
	if err := email.Validate(); err != nil {
		return err
	}

	ctx := c.UserContext()
	if err := s.deps.Dispatcher.EmailSender().SendEmail(ctx, email); err != nil {
		s.deps.Metrics.RecordNotification("email", "error")
		return err
	}
	s.deps.Metrics.RecordNotification("email", "sent")

	msg := &models.Message{
		From:      cfg.Operator,
		To:        email.To,
		Subject:   email.Subject,
		Text:      email.Body,
		Timestamp: time.Now().UTC(),
		Read:      true,
		Source:    models.SourceEmail,
		Status:    models.StatusSent,
	}
	if err := s.deps.Messages.InsertMessage(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("to", email.To).Msg("email delivered but not logged")
		return err
	}

	return c.JSON(SendResponse{Success: true, MessageID: msg.ID, Status: msg.Status})
}

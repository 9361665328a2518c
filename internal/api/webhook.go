package api

import (
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/twilio"
)

// TwilioWebhook handles POST /api/twilio-webhook: delivery status callbacks
// for messages the hub sent and inbound texts from customers.
func (s *Server) TwilioWebhook(c *fiber.Ctx) error {
	form, err := url.ParseQuery(string(c.Body()))
	if err != nil {
		s.deps.Metrics.RecordWebhook("invalid")
		return problemResponse(c, fiber.StatusBadRequest, "validation", "Bad Request", "invalid form body")
	}

	if s.deps.Webhook != nil && !s.deps.Webhook.Valid(s.config.WebhookURL, form, c.Get("X-Twilio-Signature")) {
		s.deps.Metrics.RecordWebhook("rejected")
		s.logger.Warn().Str("ip", c.IP()).Msg("invalid twilio signature")
		return problemResponse(c, fiber.StatusUnauthorized, "unauthorized", "Unauthorized", "invalid Twilio signature")
	}

	ctx := c.UserContext()
	ev := twilio.ParseEvent(form)
	switch {
	case ev.IsStatus():
		n, err := s.deps.Messages.UpdateStatusByProviderID(ctx, ev.MessageSID, ev.Status)
		if err != nil {
			return err
		}
		s.deps.Metrics.RecordWebhook("status")
		s.logger.Debug().Str("sid", ev.MessageSID).Str("status", ev.Status).Int("updated", n).Msg("sms status callback")

	case ev.IsInbound():
		contact, err := s.deps.Contacts.ResolvePhone(ctx, ev.From)
		if err != nil {
			return err
		}
		msg := &models.Message{
			From:              contact.Email,
			To:                s.deps.Dispatcher.Config().Operator,
			Phone:             models.NormalizePhone(ev.From),
			Text:              ev.Body,
			Timestamp:         time.Now().UTC(),
			Read:              false,
			Source:            models.SourceSMS,
			Status:            models.StatusReceived,
			ProviderMessageID: ev.MessageSID,
		}
		if err := s.deps.Messages.InsertMessage(ctx, msg); err != nil {
			return err
		}
		s.deps.Metrics.RecordWebhook("inbound")
		s.logger.Info().Str("contact", contact.Email).Str("sid", ev.MessageSID).Msg("inbound sms")

	default:
		s.deps.Metrics.RecordWebhook("invalid")
		return problemResponse(c, fiber.StatusBadRequest, "validation", "Bad Request", "invalid webhook data")
	}

	c.Set(fiber.HeaderContentType, "text/xml")
	return c.SendString(twilio.EmptyResponse)
}

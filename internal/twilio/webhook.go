package twilio

import (
	"net/url"

	"github.com/twilio/twilio-go/client"
)

// EmptyResponse is the TwiML body acknowledging a webhook without replying.
const EmptyResponse = "<Response></Response>"

// Validator checks the X-Twilio-Signature header on incoming callbacks.
type Validator struct {
	rv client.RequestValidator
}

// NewValidator creates a validator for the account's auth token.
func NewValidator(authToken string) *Validator {
	return &Validator{rv: client.NewRequestValidator(authToken)}
}

// Valid reports whether signature matches the callback URL and form
// parameters Twilio posted.
func (v *Validator) Valid(callbackURL string, form url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	return v.rv.Validate(callbackURL, params, signature)
}

// Event is a parsed webhook callback: a delivery status update for a
// message we sent, or an inbound message from a customer.
type Event struct {
	MessageSID string
	Status     string
	From       string
	To         string
	Body       string
}

// IsStatus reports whether the event is a delivery status callback.
func (e Event) IsStatus() bool {
	return e.Status != "" && e.MessageSID != ""
}

// IsInbound reports whether the event is an inbound message.
func (e Event) IsInbound() bool {
	return !e.IsStatus() && e.From != "" && e.To != "" && e.Body != ""
}

// ParseEvent reads the fields Twilio posts on both kinds of callback.
func ParseEvent(form url.Values) Event {
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	return Event{
		MessageSID: sid,
		Status:     form.Get("MessageStatus"),
		From:       form.Get("From"),
		To:         form.Get("To"),
		Body:       form.Get("Body"),
	}
}

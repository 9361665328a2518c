// Package twilio sends SMS through the Twilio REST API and verifies the
// signatures on Twilio's webhook callbacks.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/metrics"
	"github.com/p-blackswan/project-hub/internal/notify"
)

// DefaultBaseURL is the public Twilio API.
const DefaultBaseURL = "https://api.twilio.com"

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client sends messages from one Twilio account.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpClient HTTPClient
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewClient creates a Twilio client. from is used when an SMS carries no
// sender of its own.
func NewClient(baseURL, accountSID, authToken, from string, m *metrics.Metrics, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		metrics:    m,
		logger:     logger.With().Str("component", "twilio").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

type messageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SendSMS creates one message. The returned SID is what later status
// callbacks refer to.
func (c *Client) SendSMS(ctx context.Context, s notify.SMS) (notify.SMSResult, error) {
	if s.From == "" {
		s.From = c.from
	}
	if err := s.Validate(); err != nil {
		return notify.SMSResult{}, err
	}

	form := url.Values{}
	form.Set("To", s.To)
	form.Set("From", s.From)
	form.Set("Body", s.Body)
	if s.StatusCallback != "" {
		form.Set("StatusCallback", s.StatusCallback)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return notify.SMSResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveProvider("twilio", time.Since(start).Seconds())
	if err != nil {
		return notify.SMSResult{}, &perrors.ChannelError{Channel: "sms", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var mr messageResponse
	_ = json.Unmarshal(body, &mr)

	if resp.StatusCode >= 400 {
		msg := mr.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		if msg == "" {
			msg = "unexpected response"
		}
		c.logger.Warn().Int("status", resp.StatusCode).Int("code", mr.Code).Str("to", s.To).Str("error", msg).Msg("sms rejected")
		return notify.SMSResult{}, perrors.NewChannelError("sms", resp.StatusCode, msg)
	}
	if mr.SID == "" {
		return notify.SMSResult{}, perrors.NewChannelError("sms", resp.StatusCode, "response carried no message sid")
	}

	c.logger.Debug().Str("to", s.To).Str("sid", mr.SID).Str("status", mr.Status).Msg("sms accepted")
	return notify.SMSResult{ProviderMessageID: mr.SID, Status: mr.Status}, nil
}

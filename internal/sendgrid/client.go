// Package sendgrid sends email through the SendGrid v3 mail API.
package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/metrics"
	"github.com/p-blackswan/project-hub/internal/notify"
)

// DefaultBaseURL is the public SendGrid API.
const DefaultBaseURL = "https://api.sendgrid.com"

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps the SendGrid mail send endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient HTTPClient
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewClient creates a SendGrid client. from is used when an email carries
// no sender of its own.
func NewClient(baseURL, apiKey, from string, m *metrics.Metrics, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		from:       from,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		metrics:    m,
		logger:     logger.With().Str("component", "sendgrid").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

type address struct {
	Email string `json:"email"`
}

type personalization struct {
	To []address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

type errorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

// SendEmail posts one plain-text email. SendGrid answers 202 on acceptance;
// anything else is returned as a ChannelError carrying the provider message.
func (c *Client) SendEmail(ctx context.Context, e notify.Email) error {
	if e.From == "" {
		e.From = c.from
	}
	if err := e.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(mailRequest{
		Personalizations: []personalization{{To: []address{{Email: e.To}}}},
		From:             address{Email: e.From},
		Subject:          e.Subject,
		Content:          []content{{Type: "text/plain", Value: e.Body}},
	})
	if err != nil {
		return fmt.Errorf("marshaling mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/mail/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveProvider("sendgrid", time.Since(start).Seconds())
	if err != nil {
		return &perrors.ChannelError{Channel: "email", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		c.logger.Debug().Str("to", e.To).Msg("email accepted")
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := errorMessage(body)
	c.logger.Warn().Int("status", resp.StatusCode).Str("to", e.To).Str("error", msg).Msg("email rejected")
	return perrors.NewChannelError("email", resp.StatusCode, msg)
}

func errorMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && len(er.Errors) > 0 && er.Errors[0].Message != "" {
		return er.Errors[0].Message
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return "unexpected response"
}

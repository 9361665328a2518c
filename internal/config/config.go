package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultOperator is the hub's own address, one side of every conversation.
const DefaultOperator = "admin@irongraad.com"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	// Storage: sqlite:///path, mongodb://host/db or memory://
	StoreDSN string `envconfig:"STORE_DSN" default:"sqlite:///var/lib/hub/hub.db"`

	OperatorAddress string `envconfig:"OPERATOR_ADDRESS" default:"admin@irongraad.com"`
	TrackingBaseURL string `envconfig:"TRACKING_BASE_URL" default:"http://localhost:3000"`
	TemplatesFile   string `envconfig:"TEMPLATES_FILE"` // overrides the built-in step catalogue

	// SendGrid
	SendGridAPIKey string `envconfig:"SENDGRID_API_KEY"`
	SendGridFrom   string `envconfig:"SENDGRID_FROM" default:"admin@irongraad.com"`
	SendGridURL    string `envconfig:"SENDGRID_URL" default:"https://api.sendgrid.com"`

	// Twilio
	TwilioAccountSID        string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken         string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFrom              string `envconfig:"TWILIO_FROM"`
	TwilioStatusCallbackURL string `envconfig:"TWILIO_STATUS_CALLBACK_URL"`
	TwilioWebhookURL        string `envconfig:"TWILIO_WEBHOOK_URL"` // public URL Twilio signs requests against
	TwilioURL               string `envconfig:"TWILIO_URL" default:"https://api.twilio.com"`

	// HTTP API
	CORSOrigins    string        `envconfig:"CORS_ORIGINS"`
	RateLimitRPS   int           `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int           `envconfig:"RATE_LIMIT_BURST" default:"100"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`

	// Outbox
	OutboxSweepInterval time.Duration `envconfig:"OUTBOX_SWEEP_INTERVAL" default:"1m"`
	OutboxStaleAfter    time.Duration `envconfig:"OUTBOX_STALE_AFTER" default:"2m"`
	OutboxRetention     time.Duration `envconfig:"OUTBOX_RETENTION" default:"720h"`

	// Inbox
	InboxPageSize     int           `envconfig:"INBOX_PAGE_SIZE" default:"25"`
	InboxEmailReplies bool          `envconfig:"INBOX_EMAIL_REPLIES" default:"false"`
	ViewPrefsTTL      time.Duration `envconfig:"VIEW_PREFS_TTL" default:"12h"`
	ContactCacheSize  int           `envconfig:"CONTACT_CACHE_SIZE" default:"1024"`

	// NotifyDryRun logs outbound email/SMS instead of calling the providers.
	NotifyDryRun bool `envconfig:"NOTIFY_DRY_RUN" default:"false"`
}

// SendGridEnabled returns true if SendGrid credentials are configured.
func (c *Config) SendGridEnabled() bool {
	return c.SendGridAPIKey != "" && c.SendGridFrom != ""
}

// TwilioEnabled returns true if Twilio credentials are configured.
func (c *Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFrom != ""
}

// IsTest reports whether the hub runs in the test environment.
func (c *Config) IsTest() bool {
	return strings.EqualFold(c.Environment, "test")
}

// ProvidersRequired reports whether real provider credentials must be present.
func (c *Config) ProvidersRequired() bool {
	return !c.IsTest() && !c.NotifyDryRun
}

// CORSOriginList returns the parsed list of allowed CORS origins.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate checks cross-field requirements that envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.OperatorAddress) == "" {
		errs = append(errs, fmt.Errorf("OPERATOR_ADDRESS is required"))
	}
	if c.StoreDSN == "" {
		errs = append(errs, fmt.Errorf("STORE_DSN is required"))
	}
	if c.InboxPageSize <= 0 {
		errs = append(errs, fmt.Errorf("INBOX_PAGE_SIZE must be positive, got %d", c.InboxPageSize))
	}
	if c.ProvidersRequired() {
		for _, v := range c.Report() {
			if v.Required && !v.Set {
				errs = append(errs, fmt.Errorf("%s is required", v.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// VarStatus describes one environment variable in an env report.
type VarStatus struct {
	Name     string
	Set      bool
	Required bool
}

// Report returns the set/missing state of the provider variables.
func (c *Config) Report() []VarStatus {
	vars := []VarStatus{
		{Name: "SENDGRID_API_KEY", Set: c.SendGridAPIKey != "", Required: true},
		{Name: "SENDGRID_FROM", Set: c.SendGridFrom != "", Required: true},
		{Name: "TWILIO_ACCOUNT_SID", Set: c.TwilioAccountSID != "", Required: true},
		{Name: "TWILIO_AUTH_TOKEN", Set: c.TwilioAuthToken != "", Required: true},
		{Name: "TWILIO_FROM", Set: c.TwilioFrom != "", Required: true},
		{Name: "TWILIO_STATUS_CALLBACK_URL", Set: c.TwilioStatusCallbackURL != ""},
		{Name: "TWILIO_WEBHOOK_URL", Set: c.TwilioWebhookURL != ""},
		{Name: "TRACKING_BASE_URL", Set: c.TrackingBaseURL != ""},
	}
	sort.SliceStable(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}

// loadDotEnv loads .env files into the process environment. Variables that
// are already set are not overridden and missing files are ignored.
func loadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads .env, .env.local and then configuration from environment variables.
func Load() (*Config, error) {
	if err := loadDotEnv(".env.local", ".env"); err != nil {
		return nil, err
	}
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix from the environment only.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	cfg.OperatorAddress = strings.ToLower(strings.TrimSpace(cfg.OperatorAddress))
	return &cfg, nil
}

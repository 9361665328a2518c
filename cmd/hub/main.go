package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/project-hub/internal/api"
	"github.com/p-blackswan/project-hub/internal/backend"
	"github.com/p-blackswan/project-hub/internal/config"
	"github.com/p-blackswan/project-hub/internal/contacts"
	"github.com/p-blackswan/project-hub/internal/health"
	"github.com/p-blackswan/project-hub/internal/inbox"
	"github.com/p-blackswan/project-hub/internal/metrics"
	"github.com/p-blackswan/project-hub/internal/notify"
	"github.com/p-blackswan/project-hub/internal/outbox"
	"github.com/p-blackswan/project-hub/internal/projects"
	"github.com/p-blackswan/project-hub/internal/retry"
	"github.com/p-blackswan/project-hub/internal/sendgrid"
	"github.com/p-blackswan/project-hub/internal/steps"
	"github.com/p-blackswan/project-hub/internal/templates"
	"github.com/p-blackswan/project-hub/internal/twilio"
)

func main() {
	checkEnv := flag.Bool("check-env", false, "print which provider variables are set and exit")
	flag.Parse()

	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if *checkEnv {
		os.Exit(printEnvReport(cfg))
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_addr", cfg.HTTPAddr).
		Bool("sendgrid_enabled", cfg.SendGridEnabled()).
		Bool("twilio_enabled", cfg.TwilioEnabled()).
		Bool("dry_run", cfg.NotifyDryRun).
		Msg("starting project hub")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, err := backend.Open(ctx, cfg.StoreDSN, cfg.OperatorAddress, retry.DefaultConfig(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	m := metrics.New()
	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(st))

	catalog, err := templates.Load(cfg.TemplatesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load step templates")
	}

	email, sms := senders(cfg, m, logger)

	dir := contacts.NewDirectory(st, cfg.ContactCacheSize, logger)
	dispatcher := notify.NewDispatcher(notify.Config{
		Operator:          cfg.OperatorAddress,
		EmailFrom:         cfg.SendGridFrom,
		SMSFrom:           cfg.TwilioFrom,
		StatusCallbackURL: cfg.TwilioStatusCallbackURL,
		TrackingBaseURL:   cfg.TrackingBaseURL,
	}, email, sms, st, m, logger)
	deliverer := outbox.NewDeliverer(st, dispatcher, logger)

	controller := inbox.NewController(inbox.Config{
		Operator:          cfg.OperatorAddress,
		PageSize:          cfg.InboxPageSize,
		EmailReplies:      cfg.InboxEmailReplies,
		EmailFrom:         cfg.SendGridFrom,
		SMSFrom:           cfg.TwilioFrom,
		StatusCallbackURL: cfg.TwilioStatusCallbackURL,
	}, st, dir, email, sms, inbox.NewPrefs(cfg.ViewPrefsTTL), m, logger)

	var sizer outbox.SizeReporter
	if s, ok := st.(outbox.SizeReporter); ok {
		sizer = s
	}
	sweeper := outbox.NewSweeper(outbox.SweeperConfig{
		Interval:   cfg.OutboxSweepInterval,
		StaleAfter: cfg.OutboxStaleAfter,
		Retention:  cfg.OutboxRetention,
	}, st, deliverer, sizer, m, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start outbox sweeper")
	}

	var validator *twilio.Validator
	if cfg.TwilioAuthToken != "" {
		validator = twilio.NewValidator(cfg.TwilioAuthToken)
	} else {
		logger.Warn().Msg("TWILIO_AUTH_TOKEN not set, webhook signatures are not verified")
	}

	server := api.NewServer(api.ServerConfig{
		ListenAddr:     cfg.HTTPAddr,
		RateLimit:      api.RateLimitConfig{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		WebhookURL:     cfg.TwilioWebhookURL,
	}, api.Deps{
		Projects:   projects.NewManager(st, catalog, dir, logger),
		Steps:      steps.NewEngine(st, deliverer, m, logger),
		Inbox:      controller,
		Dispatcher: dispatcher,
		Messages:   st,
		Contacts:   dir,
		Templates:  catalog,
		Checker:    checker,
		Metrics:    m,
		Webhook:    validator,
	}, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
			sigCh <- syscall.SIGTERM
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	if err := server.Shutdown(10 * time.Second); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	if err := sweeper.Stop(); err != nil {
		logger.Error().Err(err).Msg("outbox sweeper shutdown error")
	}

	logger.Info().Msg("project hub stopped")
}

// senders picks the provider clients, or the logging stand-in when
// delivery is disabled.
func senders(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (notify.EmailSender, notify.SMSSender) {
	var (
		email notify.EmailSender
		sms   notify.SMSSender
	)
	dry := notify.NewLogSender(logger)

	if cfg.SendGridEnabled() && !cfg.NotifyDryRun {
		email = sendgrid.NewClient(cfg.SendGridURL, cfg.SendGridAPIKey, cfg.SendGridFrom, m, logger)
	} else {
		logger.Info().Msg("SendGrid disabled, emails are logged only")
		email = dry
	}

	if cfg.TwilioEnabled() && !cfg.NotifyDryRun {
		sms = twilio.NewClient(cfg.TwilioURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, m, logger)
	} else {
		logger.Info().Msg("Twilio disabled, texts are logged only")
		sms = dry
	}
	return email, sms
}

func printEnvReport(cfg *config.Config) int {
	code := 0
	for _, v := range cfg.Report() {
		state := "set"
		if !v.Set {
			state = "missing"
			if v.Required && cfg.ProvidersRequired() {
				code = 1
			}
		}
		req := ""
		if v.Required {
			req = " (required)"
		}
		fmt.Printf("%-28s %s%s\n", v.Name, state, req)
	}
	return code
}

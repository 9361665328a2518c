// Package api is the hub's HTTP surface: the project dashboard endpoints,
// the operator inbox, the provider webhooks and the legacy notification
// entry point.
package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-hub/internal/health"
	"github.com/p-blackswan/project-hub/internal/inbox"
	"github.com/p-blackswan/project-hub/internal/metrics"
	"github.com/p-blackswan/project-hub/internal/models"
	"github.com/p-blackswan/project-hub/internal/notify"
	"github.com/p-blackswan/project-hub/internal/projects"
	"github.com/p-blackswan/project-hub/internal/requestid"
	"github.com/p-blackswan/project-hub/internal/steps"
	"github.com/p-blackswan/project-hub/internal/templates"
	"github.com/p-blackswan/project-hub/internal/twilio"
)

const (
	legacyNotifyPath = "/api/sendNotification"
	webhookPath      = "/api/twilio-webhook"
	sessionHeader    = "X-Session-ID"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	ListenAddr     string
	RateLimit      RateLimitConfig
	CORSOrigins    string
	RequestTimeout time.Duration
	// WebhookURL is the public URL Twilio signs webhook requests against.
	WebhookURL string
}

// MessageLog is the part of the message store the direct send endpoints
// and webhooks write to.
type MessageLog interface {
	InsertMessage(ctx context.Context, m *models.Message) error
	UpdateStatusByProviderID(ctx context.Context, providerID, status string) (int, error)
}

// PhoneResolver maps inbound phone numbers to thread keys.
type PhoneResolver interface {
	ResolvePhone(ctx context.Context, phone string) (models.Contact, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Projects   *projects.Manager
	Steps      *steps.Engine
	Inbox      *inbox.Controller
	Dispatcher *notify.Dispatcher
	Messages   MessageLog
	Contacts   PhoneResolver
	Templates  *templates.Catalog
	Checker    *health.Checker
	Metrics    *metrics.Metrics
	// Webhook verifies Twilio signatures. Nil accepts unsigned callbacks.
	Webhook *twilio.Validator
}

// Server is the hub's Fiber application.
type Server struct {
	app    *fiber.App
	deps   Deps
	logger zerolog.Logger
	config ServerConfig
	stop   context.CancelFunc
}

// NewServer creates and configures the HTTP server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		app:    app,
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
		config: cfg,
		stop:   stop,
	}

	s.setupMiddleware(ctx, cfg)
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware(ctx context.Context, cfg ServerConfig) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())

	// The legacy endpoint answers its own preflight.
	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			Next:         func(c *fiber.Ctx) bool { return c.Path() == legacyNotifyPath },
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID, X-Session-ID",
			AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(ctx, cfg.RateLimit))
	}

	if s.deps.Metrics != nil {
		prom := fiberprometheus.NewWithRegistry(s.deps.Metrics.Registry(), "project-hub", "hub", "http", nil)
		s.app.Use(prom.Middleware)
	}

	if cfg.RequestTimeout > 0 {
		s.app.Use(func(c *fiber.Ctx) error {
			ctx, cancel := context.WithTimeout(c.UserContext(), cfg.RequestTimeout)
			defer cancel()
			c.SetUserContext(ctx)
			return c.Next()
		})
	}

	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if isProbe(path) {
			return c.Next()
		}

		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", requestid.FromFiber(c)).
			Msg("api request")

		return c.Next()
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", health.Liveness)
	if s.deps.Checker != nil {
		s.app.Get("/readyz", s.deps.Checker.Readiness())
	}
	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	// Endpoints kept at their original paths for existing callers.
	s.app.All(legacyNotifyPath, s.SendNotification)
	s.app.Post("/api/send-sms", s.SendSMS)
	s.app.Post("/api/send-email", s.SendEmail)
	s.app.Post(webhookPath, s.TwilioWebhook)

	v1 := s.app.Group("/api/v1")

	v1.Post("/projects", s.CreateProject)
	v1.Get("/projects", s.ListProjects)
	v1.Get("/projects/:id", s.GetProject)
	v1.Patch("/projects/:id", s.UpdateProject)
	v1.Post("/projects/:id/advance", s.Transition(steps.KindAdvance))
	v1.Post("/projects/:id/revert", s.Transition(steps.KindRevert))
	v1.Post("/projects/:id/complete", s.Transition(steps.KindComplete))

	v1.Get("/templates", s.ListTemplates)
	v1.Get("/calendar", s.Calendar)
	v1.Get("/track/:trackingLinkId", s.Track)

	in := v1.Group("/inbox")
	in.Get("/threads", s.ListThreads)
	in.Get("/threads/:contact/messages", s.LoadMessages)
	in.Post("/threads/:contact/messages", s.SendInboxMessage)
	in.Get("/threads/:contact/messages/older", s.LoadOlderMessages)
	in.Post("/threads/:contact/hide", s.HideThread)
	in.Post("/threads/:contact/read", s.MarkThreadRead)
	in.Get("/hidden", s.HiddenThreads)
	in.Delete("/hidden", s.ShowAllThreads)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	s.logger.Info().Str("addr", addr).Msg("http server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server, waiting up to timeout for
// in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info().Msg("http server shutting down")
	defer s.stop()
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, _ := statusFor(err)
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		ev := logger.Warn()
		if status >= fiber.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Err(err).
			Int("status", status).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Str("request_id", requestid.FromFiber(c)).
			Msg("request failed")

		return errorResponse(c, err)
	}
}

// sessionID returns the caller's view session. The value keys state that
// outlives the request, so it never aliases the request buffer.
func sessionID(c *fiber.Ctx) string {
	return utils.CopyString(c.Get(sessionHeader))
}

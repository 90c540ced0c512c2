package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"

	"github.com/lowtechclub/botprompts"
	"github.com/lowtechclub/botprompts/config"
)

// Server is the REST boundary. It owns the fiber app and translates
// between HTTP and the domain services; no business rules live here.
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	manager   *botprompts.Manager
	gate      *botprompts.Gate
	prompts   *botprompts.PromptsService
	variables *botprompts.VariablesService
	notifier  botprompts.Notifier
	logger    zerolog.Logger
}

func NewServer(
	cfg *config.Config,
	manager *botprompts.Manager,
	gate *botprompts.Gate,
	prompts *botprompts.PromptsService,
	variables *botprompts.VariablesService,
	notifier botprompts.Notifier,
	logger zerolog.Logger,
) *Server {
	logger = logger.With().Str("component", "http").Logger()

	app := fiber.New(fiber.Config{
		AppName:                 "botprompts",
		ErrorHandler:            newErrorHandler(logger),
		EnableTrustedProxyCheck: cfg.Server.TrustProxy,
		DisableStartupMessage:   true,
	})

	s := &Server{
		app:       app,
		cfg:       cfg,
		manager:   manager,
		gate:      gate,
		prompts:   prompts,
		variables: variables,
		notifier:  notifier,
		logger:    logger,
	}

	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
	}))
	s.registerRoutes()
	return s
}

// App exposes the fiber instance for in-process testing
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen() error {
	s.logger.Info().Str("addr", s.cfg.Server.Listen).Msg("listening")
	return s.app.Listen(s.cfg.Server.Listen)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	api := s.app.Group("/api/v1")

	api.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// credential endpoints are throttled, the rest of the API is not
	throttle := limiter.New(limiter.Config{
		Max:        s.cfg.Server.RateLimitMax,
		Expiration: s.cfg.Server.RateLimitWindow,
	})
	api.Use("/auth", throttle)
	api.Use("/register", throttle)
	api.Use("/verify", throttle)
	api.Use("/reset", throttle)

	s.registerAuthRoutes(api)
	s.registerRegisterRoutes(api)
	s.registerVerifyRoutes(api)
	s.registerResetRoutes(api)
	s.registerProfileRoutes(api)
	s.registerResourceRoutes(api)
	s.registerMembershipRoutes(api)
	s.registerVariableRoutes(api)
	s.registerPromptRoutes(api)
}

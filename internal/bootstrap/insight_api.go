package bootstrap

import (
	"strings"
	"time"

	"insight_server/adapter/in/http"
	"insight_server/config"
	"insight_server/infra/middleware"
	"insight_server/pkg/apperr"
	"insight_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := newApp(cfg)
	registerRoutes(app, deps)

	logger.Info("API server initialized successfully")

	return app, cleanup, nil
}

func newApp(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		// go-json for request and response bodies
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:          4 * 1024 * 1024,
		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityHeaders())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// AllowCredentials requires explicit origins (not "*")
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	return app
}

func registerRoutes(app *fiber.App, deps *Dependencies) {
	http.NewHealthHandlerWithDeps(deps.redisPinger(), deps.Circuits).
		WithLatency(deps.Latency).
		Register(app)

	api := app.Group("/api/v1", middleware.RouteLatency(deps.Latency))
	if limit := deps.Config.RateLimitPerMin; limit > 0 {
		api.Use(middleware.NewRateLimiter(limit, time.Minute).Handler())
	}
	http.NewEmailHandler(deps.EmailService).Register(api)
	http.NewAIHandler(deps.Analyzer, deps.EmailService, deps.CacheStats).Register(api)
	http.NewConversationHandler(deps.QueryBuilder).Register(api)

	app.Use(func(c *fiber.Ctx) error {
		return apperr.NotFound("route " + c.Path())
	})
}

package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/docuprompt/api/internal/client"
	"github.com/docuprompt/api/internal/middleware"
	"github.com/docuprompt/api/internal/queue"
	ws "github.com/docuprompt/api/internal/websocket"
	"github.com/docuprompt/api/pkg/response"
)

// Deps is everything the HTTP surface needs. Redis and Store may be nil.
type Deps struct {
	Redis             *redis.Client
	Queue             queue.Queue
	Provider          client.InferenceProvider
	Store             client.ObjectStore
	Gateway           *ws.Gateway
	AllowedOrigins    string
	LogLevel          string
	ConnectionsPerMin int
}

// NewApp builds the fiber application with its middleware and routes
func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(d.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	origins := d.AllowedOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	SetupRoutes(app, d)
	return app
}

func SetupRoutes(app *fiber.App, d Deps) {
	health := NewHealthHandler(d.Redis, d.Provider, d.Store)
	queues := NewQueueHandler(d.Queue)
	rateLimiter := middleware.NewRateLimiter(d.Redis)

	app.Get("/", health.Root)
	app.Get("/health", health.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Get("/queues", queues.Stats)
	api.Get("/jobs/:partition/:jobId", queues.Job)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return response.UpgradeRequired(c)
	})

	app.Get("/ws", rateLimiter.ConnectionLimit(d.ConnectionsPerMin), websocket.New(func(c *websocket.Conn) {
		d.Gateway.HandleConnection(c)
	}))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}

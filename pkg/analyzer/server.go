package analyzer

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// BodyLimit admits a full-resolution JPEG encoded as base64.
const BodyLimit = 16 * 1024 * 1024

// Server hosts a Service over HTTP.
type Server struct {
	app    *fiber.App
	port   string
	svc    *Service
	logger *slog.Logger
}

// NewServer builds the fiber app for svc. With debug set every request is
// logged.
func NewServer(svc *Service, port string, debug bool) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "feedscan-analyzer",
		DisableStartupMessage: true,
		BodyLimit:             BodyLimit,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if debug {
		app.Use(logger.New())
	}

	api := app.Group("/api")
	svc.RegisterRoutes(api)
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"provider": svc.provider.Name(),
		})
	})

	return &Server{
		app:    app,
		port:   port,
		svc:    svc,
		logger: svc.logger,
	}
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("analyzer listening", "addr", "http://localhost:"+s.port+"/api/analyze")
	return s.app.Listen(":" + s.port)
}

// Shutdown stops the server and closes the provider.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	if cerr := s.svc.provider.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

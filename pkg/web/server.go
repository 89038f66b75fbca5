// Package web exposes a scan session to an operator over HTTP and websocket.
package web

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-feedscan/pkg/hub"
	"github.com/teslashibe/go-feedscan/pkg/scan"
	"github.com/teslashibe/go-feedscan/pkg/session"
)

// MaxUploadSize bounds an uploaded image.
const MaxUploadSize = 10 * 1024 * 1024

// Snapshot is the JSON view of a session served by /api/state and pushed on
// /ws/state.
type Snapshot struct {
	session.State
	Phase session.Phase `json:"phase"`
	Scan  scan.Stats    `json:"scan"`
}

// Server is the operator control API.
type Server struct {
	app     *fiber.App
	port    string
	machine *session.Machine
	logger  *slog.Logger

	stateHub    *hub.Hub
	hubCtx      context.Context
	hubCancel   context.CancelFunc
	hubOnce     sync.Once
	unsubscribe func()

	staticDir string
	debug     bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithStaticDir serves an operator UI from dir at "/".
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// WithDebug logs every request.
func WithDebug(debug bool) Option {
	return func(s *Server) {
		s.debug = debug
	}
}

// NewServer creates the control API for m. Every state m publishes is
// broadcast on /ws/state.
func NewServer(m *session.Machine, port string, opts ...Option) *Server {
	s := &Server{
		port:    port,
		machine: m,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stateHub = hub.New("state", s.logger)
	s.logger = s.logger.With("component", "web")
	s.hubCtx, s.hubCancel = context.WithCancel(context.Background())

	app := fiber.New(fiber.Config{
		AppName:               "feedscan",
		DisableStartupMessage: true,
		BodyLimit:             MaxUploadSize + 1024*1024,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if s.debug {
		app.Use(logger.New())
	}

	if s.staticDir != "" {
		app.Static("/", s.staticDir)
	}

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/state", s.handleState)
	api.Post("/mode/camera", s.handleCameraMode)
	api.Post("/mode/upload", s.handleUploadMode)
	api.Post("/live", s.handleLive)
	api.Post("/capture", s.handleCapture)
	api.Post("/upload", s.handleUpload)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(func(conn *websocket.Conn) {
		hub.Serve(s.stateHub, conn)
	}))

	s.app = app

	s.stateHub.BroadcastJSON(s.snapshot(m.State()))
	s.unsubscribe = m.Subscribe(func(st session.State) {
		if err := s.stateHub.BroadcastJSON(s.snapshot(st)); err != nil {
			s.logger.Warn("encode state", "error", err)
		}
	})
	return s
}

func (s *Server) snapshot(st session.State) Snapshot {
	return Snapshot{
		State: st,
		Phase: st.Phase(),
		Scan:  s.machine.ScanStats(),
	}
}

func (s *Server) startHub() {
	s.hubOnce.Do(func() {
		go s.stateHub.Run(s.hubCtx)
	})
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// StateHub returns the hub that carries state updates.
func (s *Server) StateHub() *hub.Hub {
	return s.stateHub
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	s.startHub()
	s.logger.Info("control API listening", "addr", "http://localhost:"+s.port)
	return s.app.Listen(":" + s.port)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.startHub()
	return s.app.Listener(ln)
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

// Shutdown stops publishing state, disconnects websocket clients and stops
// the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.unsubscribe()
	s.hubCancel()
	return s.app.ShutdownWithContext(ctx)
}

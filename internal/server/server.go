package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/rewards_auth/internal/backend"
	"github.com/congo-pay/rewards_auth/internal/config"
	"github.com/congo-pay/rewards_auth/internal/middleware"
	"github.com/congo-pay/rewards_auth/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	backend *backend.Service
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	return NewWithDeps(routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
}

// NewWithDeps is New with every routes dependency exposed.
func NewWithDeps(d routes.Deps) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               d.Cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          middleware.ErrorHandler(d.Logger),
		DisableStartupMessage: true,
	})

	svc, err := routes.Setup(app, d)
	if err != nil {
		return nil, err
	}
	return &Server{app: app, cfg: d.Cfg, backend: svc}, nil
}

// App exposes the fiber application, for tests and adapters.
func (s *Server) App() *fiber.App { return s.app }

// Backend returns the service behind the routes.
func (s *Server) Backend() *backend.Service { return s.backend }

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

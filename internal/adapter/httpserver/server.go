package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/whispercmd/internal/access"
	"github.com/pscheid92/whispercmd/internal/platform/config"
)

type aclService interface {
	Usernames() []string
	GetUser(name string) (access.User, error)
	GlobalCommands() []string
	AddUser(ctx context.Context, spec access.UserSpec) (bool, error)
	RemoveUser(ctx context.Context, name string) (bool, error)
	GrantUserCommands(ctx context.Context, name string, commands ...string) (bool, error)
	RevokeUserCommands(ctx context.Context, name string, commands ...string) (bool, error)
	GrantGlobalCommands(ctx context.Context, commands ...string) error
	RevokeGlobalCommands(ctx context.Context, commands ...string) error
}

type commandRegistry interface {
	Commands() []string
}

type messageSender interface {
	SendSync(ctx context.Context, message string, recipients ...string) error
}

const (
	adminRatePerSecond = 5
	adminRateBurst     = 10
)

type Server struct {
	echo   *echo.Echo
	config *config.Config

	acl      aclService
	commands commandRegistry
	sender   messageSender

	webhookHandler http.Handler
	metricsHandler http.Handler
	httpMetrics    echo.MiddlewareFunc

	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time
}

type Option func(*Server)

// WithMetrics serves h on /metrics and records requests with mw.
func WithMetrics(h http.Handler, mw echo.MiddlewareFunc) Option {
	return func(s *Server) {
		s.metricsHandler = h
		s.httpMetrics = mw
	}
}

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = append(s.healthChecks, checks...) }
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// NewServer wires the webhook, probe and admin routes. webhookHandler may be
// nil, in which case the webhook route is not mounted. The admin API is only
// mounted when cfg carries an admin token.
func NewServer(cfg *config.Config, acl aclService, commands commandRegistry, sender messageSender, webhookHandler http.Handler, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler

	srv := &Server{
		echo:           e,
		config:         cfg,
		acl:            acl,
		commands:       commands,
		sender:         sender,
		webhookHandler: webhookHandler,
		clock:          clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.startTime = srv.clock.Now()

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port, "admin_api", s.config.AdminEnabled())
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

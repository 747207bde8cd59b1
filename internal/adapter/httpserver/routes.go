package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics)
	}
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            63072000, // 2 years; only sent over HTTPS
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}))

	s.registerHealthRoutes()

	if s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	if s.webhookHandler != nil {
		s.echo.POST("/webhooks/eventsub", echo.WrapHandler(s.webhookHandler))
	}

	if s.config.AdminEnabled() {
		s.registerAdminRoutes(s.echo.Group("/api",
			newRateLimiter(adminRatePerSecond, adminRateBurst),
			adminAuthMiddleware(s.config.AdminToken),
		))
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

package httpserver

import (
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/whispercmd/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter limits requests per client IP. It sits in front of the admin
// token check so that guessing tokens is throttled too.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	retryAfter := strconv.Itoa(int(math.Ceil(1 / ratePerSecond)))

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			slog.WarnContext(c.Request().Context(), "Rate limit exceeded", "ip", identifier, "path", c.Request().URL.Path)
			c.Response().Header().Set("Retry-After", retryAfter)
			return HandleError(c, apperrors.RateLimitedError("rate limit exceeded"))
		},
	})
}

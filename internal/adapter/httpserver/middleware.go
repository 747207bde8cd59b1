package httpserver

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/whispercmd/internal/platform/correlation"
	apperrors "github.com/pscheid92/whispercmd/internal/platform/errors"
)

// correlationMiddleware adopts a well-formed X-Correlation-ID from the caller
// or mints one, and echoes it on the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(correlation.Header)
		if !correlation.Valid(id) {
			id = correlation.NewID()
		}
		c.Response().Header().Set(correlation.Header, id)

		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// adminAuthMiddleware accepts "Authorization: Bearer <token>" only.
func adminAuthMiddleware(token string) echo.MiddlewareFunc {
	expected := []byte(token)
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), expected) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			slog.WarnContext(c.Request().Context(), "Admin request rejected", "path", c.Request().URL.Path, "ip", c.RealIP(), "reason", err.Error())
			return HandleError(c, apperrors.UnauthorizedError("unauthorized"))
		},
	})
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			if _, ok := errors.AsType[*echo.HTTPError](err); ok {
				return err
			}

			return HandleError(c, err)
		}
	}
}

// httpErrorHandler renders errors that never reached ErrorHandlingMiddleware,
// such as unmatched routes, in the same JSON shape.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	httpErr, ok := errors.AsType[*echo.HTTPError](err)
	if !ok {
		_ = HandleError(c, err)
		return
	}

	structured := WrapHTTPError(httpErr)
	if err := c.JSON(httpErr.Code, structured.ToResponse()); err != nil {
		slog.ErrorContext(c.Request().Context(), "Failed to write error response", "error", err)
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeUnauthorized:
		slog.InfoContext(ctx, "Unauthorized", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := apperrors.AsStructuredError(err)
	logError(c, structuredErr)
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok && msg != "" {
		message = msg
	}

	var errType apperrors.ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		errType = apperrors.TypeValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = apperrors.TypeUnauthorized
	case http.StatusNotFound:
		errType = apperrors.TypeNotFound
	case http.StatusConflict:
		errType = apperrors.TypeConflict
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		errType = apperrors.TypeExternal
	default:
		errType = apperrors.TypeInternal
	}

	err := &apperrors.Error{
		Type:    errType,
		Message: message,
		Context: make(map[string]any),
	}

	if httpErr.Internal != nil {
		err.Cause = httpErr.Internal
	}

	return err
}

package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/whispercmd/internal/access"
	"github.com/pscheid92/whispercmd/internal/app"
	"github.com/pscheid92/whispercmd/internal/domain"
	"github.com/pscheid92/whispercmd/internal/platform/config"
	"github.com/pscheid92/whispercmd/internal/platform/correlation"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(correlation.NewHandler(slog.NewTextHandler(io.Discard, nil))))
	os.Exit(m.Run())
}

const testAdminToken = "test-admin-token-0123456789"

var testStartTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- Mock implementations ---

type mockSender struct {
	sendFn func(ctx context.Context, message string, recipients ...string) error
	calls  [][]string
}

func (m *mockSender) SendSync(ctx context.Context, message string, recipients ...string) error {
	m.calls = append(m.calls, append([]string{message}, recipients...))
	if m.sendFn != nil {
		return m.sendFn(ctx, message, recipients...)
	}
	return nil
}

type stubCommands []string

func (s stubCommands) Commands() []string { return s }

// failingRepo rejects every save so mutations surface a storage error.
type failingRepo struct{}

func (failingRepo) Load(context.Context) (domain.ACLSnapshot, error) {
	return domain.ACLSnapshot{}, domain.ErrSnapshotNotFound
}

func (failingRepo) Save(context.Context, domain.ACLSnapshot) error {
	return errors.New("redis: connection refused")
}

// --- Test helpers ---

func newTestACL(t *testing.T, repo domain.ACLRepository) *app.ACLService {
	t.Helper()
	return app.NewACLService(access.NewStore(), repo)
}

func newTestServer(t *testing.T, opts ...func(*Server)) *Server {
	t.Helper()

	srv := &Server{
		echo:     echo.New(),
		config:   &config.Config{Port: "0", AdminToken: testAdminToken},
		acl:      newTestACL(t, nil),
		commands: stubCommands{"echo", "version"},
		sender:   &mockSender{},
		clock:    clockwork.NewFakeClockAt(testStartTime),
	}
	srv.echo.HTTPErrorHandler = httpErrorHandler

	for _, opt := range opts {
		opt(srv)
	}
	srv.startTime = testStartTime

	// Register routes so endpoints are available for testing
	srv.registerRoutes()

	return srv
}

func withACL(acl aclService) func(*Server) {
	return func(s *Server) {
		s.acl = acl
	}
}

func withSender(sender messageSender) func(*Server) {
	return func(s *Server) {
		s.sender = sender
	}
}

func withWebhookHandler(h http.Handler) func(*Server) {
	return func(s *Server) {
		s.webhookHandler = h
	}
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withoutAdmin() func(*Server) {
	return func(s *Server) {
		s.config.AdminToken = ""
	}
}

// adminRequest sends an authenticated request through the full route stack.
func adminRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return serve(t, srv, method, path, body, "Bearer "+testAdminToken)
}

func serve(t *testing.T, srv *Server, method, path, body, authorization string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}

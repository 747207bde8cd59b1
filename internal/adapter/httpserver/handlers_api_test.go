package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/pscheid92/whispercmd/internal/app"
	"github.com/pscheid92/whispercmd/internal/domain"
	apperrors "github.com/pscheid92/whispercmd/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

// --- auth ---

func TestAdminAPI_RequiresBearerToken(t *testing.T) {
	tests := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"wrong token", "Bearer not-the-admin-token-000"},
		{"wrong scheme", "Basic " + testAdminToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)

			rec := serve(t, srv, http.MethodGet, "/api/users", "", tt.authorization)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			resp := decode[apperrors.ErrorResponse](t, rec.Body.Bytes())
			assert.Equal(t, apperrors.TypeUnauthorized, resp.Type)
		})
	}
}

func TestAdminAPI_NotMountedWithoutToken(t *testing.T) {
	srv := newTestServer(t, withoutAdmin())

	rec := adminRequest(t, srv, http.MethodGet, "/api/users", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAPI_RateLimited(t *testing.T) {
	srv := newTestServer(t)

	codes := make(map[int]int)
	for range adminRateBurst + 5 {
		rec := serve(t, srv, http.MethodGet, "/api/users", "", "Bearer wrong")
		codes[rec.Code]++
	}

	assert.Positive(t, codes[http.StatusTooManyRequests])
}

// --- users ---

func TestAddUser_Created(t *testing.T) {
	srv := newTestServer(t)

	rec := adminRequest(t, srv, http.MethodPost, "/api/users", `{"name":"bob","commands":["status"]}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"name":"bob","commands":["status"],"unrestricted":false}`, rec.Body.String())
}

func TestAddUser_BareNameIsUnrestricted(t *testing.T) {
	srv := newTestServer(t)

	rec := adminRequest(t, srv, http.MethodPost, "/api/users", `{"name":"alice"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"name":"alice","commands":[],"unrestricted":true}`, rec.Body.String())
}

func TestAddUser_Duplicate(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated, adminRequest(t, srv, http.MethodPost, "/api/users", `{"name":"alice","commands":["echo"]}`).Code)

	rec := adminRequest(t, srv, http.MethodPost, "/api/users", `{"name":"alice"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[apperrors.ErrorResponse](t, rec.Body.Bytes())
	assert.Equal(t, "alice", resp.Context["name"])

	// the existing whitelist is untouched
	rec = adminRequest(t, srv, http.MethodGet, "/api/users/alice", "")
	assert.JSONEq(t, `{"name":"alice","commands":["echo"],"unrestricted":false}`, rec.Body.String())
}

func TestAddUser_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty name", `{"name":""}`},
		{"empty command", `{"name":"bob","commands":[""]}`},
		{"malformed json", `{"name":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)

			rec := adminRequest(t, srv, http.MethodPost, "/api/users", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[apperrors.ErrorResponse](t, rec.Body.Bytes())
			assert.Equal(t, apperrors.TypeValidation, resp.Type)
		})
	}
}

func TestAddUser_SaveFailure(t *testing.T) {
	srv := newTestServer(t, withACL(newTestACL(t, failingRepo{})))

	rec := adminRequest(t, srv, http.MethodPost, "/api/users", `{"name":"bob"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[apperrors.ErrorResponse](t, rec.Body.Bytes())
	assert.Equal(t, "internal server error", resp.Error)
	assert.NotContains(t, rec.Body.String(), "connection refused")

	rec = adminRequest(t, srv, http.MethodGet, "/api/users/bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListUsers_RegistrationOrder(t *testing.T) {
	srv := newTestServer(t)
	for _, name := range []string{"carol", "alice", "bob"} {
		require.Equal(t, http.StatusCreated, adminRequest(t, srv, http.MethodPost, "/api/users", fmt.Sprintf(`{"name":%q}`, name)).Code)
	}

	rec := adminRequest(t, srv, http.MethodGet, "/api/users", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Users []userResponse `json:"users"`
	}](t, rec.Body.Bytes())
	require.Len(t, resp.Users, 3)
	assert.Equal(t, "carol", resp.Users[0].Name)
	assert.Equal(t, "alice", resp.Users[1].Name)
	assert.Equal(t, "bob", resp.Users[2].Name)
}

func TestListUsers_Empty(t *testing.T) {
	srv := newTestServer(t)

	rec := adminRequest(t, srv, http.MethodGet, "/api/users", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"users":[]}`, rec.Body.String())
}

func TestGetUser_NotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := adminRequest(t, srv, http.MethodGet, "/api/users/ghost", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[apperrors.ErrorResponse](t, rec.Body.Bytes())
	assert.Equal(t, "ghost", resp.Context["name"])
}

func TestGetUser_CaseSensitive(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated, adminRequest(t, srv, http.MethodPost, "/api/users", `{"name":"alice"}`).Code)

	rec := adminRequest(t, srv, http.MethodGet, "/api/users/Alice", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveUser(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated, adminRequest(t, srv, http.MethodPost, "/api/users", `{"name":"alice"}`).Code)

	rec := adminRequest(t, srv, http.MethodDelete, "/api/users/alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = adminRequest(t, srv, http.MethodDelete, "/api/users/alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- user commands ---

func TestGrantUserCommands_NewFirst(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated, adminRequest(t, srv, http.MethodPost, "/api/users", `{"name":"alice","commands":["status"]}`).Code)

	rec := adminRequest(t, srv, http.MethodPost, "/api/users/alice/commands", `{"commands":["echo","status"]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"alice","commands":["echo","status"],"unrestricted":false}`, rec.Body.String())
}

func TestGrantUserCommands_UnknownUser(t *testing.T) {
	srv := newTestServer(t)

	rec := adminRequest(t, srv, http.MethodPost, "/api/users/ghost/commands", `{"commands":["echo"]}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGrantUserCommands_EmptyList(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated, adminRequest(t, srv, http.MethodPost, "/api/users", `{"name":"alice"}`).Code)

	rec := adminRequest(t, srv, http.MethodPost, "/api/users/alice/commands", `{"commands":[]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokeUserCommands(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated, adminRequest(t, srv, http.MethodPost, "/api/users", `{"name":"alice","commands":["echo","status"]}`).Code)

	rec := adminRequest(t, srv, http.MethodDelete, "/api/users/alice/commands", `{"commands":["echo"]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"alice","commands":["status"],"unrestricted":false}`, rec.Body.String())
}

func TestRevokeUserCommands_LastCommandMakesUnrestricted(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated, adminRequest(t, srv, http.MethodPost, "/api/users", `{"name":"alice","commands":["echo"]}`).Code)

	rec := adminRequest(t, srv, http.MethodDelete, "/api/users/alice/commands", `{"commands":["echo"]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"alice","commands":[],"unrestricted":true}`, rec.Body.String())
}

// --- global commands ---

func TestGlobalCommands_GrantListRevoke(t *testing.T) {
	srv := newTestServer(t)

	rec := adminRequest(t, srv, http.MethodGet, "/api/global-commands", "")
	assert.JSONEq(t, `{"commands":[]}`, rec.Body.String())

	rec = adminRequest(t, srv, http.MethodPost, "/api/global-commands", `{"commands":["status","version"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"commands":["status","version"]}`, rec.Body.String())

	rec = adminRequest(t, srv, http.MethodDelete, "/api/global-commands", `{"commands":["status"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"commands":["version"]}`, rec.Body.String())
}

func TestGlobalCommands_EmptyCommandRejected(t *testing.T) {
	srv := newTestServer(t)

	rec := adminRequest(t, srv, http.MethodPost, "/api/global-commands", `{"commands":["status",""]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCommands(t *testing.T) {
	srv := newTestServer(t)

	rec := adminRequest(t, srv, http.MethodGet, "/api/commands", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"commands":["echo","version"]}`, rec.Body.String())
}

// --- messages ---

func TestSendMessage_Success(t *testing.T) {
	sender := &mockSender{}
	srv := newTestServer(t, withSender(sender))

	rec := adminRequest(t, srv, http.MethodPost, "/api/messages", `{"message":"maintenance at noon","recipients":["alice","bob"]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"sent","recipients":2,"truncated":false}`, rec.Body.String())
	assert.Equal(t, [][]string{{"maintenance at noon", "alice", "bob"}}, sender.calls)
}

func TestSendMessage_ReportsTruncation(t *testing.T) {
	srv := newTestServer(t)

	body := fmt.Sprintf(`{"message":%q,"recipients":["alice"]}`, strings.Repeat("x", app.MaxMessageLength+1))
	rec := adminRequest(t, srv, http.MethodPost, "/api/messages", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"truncated":true`)
}

func TestSendMessage_RequiresRecipients(t *testing.T) {
	sender := &mockSender{}
	srv := newTestServer(t, withSender(sender))

	rec := adminRequest(t, srv, http.MethodPost, "/api/messages", `{"message":"hi","recipients":[]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sender.calls)
}

func TestSendMessage_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   apperrors.ErrorType
	}{
		{
			name:       "unknown recipient",
			err:        &app.SendError{Recipient: "ghost", Skipped: 1, Err: fmt.Errorf("whisper to ghost: %w", domain.ErrRecipientNotFound)},
			wantStatus: http.StatusNotFound,
			wantType:   apperrors.TypeNotFound,
		},
		{
			name:       "helix failure",
			err:        &app.SendError{Recipient: "alice", Skipped: 1, Err: errors.New("helix 500")},
			wantStatus: http.StatusBadGateway,
			wantType:   apperrors.TypeExternal,
		},
		{
			name:       "unwrapped error",
			err:        errors.New("boom"),
			wantStatus: http.StatusBadGateway,
			wantType:   apperrors.TypeExternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockSender{sendFn: func(context.Context, string, ...string) error { return tt.err }}
			srv := newTestServer(t, withSender(sender))

			rec := adminRequest(t, srv, http.MethodPost, "/api/messages", `{"message":"hi","recipients":["alice","ghost"]}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decode[apperrors.ErrorResponse](t, rec.Body.Bytes())
			assert.Equal(t, tt.wantType, resp.Type)
			assert.NotContains(t, rec.Body.String(), "helix 500")
		})
	}
}

func TestSendMessage_FailureNamesRecipient(t *testing.T) {
	sender := &mockSender{sendFn: func(context.Context, string, ...string) error {
		return &app.SendError{Recipient: "bob", Skipped: 2, Err: errors.New("timeout")}
	}}
	srv := newTestServer(t, withSender(sender))

	rec := adminRequest(t, srv, http.MethodPost, "/api/messages", `{"message":"hi","recipients":["alice","bob","carol","dave"]}`)

	resp := decode[apperrors.ErrorResponse](t, rec.Body.Bytes())
	assert.Equal(t, "bob", resp.Context["recipient"])
	assert.InDelta(t, 2, resp.Context["skipped"], 0)
}

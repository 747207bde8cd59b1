package twitch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Its-donkey/kappopher/helix"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/whispercmd/internal/domain"
	"github.com/pscheid92/whispercmd/internal/platform/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	handler := correlation.NewHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(slog.New(handler))
	os.Exit(m.Run())
}

const (
	testWebhookSecret = "test-webhook-secret-1234567890"
	testBotUserID     = "bot-user"
)

func signWebhookRequest(secret, messageID, timestamp, body string) string {
	message := messageID + timestamp + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func makeNotificationBody(subscriptionType string, condition map[string]string, event map[string]any) string {
	payload := map[string]any{
		"subscription": map[string]any{
			"id":        "sub-123",
			"type":      subscriptionType,
			"version":   "1",
			"status":    "enabled",
			"condition": condition,
			"transport": map[string]string{
				"method":     "webhook",
				"callback":   "https://example.com/webhooks/eventsub",
				"created_at": time.Now().Format(time.RFC3339),
			},
			"created_at": time.Now().Format(time.RFC3339),
		},
		"event": event,
	}

	b, _ := json.Marshal(payload)
	return string(b)
}

func makeWhisperBody(whisperID, fromLogin, text string) string {
	return makeNotificationBody(EventSubTypeWhisper, map[string]string{"user_id": testBotUserID}, map[string]any{
		"from_user_id":    "id-" + fromLogin,
		"from_user_login": fromLogin,
		"from_user_name":  strings.ToUpper(fromLogin),
		"to_user_id":      testBotUserID,
		"to_user_login":   "whispercmd",
		"to_user_name":    "WhisperCmd",
		"whisper_id":      whisperID,
		"whisper":         map[string]string{"text": text},
	})
}

func makeSignedNotification(secret, subscriptionType, body string) *http.Request {
	messageID := "test-msg-id-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	timestamp := time.Now().Format(time.RFC3339)
	signature := signWebhookRequest(secret, messageID, timestamp, body)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/eventsub", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(helix.EventSubHeaderMessageID, messageID)
	req.Header.Set(helix.EventSubHeaderMessageTimestamp, timestamp)
	req.Header.Set(helix.EventSubHeaderMessageSignature, signature)
	req.Header.Set(helix.EventSubHeaderMessageType, helix.EventSubMessageTypeNotification)
	req.Header.Set(helix.EventSubHeaderSubscriptionType, subscriptionType)
	req.Header.Set(helix.EventSubHeaderSubscriptionVersion, "1")
	return req
}

func setupWebhookTest(t *testing.T) (*WebhookHandler, domain.Stream, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	transport := NewWhisperTransport(nil, testBotUserID)
	stream, err := transport.Subscribe(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Close() })

	return NewWebhookHandler(testWebhookSecret, transport, clock), stream, clock
}

func TestWebhook_WhisperBecomesDirectMessage(t *testing.T) {
	handler, stream, clock := setupWebhookTest(t)

	req := makeSignedNotification(testWebhookSecret, EventSubTypeWhisper, makeWhisperBody("w-1", "alice", "! echo hi there"))
	rec := httptest.NewRecorder()
	handler.HandleEventSub(rec, req)

	assert.Equal(t, 204, rec.Code)
	select {
	case msg := <-stream.DirectMessages():
		assert.Equal(t, domain.DirectMessage{
			ID:         "w-1",
			SenderID:   "id-alice",
			SenderName: "alice",
			Text:       "! echo hi there",
			ReceivedAt: clock.Now(),
		}, msg)
	default:
		t.Fatal("expected a direct message on the stream")
	}
}

func TestWebhook_MissingWhisperIDGetsGenerated(t *testing.T) {
	handler, stream, _ := setupWebhookTest(t)

	req := makeSignedNotification(testWebhookSecret, EventSubTypeWhisper, makeWhisperBody("", "alice", "status"))
	handler.HandleEventSub(httptest.NewRecorder(), req)

	msg := <-stream.DirectMessages()
	assert.Len(t, msg.ID, 36)
}

func TestWebhook_PreservesArrivalOrder(t *testing.T) {
	handler, stream, _ := setupWebhookTest(t)

	for i := range 5 {
		body := makeWhisperBody("w-"+strconv.Itoa(i), "alice", "note "+strconv.Itoa(i))
		handler.HandleEventSub(httptest.NewRecorder(), makeSignedNotification(testWebhookSecret, EventSubTypeWhisper, body))
	}

	for i := range 5 {
		msg := <-stream.DirectMessages()
		assert.Equal(t, "note "+strconv.Itoa(i), msg.Text)
	}
}

func TestWebhook_OtherNotificationBecomesUserEvent(t *testing.T) {
	handler, stream, _ := setupWebhookTest(t)

	body := makeNotificationBody("user.update", map[string]string{"user_id": testBotUserID}, map[string]any{
		"user_id":    testBotUserID,
		"user_login": "whispercmd",
	})
	rec := httptest.NewRecorder()
	handler.HandleEventSub(rec, makeSignedNotification(testWebhookSecret, "user.update", body))

	assert.Equal(t, 204, rec.Code)
	select {
	case ev := <-stream.UserEvents():
		assert.Equal(t, "user.update", ev.Type)
		assert.Contains(t, string(ev.Payload), `"user_login":"whispercmd"`)
	default:
		t.Fatal("expected a user event on the stream")
	}
	assert.Empty(t, stream.DirectMessages())
}

func TestWebhook_InvalidSignature(t *testing.T) {
	handler, stream, _ := setupWebhookTest(t)

	req := makeSignedNotification("wrong-secret-000000000000", EventSubTypeWhisper, makeWhisperBody("w-1", "alice", "echo hi"))
	rec := httptest.NewRecorder()
	handler.HandleEventSub(rec, req)

	assert.Equal(t, 403, rec.Code)
	assert.Empty(t, stream.DirectMessages())
}

func TestWebhook_ReplayAttack(t *testing.T) {
	handler, stream, _ := setupWebhookTest(t)

	req := makeSignedNotification(testWebhookSecret, EventSubTypeWhisper, makeWhisperBody("w-1", "alice", "echo hi"))
	body := makeWhisperBody("w-1", "alice", "echo hi")

	rec1 := httptest.NewRecorder()
	handler.HandleEventSub(rec1, req)
	assert.Equal(t, 204, rec1.Code)

	replay := httptest.NewRequest(http.MethodPost, "/webhooks/eventsub", strings.NewReader(body))
	replay.Header = req.Header.Clone()
	rec2 := httptest.NewRecorder()
	handler.HandleEventSub(rec2, replay)
	assert.Equal(t, 403, rec2.Code)

	assert.Len(t, stream.DirectMessages(), 1)
}

func TestWebhook_ClosedStreamDropsWhisper(t *testing.T) {
	handler, stream, _ := setupWebhookTest(t)
	require.NoError(t, stream.Close())

	rec := httptest.NewRecorder()
	handler.HandleEventSub(rec, makeSignedNotification(testWebhookSecret, EventSubTypeWhisper, makeWhisperBody("w-1", "alice", "hi")))

	assert.Equal(t, 204, rec.Code)
	_, open := <-stream.DirectMessages()
	assert.False(t, open)
}

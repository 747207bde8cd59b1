package twitch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Its-donkey/kappopher/helix"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/whispercmd/internal/domain"
	"github.com/pscheid92/whispercmd/internal/platform/correlation"
)

const webhookDeliveryTimeout = 5 * time.Second

// UserEventRevocation is the UserEvent type emitted when Twitch revokes a subscription.
const UserEventRevocation = "revocation"

// whisperEvent is the user.whisper.message event payload.
type whisperEvent struct {
	FromUserID    string `json:"from_user_id"`
	FromUserLogin string `json:"from_user_login"`
	FromUserName  string `json:"from_user_name"`
	ToUserID      string `json:"to_user_id"`
	ToUserLogin   string `json:"to_user_login"`
	WhisperID     string `json:"whisper_id"`
	Whisper       struct {
		Text string `json:"text"`
	} `json:"whisper"`
}

type WebhookHandler struct {
	handler   *helix.EventSubWebhookHandler
	transport *WhisperTransport
	clock     clockwork.Clock
}

// NewWebhookHandler verifies EventSub deliveries with secret and forwards
// whispers and other notifications to transport's open stream.
func NewWebhookHandler(secret string, transport *WhisperTransport, clock clockwork.Clock) *WebhookHandler {
	wh := &WebhookHandler{transport: transport, clock: clock}

	wh.handler = helix.NewEventSubWebhookHandler(
		helix.WithWebhookSecret(secret),
		helix.WithNotificationHandler(wh.handleNotification),
		helix.WithVerificationHandler(func(msg *helix.EventSubWebhookMessage) bool {
			slog.Info("EventSub webhook verification", "subscription_type", msg.SubscriptionType)
			return true
		}),
		helix.WithRevocationHandler(wh.handleRevocation),
	)
	return wh
}

func (wh *WebhookHandler) handleNotification(msg *helix.EventSubWebhookMessage) {
	ctx, cancel := context.WithTimeout(correlation.New(context.Background()), webhookDeliveryTimeout)
	defer cancel()

	if msg.SubscriptionType != EventSubTypeWhisper {
		wh.forwardEvent(ctx, msg.SubscriptionType, msg)
		return
	}

	event, err := helix.ParseEventSubEvent[whisperEvent](msg)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to parse whisper event", "error", err)
		return
	}

	dm := domain.DirectMessage{
		ID:         event.WhisperID,
		SenderID:   event.FromUserID,
		SenderName: event.FromUserLogin,
		Text:       event.Whisper.Text,
		ReceivedAt: wh.clock.Now(),
	}
	if dm.ID == "" {
		dm.ID = uuid.NewString()
	}

	if err := wh.transport.deliverMessage(ctx, dm); err != nil {
		slog.WarnContext(ctx, "Whisper not delivered", "message_id", dm.ID, "sender", dm.SenderName, "error", err)
		return
	}
	slog.DebugContext(ctx, "Whisper received", "message_id", dm.ID, "sender", dm.SenderName)
}

func (wh *WebhookHandler) handleRevocation(msg *helix.EventSubWebhookMessage) {
	reason := helix.GetRevocationReason(msg.Subscription)
	slog.Warn("EventSub subscription revoked", "type", msg.SubscriptionType, "reason", reason)

	ctx, cancel := context.WithTimeout(context.Background(), webhookDeliveryTimeout)
	defer cancel()
	wh.forwardEvent(ctx, UserEventRevocation, msg)
}

func (wh *WebhookHandler) forwardEvent(ctx context.Context, eventType string, msg *helix.EventSubWebhookMessage) {
	payload, err := json.Marshal(msg.Event)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode user event", "type", eventType, "error", err)
		return
	}

	if err := wh.transport.deliverEvent(ctx, domain.UserEvent{Type: eventType, Payload: payload}); err != nil {
		slog.DebugContext(ctx, "User event not delivered", "type", eventType, "error", err)
	}
}

func (wh *WebhookHandler) HandleEventSub(w http.ResponseWriter, r *http.Request) {
	wh.handler.ServeHTTP(w, r)
}

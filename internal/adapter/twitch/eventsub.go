package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Its-donkey/kappopher/helix"
	"github.com/pscheid92/whispercmd/internal/platform/retry"
)

const (
	defaultShardID        = "0"
	retryInitialBackoff   = 1 * time.Second
	retryRateLimitBackoff = 30 * time.Second
	retryMaxBackoff       = time.Minute

	// EventSubTypeWhisper is the subscription type for whispers received by a user.
	EventSubTypeWhisper = "user.whisper.message"
)

// EventSubManager owns the webhook conduit and the single whisper
// subscription routed through it.
type EventSubManager struct {
	client *helix.Client

	callbackURL string
	secret      string

	mu             sync.Mutex
	conduitID      string
	subscriptionID string
}

func NewEventSubManager(client *helix.Client, callbackURL, secret string) *EventSubManager {
	return &EventSubManager{
		client:      client,
		callbackURL: callbackURL,
		secret:      secret,
	}
}

// Setup finds or creates the conduit and points its shard at our webhook.
func (m *EventSubManager) Setup(ctx context.Context) error {
	conduit, err := m.findOrCreateConduit(ctx)
	if err != nil {
		return err
	}

	if err := m.configureShard(ctx, conduit.ID); err != nil {
		conduit, err = m.recreateConduit(ctx, conduit.ID, err)
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.conduitID = conduit.ID
	m.mu.Unlock()

	slog.Info("Conduit configured with webhook shard", "conduit_id", conduit.ID, "callback_url", m.callbackURL)
	return nil
}

// Ready reports whether a conduit is configured.
func (m *EventSubManager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conduitID != ""
}

func (m *EventSubManager) findOrCreateConduit(ctx context.Context) (*helix.Conduit, error) {
	resp, err := m.client.GetConduits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conduits: %w", err)
	}

	if len(resp.Data) > 0 {
		slog.Info("Found existing conduit", "conduit_id", resp.Data[0].ID)
		return &resp.Data[0], nil
	}

	return m.createConduit(ctx)
}

func (m *EventSubManager) createConduit(ctx context.Context) (*helix.Conduit, error) {
	conduit, err := m.client.CreateConduit(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create conduit: %w", err)
	}
	if conduit == nil {
		return nil, errors.New("no conduit returned from Twitch API")
	}

	slog.Info("Created conduit", "conduit_id", conduit.ID, "shard_count", conduit.ShardCount)
	return conduit, nil
}

func (m *EventSubManager) configureShard(ctx context.Context, conduitID string) error {
	shard := helix.UpdateConduitShardParams{
		ID: defaultShardID,
		Transport: helix.UpdateConduitShardTransport{
			Method:   "webhook",
			Callback: m.callbackURL,
			Secret:   m.secret,
		},
	}

	params := helix.UpdateConduitShardsParams{ConduitID: conduitID, Shards: []helix.UpdateConduitShardParams{shard}}
	if _, err := m.client.UpdateConduitShards(ctx, &params); err != nil {
		return fmt.Errorf("failed to update conduit shards: %w", err)
	}
	return nil
}

func (m *EventSubManager) recreateConduit(ctx context.Context, staleID string, shardErr error) (*helix.Conduit, error) {
	slog.Error("Shard configuration failed, recreating conduit", "conduit_id", staleID, "error", shardErr)

	if err := m.client.DeleteConduit(ctx, staleID); err != nil {
		return nil, fmt.Errorf("failed to delete stale conduit: %w", err)
	}

	conduit, err := m.createConduit(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.configureShard(ctx, conduit.ID); err != nil {
		return nil, fmt.Errorf("failed to configure shard on new conduit: %w", err)
	}
	return conduit, nil
}

// Cleanup deletes the conduit, which drops every subscription routed through it.
func (m *EventSubManager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	conduitID := m.conduitID
	m.conduitID = ""
	m.subscriptionID = ""
	m.mu.Unlock()

	if conduitID == "" {
		return nil
	}

	if err := m.client.DeleteConduit(ctx, conduitID); err != nil {
		return fmt.Errorf("failed to delete conduit: %w", err)
	}

	slog.Info("Deleted conduit", "conduit_id", conduitID)
	return nil
}

// Subscribe creates the whisper subscription for userID on the conduit.
// An existing subscription for the same user is adopted.
func (m *EventSubManager) Subscribe(ctx context.Context, userID string) error {
	m.mu.Lock()
	conduitID := m.conduitID
	m.mu.Unlock()

	if conduitID == "" {
		return errors.New("conduit not configured, call Setup first")
	}

	p := getRetryPolicy()
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("EventSub subscribe failed, retrying", "user_id", userID, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	sub, err := retry.Do(ctx, p, classifyEventSubError, func() (*helix.EventSubSubscription, error) {
		return m.attemptSubscribe(ctx, conduitID, userID)
	})
	if err != nil {
		label := "after retries"
		if _, ok := errors.AsType[*retry.PermanentError](err); ok {
			label = "permanent"
		}

		slog.Error("EventSub subscribe failed", "user_id", userID, "cause", label, "error", err)
		return fmt.Errorf("EventSub subscribe failed (%s): %w", label, err)
	}

	m.mu.Lock()
	m.subscriptionID = sub.ID
	m.mu.Unlock()

	slog.Info("Subscribed to whispers", "user_id", userID, "subscription_id", sub.ID)
	return nil
}

func (m *EventSubManager) attemptSubscribe(ctx context.Context, conduitID, userID string) (*helix.EventSubSubscription, error) {
	params := helix.CreateEventSubSubscriptionParams{
		Type:      EventSubTypeWhisper,
		Version:   "1",
		Condition: map[string]string{"user_id": userID},
		Transport: helix.CreateEventSubTransport{
			Method:    "conduit",
			ConduitID: conduitID,
		},
	}

	sub, err := m.client.CreateEventSubSubscription(ctx, &params)
	if err != nil {
		if apiErr, ok := errors.AsType[*helix.APIError](err); ok && apiErr.StatusCode == http.StatusConflict {
			slog.Info("Whisper subscription already exists on Twitch, recovering", "user_id", userID)
			return m.findExistingSubscription(ctx, userID)
		}
		return nil, fmt.Errorf("failed to create EventSub subscription: %w", err)
	}
	if sub == nil {
		return nil, errors.New("no subscription returned from Twitch API")
	}
	return sub, nil
}

func (m *EventSubManager) findExistingSubscription(ctx context.Context, userID string) (*helix.EventSubSubscription, error) {
	params := helix.GetEventSubSubscriptionsParams{Type: EventSubTypeWhisper}

	for {
		resp, err := m.client.GetEventSubSubscriptions(ctx, &params)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions for 409 recovery: %w", err)
		}

		for _, sub := range resp.Data {
			if sub.Condition["user_id"] == userID {
				return &sub, nil
			}
		}

		if resp.Pagination == nil || resp.Pagination.Cursor == "" {
			break
		}
		params.PaginationParams = &helix.PaginationParams{After: resp.Pagination.Cursor}
	}

	return nil, fmt.Errorf("subscription not found on Twitch despite 409 conflict (user_id=%s)", userID)
}

// Unsubscribe deletes the whisper subscription, if any. Failures are logged;
// the subscription disappears with the conduit at Cleanup anyway.
func (m *EventSubManager) Unsubscribe(ctx context.Context) error {
	m.mu.Lock()
	subscriptionID := m.subscriptionID
	m.subscriptionID = ""
	m.mu.Unlock()

	if subscriptionID == "" {
		return nil
	}

	p := getRetryPolicy()
	p.OnRetry = func(attempt int, retryErr error, backoff time.Duration) {
		slog.Warn("EventSub unsubscribe failed, retrying", "subscription_id", subscriptionID, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", retryErr)
	}

	err := retry.DoVoid(ctx, p, classifyEventSubError, func() error {
		return m.client.DeleteEventSubSubscription(ctx, subscriptionID)
	})
	if err != nil {
		slog.Error("EventSub unsubscribe failed, subscription may be orphaned", "subscription_id", subscriptionID, "error", err)
		return fmt.Errorf("failed to delete subscription %s: %w", subscriptionID, err)
	}

	slog.Info("Unsubscribed from whispers", "subscription_id", subscriptionID)
	return nil
}

func classifyEventSubError(err error) retry.Action {
	apiErr, ok := errors.AsType[*helix.APIError](err)
	if !ok {
		return retry.Retry
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case apiErr.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}

func getRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:      3,
		InitialBackoff:   retryInitialBackoff,
		RateLimitBackoff: retryRateLimitBackoff,
		MaxBackoff:       retryMaxBackoff,
	}
}

package twitch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Its-donkey/kappopher/helix"
)

const appTokenTimeout = 15 * time.Second

// NewAppClient returns a Helix client authorized with an app access token.
// Conduits and EventSub subscriptions are managed with this client.
func NewAppClient(clientID, clientSecret string) (*helix.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), appTokenTimeout)
	defer cancel()

	auth := helix.NewAuthClient(helix.AuthConfig{ClientID: clientID, ClientSecret: clientSecret})
	if _, err := auth.GetAppAccessToken(ctx); err != nil {
		return nil, fmt.Errorf("failed to get app access token: %w", err)
	}
	return helix.NewClient(clientID, auth), nil
}

// NewUserClient returns a Helix client acting as the bot account. Sending
// whispers requires a user token with the user:manage:whispers scope.
func NewUserClient(clientID, clientSecret, accessToken string) *helix.Client {
	auth := helix.NewAuthClient(helix.AuthConfig{ClientID: clientID, ClientSecret: clientSecret})
	auth.SetToken(&helix.Token{AccessToken: accessToken, TokenType: "bearer"})
	return helix.NewClient(clientID, auth)
}

// WhisperAPI is the part of Helix the poster depends on.
type WhisperAPI interface {
	LookupUserIDs(ctx context.Context, logins []string) (map[string]string, error)
	SendWhisper(ctx context.Context, fromUserID, toUserID, message string) error
}

type helixWhisperAPI struct {
	client *helix.Client
}

// NewWhisperAPI adapts a user-authorized Helix client for WhisperPoster.
func NewWhisperAPI(client *helix.Client) WhisperAPI {
	return helixWhisperAPI{client: client}
}

// LookupUserIDs maps lower-cased logins to user IDs. Unknown logins are absent.
func (a helixWhisperAPI) LookupUserIDs(ctx context.Context, logins []string) (map[string]string, error) {
	resp, err := a.client.GetUsers(ctx, &helix.GetUsersParams{Logins: logins})
	if err != nil {
		return nil, fmt.Errorf("failed to look up users: %w", err)
	}

	ids := make(map[string]string, len(resp.Data))
	for _, u := range resp.Data {
		ids[strings.ToLower(u.Login)] = u.ID
	}
	return ids, nil
}

func (a helixWhisperAPI) SendWhisper(ctx context.Context, fromUserID, toUserID, message string) error {
	params := helix.SendWhisperParams{FromUserID: fromUserID, ToUserID: toUserID, Message: message}
	if err := a.client.SendWhisper(ctx, &params); err != nil {
		return fmt.Errorf("failed to send whisper: %w", err)
	}
	return nil
}

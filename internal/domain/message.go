package domain

import "time"

// DirectMessage is a private message received by the bot account.
type DirectMessage struct {
	ID         string
	SenderID   string
	SenderName string
	Text       string
	ReceivedAt time.Time
}

// UserEvent is any other notification delivered on the account stream.
// The dispatcher only acknowledges these.
type UserEvent struct {
	Type    string
	Payload []byte
}

// StreamOptions are passed through to the transport untouched.
type StreamOptions map[string]string

// EndpointDirectMessagesNew is the only endpoint outbound messages are posted to.
const EndpointDirectMessagesNew = "direct_messages/new"

// PostParams is the body of an outbound direct message.
type PostParams struct {
	Text       string
	ScreenName string
}

package domain

import "context"

// Transport opens the account's event stream.
type Transport interface {
	Subscribe(ctx context.Context, opts StreamOptions) (Stream, error)
}

// Stream delivers direct messages and other account events in arrival order.
// Both channels are closed when the stream ends.
type Stream interface {
	DirectMessages() <-chan DirectMessage
	UserEvents() <-chan UserEvent
	Close() error
}

// Poster delivers outbound messages.
type Poster interface {
	Post(ctx context.Context, endpoint string, params PostParams) error
}

package twitch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/whispercmd/internal/domain"
)

const (
	defaultStreamBuffer = 64
	unsubscribeTimeout  = 10 * time.Second
)

// StreamOptionUserID overrides the account whose whispers are subscribed to.
const StreamOptionUserID = "user_id"

// ErrStreamClosed is returned when delivering to a stream that was closed.
var ErrStreamClosed = errors.New("stream closed")

// Subscriber creates and removes the upstream whisper subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) error
	Unsubscribe(ctx context.Context) error
}

// WhisperTransport turns EventSub webhook notifications into a
// domain.Stream. Only one stream is open at a time; subscribing again
// closes the previous one.
type WhisperTransport struct {
	subscriber Subscriber
	botUserID  string
	buffer     int

	mu     sync.Mutex
	stream *whisperStream
}

type TransportOption func(*WhisperTransport)

// WithStreamBuffer sets how many undelivered messages a stream holds before
// webhook deliveries start waiting.
func WithStreamBuffer(n int) TransportOption {
	return func(t *WhisperTransport) { t.buffer = n }
}

// NewWhisperTransport returns a transport for botUserID's whispers.
// subscriber may be nil when the subscription is managed elsewhere.
func NewWhisperTransport(subscriber Subscriber, botUserID string, opts ...TransportOption) *WhisperTransport {
	t := &WhisperTransport{
		subscriber: subscriber,
		botUserID:  botUserID,
		buffer:     defaultStreamBuffer,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *WhisperTransport) Subscribe(ctx context.Context, opts domain.StreamOptions) (domain.Stream, error) {
	userID := t.botUserID
	if id := opts[StreamOptionUserID]; id != "" {
		userID = id
	}

	if t.subscriber != nil {
		if err := t.subscriber.Subscribe(ctx, userID); err != nil {
			return nil, err
		}
	}

	s := newWhisperStream(t.buffer, t.unsubscribe)

	t.mu.Lock()
	prev := t.stream
	t.stream = s
	t.mu.Unlock()

	if prev != nil {
		prev.closeChannels()
	}
	return s, nil
}

// Connected reports whether a stream is currently open.
func (t *WhisperTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stream != nil && !t.stream.isClosed()
}

func (t *WhisperTransport) current() *whisperStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stream
}

func (t *WhisperTransport) deliverMessage(ctx context.Context, msg domain.DirectMessage) error {
	s := t.current()
	if s == nil {
		return ErrStreamClosed
	}
	return s.sendMessage(ctx, msg)
}

func (t *WhisperTransport) deliverEvent(ctx context.Context, ev domain.UserEvent) error {
	s := t.current()
	if s == nil {
		return ErrStreamClosed
	}
	return s.sendEvent(ctx, ev)
}

func (t *WhisperTransport) unsubscribe(s *whisperStream) error {
	t.mu.Lock()
	if t.stream == s {
		t.stream = nil
	}
	t.mu.Unlock()

	if t.subscriber == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	return t.subscriber.Unsubscribe(ctx)
}

type whisperStream struct {
	messages chan domain.DirectMessage
	events   chan domain.UserEvent
	onClose  func(*whisperStream) error

	// held for reading while a delivery waits on the channels
	mu     sync.RWMutex
	closed bool
}

func newWhisperStream(buffer int, onClose func(*whisperStream) error) *whisperStream {
	return &whisperStream{
		messages: make(chan domain.DirectMessage, buffer),
		events:   make(chan domain.UserEvent, buffer),
		onClose:  onClose,
	}
}

func (s *whisperStream) DirectMessages() <-chan domain.DirectMessage { return s.messages }
func (s *whisperStream) UserEvents() <-chan domain.UserEvent         { return s.events }

// Close stops deliveries and removes the upstream subscription.
func (s *whisperStream) Close() error {
	if !s.closeChannels() {
		return nil
	}
	return s.onClose(s)
}

// closeChannels reports whether this call did the closing.
func (s *whisperStream) closeChannels() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.messages)
	close(s.events)
	return true
}

func (s *whisperStream) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *whisperStream) sendMessage(ctx context.Context, msg domain.DirectMessage) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStreamClosed
	}

	select {
	case s.messages <- msg:
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Direct message dropped, stream is full", "message_id", msg.ID)
		return ctx.Err()
	}
}

func (s *whisperStream) sendEvent(ctx context.Context, ev domain.UserEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStreamClosed
	}

	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

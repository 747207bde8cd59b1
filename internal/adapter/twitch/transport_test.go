package twitch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pscheid92/whispercmd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	subscribed   []string
	unsubscribed int
	err          error
}

func (s *fakeSubscriber) Subscribe(_ context.Context, userID string) error {
	if s.err != nil {
		return s.err
	}
	s.subscribed = append(s.subscribed, userID)
	return nil
}

func (s *fakeSubscriber) Unsubscribe(context.Context) error {
	s.unsubscribed++
	return nil
}

func TestWhisperTransport_SubscribeUsesBotUserByDefault(t *testing.T) {
	sub := &fakeSubscriber{}
	transport := NewWhisperTransport(sub, testBotUserID)

	stream, err := transport.Subscribe(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, stream)

	assert.Equal(t, []string{testBotUserID}, sub.subscribed)
	assert.True(t, transport.Connected())
}

func TestWhisperTransport_StreamOptionsOverrideUser(t *testing.T) {
	sub := &fakeSubscriber{}
	transport := NewWhisperTransport(sub, testBotUserID)

	_, err := transport.Subscribe(context.Background(), domain.StreamOptions{StreamOptionUserID: "other-account"})
	require.NoError(t, err)

	assert.Equal(t, []string{"other-account"}, sub.subscribed)
}

func TestWhisperTransport_SubscribeError(t *testing.T) {
	transport := NewWhisperTransport(&fakeSubscriber{err: errors.New("helix down")}, testBotUserID)

	stream, err := transport.Subscribe(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, stream)
	assert.False(t, transport.Connected())
}

func TestWhisperTransport_CloseUnsubscribesOnce(t *testing.T) {
	sub := &fakeSubscriber{}
	transport := NewWhisperTransport(sub, testBotUserID)
	stream, err := transport.Subscribe(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	assert.Equal(t, 1, sub.unsubscribed)
	assert.False(t, transport.Connected())

	_, open := <-stream.DirectMessages()
	assert.False(t, open)
	_, open = <-stream.UserEvents()
	assert.False(t, open)
}

func TestWhisperTransport_ResubscribeClosesPreviousStream(t *testing.T) {
	transport := NewWhisperTransport(nil, testBotUserID)

	first, err := transport.Subscribe(context.Background(), nil)
	require.NoError(t, err)
	second, err := transport.Subscribe(context.Background(), nil)
	require.NoError(t, err)

	_, open := <-first.DirectMessages()
	assert.False(t, open)

	require.NoError(t, transport.deliverMessage(context.Background(), domain.DirectMessage{ID: "1"}))
	msg := <-second.DirectMessages()
	assert.Equal(t, "1", msg.ID)
}

func TestWhisperTransport_DeliverWithoutStream(t *testing.T) {
	transport := NewWhisperTransport(nil, testBotUserID)

	err := transport.deliverMessage(context.Background(), domain.DirectMessage{})
	assert.ErrorIs(t, err, ErrStreamClosed)
	err = transport.deliverEvent(context.Background(), domain.UserEvent{})
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestWhisperTransport_FullBufferWaitsForContext(t *testing.T) {
	transport := NewWhisperTransport(nil, testBotUserID, WithStreamBuffer(1))
	_, err := transport.Subscribe(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, transport.deliverMessage(context.Background(), domain.DirectMessage{ID: "1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = transport.deliverMessage(ctx, domain.DirectMessage{ID: "2"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

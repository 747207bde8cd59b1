package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/whispercmd/internal/domain"
)

// MaxMessageLength is the outbound message ceiling, in characters.
const MaxMessageLength = 140

// SendError reports the recipient whose post halted a send chain.
type SendError struct {
	Recipient string
	// Skipped counts the recipients after Recipient that were never posted to.
	Skipped int
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed (%d skipped): %v", e.Recipient, e.Skipped, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// FailureHandler receives the error that halted an asynchronous send chain.
type FailureHandler func(ctx context.Context, err *SendError)

// SendRecorder observes outbound posts.
type SendRecorder interface {
	ObservePost(result string, duration time.Duration)
	ObserveTruncation()
}

type nopSendRecorder struct{}

func (nopSendRecorder) ObservePost(string, time.Duration) {}
func (nopSendRecorder) ObserveTruncation()                {}

func logSendFailure(ctx context.Context, err *SendError) {
	slog.ErrorContext(ctx, "Send chain halted", "recipient", err.Recipient, "skipped", err.Skipped, "error", err.Err)
}

// Messenger posts direct messages, one recipient at a time.
type Messenger struct {
	poster    domain.Poster
	clock     clockwork.Clock
	recorder  SendRecorder
	onFailure FailureHandler
	inflight  sync.WaitGroup
}

type MessengerOption func(*Messenger)

func WithMessengerClock(clock clockwork.Clock) MessengerOption {
	return func(m *Messenger) { m.clock = clock }
}

func WithSendRecorder(r SendRecorder) MessengerOption {
	return func(m *Messenger) { m.recorder = r }
}

// WithFailureHandler replaces the default handler, which logs the failure.
func WithFailureHandler(h FailureHandler) MessengerOption {
	return func(m *Messenger) { m.onFailure = h }
}

func NewMessenger(poster domain.Poster, opts ...MessengerOption) *Messenger {
	m := &Messenger{
		poster:    poster,
		clock:     clockwork.NewRealClock(),
		recorder:  nopSendRecorder{},
		onFailure: logSendFailure,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send truncates message once and posts it to each recipient in order on a
// background goroutine, waiting for each post before starting the next.
//
// onDone runs once after the last recipient succeeds, or immediately when
// there are no recipients. The first failed post halts the chain: later
// recipients are skipped, onDone is not called and the error goes to the
// failure handler. Posts are never retried.
func (m *Messenger) Send(ctx context.Context, message string, onDone func(), recipients ...string) {
	text := m.truncate(message)
	targets := slices.Clone(recipients)

	if len(targets) == 0 {
		if onDone != nil {
			onDone()
		}
		return
	}

	// The chain outlives the inbound message; only the poster's own timeout bounds it.
	ctx = context.WithoutCancel(ctx)

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()

		if err := m.postEach(ctx, text, targets); err != nil {
			m.onFailure(ctx, err)
			return
		}
		if onDone != nil {
			onDone()
		}
	}()
}

// SendSync is Send on the calling goroutine. It returns the error that halted
// the chain, or nil once every recipient has been posted to.
func (m *Messenger) SendSync(ctx context.Context, message string, recipients ...string) error {
	text := m.truncate(message)
	if err := m.postEach(ctx, text, slices.Clone(recipients)); err != nil {
		return err
	}
	return nil
}

// Wait blocks until every asynchronous send chain has finished.
func (m *Messenger) Wait() {
	m.inflight.Wait()
}

func (m *Messenger) postEach(ctx context.Context, text string, recipients []string) *SendError {
	for i, recipient := range recipients {
		start := m.clock.Now()
		err := m.poster.Post(ctx, domain.EndpointDirectMessagesNew, domain.PostParams{
			Text:       text,
			ScreenName: recipient,
		})
		elapsed := m.clock.Since(start)

		if err != nil {
			m.recorder.ObservePost("error", elapsed)
			return &SendError{Recipient: recipient, Skipped: len(recipients) - i - 1, Err: err}
		}
		m.recorder.ObservePost("ok", elapsed)
	}
	return nil
}

func (m *Messenger) truncate(message string) string {
	if utf8.RuneCountInString(message) <= MaxMessageLength {
		return message
	}
	m.recorder.ObserveTruncation()
	return string([]rune(message)[:MaxMessageLength])
}

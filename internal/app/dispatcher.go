package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/whispercmd/internal/access"
	"github.com/pscheid92/whispercmd/internal/domain"
	"github.com/pscheid92/whispercmd/internal/platform/correlation"
)

// Outcome describes what happened to one inbound direct message.
type Outcome int

const (
	OutcomeDispatched     Outcome = iota // handler invoked
	OutcomeEmpty                         // no command token
	OutcomeKeyMismatch                   // shared key missing or wrong
	OutcomeUnknownCommand                // no handler registered under that name
	OutcomeDenied                        // sender not authorized for the command
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeEmpty:
		return "empty"
	case OutcomeKeyMismatch:
		return "key_mismatch"
	case OutcomeUnknownCommand:
		return "unknown_command"
	case OutcomeDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Invocation is what a command handler receives.
type Invocation struct {
	// Caller is the authorized user name, empty for anonymous invocations.
	Caller  string
	Sender  string
	Command string
	Args    []string
}

// Anonymous reports whether the command was allowed through the global set
// rather than a per-user grant.
func (inv Invocation) Anonymous() bool { return inv.Caller == "" }

// ReplyTo is the recipient for responses: the caller, or the raw sender when
// the invocation is anonymous.
func (inv Invocation) ReplyTo() string {
	if inv.Caller != "" {
		return inv.Caller
	}
	return inv.Sender
}

// HandlerFunc runs a command. Errors are logged, never reported to the sender.
type HandlerFunc func(ctx context.Context, inv Invocation) error

// DispatchRecorder observes dispatch outcomes.
type DispatchRecorder interface {
	ObserveDispatch(outcome string, duration time.Duration)
}

type nopDispatchRecorder struct{}

func (nopDispatchRecorder) ObserveDispatch(string, time.Duration) {}

// DispatcherConfig is fixed for the lifetime of a Dispatcher.
type DispatcherConfig struct {
	StreamOptions domain.StreamOptions
	// Key, when set, must be the first token of every command message.
	Key string
	// AllowAll lets senders without a matching per-user grant run commands
	// from the global set (or any command if the global set is empty).
	AllowAll bool
}

// Dispatcher routes direct messages to registered commands. The embedded
// Store exposes the access-control operations directly.
type Dispatcher struct {
	*access.Store

	cfg       DispatcherConfig
	stream    domain.Stream
	messenger *Messenger
	clock     clockwork.Clock
	recorder  DispatchRecorder

	mu       sync.RWMutex
	commands map[string]HandlerFunc
}

type DispatcherOption func(*Dispatcher)

func WithDispatchClock(clock clockwork.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = clock }
}

func WithDispatchRecorder(r DispatchRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

// NewDispatcher subscribes to the transport's direct-message stream and
// registers the default echo command. store may be nil for an empty table.
func NewDispatcher(ctx context.Context, transport domain.Transport, messenger *Messenger, store *access.Store, cfg DispatcherConfig, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		store = access.NewStore()
	}

	d := &Dispatcher{
		Store:     store,
		cfg:       cfg,
		messenger: messenger,
		clock:     clockwork.NewRealClock(),
		recorder:  nopDispatchRecorder{},
		commands:  make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(d)
	}

	stream, err := transport.Subscribe(ctx, cfg.StreamOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to direct messages: %w", err)
	}
	d.stream = stream

	d.RegisterCommand("echo", NewEchoCommand(messenger))
	return d, nil
}

// RegisterCommand adds or replaces the handler for name.
func (d *Dispatcher) RegisterCommand(name string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[name] = handler
}

func (d *Dispatcher) UnregisterCommand(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.commands, name)
}

// Commands returns the registered command names, sorted.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Send delivers message to recipients through the dispatcher's messenger.
func (d *Dispatcher) Send(ctx context.Context, message string, onDone func(), recipients ...string) {
	d.messenger.Send(ctx, message, onDone, recipients...)
}

// Run handles direct messages one at a time in arrival order until ctx is
// cancelled or the stream ends. The stream is closed on return.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer func() {
		if err := d.stream.Close(); err != nil {
			slog.Warn("Failed to close direct message stream", "error", err)
		}
	}()

	messages := d.stream.DirectMessages()
	events := d.stream.UserEvents()

	for messages != nil || events != nil {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			d.HandleMessage(ctx, msg)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			slog.DebugContext(ctx, "User event received", "type", ev.Type)
		}
	}

	slog.Info("Direct message stream ended")
	return nil
}

// HandleMessage parses, authorizes and dispatches a single direct message.
// Anything that does not result in a handler call is dropped without a reply.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg domain.DirectMessage) Outcome {
	ctx = correlation.New(ctx)
	start := d.clock.Now()

	outcome := d.dispatch(ctx, msg)

	d.recorder.ObserveDispatch(outcome.String(), d.clock.Since(start))
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, msg domain.DirectMessage) Outcome {
	name, args, outcome := parseCommand(msg.Text, d.cfg.Key)
	if outcome != OutcomeDispatched {
		slog.DebugContext(ctx, "Direct message discarded", "sender", msg.SenderName, "outcome", outcome.String())
		return outcome
	}

	d.mu.RLock()
	handler, ok := d.commands[name]
	d.mu.RUnlock()
	if !ok {
		slog.DebugContext(ctx, "Direct message discarded", "sender", msg.SenderName, "command", name, "outcome", OutcomeUnknownCommand.String())
		return OutcomeUnknownCommand
	}

	decision := d.Authorize(msg.SenderName, name, d.cfg.AllowAll)
	if !decision.Authorized() {
		slog.DebugContext(ctx, "Direct message discarded", "sender", msg.SenderName, "command", name, "outcome", OutcomeDenied.String())
		return OutcomeDenied
	}

	inv := Invocation{
		Caller:  decision.Caller,
		Sender:  msg.SenderName,
		Command: name,
		Args:    args,
	}

	slog.InfoContext(ctx, "Dispatching command", "sender", msg.SenderName, "command", name, "grant", decision.Grant.String())
	if err := handler(ctx, inv); err != nil {
		slog.ErrorContext(ctx, "Command handler failed", "sender", msg.SenderName, "command", name, "error", err)
	}
	return OutcomeDispatched
}

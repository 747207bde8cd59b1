package app

import (
	"context"
	"strings"

	"github.com/pscheid92/whispercmd/internal/platform/version"
)

// NewEchoCommand replies with the arguments joined by single spaces.
func NewEchoCommand(m *Messenger) HandlerFunc {
	return func(ctx context.Context, inv Invocation) error {
		m.Send(ctx, strings.Join(inv.Args, " "), nil, inv.ReplyTo())
		return nil
	}
}

// NewVersionCommand replies with the running build.
func NewVersionCommand(m *Messenger) HandlerFunc {
	return func(ctx context.Context, inv Invocation) error {
		m.Send(ctx, version.Get().String(), nil, inv.ReplyTo())
		return nil
	}
}

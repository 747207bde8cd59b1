package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// ACLChangeSubscriber reloads the access-control table when another process
// saves a new snapshot to the same key.
type ACLChangeSubscriber struct {
	rdb      *goredis.Client
	channel  string
	sourceID string
	reload   func(ctx context.Context) error
}

// NewACLChangeSubscriber listens on repo's change channel and calls reload for
// every save not tagged with sourceID.
func NewACLChangeSubscriber(rdb *goredis.Client, repo *ACLRepo, sourceID string, reload func(ctx context.Context) error) *ACLChangeSubscriber {
	return &ACLChangeSubscriber{rdb: rdb, channel: repo.ChangesChannel(), sourceID: sourceID, reload: reload}
}

// Start blocks until ctx is cancelled or the subscription channel closes.
func (s *ACLChangeSubscriber) Start(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			s.handleChange(ctx, msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *ACLChangeSubscriber) handleChange(ctx context.Context, source string) {
	if source == s.sourceID {
		return
	}

	if err := s.reload(ctx); err != nil {
		slog.Warn("Failed to reload access-control snapshot after remote change", "source", source, "error", err)
		return
	}
	slog.Info("Access-control snapshot reloaded after remote change", "source", source)
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pscheid92/whispercmd/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultACLKey     = "whispercmd:acl"
	changesChannelSfx = ":changed"
)

// ACLRepo stores the access-control snapshot as one JSON document and
// announces every save on the key's own pub/sub channel.
type ACLRepo struct {
	rdb      *goredis.Client
	key      string
	sourceID string
}

var _ domain.ACLRepository = (*ACLRepo)(nil)

// NewACLRepo stores under key, or a default key when empty. sourceID tags
// change announcements so a process can ignore its own saves.
func NewACLRepo(rdb *goredis.Client, key, sourceID string) *ACLRepo {
	if key == "" {
		key = defaultACLKey
	}
	return &ACLRepo{rdb: rdb, key: key, sourceID: sourceID}
}

// ChangesChannel is where saves to this repo's key are announced.
func (r *ACLRepo) ChangesChannel() string {
	return r.key + changesChannelSfx
}

func (r *ACLRepo) Load(ctx context.Context) (domain.ACLSnapshot, error) {
	raw, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.ACLSnapshot{}, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return domain.ACLSnapshot{}, fmt.Errorf("failed to read acl snapshot: %w", err)
	}

	var snap domain.ACLSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.ACLSnapshot{}, fmt.Errorf("failed to decode acl snapshot: %w", err)
	}
	return snap, nil
}

// Save writes snap and publishes the repo's source ID on the change channel.
func (r *ACLRepo) Save(ctx context.Context, snap domain.ACLSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode acl snapshot: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.key, raw, 0)
	pipe.Publish(ctx, r.ChangesChannel(), r.sourceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save acl snapshot: %w", err)
	}
	return nil
}

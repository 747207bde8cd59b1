package domain

import "context"

// ACLUser is the persisted form of a known sender and its command whitelist.
type ACLUser struct {
	Name     string   `json:"name"`
	Commands []string `json:"commands"`
}

// ACLSnapshot is a point-in-time copy of the access-control tables.
type ACLSnapshot struct {
	Users          []ACLUser `json:"users"`
	GlobalCommands []string  `json:"global_commands"`
}

// ACLRepository persists access-control snapshots on behalf of the host process.
// Load returns ErrSnapshotNotFound when nothing has been saved yet.
type ACLRepository interface {
	Load(ctx context.Context) (ACLSnapshot, error)
	Save(ctx context.Context, snapshot ACLSnapshot) error
}

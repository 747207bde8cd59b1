package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pscheid92/whispercmd/internal/access"
	"github.com/pscheid92/whispercmd/internal/domain"
)

// ACLService applies admin changes to the access-control store and saves a
// snapshot after every change that modified it. repo may be nil, in which
// case the table lives only in memory.
type ACLService struct {
	store *access.Store
	repo  domain.ACLRepository

	// serializes mutate+save so snapshots are written in mutation order
	mu sync.Mutex
}

func NewACLService(store *access.Store, repo domain.ACLRepository) *ACLService {
	return &ACLService{store: store, repo: repo}
}

// Load restores the last saved snapshot. A missing snapshot is not an error.
// It is also used to pick up changes saved by other processes.
func (s *ACLService) Load(ctx context.Context) error {
	_, err := s.load(ctx)
	return err
}

// LoadOrBootstrap restores the saved snapshot, or seeds the table from users
// and global when nothing has been saved yet. A saved snapshot always wins so
// that removals and revocations made through the admin API survive restarts.
func (s *ACLService) LoadOrBootstrap(ctx context.Context, users []access.UserSpec, global []string) error {
	restored, err := s.load(ctx)
	if err != nil {
		return err
	}
	if restored {
		if len(users) > 0 || len(global) > 0 {
			slog.Info("Saved access-control snapshot found, ignoring configured bootstrap lists")
		}
		return nil
	}
	return s.Bootstrap(ctx, users, global)
}

func (s *ACLService) load(ctx context.Context) (bool, error) {
	if s.repo == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.repo.Load(ctx)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		slog.Info("No saved access-control snapshot, starting empty")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load acl snapshot: %w", err)
	}

	if err := s.store.Restore(snap); err != nil {
		return false, fmt.Errorf("failed to restore acl snapshot: %w", err)
	}

	slog.Info("Restored access-control snapshot", "users", len(snap.Users), "global_commands", len(snap.GlobalCommands))
	return true, nil
}

// Bootstrap registers configured users and global commands that are not yet
// known. Existing users keep their saved whitelist.
func (s *ACLService) Bootstrap(ctx context.Context, users []access.UserSpec, global []string) error {
	for _, u := range users {
		if _, err := s.AddUser(ctx, u); err != nil {
			return fmt.Errorf("failed to bootstrap user %q: %w", u.Name, err)
		}
	}
	if len(global) == 0 {
		return nil
	}
	if err := s.GrantGlobalCommands(ctx, global...); err != nil {
		return fmt.Errorf("failed to bootstrap global commands: %w", err)
	}
	return nil
}

func (s *ACLService) Usernames() []string {
	return s.store.Usernames()
}

// GetUser returns domain.ErrUserNotFound when name is unknown.
func (s *ACLService) GetUser(name string) (access.User, error) {
	u, ok, err := s.store.GetUser(name)
	if err != nil {
		return access.User{}, err
	}
	if !ok {
		return access.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *ACLService) GlobalCommands() []string {
	return s.store.GlobalCommands()
}

// AddUser reports false if the name was already registered.
func (s *ACLService) AddUser(ctx context.Context, spec access.UserSpec) (bool, error) {
	return s.mutate(ctx, func() (bool, error) { return s.store.AddUserSpec(spec) })
}

func (s *ACLService) RemoveUser(ctx context.Context, name string) (bool, error) {
	return s.mutate(ctx, func() (bool, error) { return s.store.RemoveUser(name) })
}

func (s *ACLService) GrantUserCommands(ctx context.Context, name string, commands ...string) (bool, error) {
	return s.mutate(ctx, func() (bool, error) { return s.store.GrantUserCommands(name, commands...) })
}

func (s *ACLService) RevokeUserCommands(ctx context.Context, name string, commands ...string) (bool, error) {
	return s.mutate(ctx, func() (bool, error) { return s.store.RevokeUserCommands(name, commands...) })
}

func (s *ACLService) GrantGlobalCommands(ctx context.Context, commands ...string) error {
	_, err := s.mutate(ctx, func() (bool, error) { return true, s.store.GrantGlobalCommands(commands...) })
	return err
}

func (s *ACLService) RevokeGlobalCommands(ctx context.Context, commands ...string) error {
	_, err := s.mutate(ctx, func() (bool, error) { return true, s.store.RevokeGlobalCommands(commands...) })
	return err
}

// mutate applies op and saves the result. A failed save rolls the store back
// so the live table never differs from what the caller was told.
func (s *ACLService) mutate(ctx context.Context, op func() (bool, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var before domain.ACLSnapshot
	if s.repo != nil {
		before = s.store.Snapshot()
	}

	changed, err := op()
	if err != nil || !changed {
		return changed, err
	}

	if s.repo == nil {
		return true, nil
	}
	if err := s.repo.Save(ctx, s.store.Snapshot()); err != nil {
		if rbErr := s.store.Restore(before); rbErr != nil {
			slog.ErrorContext(ctx, "Failed to roll back access-control change", "error", rbErr)
		}
		return false, fmt.Errorf("failed to save acl snapshot, change discarded: %w", err)
	}
	return true, nil
}

// ParseUserSpecs parses "alice,bob:echo|status" into user specs. A name with
// no ":" part gets an empty (unrestricted) whitelist.
func ParseUserSpecs(s string) ([]access.UserSpec, error) {
	var specs []access.UserSpec
	for entry := range strings.SplitSeq(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, cmds, _ := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: user entry %q has no name", domain.ErrValidation, entry)
		}

		spec := access.UserSpec{Name: name}
		for c := range strings.SplitSeq(cmds, "|") {
			if c = strings.TrimSpace(c); c != "" {
				spec.Commands = append(spec.Commands, c)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ParseCommandList parses a comma-separated command list.
func ParseCommandList(s string) []string {
	var out []string
	for c := range strings.SplitSeq(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

package access

import (
	"fmt"

	"github.com/pscheid92/whispercmd/internal/domain"
)

// Snapshot returns a deep copy of the store contents.
func (s *Store) Snapshot() domain.ACLSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.ACLUser, 0, len(s.order))
	for _, name := range s.order {
		u := s.users[name]
		users = append(users, domain.ACLUser{Name: u.Name, Commands: cloneList(u.Commands)})
	}

	return domain.ACLSnapshot{
		Users:          users,
		GlobalCommands: cloneList(s.global),
	}
}

// Restore replaces the store contents with snap. The store is left unchanged
// if snap contains an invalid or duplicate user.
func (s *Store) Restore(snap domain.ACLSnapshot) error {
	users := make(map[string]*User, len(snap.Users))
	order := make([]string, 0, len(snap.Users))

	for _, u := range snap.Users {
		if err := validateName(u.Name); err != nil {
			return err
		}
		if err := validateCommands(u.Commands); err != nil {
			return fmt.Errorf("user %q: %w", u.Name, err)
		}
		if _, dup := users[u.Name]; dup {
			return fmt.Errorf("%w: duplicate user %q", domain.ErrValidation, u.Name)
		}
		users[u.Name] = &User{Name: u.Name, Commands: cloneList(u.Commands)}
		order = append(order, u.Name)
	}
	if err := validateCommands(snap.GlobalCommands); err != nil {
		return fmt.Errorf("global commands: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
	s.order = order
	s.global = cloneList(snap.GlobalCommands)
	return nil
}

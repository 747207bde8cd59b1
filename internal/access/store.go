package access

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pscheid92/whispercmd/internal/domain"
)

// User is a known sender. An empty Commands list means the user may invoke any
// registered command; a non-empty list is a whitelist.
type User struct {
	Name     string
	Commands []string
}

// UserSpec describes a user to register with an optional initial whitelist.
type UserSpec struct {
	Name     string
	Commands []string
}

// Store is the in-memory access-control table: known users in registration
// order plus the set of commands open to any sender.
type Store struct {
	mu     sync.RWMutex
	users  map[string]*User
	order  []string
	global []string
}

func NewStore() *Store {
	return &Store{users: make(map[string]*User)}
}

// AddUser registers name with an empty (unrestricted) command list.
// It returns false without touching the existing entry if name is taken.
func (s *Store) AddUser(name string) (bool, error) {
	return s.AddUserSpec(UserSpec{Name: name})
}

// AddUserSpec registers spec.Name with a copy of spec.Commands.
func (s *Store) AddUserSpec(spec UserSpec) (bool, error) {
	if err := validateName(spec.Name); err != nil {
		return false, err
	}
	if err := validateCommands(spec.Commands); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[spec.Name]; ok {
		return false, nil
	}

	s.users[spec.Name] = &User{Name: spec.Name, Commands: cloneList(spec.Commands)}
	s.order = append(s.order, spec.Name)
	return true, nil
}

// RemoveUser reports whether a user was removed.
func (s *Store) RemoveUser(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[name]; !ok {
		return false, nil
	}
	delete(s.users, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true, nil
}

// GetUser returns a copy of the named user. The bool is false when not found.
func (s *Store) GetUser(name string) (User, bool, error) {
	if err := validateName(name); err != nil {
		return User{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[name]
	if !ok {
		return User{}, false, nil
	}
	return User{Name: u.Name, Commands: cloneList(u.Commands)}, true, nil
}

// Usernames returns all user names in registration order.
func (s *Store) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneList(s.order)
}

// GrantUserCommands adds commands to the user's whitelist. Commands not yet
// present are placed first, in request order, followed by the prior list.
// It returns false if the user is not found.
func (s *Store) GrantUserCommands(name string, commands ...string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	if err := validateCommands(commands); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[name]
	if !ok {
		return false, nil
	}
	u.Commands = prependMissing(u.Commands, commands)
	return true, nil
}

// RevokeUserCommands removes commands from the user's whitelist, keeping the
// relative order of the rest. It returns false if the user is not found.
func (s *Store) RevokeUserCommands(name string, commands ...string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	if err := validateCommands(commands); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[name]
	if !ok {
		return false, nil
	}
	u.Commands = removeAll(u.Commands, commands)
	return true, nil
}

// GrantGlobalCommands opens commands to any sender when allow-all is enabled.
func (s *Store) GrantGlobalCommands(commands ...string) error {
	if err := validateCommands(commands); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = prependMissing(s.global, commands)
	return nil
}

func (s *Store) RevokeGlobalCommands(commands ...string) error {
	if err := validateCommands(commands); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = removeAll(s.global, commands)
	return nil
}

func (s *Store) GlobalCommands() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneList(s.global)
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: user name is required", domain.ErrValidation)
	}
	return nil
}

func validateCommands(commands []string) error {
	for i, c := range commands {
		if c == "" {
			return fmt.Errorf("%w: command name at index %d is empty", domain.ErrValidation, i)
		}
	}
	return nil
}

func prependMissing(existing, requested []string) []string {
	added := make([]string, 0, len(requested))
	for _, c := range requested {
		if slices.Contains(existing, c) || slices.Contains(added, c) {
			continue
		}
		added = append(added, c)
	}
	return append(added, existing...)
}

func removeAll(existing, revoked []string) []string {
	kept := make([]string, 0, len(existing))
	for _, c := range existing {
		if !slices.Contains(revoked, c) {
			kept = append(kept, c)
		}
	}
	return kept
}

func cloneList(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

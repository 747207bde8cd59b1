package access

import "slices"

// Grant records why a command invocation was or wasn't allowed.
type Grant int

const (
	Denied        Grant = iota // no rule matched
	GrantedUser                // known sender, command on (or no) whitelist
	GrantedGlobal              // any sender, allow-all and global set match
)

func (g Grant) String() string {
	switch g {
	case Denied:
		return "denied"
	case GrantedUser:
		return "user"
	case GrantedGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating one sender/command pair.
type Decision struct {
	Grant  Grant
	Caller string // set only for GrantedUser
}

func (d Decision) Authorized() bool { return d.Grant != Denied }

// Anonymous reports whether the command runs without a caller identity.
func (d Decision) Anonymous() bool { return d.Grant == GrantedGlobal }

// Authorize decides whether sender may invoke command.
//
// A known sender whose whitelist is empty or contains command runs as itself.
// Otherwise, with allowAll set, the command runs anonymously if the global set
// is empty or contains it. Everything else is denied.
func (s *Store) Authorize(sender, command string, allowAll bool) Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[sender]; ok && (len(u.Commands) == 0 || slices.Contains(u.Commands, command)) {
		return Decision{Grant: GrantedUser, Caller: sender}
	}

	if allowAll && (len(s.global) == 0 || slices.Contains(s.global, command)) {
		return Decision{Grant: GrantedGlobal}
	}

	return Decision{Grant: Denied}
}

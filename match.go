package dbus

import (
	"fmt"
	"strings"

	"github.com/creachadair/mds/value"
)

// Match describes a filter for incoming SIGNAL messages, expressed as
// the same sender/interface/member/path tuple that the message bus's
// AddMatch/RemoveMatch methods accept.
type Match struct {
	sender       value.Maybe[string]
	iface        value.Maybe[string]
	member       value.Maybe[string]
	path         value.Maybe[string]
	pathNS       value.Maybe[string]
	destination  value.Maybe[string]
}

// NewMatch returns a Match that matches all signals.
func NewMatch() Match { return Match{} }

// Sender restricts the match to signals from the given unique or
// well-known bus name.
func (m Match) Sender(name string) Match { m.sender = value.Just(name); return m }

// Interface restricts the match to the given interface.
func (m Match) Interface(iface string) Match { m.iface = value.Just(iface); return m }

// Member restricts the match to the given signal name.
func (m Match) Member(member string) Match { m.member = value.Just(member); return m }

// Path restricts the match to signals emitted from exactly the given
// object path.
func (m Match) Path(path string) Match { m.path = value.Just(path); return m }

// PathNamespace restricts the match to signals emitted from path or
// any of its descendants.
func (m Match) PathNamespace(path string) Match { m.pathNS = value.Just(path); return m }

// Destination restricts the match to signals addressed to the given
// unique bus name.
func (m Match) Destination(name string) Match { m.destination = value.Just(name); return m }

// key returns the canonical AddMatch rule string for m, used both as
// the wire filter and as the refcounting table key: two Matches that
// produce the same key are the same subscription as far as the bus
// daemon is concerned.
func (m Match) key() string {
	parts := []string{"type='signal'"}
	add := func(k, v string) {
		parts = append(parts, fmt.Sprintf("%s='%s'", k, escapeMatchArg(v)))
	}
	if s, ok := m.sender.GetOK(); ok {
		add("sender", s)
	}
	if i, ok := m.iface.GetOK(); ok {
		add("interface", i)
	}
	if mb, ok := m.member.GetOK(); ok {
		add("member", mb)
	}
	if p, ok := m.path.GetOK(); ok {
		add("path", p)
	}
	if p, ok := m.pathNS.GetOK(); ok {
		add("path_namespace", p)
	}
	if d, ok := m.destination.GetOK(); ok {
		add("destination", d)
	}
	return strings.Join(parts, ",")
}

func escapeMatchArg(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// matches reports whether msg, a received SIGNAL message, satisfies
// m's filter. This is separate from the AddMatch rule sent to the bus
// daemon: a single connection's stream of signals is the union of all
// active subscriptions, so each handler re-filters locally.
func (m Match) matches(msg *Message) bool {
	if msg.Type != TypeSignal {
		return false
	}
	if s, ok := m.sender.GetOK(); ok && msg.Sender != s {
		return false
	}
	if i, ok := m.iface.GetOK(); ok && msg.Interface != i {
		return false
	}
	if mb, ok := m.member.GetOK(); ok && msg.Member != mb {
		return false
	}
	if p, ok := m.path.GetOK(); ok && msg.Path != p {
		return false
	}
	if p, ok := m.pathNS.GetOK(); ok && msg.Path != p && !strings.HasPrefix(msg.Path, p+"/") {
		return false
	}
	if d, ok := m.destination.GetOK(); ok && msg.Destination != d {
		return false
	}
	return true
}

// matchEntry is one row of the bus's signal-match table: a refcounted
// AddMatch subscription, fanning out to every handler currently
// registered against the same rule key.
type matchEntry struct {
	match    Match
	refcount int
	handlers map[int]func(*Message)
	nextID   int
}

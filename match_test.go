package dbus

import "testing"

func TestMatchKeyCanonical(t *testing.T) {
	m := NewMatch().Interface("com.example").Member("Ping")
	got := m.key()
	want := "type='signal',interface='com.example',member='Ping'"
	if got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestMatchKeyEscapesQuotes(t *testing.T) {
	m := NewMatch().Member("it's")
	got := m.key()
	want := `type='signal',member='it'\''s'`
	if got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestMatchMatches(t *testing.T) {
	m := NewMatch().Interface("com.example").Member("Ping").Path("/a")

	match := &Message{Type: TypeSignal, Interface: "com.example", Member: "Ping", Path: "/a"}
	if !m.matches(match) {
		t.Error("expected match")
	}

	wrongMember := &Message{Type: TypeSignal, Interface: "com.example", Member: "Pong", Path: "/a"}
	if m.matches(wrongMember) {
		t.Error("expected no match on member mismatch")
	}

	notSignal := &Message{Type: TypeMethodCall, Interface: "com.example", Member: "Ping", Path: "/a"}
	if m.matches(notSignal) {
		t.Error("non-signal messages should never match")
	}
}

func TestMatchPathNamespace(t *testing.T) {
	m := NewMatch().PathNamespace("/a/b")

	exact := &Message{Type: TypeSignal, Path: "/a/b"}
	if !m.matches(exact) {
		t.Error("path_namespace should match the namespace root itself")
	}

	child := &Message{Type: TypeSignal, Path: "/a/b/c"}
	if !m.matches(child) {
		t.Error("path_namespace should match descendants")
	}

	sibling := &Message{Type: TypeSignal, Path: "/a/bc"}
	if m.matches(sibling) {
		t.Error("path_namespace should not match a sibling with a shared prefix")
	}
}

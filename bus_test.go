package dbus

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"

	"github.com/vesperbus/dbus/auth"
	"github.com/vesperbus/dbus/fragments"
)

// fakePeerTransport adapts a net.Conn to transport.Transport for tests
// that need a bus connected to a scripted peer, without carrying file
// descriptors.
type fakePeerTransport struct {
	net.Conn
}

func (fakePeerTransport) GetFiles(n int) ([]*os.File, error) {
	if n != 0 {
		panic("fakePeerTransport cannot carry file descriptors")
	}
	return nil, nil
}

func (f fakePeerTransport) WriteWithFiles(bs []byte, fds []*os.File) (int, error) {
	if len(fds) != 0 {
		panic("fakePeerTransport cannot carry file descriptors")
	}
	return f.Write(bs)
}

// scriptedPeer answers Hello once and counts AddMatch/RemoveMatch
// calls by rule string, to exercise the bus's refcounted match
// coalescing without depending on the dbustest package (which itself
// depends on this one).
type scriptedPeer struct {
	conn net.Conn

	mu          sync.Mutex
	addMatches  map[string]int
	removeMatches map[string]int
}

func newScriptedPeer() (*MessageBus, *scriptedPeer, error) {
	clientConn, serverConn := net.Pipe()
	p := &scriptedPeer{
		conn:          serverConn,
		addMatches:    map[string]int{},
		removeMatches: map[string]int{},
	}
	go p.serve()

	ctx := context.Background()
	br := bufio.NewReader(clientConn)
	if _, err := auth.Handshake(br, clientConn, auth.Options{}, auth.External{}); err != nil {
		return nil, nil, err
	}
	bus, err := NewMessageBusFromTransport(ctx, fakePeerTransport{readAheadConn{clientConn, br}})
	if err != nil {
		return nil, nil, err
	}
	return bus, p, nil
}

func (p *scriptedPeer) serve() {
	buf := bufio.NewReader(p.conn)
	// Minimal server side of the SASL handshake: accept unconditionally.
	buf.ReadByte()
	buf.ReadString('\n')
	p.conn.Write([]byte("OK 0123456789abcdef0123456789abcdef\r\n"))
	buf.ReadString('\n')

	for {
		msg, err := Unmarshal(readAheadConn{p.conn, buf})
		if err != nil {
			return
		}
		p.handle(msg)
	}
}

type readAheadConn struct {
	net.Conn
	buf *bufio.Reader
}

func (r readAheadConn) Read(bs []byte) (int, error) { return r.buf.Read(bs) }

func (p *scriptedPeer) write(msg *Message) {
	bs, err := Marshal(fragments.LittleEndian, msg)
	if err != nil {
		return
	}
	p.conn.Write(bs)
}

func (p *scriptedPeer) handle(msg *Message) {
	if msg.Type != TypeMethodCall {
		return
	}
	reply := &Message{Type: TypeMethodReturn, ReplySerial: msg.Serial}
	switch msg.Member {
	case "Hello":
		reply.Signature = mustParseSignature("s")
		reply.Body = []Value{Str(":1.1")}
	case "AddMatch":
		p.mu.Lock()
		p.addMatches[msg.Body[0].Str()]++
		p.mu.Unlock()
	case "RemoveMatch":
		p.mu.Lock()
		p.removeMatches[msg.Body[0].Str()]++
		p.mu.Unlock()
	default:
		return
	}
	p.write(reply)
}

func TestWrapAuthErrPromotesAuthPackageError(t *testing.T) {
	inner := &auth.Error{Reason: "REJECTED"}
	got := wrapAuthErr(inner)

	var dbusAuthErr *AuthError
	if !errors.As(got, &dbusAuthErr) {
		t.Fatalf("wrapAuthErr(%v) = %v, want *AuthError", inner, got)
	}
	if dbusAuthErr.Reason != "REJECTED" {
		t.Errorf("AuthError.Reason = %q, want %q", dbusAuthErr.Reason, "REJECTED")
	}
}

func TestWrapAuthErrPassesThroughOtherErrors(t *testing.T) {
	inner := net.ErrClosed
	if got := wrapAuthErr(inner); got != inner {
		t.Errorf("wrapAuthErr(%v) = %v, want unchanged", inner, got)
	}
}

func TestAddMatchRefcounting(t *testing.T) {
	bus, peer, err := newScriptedPeer()
	if err != nil {
		t.Fatalf("connecting scripted peer: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	m := NewMatch().Interface("com.example").Member("Ping")

	unsub1, err := bus.AddMatch(ctx, m, func(*Message) {})
	if err != nil {
		t.Fatalf("AddMatch #1: %v", err)
	}
	unsub2, err := bus.AddMatch(ctx, m, func(*Message) {})
	if err != nil {
		t.Fatalf("AddMatch #2: %v", err)
	}

	key := m.key()
	peer.mu.Lock()
	gotAdds := peer.addMatches[key]
	peer.mu.Unlock()
	if gotAdds != 1 {
		t.Errorf("daemon saw %d AddMatch calls for the shared rule, want 1", gotAdds)
	}

	unsub1()
	peer.mu.Lock()
	gotRemoves := peer.removeMatches[key]
	peer.mu.Unlock()
	if gotRemoves != 0 {
		t.Errorf("daemon saw a RemoveMatch before the last handler unsubscribed: %d", gotRemoves)
	}

	unsub2()
	peer.mu.Lock()
	gotRemoves = peer.removeMatches[key]
	peer.mu.Unlock()
	if gotRemoves != 1 {
		t.Errorf("daemon saw %d RemoveMatch calls after the last unsubscribe, want 1", gotRemoves)
	}
}

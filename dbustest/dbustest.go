// Package dbustest provides an in-process fake message bus for
// testing code that talks to a MessageBus, without depending on a
// real dbus-daemon being installed.
package dbustest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/vesperbus/dbus"
	"github.com/vesperbus/dbus/fragments"
	"github.com/vesperbus/dbus/transport"
)

// Server is a minimal in-memory stand-in for a DBus daemon: it
// assigns unique names, answers org.freedesktop.DBus method calls,
// and relays signals to connections with a matching AddMatch rule.
// It does not implement the SASL handshake's credential checks; every
// connection is accepted.
type Server struct {
	mu        sync.Mutex
	nextID    int
	conns     map[string]*serverConn
	nameOwner map[string]string
}

// NewServer returns a ready-to-use fake bus.
func NewServer() *Server {
	return &Server{
		conns:     map[string]*serverConn{},
		nameOwner: map[string]string{},
	}
}

// Dial connects a new client MessageBus to the fake bus.
func (s *Server) Dial(ctx context.Context) (*dbus.MessageBus, error) {
	clientConn, serverSide := net.Pipe()

	s.mu.Lock()
	s.nextID++
	uniqueName := fmt.Sprintf(":1.%d", s.nextID)
	s.mu.Unlock()

	sc := &serverConn{
		server:  s,
		name:    uniqueName,
		conn:    serverSide,
		buf:     bufio.NewReader(serverSide),
		matches: mapset.New[string](),
	}

	handshakeErr := make(chan error, 1)
	go func() { handshakeErr <- sc.serverHandshake() }()

	t, err := clientHandshake(clientConn)
	if err != nil {
		serverSide.Close()
		clientConn.Close()
		return nil, err
	}
	if err := <-handshakeErr; err != nil {
		serverSide.Close()
		clientConn.Close()
		return nil, err
	}

	s.mu.Lock()
	s.conns[uniqueName] = sc
	s.mu.Unlock()

	go sc.serve()

	return dbus.NewMessageBusFromTransport(ctx, t)
}

// pipeTransport adapts a net.Conn to transport.Transport. It never
// carries unix file descriptors.
type pipeTransport struct {
	net.Conn
}

func (pipeTransport) GetFiles(n int) ([]*os.File, error) {
	if n == 0 {
		return nil, nil
	}
	return nil, errors.New("dbustest transport cannot carry file descriptors")
}

func (p pipeTransport) WriteWithFiles(bs []byte, fds []*os.File) (int, error) {
	if len(fds) != 0 {
		return 0, errors.New("dbustest transport cannot carry file descriptors")
	}
	return p.Write(bs)
}

// clientHandshake performs the minimal client side of the fake SASL
// exchange: the server always accepts, so there is no mechanism
// negotiation to do beyond speaking the expected lines.
func clientHandshake(conn net.Conn) (transport.Transport, error) {
	buf := bufio.NewReader(conn)
	if _, err := conn.Write([]byte{0}); err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte("AUTH EXTERNAL\r\n")); err != nil {
		return nil, err
	}
	if _, err := buf.ReadString('\n'); err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte("BEGIN\r\n")); err != nil {
		return nil, err
	}
	return pipeTransport{readAheadConn{conn, buf}}, nil
}

// readAheadConn folds a bufio.Reader's already-buffered bytes back
// into a net.Conn's Read method, so bytes read during the handshake
// aren't stranded.
type readAheadConn struct {
	net.Conn
	buf *bufio.Reader
}

func (r readAheadConn) Read(bs []byte) (int, error) { return r.buf.Read(bs) }

type serverConn struct {
	server *Server
	name   string
	conn   net.Conn
	buf    *bufio.Reader

	mu      sync.Mutex
	matches mapset.Set[string]
}

func (sc *serverConn) serverHandshake() error {
	if _, err := sc.buf.ReadByte(); err != nil { // leading NUL
		return err
	}
	if _, err := sc.buf.ReadString('\n'); err != nil { // AUTH line
		return err
	}
	if _, err := sc.conn.Write([]byte("OK 0123456789abcdef0123456789abcdef\r\n")); err != nil {
		return err
	}
	if _, err := sc.buf.ReadString('\n'); err != nil { // BEGIN
		return err
	}
	return nil
}

func (sc *serverConn) serve() {
	defer sc.close()
	for {
		msg, err := dbus.Unmarshal(readAheadConn{sc.conn, sc.buf})
		if err != nil {
			return
		}
		sc.handle(msg)
	}
}

func (sc *serverConn) close() {
	sc.server.mu.Lock()
	delete(sc.server.conns, sc.name)
	for name, owner := range sc.server.nameOwner {
		if owner == sc.name {
			delete(sc.server.nameOwner, name)
		}
	}
	sc.server.mu.Unlock()
	sc.conn.Close()
}

func (sc *serverConn) write(msg *dbus.Message) {
	bs, err := dbus.Marshal(fragments.LittleEndian, msg)
	if err != nil {
		return
	}
	sc.conn.Write(bs)
}

func (sc *serverConn) handle(msg *dbus.Message) {
	msg.Sender = sc.name
	if msg.Type == dbus.TypeSignal {
		sc.server.relay(msg)
		return
	}
	if msg.Type != dbus.TypeMethodCall {
		// Method returns and errors go back to the caller named in
		// their destination.
		sc.server.route(msg)
		return
	}
	if msg.Interface != "" && msg.Interface != "org.freedesktop.DBus" {
		// Routed call to another peer: only supported between two
		// fake-bus clients.
		sc.server.route(msg)
		return
	}

	reply := &dbus.Message{ReplySerial: msg.Serial, Destination: sc.name}
	switch msg.Member {
	case "Hello":
		reply.Type = dbus.TypeMethodReturn
		reply.Signature = mustSig("s")
		reply.Body = []dbus.Value{dbus.Str(sc.name)}
	case "AddMatch":
		sc.mu.Lock()
		sc.matches.Add(msg.Body[0].Str())
		sc.mu.Unlock()
		reply.Type = dbus.TypeMethodReturn
	case "RemoveMatch":
		sc.mu.Lock()
		sc.matches.Remove(msg.Body[0].Str())
		sc.mu.Unlock()
		reply.Type = dbus.TypeMethodReturn
	case "RequestName":
		name := msg.Body[0].Str()
		sc.server.mu.Lock()
		sc.server.nameOwner[name] = sc.name
		sc.server.mu.Unlock()
		reply.Type = dbus.TypeMethodReturn
		reply.Signature = mustSig("u")
		reply.Body = []dbus.Value{dbus.Uint32(1)} // DBUS_REQUEST_NAME_REPLY_PRIMARY_OWNER
	case "ReleaseName":
		name := msg.Body[0].Str()
		sc.server.mu.Lock()
		delete(sc.server.nameOwner, name)
		sc.server.mu.Unlock()
		reply.Type = dbus.TypeMethodReturn
		reply.Signature = mustSig("u")
		reply.Body = []dbus.Value{dbus.Uint32(1)}
	case "ListNames":
		sc.server.mu.Lock()
		names := []dbus.Value{}
		for n := range sc.server.conns {
			names = append(names, dbus.Str(n))
		}
		sc.server.mu.Unlock()
		reply.Type = dbus.TypeMethodReturn
		reply.Signature = mustSig("as")
		reply.Body = []dbus.Value{dbus.Arr(dbus.BasicType(dbus.KindString), names)}
	case "NameHasOwner":
		sc.server.mu.Lock()
		_, ok := sc.server.nameOwner[msg.Body[0].Str()]
		sc.server.mu.Unlock()
		reply.Type = dbus.TypeMethodReturn
		reply.Signature = mustSig("b")
		reply.Body = []dbus.Value{dbus.Bool(ok)}
	default:
		reply.Type = dbus.TypeError
		reply.ErrorName = dbus.ErrUnknownMethod
	}

	if msg.Flags&dbus.FlagNoReplyExpected == 0 {
		sc.write(reply)
	}
}

// relay fans a signal out to every connection with at least one
// registered match. Filtering by rule content is deliberately loose:
// the fake bus is for exercising client dispatch logic, not for
// validating match-rule syntax.
func (s *Server) relay(msg *dbus.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.mu.Lock()
		hasMatch := len(c.matches) > 0
		c.mu.Unlock()
		if hasMatch {
			c.write(msg)
		}
	}
}

// route delivers a method call, method return, or error addressed to
// another connected client by its unique or well-known name.
func (s *Server) route(msg *dbus.Message) {
	s.mu.Lock()
	dest := msg.Destination
	if owner, ok := s.nameOwner[dest]; ok {
		dest = owner
	}
	target, ok := s.conns[dest]
	s.mu.Unlock()
	if !ok {
		return
	}
	target.write(msg)
}

func mustSig(s string) dbus.Signature {
	sig, err := dbus.ParseSignature(s)
	if err != nil {
		panic(err)
	}
	return sig
}

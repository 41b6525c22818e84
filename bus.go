package dbus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/vesperbus/dbus/auth"
	"github.com/vesperbus/dbus/fragments"
	"github.com/vesperbus/dbus/transport"
)

const (
	busName      = "org.freedesktop.DBus"
	busPath      = "/org/freedesktop/DBus"
	busInterface = "org.freedesktop.DBus"
)

type connState int32

const (
	stateDisconnected connState = iota
	stateAuthenticating
	stateReady
	stateClosed
)

// RequestNameFlags control the semantics of RequestName.
type RequestNameFlags uint32

const (
	NameFlagAllowReplacement RequestNameFlags = 1 << iota
	NameFlagReplaceExisting
	NameFlagDoNotQueue
)

// MessageBus is a connection to a DBus message bus (or to any peer
// speaking the DBus protocol, such as a p2p connection).
//
// A MessageBus owns exactly one transport and one dispatch goroutine.
// All state mutation (pending calls, match table, exported objects)
// happens under mu; the dispatch goroutine and any number of caller
// goroutines calling Send/Call/Export/etc may run concurrently.
type MessageBus struct {
	t          transport.Transport
	state      atomic.Int32
	uniqueName string

	writeMu sync.Mutex

	mu       sync.Mutex
	serial   uint32
	pending  map[uint32]*Future
	matches  map[string]*matchEntry
	objects  map[string]*exportedObject

	// unknownReplySerials counts METHOD_RETURN/ERROR messages whose
	// ReplySerial did not match any pending call, dropped silently per
	// the dispatch algorithm.
	unknownReplySerials atomic.Uint64

	errHook func(error)

	machineIDOnce sync.Once
	machineIDVal  string
}

// machineID returns the local machine's persistent id, as served by
// org.freedesktop.DBus.Peer.GetMachineId.
func (b *MessageBus) machineID() string {
	b.machineIDOnce.Do(func() {
		bs, err := os.ReadFile("/etc/machine-id")
		if errors.Is(err, fs.ErrNotExist) {
			bs, err = os.ReadFile("/var/lib/dbus/machine-id")
		}
		if err != nil {
			return
		}
		b.machineIDVal = strings.TrimSpace(string(bs))
	})
	return b.machineIDVal
}

// childPaths returns the immediate child path segments of base among
// currently exported objects, for introspection's <node> listing.
// Callers must hold b.mu.
func (b *MessageBus) childPaths(base string) []string {
	prefix := base
	if prefix != "/" {
		prefix += "/"
	}
	seen := mapset.New[string]()
	var out []string
	for path := range b.objects {
		if !strings.HasPrefix(path, prefix) || path == base {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		if rest != "" && !seen.Has(rest) {
			seen.Add(rest)
			out = append(out, rest)
		}
	}
	return out
}

// SystemBus connects to the system-wide message bus.
//
// The well-known path is /var/run/dbus/system_bus_socket; this dials
// /run/dbus/system_bus_socket directly, since /var/run is a symlink to
// /run on every target Linux distribution.
func SystemBus(ctx context.Context) (*MessageBus, error) {
	return dialWellKnown(ctx, "/run/dbus/system_bus_socket")
}

// SessionBus connects to the caller's session message bus, using the
// address in DBUS_SESSION_BUS_ADDRESS.
func SessionBus(ctx context.Context) (*MessageBus, error) {
	addr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if addr == "" {
		return nil, &InvalidAddressError{addr, "DBUS_SESSION_BUS_ADDRESS is not set"}
	}
	return Dial(ctx, addr)
}

func dialWellKnown(ctx context.Context, unixPath string) (*MessageBus, error) {
	t, err := transport.DialUnix(ctx, unixPath)
	if err != nil {
		return nil, wrapAuthErr(err)
	}
	return newMessageBus(ctx, t)
}

// Dial connects to the message bus at addr, a DBus address string
// (see the transport package's address grammar).
func Dial(ctx context.Context, addr string) (*MessageBus, error) {
	endpoints, err := transport.ParseAddress(addr)
	if err != nil {
		return nil, &InvalidAddressError{addr, err.Error()}
	}
	t, err := transport.Dial(ctx, endpoints)
	if err != nil {
		return nil, wrapAuthErr(err)
	}
	return newMessageBus(ctx, t)
}

// wrapAuthErr promotes a SASL handshake failure surfaced by the
// transport package into the documented *AuthError taxonomy, so
// callers can use errors.As(err, &dbus.AuthError{}) regardless of
// which transport (unix, tcp) performed the handshake.
func wrapAuthErr(err error) error {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return &AuthError{Reason: authErr.Reason}
	}
	return err
}

// NewMessageBusFromTransport builds a MessageBus over an
// already-authenticated transport, sending the mandatory Hello call
// as usual. This is the entry point for non-standard transports
// (point-to-point connections, test fakes) that don't go through
// [Dial]'s address resolution.
func NewMessageBusFromTransport(ctx context.Context, t transport.Transport) (*MessageBus, error) {
	return newMessageBus(ctx, t)
}

func newMessageBus(ctx context.Context, t transport.Transport) (*MessageBus, error) {
	b := &MessageBus{
		t:       t,
		pending: map[uint32]*Future{},
		matches: map[string]*matchEntry{},
		objects: map[string]*exportedObject{},
		errHook: func(err error) { log.Printf("dbus: %v", err) },
	}
	b.state.Store(int32(stateAuthenticating))

	go b.readLoop()

	var name Value
	reply, err := b.callSync(ctx, &Message{
		Type:        TypeMethodCall,
		Path:        busPath,
		Interface:   busInterface,
		Member:      "Hello",
		Destination: busName,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("saying hello to message bus: %w", err)
	}
	if len(reply.Body) != 1 {
		b.Close()
		return nil, &InvalidMessageError{"Hello reply did not contain a unique name"}
	}
	name = reply.Body[0]
	b.uniqueName = name.Str()
	b.state.Store(int32(stateReady))

	return b, nil
}

// SetErrorHook installs a callback invoked whenever the dispatch loop
// encounters an error it cannot propagate to a specific caller
// (malformed incoming messages, handler panics). The default hook
// logs via the standard library logger.
func (b *MessageBus) SetErrorHook(f func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errHook = f
}

// LocalName returns the unique bus name this connection was assigned
// by Hello.
func (b *MessageBus) LocalName() string { return b.uniqueName }

// Close disconnects from the bus. All pending futures fail with
// net.ErrClosed and all exported objects and match registrations are
// dropped.
func (b *MessageBus) Close() error {
	b.state.Store(int32(stateClosed))

	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.matches = nil
	b.objects = nil
	b.mu.Unlock()

	for _, f := range pending {
		f.fulfill(nil, net.ErrClosed)
	}
	return b.t.Close()
}

func (b *MessageBus) connState() connState {
	return connState(b.state.Load())
}

func (b *MessageBus) nextSerial() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.serial++
	if b.serial == 0 {
		b.serial = 1
	}
	return b.serial
}

// Send transmits msg. If it is a METHOD_CALL without
// FlagNoReplyExpected, a Future for the eventual reply is returned;
// otherwise Send returns (nil, nil) on success.
func (b *MessageBus) Send(ctx context.Context, msg *Message) (*Future, error) {
	if b.connState() == stateClosed {
		return nil, net.ErrClosed
	}

	msg.Serial = b.nextSerial()

	var future *Future
	wantsReply := msg.Type == TypeMethodCall && msg.Flags&FlagNoReplyExpected == 0
	if wantsReply {
		future = newFuture()
		serial := msg.Serial
		future.cleanup = func() {
			b.mu.Lock()
			if b.pending != nil {
				delete(b.pending, serial)
			}
			b.mu.Unlock()
		}
		b.mu.Lock()
		if b.pending == nil {
			b.mu.Unlock()
			return nil, net.ErrClosed
		}
		b.pending[msg.Serial] = future
		b.mu.Unlock()
	}

	if err := b.writeMsg(msg); err != nil {
		if wantsReply {
			b.mu.Lock()
			if b.pending != nil {
				delete(b.pending, msg.Serial)
			}
			b.mu.Unlock()
		}
		return nil, err
	}

	return future, nil
}

func (b *MessageBus) writeMsg(msg *Message) error {
	bs, err := Marshal(fragments.LittleEndian, msg)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_, err = b.t.Write(bs)
	return err
}

// Call sends a method call and blocks until its reply arrives,
// ctx is cancelled, or timeout (when nonzero) elapses.
func (b *MessageBus) Call(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error) {
	future, err := b.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	if future == nil {
		return nil, nil
	}
	if timeout > 0 {
		future.SetTimeout(timeout)
	}
	reply, err := future.Await(ctx)
	if err != nil {
		return nil, err
	}
	if reply.Type == TypeError {
		derr := &DBusError{Name: reply.ErrorName, Reply: reply}
		if len(reply.Body) > 0 && reply.Body[0].Kind() == KindString {
			derr.Message = reply.Body[0].Str()
		}
		return nil, derr
	}
	return reply, nil
}

func (b *MessageBus) callSync(ctx context.Context, msg *Message) (*Message, error) {
	return b.Call(ctx, msg, 0)
}

// EmitSignal sends a SIGNAL message. Signals never carry a reply.
func (b *MessageBus) EmitSignal(ctx context.Context, msg *Message) error {
	msg.Type = TypeSignal
	_, err := b.Send(ctx, msg)
	return err
}

// readLoop is the connection's single dispatch goroutine: it reads
// and dispatches messages until the transport is closed.
func (b *MessageBus) readLoop() {
	for {
		msg, err := Unmarshal(b.t)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || b.connState() == stateClosed {
				return
			}
			b.hook(err)
			b.Close()
			return
		}
		b.dispatch(msg)
	}
}

func (b *MessageBus) hook(err error) {
	b.mu.Lock()
	h := b.errHook
	b.mu.Unlock()
	if h != nil {
		h(err)
	}
}

func (b *MessageBus) dispatch(msg *Message) {
	switch msg.Type {
	case TypeMethodReturn, TypeError:
		b.dispatchReply(msg)
	case TypeSignal:
		b.dispatchSignal(msg)
	case TypeMethodCall:
		b.dispatchCall(msg)
	}
}

func (b *MessageBus) dispatchReply(msg *Message) {
	b.mu.Lock()
	f, ok := b.pending[msg.ReplySerial]
	if ok {
		delete(b.pending, msg.ReplySerial)
	}
	b.mu.Unlock()
	if !ok {
		// Unknown serial: drop silently but record a counter, per the
		// dispatch algorithm.
		b.unknownReplySerials.Add(1)
		return
	}
	f.fulfill(msg, nil)
}

// UnknownReplySerials returns the number of METHOD_RETURN/ERROR
// messages received so far whose ReplySerial matched no pending call.
func (b *MessageBus) UnknownReplySerials() uint64 {
	return b.unknownReplySerials.Load()
}

func (b *MessageBus) dispatchSignal(msg *Message) {
	b.mu.Lock()
	var cbs []func(*Message)
	for _, entry := range b.matches {
		if entry.match.matches(msg) {
			for _, h := range entry.handlers {
				cbs = append(cbs, h)
			}
		}
	}
	b.mu.Unlock()

	for _, cb := range cbs {
		b.invokeSafely(cb, msg)
	}
}

func (b *MessageBus) invokeSafely(cb func(*Message), msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			b.hook(fmt.Errorf("signal handler panicked: %v", r))
		}
	}()
	cb(msg)
}

// AddMatch registers cb to run for every received SIGNAL matching m.
// The underlying AddMatch bus call is issued only when m's rule
// string transitions from zero to one registered handler. It returns
// an unsubscribe function.
func (b *MessageBus) AddMatch(ctx context.Context, m Match, cb func(*Message)) (func(), error) {
	key := m.key()

	b.mu.Lock()
	entry, ok := b.matches[key]
	if !ok {
		entry = &matchEntry{match: m, handlers: map[int]func(*Message){}}
		b.matches[key] = entry
	}
	entry.refcount++
	id := entry.nextID
	entry.nextID++
	entry.handlers[id] = cb
	firstRef := entry.refcount == 1
	b.mu.Unlock()

	if firstRef {
		if _, err := b.callSync(ctx, &Message{
			Type:        TypeMethodCall,
			Path:        busPath,
			Interface:   busInterface,
			Member:      "AddMatch",
			Destination: busName,
			Signature:   mustParseSignature("s"),
			Body:        []Value{Str(key)},
		}); err != nil {
			b.mu.Lock()
			delete(entry.handlers, id)
			entry.refcount--
			if entry.refcount == 0 {
				delete(b.matches, key)
			}
			b.mu.Unlock()
			return nil, err
		}
	}

	return func() { b.removeMatch(key, id) }, nil
}

func (b *MessageBus) removeMatch(key string, id int) {
	b.mu.Lock()
	entry, ok := b.matches[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(entry.handlers, id)
	entry.refcount--
	lastRef := entry.refcount == 0
	if lastRef {
		delete(b.matches, key)
	}
	b.mu.Unlock()

	if lastRef {
		_, _ = b.callSync(context.Background(), &Message{
			Type:        TypeMethodCall,
			Path:        busPath,
			Interface:   busInterface,
			Member:      "RemoveMatch",
			Destination: busName,
			Signature:   mustParseSignature("s"),
			Body:        []Value{Str(key)},
		})
	}
}

// RequestName asks the bus daemon to assign the caller ownership of
// name.
func (b *MessageBus) RequestName(ctx context.Context, name string, flags RequestNameFlags) (uint32, error) {
	if !ValidBusName(name) {
		return 0, &InvalidBusNameError{name}
	}
	reply, err := b.callSync(ctx, &Message{
		Type:        TypeMethodCall,
		Path:        busPath,
		Interface:   busInterface,
		Member:      "RequestName",
		Destination: busName,
		Signature:   mustParseSignature("su"),
		Body:        []Value{Str(name), Uint32(uint32(flags))},
	})
	if err != nil {
		return 0, err
	}
	return reply.Body[0].Uint32(), nil
}

// ReleaseName asks the bus daemon to release ownership of name.
func (b *MessageBus) ReleaseName(ctx context.Context, name string) (uint32, error) {
	reply, err := b.callSync(ctx, &Message{
		Type:        TypeMethodCall,
		Path:        busPath,
		Interface:   busInterface,
		Member:      "ReleaseName",
		Destination: busName,
		Signature:   mustParseSignature("s"),
		Body:        []Value{Str(name)},
	})
	if err != nil {
		return 0, err
	}
	return reply.Body[0].Uint32(), nil
}

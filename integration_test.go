package dbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	dbus "github.com/vesperbus/dbus"
	"github.com/vesperbus/dbus/dbustest"
)

func TestHelloHandshake(t *testing.T) {
	srv := dbustest.NewServer()
	ctx := context.Background()

	bus, err := srv.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer bus.Close()

	if got := bus.LocalName(); got == "" || got[0] != ':' {
		t.Errorf("LocalName() = %q, want a unique name starting with ':'", got)
	}
}

func TestEchoRoundTrip(t *testing.T) {
	srv := dbustest.NewServer()
	ctx := context.Background()

	server, err := srv.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial server: %v", err)
	}
	defer server.Close()

	if err := server.Export("/org/example/Echo", "com.example.Echo", &dbus.ExportedInterface{
		Methods: map[string]dbus.Handler{
			"Echo": func(ctx context.Context, args []dbus.Value) ([]dbus.Value, error) {
				return []dbus.Value{args[0]}, nil
			},
		},
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	client, err := srv.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial client: %v", err)
	}
	defer client.Close()

	proxy := dbus.NewProxy(client, server.LocalName(), "/org/example/Echo")
	iface := proxy.Interface("com.example.Echo")

	for _, in := range []string{"", "hello", "λ→π"} {
		reply, err := iface.Call(ctx, "Echo", []dbus.Value{dbus.Str(in)}, time.Second)
		if err != nil {
			t.Fatalf("Echo(%q): %v", in, err)
		}
		if len(reply) != 1 || reply[0].Str() != in {
			t.Errorf("Echo(%q) = %+v, want %q", in, reply, in)
		}
	}
}

func TestErrorReply(t *testing.T) {
	srv := dbustest.NewServer()
	ctx := context.Background()

	server, err := srv.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial server: %v", err)
	}
	defer server.Close()

	if err := server.Export("/org/example/Boom", "com.example.Boom", &dbus.ExportedInterface{
		Methods: map[string]dbus.Handler{
			"Explode": func(ctx context.Context, args []dbus.Value) ([]dbus.Value, error) {
				return nil, &dbus.DBusError{Name: "com.example.Boom", Message: "nope"}
			},
		},
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	client, err := srv.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial client: %v", err)
	}
	defer client.Close()

	proxy := dbus.NewProxy(client, server.LocalName(), "/org/example/Boom")
	_, err = proxy.Interface("com.example.Boom").Call(ctx, "Explode", nil, time.Second)
	if err == nil {
		t.Fatal("Explode: got no error")
	}
	derr, ok := err.(*dbus.DBusError)
	if !ok {
		t.Fatalf("Explode error type = %T, want *dbus.DBusError", err)
	}
	if derr.Name != "com.example.Boom" || derr.Message != "nope" {
		t.Errorf("Explode error = %+v, want Name=com.example.Boom Message=nope", derr)
	}
}

func TestSignalRouting(t *testing.T) {
	srv := dbustest.NewServer()
	ctx := context.Background()

	sender, err := srv.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial sender: %v", err)
	}
	defer sender.Close()

	receiver, err := srv.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial receiver: %v", err)
	}
	defer receiver.Close()

	var (
		mu    sync.Mutex
		count int
		body  []dbus.Value
	)
	unsub, err := receiver.AddMatch(ctx, dbus.NewMatch().Interface("com.example").Member("Ping"), func(msg *dbus.Message) {
		mu.Lock()
		defer mu.Unlock()
		count++
		body = msg.Body
	})
	if err != nil {
		t.Fatalf("AddMatch: %v", err)
	}
	defer unsub()

	if err := sender.EmitSignal(ctx, &dbus.Message{
		Path:      "/org/example/Object",
		Interface: "com.example",
		Member:    "Ping",
		Signature: mustSig(t, "s"),
		Body:      []dbus.Value{dbus.Str("x")},
	}); err != nil {
		t.Fatalf("EmitSignal: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := count
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("handler invoked %d times, want 1", count)
	}
	if len(body) != 1 || body[0].Str() != "x" {
		t.Errorf("signal body = %+v, want [\"x\"]", body)
	}
}

func TestPropertiesGetSetGetAll(t *testing.T) {
	srv := dbustest.NewServer()
	ctx := context.Background()

	server, err := srv.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial server: %v", err)
	}
	defer server.Close()

	var mu sync.Mutex
	count := int32(7)

	if err := server.Export("/org/example/Counter", "com.example.Counter", &dbus.ExportedInterface{
		Properties: map[string]*dbus.Property{
			"Count": {
				Type: dbus.BasicType(dbus.KindInt32),
				Get: func(ctx context.Context) (dbus.Value, error) {
					mu.Lock()
					defer mu.Unlock()
					return dbus.Int32(count), nil
				},
				Set: func(ctx context.Context, v dbus.Value) error {
					mu.Lock()
					defer mu.Unlock()
					count = v.Int32()
					return nil
				},
			},
		},
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	client, err := srv.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial client: %v", err)
	}
	defer client.Close()

	iface := dbus.NewProxy(client, server.LocalName(), "/org/example/Counter").Interface("com.example.Counter")

	got, err := iface.GetProperty(ctx, "Count")
	if err != nil {
		t.Fatalf("GetProperty: %v", err)
	}
	if got.Int32() != 7 {
		t.Errorf("GetProperty(Count) = %d, want 7", got.Int32())
	}

	if err := iface.SetProperty(ctx, "Count", dbus.BasicType(dbus.KindInt32), dbus.Int32(42)); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}

	got, err = iface.GetProperty(ctx, "Count")
	if err != nil {
		t.Fatalf("GetProperty after Set: %v", err)
	}
	if got.Int32() != 42 {
		t.Errorf("GetProperty(Count) after Set = %d, want 42", got.Int32())
	}

	all, err := iface.GetAllProperties(ctx)
	if err != nil {
		t.Fatalf("GetAllProperties: %v", err)
	}
	if v, ok := all["Count"]; !ok || v.Int32() != 42 {
		t.Errorf("GetAllProperties()[Count] = %+v, want 42", all)
	}
}

func TestCloseFailsPendingAndFutureSends(t *testing.T) {
	srv := dbustest.NewServer()
	ctx := context.Background()

	bus, err := srv.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	// A call to a method the fake bus never answers (because the
	// destination routes to no connected peer) stays pending until the
	// connection closes.
	future, err := bus.Send(ctx, &dbus.Message{
		Type:        dbus.TypeMethodCall,
		Path:        "/org/example/Object",
		Interface:   "com.example",
		Member:      "NeverAnswered",
		Destination: ":1.9999",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	bus.Close()

	if _, err := future.Await(ctx); err == nil {
		t.Error("pending future after Close: got no error")
	}

	if _, err := bus.Send(ctx, &dbus.Message{
		Type:   dbus.TypeMethodCall,
		Member: "Foo",
	}); err == nil {
		t.Error("Send after Close: got no error")
	}
}

func mustSig(t *testing.T, s string) dbus.Signature {
	t.Helper()
	sig, err := dbus.ParseSignature(s)
	if err != nil {
		t.Fatalf("ParseSignature(%q): %v", s, err)
	}
	return sig
}

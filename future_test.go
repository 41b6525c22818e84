package dbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureAwaitFulfilled(t *testing.T) {
	f := newFuture()
	want := &Message{Type: TypeMethodReturn, ReplySerial: 1}
	go f.fulfill(want, nil)

	got, err := f.Await(context.Background())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got != want {
		t.Errorf("Await returned %+v, want %+v", got, want)
	}
}

func TestFutureCancel(t *testing.T) {
	f := newFuture()
	f.Cancel()
	_, err := f.Await(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Await after Cancel: got %v, want context.Canceled", err)
	}
}

func TestFutureFulfillOnlyOnce(t *testing.T) {
	f := newFuture()
	f.fulfill(&Message{Serial: 1}, nil)
	f.fulfill(&Message{Serial: 2}, nil) // should be a no-op

	got, err := f.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Serial != 1 {
		t.Errorf("got serial %d, want 1 (first fulfillment wins)", got.Serial)
	}
}

func TestFutureSetTimeout(t *testing.T) {
	f := newFuture()
	f.SetTimeout(10 * time.Millisecond)

	_, err := f.Await(context.Background())
	if !errors.Is(err, &DBusError{Name: ErrNoReply}) {
		t.Errorf("Await after timeout: got %v, want DBusError{Name: ErrNoReply}", err)
	}
}

func TestFutureTimeoutClearsBusPendingEntry(t *testing.T) {
	bus, _, err := newScriptedPeer()
	if err != nil {
		t.Fatalf("connecting scripted peer: %v", err)
	}
	defer bus.Close()

	msg := &Message{
		Type:        TypeMethodCall,
		Member:      "NeverAnswered",
		Destination: ":1.9999",
	}
	future, err := bus.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	future.SetTimeout(10 * time.Millisecond)

	if _, err := future.Await(context.Background()); !errors.Is(err, &DBusError{Name: ErrNoReply}) {
		t.Fatalf("Await after timeout: got %v, want DBusError{Name: ErrNoReply}", err)
	}

	bus.mu.Lock()
	_, stillPending := bus.pending[msg.Serial]
	bus.mu.Unlock()
	if stillPending {
		t.Error("bus.pending still holds an entry for a timed-out future")
	}
}

func TestFutureAwaitContextCancelled(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Await(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Await with cancelled context: got %v", err)
	}
}

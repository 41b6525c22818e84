package dbus

import (
	"context"
	"sync"
	"time"
)

// A Future represents a pending method call's eventual reply. Each
// Future is fulfilled exactly once, either with a successful reply
// Message or with an error (a *DBusError for a remote ERROR reply, or
// a connection/timeout error).
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	reply     *Message
	err       error
	fulfilled bool
	timer     *time.Timer

	// cleanup, if set, runs once after the future is fulfilled by any
	// means (reply, cancel, or timeout), so the owning MessageBus can
	// drop its pending-call table entry even when the future never
	// received a reply.
	cleanup func()
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Await blocks until the call completes, ctx is cancelled, or the
// future's timeout (if any) elapses.
func (f *Future) Await(ctx context.Context) (*Message, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.reply, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel fails the future immediately with context.Canceled, if it
// has not already completed.
func (f *Future) Cancel() {
	f.fulfill(nil, context.Canceled)
}

// SetTimeout arranges for the future to fail with
// &DBusError{Name: ErrNoReply} if it has not completed within d,
// matching the remote-ERROR shape a caller would get from a real
// org.freedesktop.DBus.Error.NoReply reply.
func (f *Future) SetTimeout(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fulfilled {
		return
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(d, func() {
		f.fulfill(nil, &DBusError{Name: ErrNoReply, Message: "method call timed out"})
	})
}

func (f *Future) fulfill(reply *Message, err error) {
	f.mu.Lock()
	if f.fulfilled {
		f.mu.Unlock()
		return
	}
	f.fulfilled = true
	f.reply = reply
	f.err = err
	if f.timer != nil {
		f.timer.Stop()
	}
	cleanup := f.cleanup
	f.mu.Unlock()
	close(f.done)
	if cleanup != nil {
		cleanup()
	}
}

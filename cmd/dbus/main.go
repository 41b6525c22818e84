// Command dbus is a small command-line client for poking at a DBus
// message bus: listing names, pinging peers, and introspecting or
// calling into a remote object.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/kr/pretty"
	"github.com/vesperbus/dbus"
)

var globalArgs struct {
	UseSessionBus bool `flag:"session,Connect to session bus instead of system bus"`
}

func busConn(ctx context.Context) (*dbus.MessageBus, error) {
	if globalArgs.UseSessionBus {
		return dbus.SessionBus(ctx)
	}
	return dbus.SystemBus(ctx)
}

func main() {
	root := &command.C{
		Name:     "dbus",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Commands: []*command.C{
			{
				Name:  "list",
				Usage: "list",
				Help:  "List names registered on the bus.",
				Run:   command.Adapt(runList),
			},
			{
				Name:  "ping",
				Usage: "ping peer",
				Help:  "Ping a peer's org.freedesktop.DBus.Peer interface.",
				Run:   command.Adapt(runPing),
			},
			{
				Name:  "introspect",
				Usage: "introspect peer object-path",
				Help:  "Fetch and print a remote object's introspection data.",
				Run:   command.Adapt(runIntrospect),
			},
			{
				Name:  "call",
				Usage: "call peer object-path interface.method [args...]",
				Help:  "Invoke a method and print its reply.",
				Run:   runCall,
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func runList(env *command.Env) error {
	conn, err := busConn(env.Context())
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(env.Context(), 10*time.Second)
	defer cancel()
	names, err := conn.ListNames(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runPing(env *command.Env, peer string) error {
	conn, err := busConn(env.Context())
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(env.Context(), 10*time.Second)
	defer cancel()
	proxy := dbus.NewProxy(conn, peer, "/")
	_, err = proxy.Interface("org.freedesktop.DBus.Peer").Call(ctx, "Ping", nil, 0)
	return err
}

func runIntrospect(env *command.Env, peer, path string) error {
	conn, err := busConn(env.Context())
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(env.Context(), 10*time.Second)
	defer cancel()
	proxy := dbus.NewProxy(conn, peer, path)
	desc, err := proxy.Introspect(ctx)
	if err != nil {
		return err
	}
	pretty.Println(desc)
	return nil
}

func runCall(env *command.Env) error {
	args := env.Args
	if len(args) < 3 {
		return fmt.Errorf("usage: call peer object-path interface.method [args...]")
	}
	peer, path, method := args[0], args[1], args[2]
	iface, member, ok := cutLast(method, '.')
	if !ok {
		return fmt.Errorf("method must be interface-qualified, e.g. org.freedesktop.DBus.Peer.Ping")
	}

	conn, err := busConn(env.Context())
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	var callArgs []dbus.Value
	for _, a := range args[3:] {
		callArgs = append(callArgs, dbus.Str(a))
	}

	ctx, cancel := context.WithTimeout(env.Context(), 10*time.Second)
	defer cancel()
	proxy := dbus.NewProxy(conn, peer, path)
	reply, err := proxy.Interface(iface).Call(ctx, member, callArgs, 0)
	if err != nil {
		return err
	}
	for _, v := range reply {
		pretty.Println(v)
	}
	return nil
}

func cutLast(s string, sep byte) (before, after string, found bool) {
	i := strings.LastIndexByte(s, sep)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

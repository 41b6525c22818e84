package dbus

import (
	"context"
	"fmt"
	"time"
)

// A Proxy is a non-owning handle to a remote object: a destination
// bus name and object path, optionally backed by fetched introspection
// data used to validate calls before they're sent.
//
// A Proxy becomes inoperative (all calls fail) once its MessageBus is
// closed; it holds no reference preventing that.
type Proxy struct {
	bus         *MessageBus
	destination string
	path        string
	desc        *ObjectDescription
}

// NewProxy returns a Proxy for destination's object at path. It does
// not contact the peer; call Introspect to fetch and validate against
// its interface descriptions, or call methods directly without
// validation.
func NewProxy(bus *MessageBus, destination, path string) *Proxy {
	return &Proxy{bus: bus, destination: destination, path: path}
}

// Introspect fetches and parses the object's introspection XML,
// enabling arity/signature validation on subsequent calls.
func (p *Proxy) Introspect(ctx context.Context) (*ObjectDescription, error) {
	reply, err := p.bus.callSync(ctx, &Message{
		Type:        TypeMethodCall,
		Path:        p.path,
		Interface:   "org.freedesktop.DBus.Introspectable",
		Member:      "Introspect",
		Destination: p.destination,
	})
	if err != nil {
		return nil, err
	}
	if len(reply.Body) != 1 || reply.Body[0].Kind() != KindString {
		return nil, &InvalidIntrospectionError{"Introspect reply was not a single string"}
	}
	desc, err := ParseIntrospection([]byte(reply.Body[0].Str()))
	if err != nil {
		return nil, err
	}
	p.desc = desc
	return desc, nil
}

// Interface returns a handle scoped to one interface of p's object.
// If p has introspection data and lacks this interface, Call and
// Subscribe fail with InterfaceNotFoundError; the property accessors
// do not consult introspection data.
func (p *Proxy) Interface(name string) *ProxyInterface {
	return &ProxyInterface{proxy: p, name: name}
}

// A ProxyInterface is a Proxy scoped to one interface, offering typed
// method calls, signal subscriptions, and property access.
type ProxyInterface struct {
	proxy *Proxy
	name  string
}

func (pi *ProxyInterface) describeMethod(member string) (*MethodDescription, error) {
	if pi.proxy.desc == nil {
		return nil, nil
	}
	iface, ok := pi.proxy.desc.Interfaces[pi.name]
	if !ok {
		return nil, &InterfaceNotFoundError{pi.name}
	}
	for _, m := range iface.Methods {
		if m.Name == member {
			return m, nil
		}
	}
	return nil, fmt.Errorf("interface %s has no method %s", pi.name, member)
}

// Call invokes member with args, validating arity and types against
// introspection data when available, and returns the decoded reply
// body.
func (pi *ProxyInterface) Call(ctx context.Context, member string, args []Value, timeout time.Duration) ([]Value, error) {
	md, err := pi.describeMethod(member)
	if err != nil {
		return nil, err
	}
	if md != nil {
		if err := validateArgs(md.In, args); err != nil {
			return nil, fmt.Errorf("calling %s.%s: %w", pi.name, member, err)
		}
	}

	sig, err := signatureOfValues(args)
	if err != nil {
		return nil, err
	}

	reply, err := pi.proxy.bus.Call(ctx, &Message{
		Type:        TypeMethodCall,
		Path:        pi.proxy.path,
		Interface:   pi.name,
		Member:      member,
		Destination: pi.proxy.destination,
		Signature:   sig,
		Body:        args,
	}, timeout)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, nil
	}
	return reply.Body, nil
}

func validateArgs(want []ArgumentDescription, got []Value) error {
	if len(want) != len(got) {
		return fmt.Errorf("wrong argument count: want %d, got %d", len(want), len(got))
	}
	for i, w := range want {
		if len(w.Type.types) != 1 {
			continue
		}
		if !got[i].conformsTo(w.Type.types[0]) {
			return fmt.Errorf("argument %d: want type %s, got %s", i, w.Type, got[i].Type())
		}
	}
	return nil
}

// Subscribe registers cb to run whenever member is emitted by this
// interface's object. If introspection data is available and the
// interface never declares the signal, Subscribe fails with
// SignalDisabledError.
func (pi *ProxyInterface) Subscribe(ctx context.Context, member string, cb func(*Message)) (func(), error) {
	if pi.proxy.desc != nil {
		iface, ok := pi.proxy.desc.Interfaces[pi.name]
		if !ok {
			return nil, &InterfaceNotFoundError{pi.name}
		}
		found := false
		for _, s := range iface.Signals {
			if s.Name == member {
				found = true
				break
			}
		}
		if !found {
			return nil, &SignalDisabledError{pi.name, member}
		}
	}

	m := NewMatch().
		Sender(pi.proxy.destination).
		Path(pi.proxy.path).
		Interface(pi.name).
		Member(member)
	return pi.proxy.bus.AddMatch(ctx, m, cb)
}

// GetProperty fetches one property's current value via
// org.freedesktop.DBus.Properties.Get.
func (pi *ProxyInterface) GetProperty(ctx context.Context, name string) (Value, error) {
	reply, err := pi.proxy.bus.callSync(ctx, &Message{
		Type:        TypeMethodCall,
		Path:        pi.proxy.path,
		Interface:   "org.freedesktop.DBus.Properties",
		Member:      "Get",
		Destination: pi.proxy.destination,
		Signature:   mustParseSignature("ss"),
		Body:        []Value{Str(pi.name), Str(name)},
	})
	if err != nil {
		return Value{}, err
	}
	if len(reply.Body) != 1 || reply.Body[0].Kind() != KindVariant {
		return Value{}, &InvalidMessageError{"Properties.Get reply was not a single variant"}
	}
	return reply.Body[0].VariantValue(), nil
}

// SetProperty sets one property's value via
// org.freedesktop.DBus.Properties.Set.
func (pi *ProxyInterface) SetProperty(ctx context.Context, name string, t *Type, v Value) error {
	_, err := pi.proxy.bus.callSync(ctx, &Message{
		Type:        TypeMethodCall,
		Path:        pi.proxy.path,
		Interface:   "org.freedesktop.DBus.Properties",
		Member:      "Set",
		Destination: pi.proxy.destination,
		Signature:   mustParseSignature("ssv"),
		Body:        []Value{Str(pi.name), Str(name), VariantOf(t, v)},
	})
	return err
}

// GetAllProperties fetches every readable property via
// org.freedesktop.DBus.Properties.GetAll.
func (pi *ProxyInterface) GetAllProperties(ctx context.Context) (map[string]Value, error) {
	reply, err := pi.proxy.bus.callSync(ctx, &Message{
		Type:        TypeMethodCall,
		Path:        pi.proxy.path,
		Interface:   "org.freedesktop.DBus.Properties",
		Member:      "GetAll",
		Destination: pi.proxy.destination,
		Signature:   mustParseSignature("s"),
		Body:        []Value{Str(pi.name)},
	})
	if err != nil {
		return nil, err
	}
	if len(reply.Body) != 1 || reply.Body[0].Kind() != KindArray {
		return nil, &InvalidMessageError{"Properties.GetAll reply was not a single array"}
	}
	out := map[string]Value{}
	for _, entry := range reply.Body[0].Elems() {
		k := entry.DictKey().Str()
		out[k] = entry.DictValue().VariantValue()
	}
	return out, nil
}

// SubscribePropertiesChanged subscribes to
// org.freedesktop.DBus.Properties.PropertiesChanged for this
// interface, delivering the raw signal message to cb. Applications
// decode the (interface, changed, invalidated) body themselves.
func (pi *ProxyInterface) SubscribePropertiesChanged(ctx context.Context, cb func(*Message)) (func(), error) {
	m := NewMatch().
		Sender(pi.proxy.destination).
		Path(pi.proxy.path).
		Interface("org.freedesktop.DBus.Properties").
		Member("PropertiesChanged")
	return pi.proxy.bus.AddMatch(ctx, m, cb)
}

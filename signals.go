package dbus

import "context"

// Well-known signal and member names on org.freedesktop.DBus itself.
const (
	SignalNameOwnerChanged = "NameOwnerChanged"
	SignalNameLost         = "NameLost"
	SignalNameAcquired     = "NameAcquired"

	SignalPropertiesChanged  = "PropertiesChanged"
	SignalInterfacesAdded    = "InterfacesAdded"
	SignalInterfacesRemoved  = "InterfacesRemoved"
)

// NameOwnerChange decodes the body of a NameOwnerChanged signal:
// (name, old-owner, new-owner), where an empty owner string means
// no owner.
type NameOwnerChange struct {
	Name     string
	OldOwner string
	NewOwner string
}

// DecodeNameOwnerChanged decodes msg's body as a NameOwnerChanged
// signal.
func DecodeNameOwnerChanged(msg *Message) (NameOwnerChange, error) {
	if len(msg.Body) != 3 {
		return NameOwnerChange{}, &InvalidMessageError{"NameOwnerChanged signal must have 3 arguments"}
	}
	return NameOwnerChange{
		Name:     msg.Body[0].Str(),
		OldOwner: msg.Body[1].Str(),
		NewOwner: msg.Body[2].Str(),
	}, nil
}

// SubscribeNameOwnerChanged subscribes to changes in ownership of
// name (or of every name, if name is "").
func (b *MessageBus) SubscribeNameOwnerChanged(ctx context.Context, name string, cb func(NameOwnerChange)) (func(), error) {
	m := NewMatch().
		Sender(busName).
		Interface(busInterface).
		Member(SignalNameOwnerChanged)

	return b.AddMatch(ctx, m, func(msg *Message) {
		change, err := DecodeNameOwnerChanged(msg)
		if err != nil {
			b.hook(err)
			return
		}
		if name != "" && change.Name != name {
			return
		}
		cb(change)
	})
}

// ListNames returns every currently registered bus name.
func (b *MessageBus) ListNames(ctx context.Context) ([]string, error) {
	reply, err := b.callSync(ctx, &Message{
		Type:        TypeMethodCall,
		Path:        busPath,
		Interface:   busInterface,
		Member:      "ListNames",
		Destination: busName,
	})
	if err != nil {
		return nil, err
	}
	return stringsFromArray(reply.Body)
}

// NameHasOwner reports whether name currently has an owner.
func (b *MessageBus) NameHasOwner(ctx context.Context, name string) (bool, error) {
	reply, err := b.callSync(ctx, &Message{
		Type:        TypeMethodCall,
		Path:        busPath,
		Interface:   busInterface,
		Member:      "NameHasOwner",
		Destination: busName,
		Signature:   mustParseSignature("s"),
		Body:        []Value{Str(name)},
	})
	if err != nil {
		return false, err
	}
	if len(reply.Body) != 1 {
		return false, &InvalidMessageError{"NameHasOwner reply malformed"}
	}
	return reply.Body[0].Bool(), nil
}

// GetNameOwner resolves a well-known bus name to its current unique
// name owner.
func (b *MessageBus) GetNameOwner(ctx context.Context, name string) (string, error) {
	reply, err := b.callSync(ctx, &Message{
		Type:        TypeMethodCall,
		Path:        busPath,
		Interface:   busInterface,
		Member:      "GetNameOwner",
		Destination: busName,
		Signature:   mustParseSignature("s"),
		Body:        []Value{Str(name)},
	})
	if err != nil {
		return "", err
	}
	if len(reply.Body) != 1 {
		return "", &InvalidMessageError{"GetNameOwner reply malformed"}
	}
	return reply.Body[0].Str(), nil
}

func stringsFromArray(body []Value) ([]string, error) {
	if len(body) != 1 || body[0].Kind() != KindArray {
		return nil, &InvalidMessageError{"expected reply body to be a single string array"}
	}
	elems := body[0].Elems()
	out := make([]string, len(elems))
	for i, e := range elems {
		out[i] = e.Str()
	}
	return out, nil
}

package dbus

import (
	"context"
	"fmt"
)

// A Handler implements one method of an exported interface. It
// receives the call's decoded body and returns the reply body, or an
// error. Returning a *DBusError controls the ERROR reply's name and
// message directly; any other error becomes
// org.freedesktop.DBus.Error.Failed.
type Handler func(ctx context.Context, args []Value) ([]Value, error)

// A Property implements one property of an exported interface.
// Get is required; Set may be nil for a read-only property.
type Property struct {
	Type *Type
	Get  func(ctx context.Context) (Value, error)
	Set  func(ctx context.Context, v Value) error
}

// An ExportedInterface is the set of methods, signals, and properties
// an application offers at one (path, interface) pair.
type ExportedInterface struct {
	Methods    map[string]Handler
	Properties map[string]*Property
	// Signals lists the signal names this interface offers, for
	// introspection purposes. Emitting a signal itself is done with
	// MessageBus.EmitSignal; this list does not gate emission.
	Signals []string

	// ArgSignatures optionally documents each method's argument and
	// reply signature for introspection, keyed by method name to a
	// [inSig, outSig] pair. Methods without an entry are introspected
	// with no typed argument information.
	ArgSignatures map[string][2]string
}

type exportedObject struct {
	interfaces map[string]*ExportedInterface
}

// Export installs iface at path under the given interface name.
// Exporting the same (path, interfaceName) pair twice fails.
func (b *MessageBus) Export(path, interfaceName string, iface *ExportedInterface) error {
	if !ValidObjectPath(path) {
		return &InvalidObjectPathError{path}
	}
	if !ValidInterfaceName(interfaceName) {
		return &InvalidInterfaceNameError{interfaceName}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		return ErrBusClosed
	}
	obj, ok := b.objects[path]
	if !ok {
		obj = &exportedObject{interfaces: map[string]*ExportedInterface{}}
		b.objects[path] = obj
	}
	if _, exists := obj.interfaces[interfaceName]; exists {
		return fmt.Errorf("interface %s already exported at %s", interfaceName, path)
	}
	obj.interfaces[interfaceName] = iface
	return nil
}

// Unexport removes a single interface at path, or every interface at
// path if interfaceName is "".
func (b *MessageBus) Unexport(path, interfaceName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		return
	}
	obj, ok := b.objects[path]
	if !ok {
		return
	}
	if interfaceName == "" {
		delete(b.objects, path)
		return
	}
	delete(obj.interfaces, interfaceName)
	if len(obj.interfaces) == 0 {
		delete(b.objects, path)
	}
}

// ErrBusClosed is returned by Export when it is called after Close.
var ErrBusClosed = fmt.Errorf("dbus: connection closed")

func (b *MessageBus) dispatchCall(msg *Message) {
	ctx := context.Background()

	reply, err := b.invokeExported(ctx, msg)
	if msg.Flags&FlagNoReplyExpected != 0 {
		return
	}

	out := &Message{
		ReplySerial: msg.Serial,
		Destination: msg.Sender,
	}
	if err != nil {
		out.Type = TypeError
		if derr, ok := err.(*DBusError); ok {
			out.ErrorName = derr.Name
			if derr.Message != "" {
				out.Signature = mustParseSignature("s")
				out.Body = []Value{Str(derr.Message)}
			}
		} else {
			out.ErrorName = ErrFailed
			out.Signature = mustParseSignature("s")
			out.Body = []Value{Str(err.Error())}
		}
	} else {
		out.Type = TypeMethodReturn
		out.Body = reply
		sig, serr := signatureOfValues(reply)
		if serr != nil {
			out.Type = TypeError
			out.ErrorName = ErrFailed
			out.Signature = mustParseSignature("s")
			out.Body = []Value{Str(serr.Error())}
		} else {
			out.Signature = sig
		}
	}

	if _, sendErr := b.Send(ctx, out); sendErr != nil {
		b.hook(fmt.Errorf("sending reply to %s.%s: %w", msg.Interface, msg.Member, sendErr))
	}
}

func (b *MessageBus) invokeExported(ctx context.Context, msg *Message) (reply []Value, err error) {
	if msg.Interface == "org.freedesktop.DBus.Peer" {
		switch msg.Member {
		case "Ping":
			return nil, nil
		case "GetMachineId":
			return []Value{Str(b.machineID())}, nil
		}
	}

	b.mu.Lock()
	obj, ok := b.objects[msg.Path]
	children := b.childPaths(msg.Path)
	b.mu.Unlock()

	if msg.Interface == "org.freedesktop.DBus.Properties" {
		if !ok {
			return nil, &DBusError{Name: ErrUnknownObject, Message: fmt.Sprintf("unknown object %s", msg.Path)}
		}
		return invokeProperties(ctx, obj, msg)
	}

	if (msg.Interface == "" || msg.Interface == "org.freedesktop.DBus.Introspectable") && msg.Member == "Introspect" {
		var desc *ObjectDescription
		if ok {
			desc = obj.describe()
		} else {
			desc = &ObjectDescription{Interfaces: map[string]*InterfaceDescription{}}
		}
		if ok || len(children) > 0 {
			return []Value{Str(string(GenerateIntrospection(desc, children)))}, nil
		}
	}

	if !ok {
		return nil, &DBusError{Name: ErrUnknownObject, Message: fmt.Sprintf("unknown object %s", msg.Path)}
	}

	iface, method, rerr := resolveMethod(obj, msg.Interface, msg.Member)
	if rerr != nil {
		return nil, rerr
	}

	defer func() {
		if r := recover(); r != nil {
			err = &DBusError{Name: ErrFailed, Message: fmt.Sprintf("handler panicked: %v", r)}
		}
	}()
	_ = iface
	return method(ctx, msg.Body)
}

// invokeProperties serves the standard org.freedesktop.DBus.Properties
// interface (Get/Set/GetAll) against an exported object's declared
// Property maps. No application code ever sees these calls directly.
func invokeProperties(ctx context.Context, obj *exportedObject, msg *Message) ([]Value, error) {
	switch msg.Member {
	case "Get":
		if len(msg.Body) != 2 {
			return nil, &DBusError{Name: ErrInvalidArgs, Message: "Get takes (interface, property)"}
		}
		prop, _, err := lookupProperty(obj, msg.Body[0].Str(), msg.Body[1].Str())
		if err != nil {
			return nil, err
		}
		v, err := prop.Get(ctx)
		if err != nil {
			return nil, asDBusError(err)
		}
		return []Value{VariantOf(prop.Type, v)}, nil

	case "Set":
		if len(msg.Body) != 3 {
			return nil, &DBusError{Name: ErrInvalidArgs, Message: "Set takes (interface, property, value)"}
		}
		prop, _, err := lookupProperty(obj, msg.Body[0].Str(), msg.Body[1].Str())
		if err != nil {
			return nil, err
		}
		if prop.Set == nil {
			return nil, &DBusError{Name: ErrInvalidArgs, Message: fmt.Sprintf("property %s is read-only", msg.Body[1].Str())}
		}
		if err := prop.Set(ctx, msg.Body[2].VariantValue()); err != nil {
			return nil, asDBusError(err)
		}
		return nil, nil

	case "GetAll":
		if len(msg.Body) != 1 {
			return nil, &DBusError{Name: ErrInvalidArgs, Message: "GetAll takes (interface)"}
		}
		iface, ok := obj.interfaces[msg.Body[0].Str()]
		if !ok {
			return nil, &DBusError{Name: ErrUnknownInterface, Message: fmt.Sprintf("unknown interface %s", msg.Body[0].Str())}
		}
		var entries []Value
		for name, prop := range iface.Properties {
			v, err := prop.Get(ctx)
			if err != nil {
				return nil, asDBusError(err)
			}
			entries = append(entries, DictEntryOf(Str(name), VariantOf(prop.Type, v)))
		}
		return []Value{Arr(&Type{kind: KindDictEntry, key: basicTypes[KindString], elem: basicTypes[KindVariant]}, entries)}, nil

	default:
		return nil, &DBusError{Name: ErrUnknownMethod, Message: fmt.Sprintf("unknown method %s", msg.Member)}
	}
}

func lookupProperty(obj *exportedObject, interfaceName, propName string) (*Property, *ExportedInterface, error) {
	iface, ok := obj.interfaces[interfaceName]
	if !ok {
		return nil, nil, &DBusError{Name: ErrUnknownInterface, Message: fmt.Sprintf("unknown interface %s", interfaceName)}
	}
	prop, ok := iface.Properties[propName]
	if !ok {
		return nil, nil, &DBusError{Name: ErrUnknownProperty, Message: fmt.Sprintf("unknown property %s", propName)}
	}
	return prop, iface, nil
}

func asDBusError(err error) error {
	if derr, ok := err.(*DBusError); ok {
		return derr
	}
	return &DBusError{Name: ErrFailed, Message: err.Error()}
}

func resolveMethod(obj *exportedObject, interfaceName, member string) (*ExportedInterface, Handler, error) {
	if interfaceName != "" {
		iface, ok := obj.interfaces[interfaceName]
		if !ok {
			return nil, nil, &DBusError{Name: ErrUnknownInterface, Message: fmt.Sprintf("unknown interface %s", interfaceName)}
		}
		h, ok := iface.Methods[member]
		if !ok {
			return nil, nil, &DBusError{Name: ErrUnknownMethod, Message: fmt.Sprintf("unknown method %s", member)}
		}
		return iface, h, nil
	}

	// No interface specified: accept a unique match across all
	// interfaces at this object, per the dispatch algorithm.
	var (
		foundIface *ExportedInterface
		foundH     Handler
		count      int
	)
	for _, iface := range obj.interfaces {
		if h, ok := iface.Methods[member]; ok {
			foundIface, foundH = iface, h
			count++
		}
	}
	if count == 0 {
		return nil, nil, &DBusError{Name: ErrUnknownMethod, Message: fmt.Sprintf("unknown method %s", member)}
	}
	if count > 1 {
		return nil, nil, &DBusError{Name: ErrUnknownMethod, Message: fmt.Sprintf("method %s is ambiguous across exported interfaces", member)}
	}
	return foundIface, foundH, nil
}

// signatureOfValues builds the Signature describing the shape of vs,
// used to fill in a synthesized reply's SIGNATURE header field.
func signatureOfValues(vs []Value) (Signature, error) {
	types := make([]*Type, len(vs))
	for i, v := range vs {
		types[i] = v.Type()
	}
	return Signature{types}, nil
}

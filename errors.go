package dbus

import "fmt"

// InvalidSignatureError is returned when a type signature string is
// malformed.
type InvalidSignatureError struct {
	Signature string
	Reason    string
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid DBus signature %q: %s", e.Signature, e.Reason)
}

// SignatureBodyMismatchError is returned when an outgoing value tree
// does not conform to the signature it claims.
type SignatureBodyMismatchError struct {
	Signature Signature
	Reason    string
}

func (e *SignatureBodyMismatchError) Error() string {
	return fmt.Sprintf("value does not conform to signature %q: %s", e.Signature, e.Reason)
}

// InvalidAddressError is returned when a DBus server address string
// is malformed.
type InvalidAddressError struct {
	Address string
	Reason  string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid DBus address %q: %s", e.Address, e.Reason)
}

// AuthError is returned when the SASL authentication handshake fails.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("DBus authentication failed: %s", e.Reason)
}

// InvalidMessageError is returned when an incoming message violates
// the wire protocol. Encountering one of these is always fatal to the
// connection it came from, since the stream can no longer be trusted
// to be correctly framed.
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid DBus message: %s", e.Reason)
}

// InvalidIntrospectionError is returned when introspection XML cannot
// be parsed into the interface/method/signal/property model.
type InvalidIntrospectionError struct {
	Reason string
}

func (e *InvalidIntrospectionError) Error() string {
	return fmt.Sprintf("invalid introspection XML: %s", e.Reason)
}

// InvalidBusNameError is returned when a bus name fails validation.
type InvalidBusNameError struct{ Name string }

func (e *InvalidBusNameError) Error() string {
	return fmt.Sprintf("invalid DBus bus name %q", e.Name)
}

// InvalidObjectPathError is returned when an object path fails
// validation.
type InvalidObjectPathError struct{ Path string }

func (e *InvalidObjectPathError) Error() string {
	return fmt.Sprintf("invalid DBus object path %q", e.Path)
}

// InvalidInterfaceNameError is returned when an interface name fails
// validation.
type InvalidInterfaceNameError struct{ Name string }

func (e *InvalidInterfaceNameError) Error() string {
	return fmt.Sprintf("invalid DBus interface name %q", e.Name)
}

// InvalidMemberNameError is returned when a method, signal, or
// property name fails validation.
type InvalidMemberNameError struct{ Name string }

func (e *InvalidMemberNameError) Error() string {
	return fmt.Sprintf("invalid DBus member name %q", e.Name)
}

// InterfaceNotFoundError is returned by the proxy layer when the
// requested interface is absent from the object's introspection data.
type InterfaceNotFoundError struct{ Interface string }

func (e *InterfaceNotFoundError) Error() string {
	return fmt.Sprintf("interface %q not found in introspection data", e.Interface)
}

// SignalDisabledError is returned by the proxy layer when subscribing
// to a signal the introspection data says the object never emits.
type SignalDisabledError struct{ Interface, Signal string }

func (e *SignalDisabledError) Error() string {
	return fmt.Sprintf("signal %s.%s is not offered by this object", e.Interface, e.Signal)
}

// DBusError represents an ERROR reply received from a remote peer in
// response to a method call.
type DBusError struct {
	// Name is the DBus error name, e.g. "org.freedesktop.DBus.Error.Failed".
	Name string
	// Message is the human-readable explanation the peer attached, if
	// the error body's first field was a string.
	Message string
	// Reply is the whole ERROR message, for callers that need more
	// than the leading string argument of its body.
	Reply *Message
}

func (e *DBusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dbus error %s", e.Name)
	}
	return fmt.Sprintf("dbus error %s: %s", e.Name, e.Message)
}

// Is reports whether target is a *DBusError with the same Name,
// allowing callers to match specific remote error names with
// errors.Is(err, &DBusError{Name: "..."}).
func (e *DBusError) Is(target error) bool {
	other, ok := target.(*DBusError)
	return ok && other.Name == e.Name
}

// Well-known error names defined by the DBus specification.
const (
	ErrNoReply         = "org.freedesktop.DBus.Error.NoReply"
	ErrFailed          = "org.freedesktop.DBus.Error.Failed"
	ErrUnknownObject   = "org.freedesktop.DBus.Error.UnknownObject"
	ErrUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrUnknownMethod   = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrUnknownProperty = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrInvalidArgs     = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrNameHasNoOwner  = "org.freedesktop.DBus.Error.NameHasNoOwner"
	ErrServiceUnknown  = "org.freedesktop.DBus.Error.ServiceUnknown"
)

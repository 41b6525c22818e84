package dbus

import (
	"bytes"
	"io"

	"github.com/vesperbus/dbus/fragments"
)

// MessageType identifies one of the four kinds of DBus message.
type MessageType uint8

const (
	TypeMethodCall MessageType = 1
	TypeMethodReturn MessageType = 2
	TypeError      MessageType = 3
	TypeSignal     MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case TypeMethodCall:
		return "method_call"
	case TypeMethodReturn:
		return "method_return"
	case TypeError:
		return "error"
	case TypeSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// Flags is a bitset of per-message behavioral flags.
type Flags uint8

const (
	FlagNoReplyExpected Flags = 1 << iota
	FlagNoAutoStart
	FlagAllowInteractiveAuth
)

// headerFieldCode identifies one of the sparse optional header
// fields attached to a message.
type headerFieldCode uint8

const (
	fieldPath headerFieldCode = 1 + iota
	fieldInterface
	fieldMember
	fieldErrorName
	fieldReplySerial
	fieldDestination
	fieldSender
	fieldSignature
	fieldUnixFDs
)

const protocolVersion = 1
const maxBodyLength = 128 * 1024 * 1024

// A Message is an immutable record of one DBus protocol message: a
// method call, method return, error, or signal.
type Message struct {
	Type   MessageType
	Serial uint32
	Flags  Flags

	Path        string
	Interface   string
	Member      string
	ErrorName   string
	ReplySerial uint32
	Destination string
	Sender      string

	Signature Signature
	Body      []Value

	// NumFDs is the number of unix file descriptors attached
	// out-of-band alongside this message. The descriptors themselves
	// travel over the transport's ancillary-data channel, not in Body.
	NumFDs uint32
}

// Valid reports whether m carries the header fields its Type
// requires.
func (m *Message) Valid() error {
	switch m.Type {
	case TypeMethodCall:
		if m.Member == "" {
			return &InvalidMessageError{"method_call missing MEMBER header field"}
		}
	case TypeMethodReturn:
		if m.ReplySerial == 0 {
			return &InvalidMessageError{"method_return missing REPLY_SERIAL header field"}
		}
	case TypeError:
		if m.ReplySerial == 0 {
			return &InvalidMessageError{"error missing REPLY_SERIAL header field"}
		}
		if m.ErrorName == "" {
			return &InvalidMessageError{"error missing ERROR_NAME header field"}
		}
	case TypeSignal:
		if m.Path == "" || m.Interface == "" || m.Member == "" {
			return &InvalidMessageError{"signal missing PATH, INTERFACE, or MEMBER header field"}
		}
	default:
		return &InvalidMessageError{"unknown message type"}
	}
	return nil
}

// Marshal serializes m to the DBus wire format using the given byte
// order, returning the full message bytes (header and body).
func Marshal(order fragments.ByteOrder, m *Message) ([]byte, error) {
	if err := m.Valid(); err != nil {
		return nil, err
	}

	body := &fragments.Encoder{Order: order}
	for i, v := range m.Body {
		if err := marshal(body, m.Signature.types[i], v); err != nil {
			return nil, err
		}
	}
	if len(body.Out) > maxBodyLength {
		return nil, &InvalidMessageError{"body exceeds 128 MiB"}
	}

	hdr := &fragments.Encoder{Order: order}
	hdr.ByteOrderFlag()
	hdr.Uint8(uint8(m.Type))
	hdr.Uint8(uint8(m.Flags))
	hdr.Uint8(protocolVersion)
	hdr.Uint32(uint32(len(body.Out)))
	hdr.Uint32(m.Serial)

	if err := hdr.Array(8, func() error {
		if m.Path != "" {
			writeHeaderField(hdr, fieldPath, basicTypes[KindObjectPath], ObjPath(m.Path))
		}
		if m.Interface != "" {
			writeHeaderField(hdr, fieldInterface, basicTypes[KindString], Str(m.Interface))
		}
		if m.Member != "" {
			writeHeaderField(hdr, fieldMember, basicTypes[KindString], Str(m.Member))
		}
		if m.ErrorName != "" {
			writeHeaderField(hdr, fieldErrorName, basicTypes[KindString], Str(m.ErrorName))
		}
		if m.ReplySerial != 0 {
			writeHeaderField(hdr, fieldReplySerial, basicTypes[KindUint32], Uint32(m.ReplySerial))
		}
		if m.Destination != "" {
			writeHeaderField(hdr, fieldDestination, basicTypes[KindString], Str(m.Destination))
		}
		if m.Sender != "" {
			writeHeaderField(hdr, fieldSender, basicTypes[KindString], Str(m.Sender))
		}
		if !m.Signature.Empty() {
			writeHeaderField(hdr, fieldSignature, basicTypes[KindSignature], Sig(m.Signature))
		}
		if m.NumFDs != 0 {
			writeHeaderField(hdr, fieldUnixFDs, basicTypes[KindUint32], Uint32(m.NumFDs))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	hdr.Pad(8)

	out := append(hdr.Out, body.Out...)
	return out, nil
}

func writeHeaderField(enc *fragments.Encoder, code headerFieldCode, t *Type, v Value) {
	enc.Struct(func() error {
		enc.Uint8(uint8(code))
		sig := Signature{[]*Type{t}}
		enc.Bytes8([]byte(sig.String()))
		return marshal(enc, t, v)
	})
}

// Unmarshal reads one complete message from r. It blocks until either
// a full message has been read or an error (including io.EOF)
// occurs.
func Unmarshal(r io.Reader) (*Message, error) {
	prefix := make([]byte, 16)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}

	order, ok := fragments.OrderFor(prefix[0])
	if !ok {
		return nil, &InvalidMessageError{"unrecognized endian flag"}
	}
	typ := MessageType(prefix[1])
	flags := Flags(prefix[2])
	if prefix[3] != protocolVersion {
		return nil, &InvalidMessageError{"unsupported protocol version"}
	}
	bodyLen := order.Uint32(prefix[4:8])
	serial := order.Uint32(prefix[8:12])
	if bodyLen > maxBodyLength {
		return nil, &InvalidMessageError{"declared body length exceeds 128 MiB"}
	}

	// The header field array's u32 length is the last 4 bytes of the
	// prefix. Replay the prefix through dec and skip its first 12 bytes,
	// so that dec reads that length itself and its alignment offset
	// matches the message's.
	dec := &fragments.Decoder{Order: order, In: io.MultiReader(bytes.NewReader(prefix), r)}
	if _, err := dec.Read(12); err != nil {
		return nil, err
	}
	m := &Message{Type: typ, Serial: serial, Flags: flags}

	var sawSig Signature
	_, err := dec.Array(8, 0, func(i int) error {
		return dec.Struct(func() error {
			code, err := dec.Uint8()
			if err != nil {
				return err
			}
			sigBytes, err := dec.Bytes8()
			if err != nil {
				return err
			}
			sig, err := ParseSignature(string(sigBytes))
			if err != nil {
				return err
			}
			if len(sig.types) != 1 {
				return &InvalidMessageError{"header field signature must be a single type"}
			}
			v, err := unmarshal(dec, sig.types[0])
			if err != nil {
				return err
			}
			switch headerFieldCode(code) {
			case fieldPath:
				m.Path = v.Str()
			case fieldInterface:
				m.Interface = v.Str()
			case fieldMember:
				m.Member = v.Str()
			case fieldErrorName:
				m.ErrorName = v.Str()
			case fieldReplySerial:
				m.ReplySerial = v.Uint32()
			case fieldDestination:
				m.Destination = v.Str()
			case fieldSender:
				m.Sender = v.Str()
			case fieldSignature:
				sawSig, err = ParseSignature(v.Str())
				if err != nil {
					return err
				}
			case fieldUnixFDs:
				m.NumFDs = v.Uint32()
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Pad(8); err != nil {
		return nil, err
	}

	m.Signature = sawSig
	if bodyLen > 0 || !sawSig.Empty() {
		body := make([]Value, len(sawSig.types))
		for i, t := range sawSig.types {
			v, err := unmarshal(dec, t)
			if err != nil {
				return nil, err
			}
			body[i] = v
		}
		m.Body = body
	}

	if err := m.Valid(); err != nil {
		return nil, err
	}
	return m, nil
}

package dbus

import (
	"math"
	"unicode/utf8"

	"github.com/vesperbus/dbus/fragments"
)

func doubleToBits(f float64) uint64 { return math.Float64bits(f) }
func bitsToDouble(u uint64) float64 { return math.Float64frombits(u) }

const maxArrayBytes = 64 * 1024 * 1024

// marshal appends the wire encoding of v, whose shape must conform to
// t, to enc.
func marshal(enc *fragments.Encoder, t *Type, v Value) error {
	switch t.kind {
	case KindByte:
		enc.Uint8(v.Byte())
	case KindBool:
		var u uint32
		if v.Bool() {
			u = 1
		}
		enc.Uint32(u)
	case KindInt16:
		enc.Uint16(uint16(v.Int16()))
	case KindUint16:
		enc.Uint16(v.Uint16())
	case KindInt32:
		enc.Uint32(uint32(v.Int32()))
	case KindUint32:
		enc.Uint32(v.Uint32())
	case KindInt64:
		enc.Uint64(uint64(v.Int64()))
	case KindUint64:
		enc.Uint64(v.Uint64())
	case KindDouble:
		enc.Uint64(doubleToBits(v.Double()))
	case KindUnixFD:
		enc.Uint32(v.UnixFD())
	case KindString:
		s := v.Str()
		if !utf8.ValidString(s) {
			return &SignatureBodyMismatchError{Signature{[]*Type{t}}, "string is not valid UTF-8"}
		}
		enc.String(s)
	case KindObjectPath:
		p := v.Str()
		if !ValidObjectPath(p) {
			return &InvalidObjectPathError{p}
		}
		enc.String(p)
	case KindSignature:
		if len(v.Str()) > 255 {
			return &SignatureBodyMismatchError{Signature{[]*Type{t}}, "signature longer than 255 bytes"}
		}
		enc.Bytes8([]byte(v.Str()))
	case KindVariant:
		inner := v.VariantValue()
		innerType := v.VariantType()
		sig := Signature{[]*Type{innerType}}
		enc.Bytes8([]byte(sig.String()))
		return marshal(enc, innerType, inner)
	case KindArray:
		return marshalArray(enc, t.elem, v)
	case KindStruct:
		return enc.Struct(func() error {
			for i, f := range v.Elems() {
				if err := marshal(enc, t.fields[i], f); err != nil {
					return err
				}
			}
			return nil
		})
	case KindDictEntry:
		return enc.Struct(func() error {
			if err := marshal(enc, t.key, v.DictKey()); err != nil {
				return err
			}
			return marshal(enc, t.elem, v.DictValue())
		})
	}
	return nil
}

func marshalArray(enc *fragments.Encoder, elemType *Type, v Value) error {
	elems := v.Elems()
	return enc.Array(elemType.Align(), func() error {
		start := len(enc.Out)
		for _, e := range elems {
			if err := marshal(enc, elemType, e); err != nil {
				return err
			}
		}
		if len(enc.Out)-start > maxArrayBytes {
			return &SignatureBodyMismatchError{Signature{[]*Type{elemType}}, "array exceeds 64 MiB"}
		}
		return nil
	})
}

package dbus

import (
	"fmt"
	"unicode/utf8"

	"github.com/vesperbus/dbus/fragments"
)

// unmarshal reads a value of type t from dec.
func unmarshal(dec *fragments.Decoder, t *Type) (Value, error) {
	switch t.kind {
	case KindByte:
		b, err := dec.Uint8()
		return Byte(b), err
	case KindBool:
		u, err := dec.Uint32()
		if err != nil {
			return Value{}, err
		}
		if u > 1 {
			return Value{}, &InvalidMessageError{"boolean value is neither 0 nor 1"}
		}
		return Bool(u == 1), nil
	case KindInt16:
		u, err := dec.Uint16()
		return Int16(int16(u)), err
	case KindUint16:
		u, err := dec.Uint16()
		return Uint16(u), err
	case KindInt32:
		u, err := dec.Uint32()
		return Int32(int32(u)), err
	case KindUint32:
		u, err := dec.Uint32()
		return Uint32(u), err
	case KindInt64:
		u, err := dec.Uint64()
		return Int64(int64(u)), err
	case KindUint64:
		u, err := dec.Uint64()
		return Uint64(u), err
	case KindDouble:
		u, err := dec.Uint64()
		if err != nil {
			return Value{}, err
		}
		return Double(bitsToDouble(u)), nil
	case KindUnixFD:
		u, err := dec.Uint32()
		return UnixFD(u), err
	case KindString:
		s, err := dec.String()
		if err != nil {
			return Value{}, err
		}
		if !utf8.ValidString(s) {
			return Value{}, &InvalidMessageError{"string is not valid UTF-8"}
		}
		return Str(s), nil
	case KindObjectPath:
		s, err := dec.String()
		if err != nil {
			return Value{}, err
		}
		if !ValidObjectPath(s) {
			return Value{}, &InvalidObjectPathError{s}
		}
		return ObjPath(s), nil
	case KindSignature:
		bs, err := dec.Bytes8()
		if err != nil {
			return Value{}, err
		}
		sig, err := ParseSignature(string(bs))
		if err != nil {
			return Value{}, err
		}
		return Sig(sig), nil
	case KindVariant:
		return unmarshalVariant(dec)
	case KindArray:
		return unmarshalArray(dec, t.elem)
	case KindStruct:
		fields := make([]Value, len(t.fields))
		err := dec.Struct(func() error {
			for i, ft := range t.fields {
				v, err := unmarshal(dec, ft)
				if err != nil {
					return err
				}
				fields[i] = v
			}
			return nil
		})
		if err != nil {
			return Value{}, err
		}
		return Struct(fields...), nil
	case KindDictEntry:
		var key, val Value
		err := dec.Struct(func() error {
			var err error
			key, err = unmarshal(dec, t.key)
			if err != nil {
				return err
			}
			val, err = unmarshal(dec, t.elem)
			return err
		})
		if err != nil {
			return Value{}, err
		}
		return DictEntryOf(key, val), nil
	default:
		return Value{}, &InvalidMessageError{"unknown type kind"}
	}
}

func unmarshalVariant(dec *fragments.Decoder) (Value, error) {
	bs, err := dec.Bytes8()
	if err != nil {
		return Value{}, err
	}
	sig, err := ParseSignature(string(bs))
	if err != nil {
		return Value{}, err
	}
	if len(sig.types) != 1 {
		return Value{}, &InvalidMessageError{"variant signature must describe exactly one type"}
	}
	inner, err := unmarshal(dec, sig.types[0])
	if err != nil {
		return Value{}, err
	}
	return VariantOf(sig.types[0], inner), nil
}

// unmarshalArray reads an array of elemType, collapsing dict-entry
// elements into a deduplicated sequence where later entries override
// earlier ones with the same key, matching DBus's map semantics.
func unmarshalArray(dec *fragments.Decoder, elemType *Type) (Value, error) {
	var elems []Value
	_, err := dec.Array(elemType.Align(), maxArrayBytes, func(i int) error {
		v, err := unmarshal(dec, elemType)
		if err != nil {
			return err
		}
		elems = append(elems, v)
		return nil
	})
	if err != nil {
		return Value{}, err
	}
	if elemType.kind == KindDictEntry {
		elems = dedupDictEntries(elems)
	}
	return Arr(elemType, elems), nil
}

// dedupDictEntries keeps only the last entry for each distinct key,
// preserving the position of that last occurrence.
func dedupDictEntries(entries []Value) []Value {
	lastIdx := make(map[string]int, len(entries))
	keys := make([]string, len(entries))
	for i, e := range entries {
		k := dictKeyString(e.DictKey())
		keys[i] = k
		lastIdx[k] = i
	}
	out := make([]Value, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		k := keys[i]
		if lastIdx[k] != i || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

func dictKeyString(v Value) string {
	switch v.kind {
	case KindString, KindObjectPath, KindSignature:
		return v.Str()
	case KindDouble:
		return fmt.Sprintf("%x", doubleToBits(v.f64))
	default:
		// All keys in a single dict-entry array share a type, so the
		// raw bit pattern alone is enough to distinguish them.
		return fmt.Sprintf("%x", v.u64)
	}
}

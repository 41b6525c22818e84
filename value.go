package dbus

import "fmt"

// A Value is a dynamically typed DBus value: one instance of the
// tagged union described by the DBus type grammar. Every Value
// carries enough information to know which alternative it is; its
// Type is typically also known from context (a Signature, or a
// container Value's element type).
type Value struct {
	kind Kind

	// Scalar payloads. Only one is meaningful, selected by kind.
	u64 uint64
	f64 float64
	str string

	// Container payloads.
	elems   []Value // Array and Struct
	variant *Type   // Variant's declared inner type, or Array's element type
	entry   *[2]Value
}

// Byte returns a Value wrapping a DBus byte.
func Byte(v uint8) Value { return Value{kind: KindByte, u64: uint64(v)} }

// Bool returns a Value wrapping a DBus boolean.
func Bool(v bool) Value {
	var u uint64
	if v {
		u = 1
	}
	return Value{kind: KindBool, u64: u}
}

// Int16 returns a Value wrapping a DBus int16.
func Int16(v int16) Value { return Value{kind: KindInt16, u64: uint64(uint16(v))} }

// Uint16 returns a Value wrapping a DBus uint16.
func Uint16(v uint16) Value { return Value{kind: KindUint16, u64: uint64(v)} }

// Int32 returns a Value wrapping a DBus int32.
func Int32(v int32) Value { return Value{kind: KindInt32, u64: uint64(uint32(v))} }

// Uint32 returns a Value wrapping a DBus uint32.
func Uint32(v uint32) Value { return Value{kind: KindUint32, u64: uint64(v)} }

// Int64 returns a Value wrapping a DBus int64.
func Int64(v int64) Value { return Value{kind: KindInt64, u64: uint64(v)} }

// Uint64 returns a Value wrapping a DBus uint64.
func Uint64(v uint64) Value { return Value{kind: KindUint64, u64: v} }

// Double returns a Value wrapping a DBus double.
func Double(v float64) Value { return Value{kind: KindDouble, f64: v} }

// UnixFD returns a Value wrapping a DBus unix-fd index.
func UnixFD(v uint32) Value { return Value{kind: KindUnixFD, u64: uint64(v)} }

// Str returns a Value wrapping a DBus string.
func Str(v string) Value { return Value{kind: KindString, str: v} }

// ObjPath returns a Value wrapping a DBus object path.
func ObjPath(v string) Value { return Value{kind: KindObjectPath, str: v} }

// Sig returns a Value wrapping a DBus signature.
func Sig(v Signature) Value { return Value{kind: KindSignature, str: v.String()} }

// Arr returns a Value wrapping a DBus array. elemType is the type of
// every element in elems.
func Arr(elemType *Type, elems []Value) Value {
	return Value{kind: KindArray, variant: elemType, elems: elems}
}

// Struct returns a Value wrapping a DBus struct.
func Struct(fields ...Value) Value {
	return Value{kind: KindStruct, elems: fields}
}

// VariantOf returns a Value wrapping a DBus variant: an inner value
// tagged with its own type.
func VariantOf(innerType *Type, inner Value) Value {
	return Value{kind: KindVariant, variant: innerType, elems: []Value{inner}}
}

// DictEntryOf returns a Value wrapping a DBus dict-entry.
func DictEntryOf(key, val Value) Value {
	return Value{kind: KindDictEntry, entry: &[2]Value{key, val}}
}

// Kind returns which alternative of the DBus type grammar v is.
func (v Value) Kind() Kind { return v.kind }

// Byte returns the byte payload of v. It panics if v is not a byte.
func (v Value) Byte() uint8 { v.mustBe(KindByte); return uint8(v.u64) }

// Bool returns the bool payload of v. It panics if v is not a bool.
func (v Value) Bool() bool { v.mustBe(KindBool); return v.u64 != 0 }

// Int16 returns the int16 payload of v.
func (v Value) Int16() int16 { v.mustBe(KindInt16); return int16(v.u64) }

// Uint16 returns the uint16 payload of v.
func (v Value) Uint16() uint16 { v.mustBe(KindUint16); return uint16(v.u64) }

// Int32 returns the int32 payload of v.
func (v Value) Int32() int32 { v.mustBe(KindInt32); return int32(v.u64) }

// Uint32 returns the uint32 payload of v.
func (v Value) Uint32() uint32 { v.mustBe(KindUint32); return uint32(v.u64) }

// Int64 returns the int64 payload of v.
func (v Value) Int64() int64 { v.mustBe(KindInt64); return int64(v.u64) }

// Uint64 returns the uint64 payload of v.
func (v Value) Uint64() uint64 {
	if v.kind != KindUint64 && v.kind != KindUnixFD {
		panic(fmt.Sprintf("Uint64 called on %s value", v.kind))
	}
	return v.u64
}

// Double returns the float64 payload of v.
func (v Value) Double() float64 { v.mustBe(KindDouble); return v.f64 }

// UnixFD returns the unix-fd index payload of v.
func (v Value) UnixFD() uint32 { v.mustBe(KindUnixFD); return uint32(v.u64) }

// Str returns the string payload of v. Valid for String, ObjectPath,
// and Signature values.
func (v Value) Str() string {
	switch v.kind {
	case KindString, KindObjectPath, KindSignature:
		return v.str
	default:
		panic(fmt.Sprintf("Str called on %s value", v.kind))
	}
}

// Elems returns the element values of an Array or Struct value.
func (v Value) Elems() []Value {
	switch v.kind {
	case KindArray, KindStruct:
		return v.elems
	default:
		panic(fmt.Sprintf("Elems called on %s value", v.kind))
	}
}

// ElemType returns the declared element type of an Array value.
func (v Value) ElemType() *Type { v.mustBe(KindArray); return v.variant }

// VariantType returns the inner type of a Variant value.
func (v Value) VariantType() *Type { v.mustBe(KindVariant); return v.variant }

// VariantValue returns the inner value of a Variant value.
func (v Value) VariantValue() Value { v.mustBe(KindVariant); return v.elems[0] }

// DictKey returns the key half of a DictEntry value.
func (v Value) DictKey() Value { v.mustBe(KindDictEntry); return v.entry[0] }

// DictValue returns the value half of a DictEntry value.
func (v Value) DictValue() Value { v.mustBe(KindDictEntry); return v.entry[1] }

func (v Value) mustBe(k Kind) {
	if v.kind != k {
		panic(fmt.Sprintf("wrong accessor: value is %s, not %s", v.kind, k))
	}
}

// Type returns the full Type tree describing v's shape.
func (v Value) Type() *Type {
	switch v.kind {
	case KindArray:
		return &Type{kind: KindArray, elem: v.variant}
	case KindStruct:
		fields := make([]*Type, len(v.elems))
		for i, e := range v.elems {
			fields[i] = e.Type()
		}
		return &Type{kind: KindStruct, fields: fields}
	case KindVariant:
		return basicTypes[KindVariant]
	case KindDictEntry:
		return &Type{kind: KindDictEntry, key: v.entry[0].Type(), elem: v.entry[1].Type()}
	default:
		return basicTypes[v.kind]
	}
}

// conformsTo reports whether v's shape matches t, recursively.
func (v Value) conformsTo(t *Type) bool {
	if v.kind != t.kind {
		return false
	}
	switch t.kind {
	case KindArray:
		for _, e := range v.elems {
			if !e.conformsTo(t.elem) {
				return false
			}
		}
		return true
	case KindStruct:
		if len(v.elems) != len(t.fields) {
			return false
		}
		for i, e := range v.elems {
			if !e.conformsTo(t.fields[i]) {
				return false
			}
		}
		return true
	case KindDictEntry:
		return v.entry[0].conformsTo(t.key) && v.entry[1].conformsTo(t.elem)
	case KindVariant:
		return true
	default:
		return true
	}
}

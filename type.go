package dbus

import (
	"fmt"
	"strings"
)

// Kind identifies which alternative of the DBus type grammar a Type
// represents.
type Kind int

const (
	KindByte Kind = iota
	KindBool
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindDouble
	KindUnixFD
	KindString
	KindObjectPath
	KindSignature
	KindArray
	KindStruct
	KindVariant
	KindDictEntry
)

func (k Kind) String() string {
	switch k {
	case KindByte:
		return "byte"
	case KindBool:
		return "bool"
	case KindInt16:
		return "int16"
	case KindUint16:
		return "uint16"
	case KindInt32:
		return "int32"
	case KindUint32:
		return "uint32"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindDouble:
		return "double"
	case KindUnixFD:
		return "unix-fd"
	case KindString:
		return "string"
	case KindObjectPath:
		return "object-path"
	case KindSignature:
		return "signature"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindVariant:
		return "variant"
	case KindDictEntry:
		return "dict-entry"
	default:
		return "unknown"
	}
}

// A Type is a node in a DBus type tree: either one of the basic
// types, or a composite (array, struct, variant, dict-entry) built
// out of other Types.
//
// Types are immutable once constructed and safe to share.
type Type struct {
	kind Kind

	// elem is the element type of an array, or the value type of a
	// dict-entry.
	elem *Type
	// key is the key type of a dict-entry.
	key *Type
	// fields holds the field types of a struct.
	fields []*Type
}

var basicTypes = map[Kind]*Type{
	KindByte:       {kind: KindByte},
	KindBool:       {kind: KindBool},
	KindInt16:      {kind: KindInt16},
	KindUint16:     {kind: KindUint16},
	KindInt32:      {kind: KindInt32},
	KindUint32:     {kind: KindUint32},
	KindInt64:      {kind: KindInt64},
	KindUint64:     {kind: KindUint64},
	KindDouble:     {kind: KindDouble},
	KindUnixFD:     {kind: KindUnixFD},
	KindString:     {kind: KindString},
	KindObjectPath: {kind: KindObjectPath},
	KindSignature:  {kind: KindSignature},
	KindVariant:    {kind: KindVariant},
}

// BasicType returns the shared Type instance for one of the basic
// (non-container) kinds, or for KindVariant. It panics if k is
// KindArray, KindStruct, or KindDictEntry, which have no fixed shape.
func BasicType(k Kind) *Type {
	t, ok := basicTypes[k]
	if !ok {
		panic(fmt.Sprintf("%s is not a basic type", k))
	}
	return t
}

// Kind returns which grammar alternative t is.
func (t *Type) Kind() Kind { return t.kind }

// Elem returns the element type of an array Type, or the value type
// of a dict-entry Type. It panics for any other kind.
func (t *Type) Elem() *Type {
	switch t.kind {
	case KindArray, KindDictEntry:
		return t.elem
	default:
		panic(fmt.Sprintf("Elem called on %s type", t.kind))
	}
}

// Key returns the key type of a dict-entry Type. It panics for any
// other kind.
func (t *Type) Key() *Type {
	if t.kind != KindDictEntry {
		panic(fmt.Sprintf("Key called on %s type", t.kind))
	}
	return t.key
}

// Fields returns the field types of a struct Type. It panics for any
// other kind.
func (t *Type) Fields() []*Type {
	if t.kind != KindStruct {
		panic(fmt.Sprintf("Fields called on %s type", t.kind))
	}
	return t.fields
}

// IsBasic reports whether t is one of the basic (non-container)
// types.
func (t *Type) IsBasic() bool {
	switch t.kind {
	case KindArray, KindStruct, KindDictEntry, KindVariant:
		return false
	default:
		return true
	}
}

// Align returns the wire alignment, in bytes, required before a value
// of this type.
func (t *Type) Align() int {
	switch t.kind {
	case KindByte, KindSignature, KindVariant:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindBool, KindInt32, KindUint32, KindUnixFD, KindString, KindObjectPath, KindArray:
		return 4
	case KindInt64, KindUint64, KindDouble, KindStruct, KindDictEntry:
		return 8
	default:
		panic(fmt.Sprintf("unhandled kind %s", t.kind))
	}
}

// String returns t's DBus signature string.
func (t *Type) String() string {
	var sb strings.Builder
	t.appendString(&sb)
	return sb.String()
}

func (t *Type) appendString(sb *strings.Builder) {
	switch t.kind {
	case KindByte:
		sb.WriteByte('y')
	case KindBool:
		sb.WriteByte('b')
	case KindInt16:
		sb.WriteByte('n')
	case KindUint16:
		sb.WriteByte('q')
	case KindInt32:
		sb.WriteByte('i')
	case KindUint32:
		sb.WriteByte('u')
	case KindInt64:
		sb.WriteByte('x')
	case KindUint64:
		sb.WriteByte('t')
	case KindDouble:
		sb.WriteByte('d')
	case KindUnixFD:
		sb.WriteByte('h')
	case KindString:
		sb.WriteByte('s')
	case KindObjectPath:
		sb.WriteByte('o')
	case KindSignature:
		sb.WriteByte('g')
	case KindVariant:
		sb.WriteByte('v')
	case KindArray:
		sb.WriteByte('a')
		t.elem.appendString(sb)
	case KindDictEntry:
		sb.WriteByte('{')
		t.key.appendString(sb)
		t.elem.appendString(sb)
		sb.WriteByte('}')
	case KindStruct:
		sb.WriteByte('(')
		for _, f := range t.fields {
			f.appendString(sb)
		}
		sb.WriteByte(')')
	}
}

// A Signature is an ordered sequence of complete Types, as found in a
// message body or a variant's wire type tag.
type Signature struct {
	types []*Type
}

// Types returns the ordered list of complete types in s.
func (s Signature) Types() []*Type { return s.types }

// Empty reports whether s has no types at all.
func (s Signature) Empty() bool { return len(s.types) == 0 }

// String returns s's DBus signature string.
func (s Signature) String() string {
	var sb strings.Builder
	for _, t := range s.types {
		t.appendString(&sb)
	}
	return sb.String()
}

const maxNestingDepth = 32

// ParseSignature parses a DBus type signature string into an ordered
// list of complete types.
func ParseSignature(sig string) (Signature, error) {
	if len(sig) > 255 {
		return Signature{}, &InvalidSignatureError{sig, "signature longer than 255 bytes"}
	}
	var types []*Type
	rest := sig
	for rest != "" {
		t, remainder, err := parseOne(sig, rest, false, 0, 0)
		if err != nil {
			return Signature{}, err
		}
		types = append(types, t)
		rest = remainder
	}
	return Signature{types}, nil
}

func mustParseSignature(sig string) Signature {
	s, err := ParseSignature(sig)
	if err != nil {
		panic(err)
	}
	return s
}

var basicCodes = map[byte]Kind{
	'y': KindByte,
	'b': KindBool,
	'n': KindInt16,
	'q': KindUint16,
	'i': KindInt32,
	'u': KindUint32,
	'x': KindInt64,
	't': KindUint64,
	'd': KindDouble,
	'h': KindUnixFD,
	's': KindString,
	'o': KindObjectPath,
	'g': KindSignature,
	'v': KindVariant,
}

// parseOne consumes the first complete type from the front of rest,
// and returns the parsed Type along with the unconsumed remainder.
// full is the original signature string, kept around for error
// messages. arrayDepth and structDepth track nesting for the combined
// 32+32 depth limit.
func parseOne(full, rest string, inArray bool, arrayDepth, structDepth int) (*Type, string, error) {
	if rest == "" {
		return nil, "", &InvalidSignatureError{full, "unexpected end of signature"}
	}
	if arrayDepth+structDepth > maxNestingDepth*2 {
		return nil, "", &InvalidSignatureError{full, "nesting depth exceeds 32 arrays + 32 structs"}
	}

	c := rest[0]
	if kind, ok := basicCodes[c]; ok {
		return basicTypes[kind], rest[1:], nil
	}

	switch c {
	case 'a':
		if arrayDepth+1 > maxNestingDepth {
			return nil, "", &InvalidSignatureError{full, "array nesting exceeds 32"}
		}
		if len(rest) > 1 && rest[1] == '{' {
			elem, remainder, err := parseDictEntry(full, rest[1:], arrayDepth+1, structDepth)
			if err != nil {
				return nil, "", err
			}
			return &Type{kind: KindArray, elem: elem}, remainder, nil
		}
		elem, remainder, err := parseOne(full, rest[1:], true, arrayDepth+1, structDepth)
		if err != nil {
			return nil, "", err
		}
		return &Type{kind: KindArray, elem: elem}, remainder, nil
	case '(':
		if structDepth+1 > maxNestingDepth {
			return nil, "", &InvalidSignatureError{full, "struct nesting exceeds 32"}
		}
		var fields []*Type
		remainder := rest[1:]
		for remainder != "" && remainder[0] != ')' {
			var (
				field *Type
				err   error
			)
			field, remainder, err = parseOne(full, remainder, false, arrayDepth, structDepth+1)
			if err != nil {
				return nil, "", err
			}
			fields = append(fields, field)
		}
		if remainder == "" {
			return nil, "", &InvalidSignatureError{full, "missing closing ) in struct"}
		}
		if len(fields) == 0 {
			return nil, "", &InvalidSignatureError{full, "struct must have at least one field"}
		}
		return &Type{kind: KindStruct, fields: fields}, remainder[1:], nil
	case '{':
		return nil, "", &InvalidSignatureError{full, "dict entry type found outside array"}
	default:
		return nil, "", &InvalidSignatureError{full, fmt.Sprintf("unknown type code %q", c)}
	}
}

func parseDictEntry(full, rest string, arrayDepth, structDepth int) (*Type, string, error) {
	if structDepth+1 > maxNestingDepth {
		return nil, "", &InvalidSignatureError{full, "struct nesting exceeds 32"}
	}
	key, remainder, err := parseOne(full, rest[1:], false, arrayDepth, structDepth+1)
	if err != nil {
		return nil, "", err
	}
	if !key.IsBasic() {
		return nil, "", &InvalidSignatureError{full, "dict entry key must be a basic type"}
	}
	val, remainder, err := parseOne(full, remainder, false, arrayDepth, structDepth+1)
	if err != nil {
		return nil, "", err
	}
	if remainder == "" || remainder[0] != '}' {
		return nil, "", &InvalidSignatureError{full, "missing closing } in dict entry"}
	}
	return &Type{kind: KindDictEntry, key: key, elem: val}, remainder[1:], nil
}

package dbus

import "testing"

func TestValueAccessors(t *testing.T) {
	if v := Byte(42); v.Byte() != 42 {
		t.Errorf("Byte round trip: got %d", v.Byte())
	}
	if v := Bool(true); !v.Bool() {
		t.Errorf("Bool(true).Bool() = false")
	}
	if v := Bool(false); v.Bool() {
		t.Errorf("Bool(false).Bool() = true")
	}
	if v := Int16(-7); v.Int16() != -7 {
		t.Errorf("Int16 round trip: got %d", v.Int16())
	}
	if v := Uint64(1 << 40); v.Uint64() != 1<<40 {
		t.Errorf("Uint64 round trip: got %d", v.Uint64())
	}
	if v := UnixFD(3); v.Uint64() != 3 {
		t.Errorf("UnixFD readable via Uint64: got %d", v.Uint64())
	}
	if v := Double(3.5); v.Double() != 3.5 {
		t.Errorf("Double round trip: got %v", v.Double())
	}
	if v := Str("hello"); v.Str() != "hello" {
		t.Errorf("Str round trip: got %q", v.Str())
	}
	if v := ObjPath("/a/b"); v.Str() != "/a/b" {
		t.Errorf("ObjPath round trip: got %q", v.Str())
	}
}

func TestValueAccessorPanicsOnWrongKind(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Int32() on a string Value did not panic")
		}
	}()
	Str("x").Int32()
}

func TestValueContainerAccessors(t *testing.T) {
	arr := Arr(BasicType(KindInt32), []Value{Int32(1), Int32(2), Int32(3)})
	if len(arr.Elems()) != 3 {
		t.Fatalf("got %d elements, want 3", len(arr.Elems()))
	}
	if arr.ElemType().Kind() != KindInt32 {
		t.Errorf("ElemType = %v, want int32", arr.ElemType().Kind())
	}

	st := Struct(Str("a"), Int32(1))
	if len(st.Elems()) != 2 {
		t.Fatalf("got %d fields, want 2", len(st.Elems()))
	}

	va := VariantOf(BasicType(KindString), Str("inner"))
	if va.VariantType().Kind() != KindString {
		t.Errorf("VariantType = %v, want string", va.VariantType().Kind())
	}
	if va.VariantValue().Str() != "inner" {
		t.Errorf("VariantValue = %q, want %q", va.VariantValue().Str(), "inner")
	}

	de := DictEntryOf(Str("k"), Int32(7))
	if de.DictKey().Str() != "k" || de.DictValue().Int32() != 7 {
		t.Errorf("DictEntry round trip failed: %q %d", de.DictKey().Str(), de.DictValue().Int32())
	}
}

func TestValueType(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Byte(1), "y"},
		{Str("x"), "s"},
		{Arr(BasicType(KindInt32), nil), "ai"},
		{Struct(Str("a"), Int32(1)), "(si)"},
		{VariantOf(BasicType(KindInt32), Int32(1)), "v"},
		{DictEntryOf(Str("k"), Int32(1)), "{si}"},
	}
	for _, tc := range tests {
		if got := tc.v.Type().String(); got != tc.want {
			t.Errorf("Type().String() = %q, want %q", got, tc.want)
		}
	}
}

func TestValueConformsTo(t *testing.T) {
	arrType := mustParseSignature("ai").Types()[0]
	if !Arr(BasicType(KindInt32), []Value{Int32(1)}).conformsTo(arrType) {
		t.Error("ai array should conform to ai type")
	}
	if Arr(BasicType(KindString), []Value{Str("x")}).conformsTo(arrType) {
		t.Error("as array should not conform to ai type")
	}

	structType := mustParseSignature("(si)").Types()[0]
	if !Struct(Str("a"), Int32(1)).conformsTo(structType) {
		t.Error("(si) struct should conform")
	}
	if Struct(Str("a")).conformsTo(structType) {
		t.Error("wrong-arity struct should not conform")
	}
}

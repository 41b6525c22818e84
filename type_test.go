package dbus

import "testing"

func TestParseSignatureRoundTrip(t *testing.T) {
	sigs := []string{
		"",
		"y", "b", "n", "q", "i", "u", "x", "t", "d", "h", "s", "o", "g", "v",
		"ay", "as", "a(ii)", "a{sv}", "(ii)", "(iai)", "a{s(ii)}", "aa{sv}",
	}
	for _, s := range sigs {
		sig, err := ParseSignature(s)
		if err != nil {
			t.Errorf("ParseSignature(%q): %v", s, err)
			continue
		}
		if got := sig.String(); got != s {
			t.Errorf("ParseSignature(%q).String() = %q, want %q", s, got, s)
		}
	}
}

func TestParseSignatureErrors(t *testing.T) {
	bad := []string{
		"z",          // unknown code
		"(i",         // missing closing paren
		"()",         // empty struct
		"a{sv",       // missing closing brace
		"{sv}",       // dict entry outside array
		"a{" + "(i)v" + "}", // non-basic dict key
	}
	for _, s := range bad {
		if _, err := ParseSignature(s); err == nil {
			t.Errorf("ParseSignature(%q): got no error, want one", s)
		}
	}
}

func TestParseSignatureNestingLimit(t *testing.T) {
	// 33 levels of array nesting exceeds the 32-array cap.
	deep := ""
	for i := 0; i < 33; i++ {
		deep += "a"
	}
	deep += "y"
	if _, err := ParseSignature(deep); err == nil {
		t.Errorf("ParseSignature of 33-deep array nesting: got no error")
	}

	ok := ""
	for i := 0; i < 32; i++ {
		ok += "a"
	}
	ok += "y"
	if _, err := ParseSignature(ok); err != nil {
		t.Errorf("ParseSignature of 32-deep array nesting: %v", err)
	}
}

func TestTypeAlign(t *testing.T) {
	tests := []struct {
		sig  string
		want int
	}{
		{"y", 1}, {"g", 1}, {"v", 1},
		{"n", 2}, {"q", 2},
		{"b", 4}, {"i", 4}, {"u", 4}, {"h", 4}, {"s", 4}, {"o", 4}, {"as", 4},
		{"x", 8}, {"t", 8}, {"d", 8}, {"(i)", 8}, {"a{sv}", 4},
	}
	for _, tc := range tests {
		sig, err := ParseSignature(tc.sig)
		if err != nil {
			t.Fatalf("ParseSignature(%q): %v", tc.sig, err)
		}
		got := sig.Types()[0].Align()
		if got != tc.want {
			t.Errorf("Align(%q) = %d, want %d", tc.sig, got, tc.want)
		}
	}
}

func TestParseSignatureMultipleTypes(t *testing.T) {
	sig, err := ParseSignature("sii")
	if err != nil {
		t.Fatal(err)
	}
	types := sig.Types()
	if len(types) != 3 {
		t.Fatalf("got %d types, want 3", len(types))
	}
	if types[0].Kind() != KindString || types[1].Kind() != KindInt32 || types[2].Kind() != KindInt32 {
		t.Errorf("unexpected kinds: %v %v %v", types[0].Kind(), types[1].Kind(), types[2].Kind())
	}
}

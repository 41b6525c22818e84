package dbus

import "testing"

func TestValidBusName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"org.freedesktop.DBus", true},
		{":1.5", true},
		{":1.5.6", true},
		{"a.b", true},
		{"a", false},       // well-known names need >= 2 segments
		{"", false},
		{"a..b", false},    // empty segment
		{"1a.b", false},    // leading digit in non-unique segment
		{":1a.b", true},    // unique names allow a leading digit in their first segment
		{"a.b-c_d", true},
	}
	for _, tc := range tests {
		if got := ValidBusName(tc.name); got != tc.want {
			t.Errorf("ValidBusName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestValidObjectPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/foo", true},
		{"/foo/bar", true},
		{"/foo/bar_baz2", true},
		{"", false},
		{"foo", false},
		{"/foo/", false},
		{"/foo//bar", false},
		{"/foo.bar", false},
	}
	for _, tc := range tests {
		if got := ValidObjectPath(tc.path); got != tc.want {
			t.Errorf("ValidObjectPath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestValidInterfaceName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"org.freedesktop.DBus", true},
		{"a.b", true},
		{"a", false},
		{"", false},
		{"1a.b", false},
		{"a.1b", false},
		{"a..b", false},
	}
	for _, tc := range tests {
		if got := ValidInterfaceName(tc.name); got != tc.want {
			t.Errorf("ValidInterfaceName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestValidMemberName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"DoThing", true},
		{"_private", true},
		{"", false},
		{"1Thing", false},
		{"Do.Thing", false},
	}
	for _, tc := range tests {
		if got := ValidMemberName(tc.name); got != tc.want {
			t.Errorf("ValidMemberName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

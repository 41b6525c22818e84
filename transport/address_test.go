package transport

import "testing"

func TestParseAddressUnix(t *testing.T) {
	eps, err := ParseAddress("unix:path=/run/dbus/system_bus_socket")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if len(eps) != 1 || eps[0].Transport != "unix" || eps[0].Params["path"] != "/run/dbus/system_bus_socket" {
		t.Errorf("unexpected endpoints: %+v", eps)
	}
}

func TestParseAddressMultipleEndpoints(t *testing.T) {
	eps, err := ParseAddress("unix:path=/a;tcp:host=localhost,port=1234")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("got %d endpoints, want 2", len(eps))
	}
	if eps[0].Transport != "unix" || eps[1].Transport != "tcp" {
		t.Errorf("unexpected endpoint order: %+v", eps)
	}
	if eps[1].Params["host"] != "localhost" || eps[1].Params["port"] != "1234" {
		t.Errorf("unexpected tcp params: %+v", eps[1].Params)
	}
}

func TestParseAddressPercentEscapes(t *testing.T) {
	eps, err := ParseAddress("unix:path=/tmp/my%20socket")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if eps[0].Params["path"] != "/tmp/my socket" {
		t.Errorf("path = %q, want %q", eps[0].Params["path"], "/tmp/my socket")
	}
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"unixpath=/a",     // missing ':'
		"unix:path",       // missing '=' in parameter
	}
	for _, addr := range bad {
		if _, err := ParseAddress(addr); err == nil {
			t.Errorf("ParseAddress(%q): got no error", addr)
		}
	}
}

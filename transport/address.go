package transport

import (
	"context"
	"fmt"
	"strings"
)

// Endpoint is one parsed server address from a DBus address string,
// e.g. the pieces of "unix:path=/run/dbus/system_bus_socket".
type Endpoint struct {
	Transport string // "unix" or "tcp"
	Params    map[string]string
}

// ParseAddress parses a DBus server address string: a semicolon
// separated list of endpoints, each of the form
// "transport:key1=value1,key2=value2". Clients try each endpoint in
// order until one connects.
func ParseAddress(addr string) ([]Endpoint, error) {
	if addr == "" {
		return nil, fmt.Errorf("empty DBus address")
	}
	var ret []Endpoint
	for _, part := range strings.Split(addr, ";") {
		if part == "" {
			continue
		}
		kind, rest, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("malformed address entry %q", part)
		}
		ep := Endpoint{Transport: kind, Params: map[string]string{}}
		if rest != "" {
			for _, kv := range strings.Split(rest, ",") {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return nil, fmt.Errorf("malformed address parameter %q in %q", kv, part)
				}
				ep.Params[k] = unescapeAddrValue(v)
			}
		}
		ret = append(ret, ep)
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("no usable endpoints in address %q", addr)
	}
	return ret, nil
}

// unescapeAddrValue decodes the percent-escaping used for characters
// outside the address value's safe set.
func unescapeAddrValue(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			var b byte
			if _, err := fmt.Sscanf(s[i+1:i+3], "%02x", &b); err == nil {
				sb.WriteByte(b)
				i += 2
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// Dial tries each endpoint in order and returns the first transport
// that connects successfully.
func Dial(ctx context.Context, endpoints []Endpoint) (Transport, error) {
	var lastErr error
	for _, ep := range endpoints {
		switch ep.Transport {
		case "unix":
			path := ep.Params["path"]
			if path == "" {
				path = "@" + ep.Params["abstract"]
			}
			t, err := DialUnix(ctx, path)
			if err != nil {
				lastErr = err
				continue
			}
			return t, nil
		case "tcp":
			host := ep.Params["host"]
			if host == "" {
				host = "localhost"
			}
			port := ep.Params["port"]
			t, err := DialTCP(ctx, host+":"+port)
			if err != nil {
				lastErr = err
				continue
			}
			return t, nil
		default:
			lastErr = fmt.Errorf("unsupported transport kind %q", ep.Transport)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints to try")
	}
	return nil, lastErr
}

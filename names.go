package dbus

import "strings"

const maxNameLength = 255

// ValidBusName reports whether name is a syntactically valid DBus bus
// name: either a unique name (starts with ':', at least one
// dot-separated segment of the usual character set) or a well-known
// name (at least two dot-separated segments).
func ValidBusName(name string) bool {
	if name == "" || len(name) > maxNameLength {
		return false
	}
	unique := strings.HasPrefix(name, ":")
	rest := name
	if unique {
		rest = name[1:]
	}
	segs := strings.Split(rest, ".")
	if !unique && len(segs) < 2 {
		return false
	}
	for _, seg := range segs {
		if !validBusNameSegment(seg, unique) {
			return false
		}
	}
	return true
}

func validBusNameSegment(seg string, allowLeadingDigit bool) bool {
	if seg == "" {
		return false
	}
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '-':
		case c >= '0' && c <= '9':
			if i == 0 && !allowLeadingDigit {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ValidObjectPath reports whether path is a syntactically valid DBus
// object path.
func ValidObjectPath(path string) bool {
	if path == "" || path[0] != '/' {
		return false
	}
	if path == "/" {
		return true
	}
	if strings.HasSuffix(path, "/") {
		return false
	}
	for _, seg := range strings.Split(path[1:], "/") {
		if seg == "" {
			return false
		}
		for i := 0; i < len(seg); i++ {
			if !isPathChar(seg[i]) {
				return false
			}
		}
	}
	return true
}

func isPathChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// ValidInterfaceName reports whether name is a syntactically valid
// DBus interface name: at least two dot-separated segments, each
// matching [A-Za-z_][A-Za-z0-9_]*.
func ValidInterfaceName(name string) bool {
	if name == "" || len(name) > maxNameLength {
		return false
	}
	segs := strings.Split(name, ".")
	if len(segs) < 2 {
		return false
	}
	for _, seg := range segs {
		if !validMemberSegment(seg) {
			return false
		}
	}
	return true
}

// ValidMemberName reports whether name is a syntactically valid DBus
// member (method, signal, or error) name segment.
func ValidMemberName(name string) bool {
	if name == "" || len(name) > maxNameLength {
		return false
	}
	return validMemberSegment(name)
}

func validMemberSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ValidErrorName reports whether name is a syntactically valid DBus
// error name. Error names follow the same grammar as interface names.
func ValidErrorName(name string) bool {
	return ValidInterfaceName(name)
}

// Package fragments provides the low-level, alignment-aware byte
// cursor used to build and parse DBus wire messages.
//
// The cursor understands DBus's fixed alignment rules (1/2/4/8 byte
// boundaries) and byte-order marks, but nothing about the DBus type
// system itself. The marshaller in the parent package drives these
// primitives while walking a parsed type signature.
package fragments

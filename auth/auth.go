// Package auth implements the line-oriented SASL handshake that DBus
// connections perform before any protocol message may be exchanged.
package auth

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// A Mechanism produces the AUTH command line's argument for one SASL
// authentication mechanism.
type Mechanism interface {
	// Name is the mechanism name as DBus knows it, e.g. "EXTERNAL".
	Name() string
	// InitialResponse returns the hex-encoded initial response data to
	// send with the AUTH command, or "" if the mechanism sends none.
	InitialResponse() string
	// HandleData answers a server DATA challenge received mid-handshake,
	// after the initial AUTH exchange. It returns the hex-encoded data to
	// send back in the client's own DATA command. Mechanisms that never
	// expect a challenge should return an error.
	HandleData(challenge []byte) (string, error)
}

// External is the EXTERNAL mechanism: the client asserts its unix
// uid, which the server verifies out-of-band using socket peer
// credentials.
type External struct{}

func (External) Name() string { return "EXTERNAL" }

func (External) InitialResponse() string {
	return hex.EncodeToString([]byte(strconv.Itoa(os.Getuid())))
}

func (External) HandleData(challenge []byte) (string, error) {
	return "", &Error{"EXTERNAL does not support server DATA challenges"}
}

// Anonymous is the ANONYMOUS mechanism: no credentials are presented
// at all. Servers may refuse it.
type Anonymous struct{}

func (Anonymous) Name() string { return "ANONYMOUS" }

func (Anonymous) InitialResponse() string { return "" }

func (Anonymous) HandleData(challenge []byte) (string, error) {
	return "", &Error{"ANONYMOUS does not support server DATA challenges"}
}

// Error describes a failure of the SASL handshake.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("dbus auth failed: %s", e.Reason) }

// Options controls optional handshake behavior.
type Options struct {
	// NegotiateUnixFD requests unix file descriptor passing support.
	// Only meaningful over a unix domain socket transport.
	NegotiateUnixFD bool
}

// Result reports what the handshake negotiated.
type Result struct {
	// UnixFDEnabled reports whether the server agreed to pass file
	// descriptors out of band.
	UnixFDEnabled bool
}

// Handshake performs the client side of the SASL authentication
// handshake, trying mechs in order until one succeeds. w is the raw
// transport to write commands to; r reads responses from the same
// transport. Callers that need to keep reading from the transport
// afterwards (to decode DBus protocol messages) should pass a
// *bufio.Reader they retain, so that any bytes the server pipelines
// immediately after its final response aren't stranded in a reader
// that gets discarded.
//
// DBus's line protocol requires a leading NUL byte on the very first
// line the client sends, after which every line is terminated with
// "\r\n". On success, the stream is left positioned immediately after
// the final BEGIN command: everything read after that point is
// DBus protocol messages, not more SASL lines.
func Handshake(r *bufio.Reader, w io.Writer, opts Options, mechs ...Mechanism) (*Result, error) {
	if len(mechs) == 0 {
		return nil, &Error{"no mechanisms offered"}
	}

	if _, err := w.Write([]byte{0}); err != nil {
		return nil, err
	}

	var lastErr error
	for _, mech := range mechs {
		line := "AUTH " + mech.Name()
		if resp := mech.InitialResponse(); resp != "" {
			line += " " + resp
		}
		if err := writeLine(w, line); err != nil {
			return nil, err
		}
		ok, rejectLine, err := negotiateMechanism(r, w, mech)
		if err != nil {
			return nil, err
		}
		if ok {
			return finish(r, w, opts)
		}
		lastErr = &Error{fmt.Sprintf("mechanism %s rejected: %s", mech.Name(), rejectLine)}
	}
	return nil, lastErr
}

// negotiateMechanism reads the server's response(s) to an AUTH command for
// mech, routing any DATA challenge to mech.HandleData and replying with its
// own DATA command, until the exchange resolves with OK (ok=true) or
// REJECTED (ok=false, err=nil). Anything else, including a DATA challenge
// the mechanism can't answer, is a hard protocol error.
func negotiateMechanism(r *bufio.Reader, w io.Writer, mech Mechanism) (ok bool, rejectLine string, err error) {
	for {
		resp, err := readLine(r)
		if err != nil {
			return false, "", err
		}
		switch {
		case strings.HasPrefix(resp, "OK "):
			return true, "", nil
		case strings.HasPrefix(resp, "REJECTED"):
			return false, resp, nil
		case strings.HasPrefix(resp, "DATA "):
			challenge, err := hex.DecodeString(strings.TrimSpace(strings.TrimPrefix(resp, "DATA ")))
			if err != nil {
				return false, "", &Error{fmt.Sprintf("malformed DATA from server: %q", resp)}
			}
			reply, err := mech.HandleData(challenge)
			if err != nil {
				return false, "", fmt.Errorf("mechanism %s: %w", mech.Name(), err)
			}
			if err := writeLine(w, "DATA "+reply); err != nil {
				return false, "", err
			}
		default:
			return false, "", &Error{fmt.Sprintf("unexpected response to AUTH %s: %q", mech.Name(), resp)}
		}
	}
}

func finish(r *bufio.Reader, w io.Writer, opts Options) (*Result, error) {
	var result Result
	if opts.NegotiateUnixFD {
		if err := writeLine(w, "NEGOTIATE_UNIX_FD"); err != nil {
			return nil, err
		}
		resp, err := readLine(r)
		if err != nil {
			return nil, err
		}
		switch resp {
		case "AGREE_UNIX_FD":
			result.UnixFDEnabled = true
		case "ERROR":
			// Server doesn't support fd passing. Proceed without it.
		default:
			return nil, &Error{fmt.Sprintf("unexpected response to NEGOTIATE_UNIX_FD: %q", resp)}
		}
	}
	if err := writeLine(w, "BEGIN"); err != nil {
		return nil, err
	}
	return &result, nil
}

func writeLine(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\r\n")
	return err
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/vesperbus/dbus/auth"
)

// DialTCP connects to a bus listening on a TCP address, e.g.
// "host:port". TCP transports never carry unix file descriptors.
func DialTCP(ctx context.Context, addr string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	ret := &tcpTransport{conn: conn}
	ret.buf = bufio.NewReader(conn)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := conn.SetDeadline(deadline); err != nil {
		ret.Close()
		return nil, err
	}
	if _, err := auth.Handshake(ret.buf, ret.conn, auth.Options{}, auth.Anonymous{}, auth.External{}); err != nil {
		ret.Close()
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		ret.Close()
		return nil, err
	}

	return ret, nil
}

// tcpTransport is a Transport that runs over a plain TCP connection.
// It never passes file descriptors: its GetFiles and WriteWithFiles
// return an error when asked to carry any.
type tcpTransport struct {
	conn net.Conn
	buf  *bufio.Reader
}

func (t *tcpTransport) Read(bs []byte) (int, error)  { return t.buf.Read(bs) }
func (t *tcpTransport) Write(bs []byte) (int, error) { return t.conn.Write(bs) }
func (t *tcpTransport) Close() error                 { return t.conn.Close() }

func (t *tcpTransport) GetFiles(n int) ([]*os.File, error) {
	if n == 0 {
		return nil, nil
	}
	return nil, errors.New("tcp transport cannot carry file descriptors")
}

func (t *tcpTransport) WriteWithFiles(bs []byte, fds []*os.File) (int, error) {
	if len(fds) != 0 {
		return 0, errors.New("tcp transport cannot carry file descriptors")
	}
	return t.Write(bs)
}

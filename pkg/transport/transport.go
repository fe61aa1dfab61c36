// Package transport provides the Connection abstraction and the
// Unix-domain-socket/TCP listeners the broker accepts peers on. The broker
// always accepts and holds any number of independent peer connections;
// reconnection, where wanted, is a client-side concern left to callers of
// pkg/client.
package transport

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Connection is the transport-agnostic boundary the reader/writer threads
// and the wire codec operate against. Shutdown is idempotent and unblocks
// any goroutine currently inside Reader()/Writer() I/O, for clean teardown.
type Connection interface {
	Reader() io.Reader
	Writer() io.Writer
	RemoteAddr() string
	Shutdown() error
}

// netConn adapts a net.Conn (both *net.UnixConn and *net.TCPConn satisfy
// net.Conn) to Connection.
type netConn struct {
	conn net.Conn
	once sync.Once
}

func newNetConn(conn net.Conn) *netConn {
	return &netConn{conn: conn}
}

func (c *netConn) Reader() io.Reader { return c.conn }
func (c *netConn) Writer() io.Writer { return c.conn }

func (c *netConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *netConn) Shutdown() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// WrapConn adapts an arbitrary net.Conn (including net.Pipe endpoints used
// by in-process tests) to Connection.
func WrapConn(conn net.Conn) Connection {
	return newNetConn(conn)
}

// Listener accepts Connections from peers. ListenUnix and ListenTCP both
// return one.
type Listener interface {
	Accept() (Connection, error)
	Close() error
	Addr() string
}

type netListener struct {
	ln net.Listener
}

func (l *netListener) Accept() (Connection, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return newNetConn(conn), nil
}

func (l *netListener) Close() error { return l.ln.Close() }
func (l *netListener) Addr() string { return l.ln.Addr().String() }

// ListenUnix opens a Unix-domain socket listener at path, removing any
// stale socket file left behind by a prior unclean shutdown first.
func ListenUnix(path string) (Listener, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve unix addr %q: %w", path, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen unix %q: %w", path, err)
	}
	return &netListener{ln: ln}, nil
}

// ListenTCP opens a TCP listener at addr (e.g. ":9443").
func ListenTCP(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tcp %q: %w", addr, err)
	}
	return &netListener{ln: ln}, nil
}

// DialUnix connects to a broker's Unix-domain socket.
func DialUnix(path string, timeout time.Duration) (Connection, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial unix %q: %w", path, err)
	}
	return newNetConn(conn), nil
}

// DialTCP connects to a broker's TCP listener.
func DialTCP(addr string, timeout time.Duration) (Connection, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial tcp %q: %w", addr, err)
	}
	return newNetConn(conn), nil
}

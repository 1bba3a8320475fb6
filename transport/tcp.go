package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TCPDialer dials plain TCP connections.
type TCPDialer struct {
	// Timeout bounds connection establishment, 0 means no timeout.
	Timeout time.Duration
	// KeepAlive is the TCP keep-alive period, 0 uses the system default,
	// negative disables keep-alives.
	KeepAlive time.Duration
	// NoDelay disables Nagle's algorithm.
	NoDelay bool
	// UserTimeout is how long written data may stay unacknowledged before
	// the connection is dropped. Linux only, 0 keeps the system default.
	UserTimeout time.Duration

	Logger *zap.Logger
}

// DefaultTCPDialer is used when no transport is configured.
var DefaultTCPDialer = &TCPDialer{
	Timeout: 30 * time.Second,
	NoDelay: true,
}

func (d *TCPDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	l := d.Logger
	if l == nil {
		l = zap.NewNop()
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nd := net.Dialer{
		Timeout:   d.Timeout,
		KeepAlive: d.KeepAlive,
		Control:   socketControl(d.UserTimeout),
	}

	l.Debug("dialing", zap.String("addr", addr))

	netConn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial remote address %q: [%w]", addr, err)
	}

	if tc, ok := netConn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(d.NoDelay); err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to set TCP_NODELAY: [%w]", err), netConn.Close())
		}
	}

	return &tcpConn{
		Conn:    netConn,
		release: acquire(l),
	}, nil
}

type tcpConn struct {
	net.Conn
	release func()
}

func (c *tcpConn) Close() error {
	defer c.release()
	return c.Conn.Close()
}

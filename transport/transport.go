// Package transport provides the byte stream a websocket connection rides on.
package transport

import (
	"context"
	"io"
)

// Conn is a connected bidirectional byte stream.
// Closing it must unblock a pending Read.
type Conn interface {
	io.ReadWriteCloser
}

// Dialer opens a Conn to host:port.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, host string, port int) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, host string, port int) (Conn, error) {
	return f(ctx, host, port)
}

package websocket

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/wmdanor/wsclient/frame"
	"github.com/wmdanor/wsclient/transport"
)

const testTimeout = 5 * time.Second

// fakeServer is the server end of a net.Pipe speaking just enough websocket
// to drive a client Conn.
type fakeServer struct {
	t      *testing.T
	conn   net.Conn
	frames chan *frame.Frame
	errs   chan error
}

type trackedConn struct {
	net.Conn
	closed atomic.Bool
}

// Close reports a second close the way a TCP connection does.
func (c *trackedConn) Close() error {
	if c.closed.Swap(true) {
		return fmt.Errorf("close pipe: %w", net.ErrClosed)
	}
	return c.Conn.Close()
}

func acceptResponse(req *http.Request) []byte {
	accept := newSecWebsocketAccept(req.Header.Get(headerSecWsKey))
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept.String() + "\r\n\r\n")
}

type pipeDialer struct {
	*Dialer
	servers chan *fakeServer
	clients chan *trackedConn
}

// newPipeDialer returns a Dialer whose transport is a net.Pipe. The server
// end answers the handshake request with whatever respond returns.
func newPipeDialer(t *testing.T, respond func(req *http.Request) []byte) *pipeDialer {
	t.Helper()

	pd := &pipeDialer{
		servers: make(chan *fakeServer, 1),
		clients: make(chan *trackedConn, 8),
	}
	pd.Dialer = &Dialer{
		Logger:       zaptest.NewLogger(t),
		CloseTimeout: testTimeout,
		Transport: transport.DialerFunc(func(ctx context.Context, host string, port int) (transport.Conn, error) {
			client, server := net.Pipe()
			tc := &trackedConn{Conn: client}
			pd.clients <- tc
			go serveHandshake(t, server, respond, pd.servers)
			return tc, nil
		}),
	}
	return pd
}

func serveHandshake(t *testing.T, conn net.Conn, respond func(req *http.Request) []byte, servers chan<- *fakeServer) {
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		conn.Close()
		return
	}

	resp := respond(req)
	if resp == nil {
		// leave the client waiting
		return
	}
	if _, err := conn.Write(resp); err != nil {
		conn.Close()
		return
	}

	s := &fakeServer{
		t:      t,
		conn:   conn,
		frames: make(chan *frame.Frame, 64),
		errs:   make(chan error, 1),
	}
	servers <- s
	go s.readLoop(br)
}

func (s *fakeServer) readLoop(br *bufio.Reader) {
	defer close(s.frames)

	dec := frame.NewDecoder(frame.ClientToServer, 0)
	buf := make([]byte, 4096)
	for {
		n, err := br.Read(buf)
		for f, ferr := range dec.Feed(buf[:n]) {
			if ferr != nil {
				s.errs <- ferr
				return
			}
			s.frames <- f
		}
		if err != nil {
			return
		}
	}
}

func (pd *pipeDialer) server(t *testing.T) *fakeServer {
	t.Helper()

	select {
	case s := <-pd.servers:
		return s
	case <-time.After(testTimeout):
		t.Fatal("server did not complete the handshake")
		return nil
	}
}

// dial connects and registers cleanup that tears the pipe down and waits
// for the receive goroutine, so nothing logs after the test.
func (pd *pipeDialer) dial(t *testing.T) (*Conn, *fakeServer) {
	t.Helper()

	c, err := pd.Connect(context.Background(), "example.com", 5665, "/test_db@12345/users")
	if err != nil {
		t.Fatalf("Connect returned unexpected error %q", err)
	}
	s := pd.server(t)

	t.Cleanup(func() {
		s.conn.Close()
		waitDone(t, c)
	})

	return c, s
}

func waitDone(t *testing.T, c *Conn) {
	t.Helper()

	select {
	case <-c.Done():
	case <-time.After(testTimeout):
		t.Fatal("receive goroutine did not exit")
	}
}

func (s *fakeServer) next(t *testing.T) *frame.Frame {
	t.Helper()

	select {
	case f, ok := <-s.frames:
		if !ok {
			t.Fatal("client stream ended before the expected frame")
		}
		return f
	case err := <-s.errs:
		t.Fatalf("server failed to decode client frame: %v", err)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a client frame")
	}
	return nil
}

func (s *fakeServer) write(t *testing.T, op frame.Opcode, payload []byte) {
	t.Helper()
	s.writeFrame(t, &frame.Frame{Fin: true, Opcode: op, Payload: payload})
}

func (s *fakeServer) writeFrame(t *testing.T, f *frame.Frame) {
	t.Helper()
	s.writeRaw(t, frame.AppendFrame(nil, f))
}

func (s *fakeServer) writeRaw(t *testing.T, b []byte) {
	t.Helper()
	if _, err := s.conn.Write(b); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

func closeCodeOf(t *testing.T, f *frame.Frame) CloseCode {
	t.Helper()

	if f.Opcode != frame.OpcodeClose {
		t.Fatalf("expected close frame, got %s", f.Opcode)
	}
	if len(f.Payload) < 2 {
		return CloseNoStatusReceived
	}
	return CloseCode(binary.BigEndian.Uint16(f.Payload))
}

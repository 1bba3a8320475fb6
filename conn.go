package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wmdanor/wsclient/frame"
	"github.com/wmdanor/wsclient/transport"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// CloseInitiator records which side sent the first close frame.
type CloseInitiator uint8

const (
	InitiatorNone CloseInitiator = iota
	InitiatorLocal
	InitiatorPeer
)

// Conn is a client websocket connection.
//
// Writes may be issued from any goroutine. Received messages are produced by
// a single receive goroutine started when the connection opens and are read
// with NextMessage or Messages.
type Conn struct {
	id  string
	l   *zap.Logger
	cfg connConfig

	conn          transport.Conn
	closeConnOnce sync.Once

	// writeMu serialises whole frames on the transport, it is taken before mu.
	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	initiator  CloseInitiator
	err        error
	closeTimer *time.Timer
	handlePing func(appData []byte) error
	handlePong func(appData []byte) error

	// owned by the receive goroutine
	dec      *frame.Decoder
	leftover []byte

	messages chan Message
	// closed when we sent the first close frame, inbound data is dropped from then on
	closing chan struct{}
	// closed as soon as the state becomes StateClosed
	closed chan struct{}
	// closed after the receive goroutine exited
	done chan struct{}
}

func newConn(id string, cfg connConfig, l *zap.Logger) *Conn {
	c := &Conn{
		id:       id,
		l:        l.With(zap.String("conn", id)),
		cfg:      cfg,
		state:    StateConnecting,
		dec:      frame.NewDecoder(frame.ServerToClient, cfg.maxMessageSize),
		messages: make(chan Message, cfg.messageBuffer),
		closing:  make(chan struct{}),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	c.SetPingHandler(nil)
	c.SetPongHandler(nil)

	return c
}

// open moves a handshaken connection to StateOpen and starts receiving.
func (c *Conn) open(netConn transport.Conn, leftover []byte) {
	c.conn = netConn
	c.leftover = leftover
	c.setState(StateOpen)

	go c.receiveLoop()
}

// ID identifies the connection in logs.
func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.l.Debug("state change", zap.Stringer("from", c.state), zap.Stringer("to", s))
	c.state = s
}

// CloseInitiator returns InitiatorNone until a close frame was sent or received.
func (c *Conn) CloseInitiator() CloseInitiator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initiator
}

// Err returns why the connection closed, nil while it is not closed.
// A completed close handshake is a *CloseError.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the connection is closed and the receive goroutine exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Messages returns the channel of received text and binary messages.
// It is closed after the connection is closed; Err tells why.
func (c *Conn) Messages() <-chan Message {
	return c.messages
}

// NextMessage waits for the next received message. Once the connection is
// closed and every queued message was returned, it returns the closing error.
func (c *Conn) NextMessage(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-c.messages:
		if !ok {
			return Message{}, c.Err()
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// beginClosing moves OPEN to CLOSING and reports whether it did.
func (c *Conn) beginClosing(initiator CloseInitiator) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return false
	}
	c.l.Debug("state change", zap.Stringer("from", c.state), zap.Stringer("to", StateClosing), zap.Uint8("initiator", uint8(initiator)))
	c.state = StateClosing
	c.initiator = initiator
	if initiator == InitiatorLocal {
		close(c.closing)
		c.closeTimer = time.AfterFunc(c.cfg.closeTimeout, c.closeTimedOut)
	}
	return true
}

// finish moves the connection to StateClosed with err as the reason and
// tears the transport down. Only the first call has an effect.
func (c *Conn) finish(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.l.Debug("state change", zap.Stringer("from", c.state), zap.Stringer("to", StateClosed), zap.Error(err))
	c.state = StateClosed
	c.err = err
	if c.closeTimer != nil {
		c.closeTimer.Stop()
	}
	c.mu.Unlock()

	close(c.closed)
	c.closeTransport()
}

func (c *Conn) closeTransport() {
	c.closeConnOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.l.Debug("failed to close transport", zap.Error(err))
		}
	})
}

func (c *Conn) closeTimedOut() {
	c.l.Debug("close frame was not received in time, tearing down", zap.Duration("timeout", c.cfg.closeTimeout))
	c.finish(ErrCloseTimeout)
}

// lost is the teardown for a failed transport read or write.
func (c *Conn) lost(op string, err error) {
	c.finish(fmt.Errorf("%w: [%w]", ErrConnectionLost, &TransportError{Op: op, Err: err}))
}

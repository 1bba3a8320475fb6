package websocket

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wmdanor/wsclient/frame"
)

func (c *Conn) receiveLoop() {
	defer close(c.done)
	defer close(c.messages)

	if len(c.leftover) > 0 {
		ok := c.process(c.leftover)
		c.leftover = nil
		if !ok {
			return
		}
	}

	buf := make([]byte, c.cfg.readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 && !c.process(buf[:n]) {
			return
		}
		if err != nil {
			c.l.Debug("transport read failed", zap.Error(err))
			// no-op when a close, timeout or write failure already finished the connection
			c.lost("read", err)
			return
		}
	}
}

// process feeds received bytes to the decoder and handles every complete
// frame. It returns false once the connection is closed.
func (c *Conn) process(p []byte) bool {
	for f, err := range c.dec.Feed(p) {
		if err != nil {
			c.fail(failureCode(err), err)
			return false
		}

		if !c.handleFrame(f) {
			return false
		}
	}
	return true
}

func (c *Conn) handleFrame(f *frame.Frame) bool {
	c.l.Debug("received frame", zap.Stringer("opcode", f.Opcode), zap.Bool("fin", f.Fin), zap.Uint64("payloadLength", f.PayloadLength))

	switch f.Opcode {
	case frame.OpcodeClose:
		code, reason, err := frame.ParseClosePayload(f.Payload)
		if err != nil {
			c.fail(failureCode(err), err)
			return false
		}
		c.receivedClose(code, reason)
		return false

	case frame.OpcodePing:
		c.mu.Lock()
		h := c.handlePing
		c.mu.Unlock()
		if err := h(f.Payload); err != nil {
			c.l.Debug("ping handler failed", zap.Error(err))
		}
		return true

	case frame.OpcodePong:
		c.mu.Lock()
		h := c.handlePong
		c.mu.Unlock()
		if err := h(f.Payload); err != nil {
			c.l.Debug("pong handler failed", zap.Error(err))
		}
		return true
	}

	if !f.IsUnfragmentedData() {
		c.fail(frame.CloseUnsupportedData,
			fmt.Errorf("%w: fragmented messages are not supported, received %s frame with fin=%v", ErrProtocolViolation, f.Opcode, f.Fin))
		return false
	}

	if f.Opcode == frame.OpcodeText && !utf8.Valid(f.Payload) {
		err := fmt.Errorf("%w: %w: received invalid text message", ErrProtocolViolation, frame.ErrInvalidUTF8)
		c.fail(failureCode(err), err)
		return false
	}

	// after our close frame only the acknowledgment matters and nobody may be reading
	select {
	case <-c.closing:
		c.l.Debug("discarding message received while closing", zap.Stringer("opcode", f.Opcode))
		return true
	default:
	}

	select {
	case c.messages <- Message{Type: MessageType(f.Opcode), Data: f.Payload}:
		return true
	case <-c.closing:
		c.l.Debug("discarding message received while closing", zap.Stringer("opcode", f.Opcode))
		return true
	case <-c.closed:
		return false
	}
}

// failureCode picks the close code sent for a received frame that err rejected.
func failureCode(err error) CloseCode {
	switch {
	case errors.Is(err, frame.ErrMessageTooBig):
		return frame.CloseMessageTooBig
	case errors.Is(err, frame.ErrInvalidUTF8):
		return frame.CloseInvalidFramePayloadData
	default:
		return frame.CloseProtocolError
	}
}

// receivedClose handles the peer's close frame: an acknowledgment when we
// started closing, otherwise a close request that is echoed back.
func (c *Conn) receivedClose(code CloseCode, reason string) {
	c.l.Debug("received close frame", zap.Uint16("code", code.U()), zap.String("reason", reason))

	c.writeMu.Lock()
	if c.beginClosing(InitiatorPeer) {
		err := c.writeFrameLocked(frame.OpcodeClose, frame.ClosePayload(code, ""))
		if err != nil {
			c.l.Debug("failed to echo close frame", zap.Error(err))
		}
	}
	c.writeMu.Unlock()

	c.finish(&CloseError{Code: code, Reason: reason})
}

// fail closes the connection because of a protocol violation. A close frame
// with code is sent when no other frame is being written.
func (c *Conn) fail(code CloseCode, err error) {
	c.l.Warn("failing connection", zap.Uint16("code", code.U()), zap.Error(err))

	if c.writeMu.TryLock() {
		if c.beginClosing(InitiatorLocal) {
			_ = c.writeFrameLocked(frame.OpcodeClose, frame.ClosePayload(code, ""))
		}
		c.writeMu.Unlock()
	}

	c.finish(err)
}
